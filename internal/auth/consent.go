package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"golang.org/x/oauth2"
)

// DefaultConsentTimeout bounds how long LoopbackConsent waits for the redirect.
const DefaultConsentTimeout = 5 * time.Minute

// LoopbackConsent runs the authorization-code flow for installed apps: it
// binds a listener on the loopback interface, sends the user to the consent
// page, and exchanges the code delivered to the redirect.
type LoopbackConsent struct {
	// Addr is the listen address, e.g. "127.0.0.1:0" for a random port.
	Addr string
	// Out receives the instructions for the user.
	Out io.Writer
	// OpenURL opens the consent page; nil means print the URL only.
	OpenURL func(url string) error
	// Timeout defaults to DefaultConsentTimeout.
	Timeout time.Duration
}

type callbackResult struct {
	code string
	err  error
}

// ObtainToken implements Consent.
func (c *LoopbackConsent) ObtainToken(ctx context.Context, oauthConfig *oauth2.Config) (*oauth2.Token, error) {
	addr := c.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	out := c.Out
	if out == nil {
		out = io.Discard
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultConsentTimeout
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start local server: %w", err)
	}

	state, err := randomState()
	if err != nil {
		listener.Close()
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()

	// Copy so the redirect URL of a shared config is not mutated.
	conf := *oauthConfig
	conf.RedirectURL = fmt.Sprintf("http://%s", listener.Addr().String())

	results := make(chan callbackResult, 1)
	server := &http.Server{
		Handler:      callbackHandler(state, results),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  10 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			deliver(results, callbackResult{err: fmt.Errorf("server error: %w", err)})
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce, oauth2.S256ChallengeOption(verifier))

	fmt.Fprintf(out, "Listening for the authorization redirect on %s\n", conf.RedirectURL)
	fmt.Fprintln(out, "Please visit the following URL to authorize the application:")
	fmt.Fprintln(out, authURL)
	if c.OpenURL != nil {
		if err := c.OpenURL(authURL); err != nil {
			fmt.Fprintf(out, "Could not open a browser (%v); open the URL above manually.\n", err)
		}
	}
	fmt.Fprintln(out, "Waiting for authorization...")

	var res callbackResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("authorization timeout: no response received within %s", timeout)
	}
	if res.err != nil {
		return nil, fmt.Errorf("failed to receive authorization code: %w", res.err)
	}

	token, err := conf.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	fmt.Fprintln(out, "Authorization successful!")
	return token, nil
}

func callbackHandler(state string, results chan<- callbackResult) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		switch {
		case q.Get("error") != "":
			fmt.Fprintf(w, "<html><body><h1>Authorization failed</h1><p>Error: %s</p></body></html>", q.Get("error"))
			deliver(results, callbackResult{err: fmt.Errorf("authorization error: %s", q.Get("error"))})
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
			deliver(results, callbackResult{err: errors.New("state mismatch in authorization callback")})
		case q.Get("code") == "":
			fmt.Fprint(w, "<html><body><h1>No authorization code received</h1></body></html>")
			deliver(results, callbackResult{err: errors.New("no authorization code received")})
		default:
			fmt.Fprint(w, "<html><body><h1>Authorization successful!</h1><p>You can close this window.</p></body></html>")
			deliver(results, callbackResult{code: q.Get("code")})
		}
	})
}

// deliver keeps only the first callback outcome.
func deliver(results chan<- callbackResult, res callbackResult) {
	select {
	case results <- res:
	default:
	}
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// OpenBrowser launches the platform URL opener.
func OpenBrowser(url string) error {
	var tool string
	switch runtime.GOOS {
	case "darwin":
		tool = "open"
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		tool = "xdg-open"
	}
	path, err := exec.LookPath(tool)
	if err != nil {
		return err
	}
	return exec.Command(path, url).Start()
}
