package auth

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/beekhof/calmirror/internal/config"
)

// Error reports a failure to produce a usable credential for a profile.
type Error struct {
	Profile config.Profile
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Profile, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Consent obtains a brand new token from the user, typically through a
// browser-based authorization-code flow.
type Consent interface {
	ObtainToken(ctx context.Context, oauthConfig *oauth2.Config) (*oauth2.Token, error)
}

// ConsentFunc adapts a function to the Consent interface.
type ConsentFunc func(ctx context.Context, oauthConfig *oauth2.Config) (*oauth2.Token, error)

// ObtainToken calls f.
func (f ConsentFunc) ObtainToken(ctx context.Context, oauthConfig *oauth2.Config) (*oauth2.Token, error) {
	return f(ctx, oauthConfig)
}

// Authenticator turns a profile name into a valid token, using the cached
// token, a refresh, or an interactive consent, in that order.
type Authenticator struct {
	cfg     *config.Config
	consent Consent
	logger  *slog.Logger
}

// NewAuthenticator wires an Authenticator to the file layout in cfg.
func NewAuthenticator(cfg *config.Config, consent Consent, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		cfg:     cfg,
		consent: consent,
		logger:  logger,
	}
}

// Authenticate returns a valid token for the profile. A new or refreshed
// token is persisted to the profile's token file before being returned; a
// cached valid token is returned unchanged without touching the network or
// the client-secret file.
func (a *Authenticator) Authenticate(ctx context.Context, profile config.Profile) (*oauth2.Token, error) {
	logger := a.logger.With("profile", string(profile))
	store := NewFileTokenStore(a.cfg.TokenPath(profile))

	token, err := store.LoadToken()
	if err != nil {
		// An unreadable cache is treated like a missing one; it is overwritten below.
		logger.Warn("ignoring unreadable token cache", "error", err)
		token = nil
	}

	if token.Valid() {
		logger.Debug("using cached token", "expiry", token.Expiry)
		return token, nil
	}

	oauthConfig, err := config.LoadOAuthConfig(a.cfg.CredentialsPath(profile))
	if err != nil {
		return nil, &Error{Profile: profile, Err: err}
	}

	var fresh *oauth2.Token
	if token != nil && token.RefreshToken != "" {
		fresh, err = refresh(ctx, oauthConfig, token)
		if err != nil {
			logger.Warn("token refresh failed, falling back to consent", "error", err)
			fresh = nil
		} else {
			logger.Info("refreshed access token")
		}
	}

	if fresh == nil {
		if a.consent == nil {
			return nil, &Error{Profile: profile, Err: fmt.Errorf("no valid token and interactive consent is unavailable")}
		}
		logger.Info("starting interactive authorization")
		fresh, err = a.consent.ObtainToken(ctx, oauthConfig)
		if err != nil {
			return nil, &Error{Profile: profile, Err: err}
		}
	}

	if err := store.SaveToken(fresh); err != nil {
		return nil, &Error{Profile: profile, Err: fmt.Errorf("failed to save token: %w", err)}
	}
	logger.Debug("token saved", "expiry", fresh.Expiry)

	return fresh, nil
}

// refresh exchanges the refresh token for a new access token. The refresh
// token is carried over when the provider does not rotate it.
func refresh(ctx context.Context, oauthConfig *oauth2.Config, token *oauth2.Token) (*oauth2.Token, error) {
	expired := &oauth2.Token{
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
	}
	fresh, err := oauthConfig.TokenSource(ctx, expired).Token()
	if err != nil {
		return nil, err
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = token.RefreshToken
	}
	return fresh, nil
}
