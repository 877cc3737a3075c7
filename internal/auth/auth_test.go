package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/beekhof/calmirror/internal/config"
)

// tokenServer is a fake OAuth token endpoint that counts requests by grant type.
type tokenServer struct {
	*httptest.Server
	refreshes atomic.Int32
	exchanges atomic.Int32
	fail      atomic.Bool
}

func newTokenServer(t *testing.T) *tokenServer {
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		switch r.Form.Get("grant_type") {
		case "refresh_token":
			ts.refreshes.Add(1)
		case "authorization_code":
			ts.exchanges.Add(1)
		}
		if ts.fail.Load() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func writeCredentials(t *testing.T, cfg *config.Config, p config.Profile, tokenURL string) {
	t.Helper()
	creds := fmt.Sprintf(`{"installed":{"client_id":"cid","client_secret":"csecret",`+
		`"auth_uri":"https://accounts.example.com/auth","token_uri":%q,"redirect_uris":["http://localhost"]}}`, tokenURL)
	require.NoError(t, os.WriteFile(cfg.CredentialsPath(p), []byte(creds), 0600))
}

func writeToken(t *testing.T, cfg *config.Config, p config.Profile, token *oauth2.Token) {
	t.Helper()
	require.NoError(t, NewFileTokenStore(cfg.TokenPath(p)).SaveToken(token))
}

func testConfig(t *testing.T) *config.Config {
	cfg, err := config.Load("", config.Overrides{CredentialsDir: t.TempDir()})
	require.NoError(t, err)
	return cfg
}

// forbidConsent fails the test if the interactive flow is reached.
func forbidConsent(t *testing.T) Consent {
	return ConsentFunc(func(context.Context, *oauth2.Config) (*oauth2.Token, error) {
		t.Error("interactive consent must not be used")
		return nil, errors.New("consent forbidden")
	})
}

func TestAuthenticate_CachedValidToken(t *testing.T) {
	cfg := testConfig(t)
	cached := &oauth2.Token{
		AccessToken:  "cached-access-token",
		RefreshToken: "cached-refresh-token",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour).Round(time.Second),
	}
	writeToken(t, cfg, config.ProfileSource, cached)
	before, err := os.ReadFile(cfg.TokenPath(config.ProfileSource))
	require.NoError(t, err)

	// No credentials file is written: a valid cache must not need one.
	a := NewAuthenticator(cfg, forbidConsent(t), nil)
	token, err := a.Authenticate(context.Background(), config.ProfileSource)
	require.NoError(t, err)

	assert.Equal(t, cached.AccessToken, token.AccessToken)
	assert.Equal(t, cached.RefreshToken, token.RefreshToken)
	assert.True(t, cached.Expiry.Equal(token.Expiry))

	after, err := os.ReadFile(cfg.TokenPath(config.ProfileSource))
	require.NoError(t, err)
	assert.Equal(t, before, after, "token file must not be rewritten")
}

func TestAuthenticate_ExpiredTokenIsRefreshed(t *testing.T) {
	cfg := testConfig(t)
	srv := newTokenServer(t)
	writeCredentials(t, cfg, config.ProfileDestination, srv.URL+"/token")
	writeToken(t, cfg, config.ProfileDestination, &oauth2.Token{
		AccessToken:  "stale-access-token",
		RefreshToken: "keep-me",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(-time.Hour),
	})

	a := NewAuthenticator(cfg, forbidConsent(t), nil)
	token, err := a.Authenticate(context.Background(), config.ProfileDestination)
	require.NoError(t, err)

	assert.Equal(t, "fresh-access-token", token.AccessToken)
	assert.Equal(t, "keep-me", token.RefreshToken)
	assert.EqualValues(t, 1, srv.refreshes.Load())
	assert.EqualValues(t, 0, srv.exchanges.Load())

	saved, err := NewFileTokenStore(cfg.TokenPath(config.ProfileDestination)).LoadToken()
	require.NoError(t, err)
	assert.Equal(t, "fresh-access-token", saved.AccessToken)
	assert.Equal(t, "keep-me", saved.RefreshToken)
}

func TestAuthenticate_RefreshFailureFallsBackToConsent(t *testing.T) {
	cfg := testConfig(t)
	srv := newTokenServer(t)
	srv.fail.Store(true)
	writeCredentials(t, cfg, config.ProfileSource, srv.URL+"/token")
	writeToken(t, cfg, config.ProfileSource, &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "revoked",
		Expiry:       time.Now().Add(-time.Hour),
	})

	var consents int
	consent := ConsentFunc(func(_ context.Context, conf *oauth2.Config) (*oauth2.Token, error) {
		consents++
		assert.Equal(t, "cid", conf.ClientID)
		assert.ElementsMatch(t, config.Scopes, conf.Scopes)
		return &oauth2.Token{AccessToken: "consented", RefreshToken: "new-refresh", Expiry: time.Now().Add(time.Hour)}, nil
	})

	token, err := NewAuthenticator(cfg, consent, nil).Authenticate(context.Background(), config.ProfileSource)
	require.NoError(t, err)
	assert.Equal(t, "consented", token.AccessToken)
	assert.Equal(t, 1, consents)
	assert.EqualValues(t, 1, srv.refreshes.Load())

	saved, err := NewFileTokenStore(cfg.TokenPath(config.ProfileSource)).LoadToken()
	require.NoError(t, err)
	assert.Equal(t, "consented", saved.AccessToken)
}

func TestAuthenticate_NoTokenRunsConsent(t *testing.T) {
	cfg := testConfig(t)
	srv := newTokenServer(t)
	writeCredentials(t, cfg, config.ProfileDestination, srv.URL+"/token")

	consent := ConsentFunc(func(context.Context, *oauth2.Config) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: "first", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}, nil
	})

	token, err := NewAuthenticator(cfg, consent, nil).Authenticate(context.Background(), config.ProfileDestination)
	require.NoError(t, err)
	assert.Equal(t, "first", token.AccessToken)
	assert.EqualValues(t, 0, srv.refreshes.Load())

	info, err := os.Stat(cfg.TokenPath(config.ProfileDestination))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// The source profile was never touched.
	_, err = os.Stat(cfg.TokenPath(config.ProfileSource))
	assert.True(t, os.IsNotExist(err))
}

func TestAuthenticate_CorruptTokenFileRunsConsent(t *testing.T) {
	cfg := testConfig(t)
	writeCredentials(t, cfg, config.ProfileSource, "http://127.0.0.1:1/token")
	require.NoError(t, os.WriteFile(cfg.TokenPath(config.ProfileSource), []byte("not json"), 0600))

	consent := ConsentFunc(func(context.Context, *oauth2.Config) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: "replacement", Expiry: time.Now().Add(time.Hour)}, nil
	})

	token, err := NewAuthenticator(cfg, consent, nil).Authenticate(context.Background(), config.ProfileSource)
	require.NoError(t, err)
	assert.Equal(t, "replacement", token.AccessToken)
}

func TestAuthenticate_MissingClientSecret(t *testing.T) {
	cfg := testConfig(t)

	_, err := NewAuthenticator(cfg, forbidConsent(t), nil).Authenticate(context.Background(), config.ProfileSource)
	require.Error(t, err)

	var authErr *Error
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, config.ProfileSource, authErr.Profile)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestAuthenticate_ConsentDenied(t *testing.T) {
	cfg := testConfig(t)
	writeCredentials(t, cfg, config.ProfileDestination, "http://127.0.0.1:1/token")

	denied := errors.New("authorization error: access_denied")
	consent := ConsentFunc(func(context.Context, *oauth2.Config) (*oauth2.Token, error) {
		return nil, denied
	})

	_, err := NewAuthenticator(cfg, consent, nil).Authenticate(context.Background(), config.ProfileDestination)
	var authErr *Error
	require.True(t, errors.As(err, &authErr))
	assert.ErrorIs(t, err, denied)

	_, statErr := os.Stat(filepath.Join(cfg.CredentialsDir, "token_dst.json"))
	assert.True(t, os.IsNotExist(statErr), "no token file is written on failure")
}

func TestAuthenticate_NoConsentAvailable(t *testing.T) {
	cfg := testConfig(t)
	writeCredentials(t, cfg, config.ProfileSource, "http://127.0.0.1:1/token")

	_, err := NewAuthenticator(cfg, nil, nil).Authenticate(context.Background(), config.ProfileSource)
	var authErr *Error
	assert.True(t, errors.As(err, &authErr))
}
