package gdrive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// AuthConfig configures Authenticate.
type AuthConfig struct {
	// ClientSecretsPath is the OAuth client secrets JSON (required).
	ClientSecretsPath string

	// TokenPath is where the token is cached (required).
	TokenPath string

	// Scopes defaults to full Drive access.
	Scopes []string

	// Prompt is shown the consent URL during the interactive flow.
	Prompt func(authURL string)

	// Logger receives authentication tracing.
	Logger *zap.Logger
}

// Authentication errors.
var (
	// ErrAuthStateMismatch is returned when the OAuth callback carries an
	// unexpected state value.
	ErrAuthStateMismatch = errors.New("oauth callback state mismatch")

	// ErrAuthDenied is returned when the user declines consent.
	ErrAuthDenied = errors.New("oauth consent denied")
)

// Authenticate returns a token source for the Drive API.
//
// A cached token is loaded from TokenPath. An expired token with a refresh
// token is refreshed. When no usable token exists an installed-app login is
// run on a loopback listener. Any new or refreshed token is written back to
// TokenPath, and so is every token the returned source refreshes later.
func Authenticate(ctx context.Context, cfg AuthConfig) (oauth2.TokenSource, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{drive.DriveScope}
	}

	conf, err := LoadOAuthConfig(cfg.ClientSecretsPath, scopes...)
	if err != nil {
		return nil, err
	}

	tok, err := LoadToken(cfg.TokenPath)
	if err != nil {
		logger.Debug("No cached token", zap.String("path", cfg.TokenPath), zap.Error(err))
		tok = nil
	}

	dirty := false
	if tok != nil && !tok.Valid() {
		if tok.RefreshToken == "" {
			tok = nil
		} else {
			fresh, err := conf.TokenSource(ctx, tok).Token()
			if err != nil {
				logger.Warn("Token refresh failed, starting login", zap.Error(err))
				tok = nil
			} else {
				logger.Debug("Refreshed cached token")
				tok = fresh
				dirty = true
			}
		}
	}

	if tok == nil {
		prompt := cfg.Prompt
		if prompt == nil {
			prompt = func(authURL string) {
				logger.Info("Open this URL in a browser to authorize access", zap.String("url", authURL))
			}
		}
		tok, err = RunLocalFlow(ctx, conf, prompt)
		if err != nil {
			return nil, err
		}
		dirty = true
	}

	if dirty {
		if err := SaveToken(cfg.TokenPath, tok); err != nil {
			return nil, err
		}
	}

	return &persistingTokenSource{
		base:   oauth2.ReuseTokenSource(tok, conf.TokenSource(ctx, tok)),
		path:   cfg.TokenPath,
		last:   tok.AccessToken,
		logger: logger,
	}, nil
}

// LoadOAuthConfig reads an OAuth client secrets file.
func LoadOAuthConfig(path string, scopes ...string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client secrets %s: %w", path, err)
	}
	conf, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets %s: %w", path, err)
	}
	return conf, nil
}

// LoadToken reads a cached token.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token %s: %w", path, err)
	}
	return &tok, nil
}

// SaveToken writes a token with owner-only permissions.
//
// The token is written to a temp file in the same directory and renamed
// into place.
func SaveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}

	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("save token %s: %w", path, err)
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		cleanup()
		return fmt.Errorf("save token %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return fmt.Errorf("save token %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return fmt.Errorf("save token %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return fmt.Errorf("save token %s: %w", path, err)
	}
	return nil
}

type callbackResult struct {
	code string
	err  error
}

// RunLocalFlow performs the OAuth installed-app flow.
//
// A one-shot HTTP server on 127.0.0.1 (random port) receives the redirect.
// prompt is called with the consent URL; the call blocks until the redirect
// arrives or ctx is done.
func RunLocalFlow(ctx context.Context, conf *oauth2.Config, prompt func(authURL string)) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("start oauth listener: %w", err)
	}

	c := *conf
	c.RedirectURL = fmt.Sprintf("http://%s/", ln.Addr().String())
	state := uuid.NewString()

	results := make(chan callbackResult, 1)
	var once sync.Once
	deliver := func(r callbackResult) {
		once.Do(func() { results <- r })
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
			deliver(callbackResult{err: ErrAuthStateMismatch})
		case q.Get("error") != "":
			http.Error(w, "authorization failed: "+q.Get("error"), http.StatusForbidden)
			deliver(callbackResult{err: fmt.Errorf("%w: %s", ErrAuthDenied, q.Get("error"))})
		case q.Get("code") == "":
			http.Error(w, "missing code", http.StatusBadRequest)
			deliver(callbackResult{err: errors.New("oauth callback missing code")})
		default:
			_, _ = fmt.Fprintln(w, "Authorization complete. You may close this window.")
			deliver(callbackResult{code: q.Get("code")})
		}
	})

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	prompt(c.AuthCodeURL(state, oauth2.AccessTypeOffline))

	var res callbackResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-results:
	}
	if res.err != nil {
		return nil, res.err
	}

	tok, err := c.Exchange(ctx, res.code)
	if err != nil {
		return nil, fmt.Errorf("exchange oauth code: %w", err)
	}
	return tok, nil
}

// persistingTokenSource writes refreshed tokens back to disk.
type persistingTokenSource struct {
	base   oauth2.TokenSource
	path   string
	logger *zap.Logger

	mu   sync.Mutex
	last string
}

// Token implements oauth2.TokenSource.
func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := SaveToken(s.path, tok); err != nil {
			s.logger.Warn("Failed to persist refreshed token", zap.String("path", s.path), zap.Error(err))
		} else {
			s.last = tok.AccessToken
		}
	}
	return tok, nil
}
