// Package session holds the per-server connection context shared by that
// server's collectors: base URLs, credentials, the legacy login cookie and
// the degraded-transport flag.
package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/unraid-agent/pkg/config"
)

const loginTimeout = 30 * time.Second

// Session is the live per-server state. One per configured server, owned by
// that server's workers; never shared across servers.
type Session struct {
	cfg config.ServerConfig
	log *zap.Logger

	client *http.Client

	mu       sync.Mutex
	cookie   string
	loggedIn bool

	// gqlDegraded suppresses GraphQL attempts after a credential-class auth
	// failure, until process restart. Legacy/sidecar fallbacks keep running.
	gqlDegraded atomic.Bool

	lastContact  atomic.Int64 // unix nano of last successful fetch
	failureCount atomic.Int64
}

// New builds a session for one server config.
func New(cfg config.ServerConfig, log *zap.Logger) *Session {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifySSL},
	}
	return &Session{
		cfg: cfg,
		log: log,
		client: &http.Client{
			Transport: transport,
			Timeout:   loginTimeout,
		},
	}
}

// Config returns the immutable server configuration.
func (s *Session) Config() config.ServerConfig { return s.cfg }

// Name returns the configured server name.
func (s *Session) Name() string { return s.cfg.Name }

// BaseURL returns the scheme://host:port root for HTTP requests.
func (s *Session) BaseURL() string {
	scheme := "http"
	if s.cfg.SSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, s.cfg.Host, s.cfg.Port)
}

// GraphQLURL returns the GraphQL endpoint for this server.
func (s *Session) GraphQLURL() string {
	return s.BaseURL() + "/graphql"
}

// APIKey returns the configured GraphQL API key ("" when unset).
func (s *Session) APIKey() string { return s.cfg.APIKey }

// HTTPClient returns the shared client with the server's TLS policy applied.
func (s *Session) HTTPClient() *http.Client { return s.client }

// MarkGraphQLDegraded records a credential-class GraphQL failure. GraphQL is
// not retried for this server until the next process start.
func (s *Session) MarkGraphQLDegraded(reason error) {
	if s.gqlDegraded.CompareAndSwap(false, true) {
		s.log.Warn("graphql transport degraded, suppressing until restart",
			zap.String("server", s.cfg.Name), zap.Error(reason))
	}
}

// GraphQLDegraded reports whether GraphQL is suppressed for this server.
func (s *Session) GraphQLDegraded() bool { return s.gqlDegraded.Load() }

// RecordSuccess notes a successful fetch and resets the failure streak.
func (s *Session) RecordSuccess() {
	s.lastContact.Store(time.Now().UnixNano())
	s.failureCount.Store(0)
}

// RecordFailure increments the consecutive-failure streak.
func (s *Session) RecordFailure() int64 {
	return s.failureCount.Add(1)
}

// LastContact returns the time of the last successful fetch (zero when none).
func (s *Session) LastContact() time.Time {
	n := s.lastContact.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// login performs the legacy webGui form login and captures the session
// cookie. Unraid responds 302 with a Set-Cookie on success and 200 with the
// login page again on bad credentials.
func (s *Session) login(ctx context.Context) error {
	if s.cfg.Username == "" {
		return fmt.Errorf("server %s: no legacy credentials configured", s.cfg.Name)
	}

	form := url.Values{}
	form.Set("username", s.cfg.Username)
	form.Set("password", s.cfg.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL()+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// Login must not follow the redirect or the cookie is consumed.
	noRedirect := *s.client
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := noRedirect.Do(req)
	if err != nil {
		return fmt.Errorf("legacy login: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	var cookies []string
	for _, c := range resp.Cookies() {
		cookies = append(cookies, c.Name+"="+c.Value)
	}
	if resp.StatusCode != http.StatusFound || len(cookies) == 0 {
		return &AuthError{Server: s.cfg.Name, Transport: "legacy",
			Err: fmt.Errorf("login rejected with status %d", resp.StatusCode)}
	}

	s.cookie = strings.Join(cookies, "; ")
	s.loggedIn = true
	s.log.Debug("legacy login succeeded", zap.String("server", s.cfg.Name))
	return nil
}

// Cookie returns the legacy session cookie, logging in on first use.
func (s *Session) Cookie(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loggedIn {
		if err := s.login(ctx); err != nil {
			return "", err
		}
	}
	return s.cookie, nil
}

// InvalidateCookie drops the cached cookie so the next request re-logs-in.
func (s *Session) InvalidateCookie() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = false
	s.cookie = ""
}

// AuthError marks a credential-class failure, as opposed to a transient
// transport error. Collectors use it to decide on transport degradation.
type AuthError struct {
	Server    string
	Transport string
	Err       error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failure on %s (%s): %v", e.Server, e.Transport, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }
