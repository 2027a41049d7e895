// Package session owns the Strava login lifecycle: starting the authorization
// code flow, handling its callback, keeping the stored credential fresh and
// tracking which athlete is signed in.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/go-authgate/pacefeed/strava"
	"github.com/go-authgate/pacefeed/tokenstore"
)

// refreshMargin is how long an access token must still be valid to be used as-is.
const refreshMargin = time.Hour

// State is the login state of a Session.
type State int

const (
	StateLoggedOut State = iota
	StateLoggingIn
	StateLoggedIn
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged out"
	case StateLoggingIn:
		return "logging in"
	case StateLoggedIn:
		return "logged in"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config describes the registered Strava application.
type Config struct {
	ClientID     int
	ClientSecret string
	RedirectURI  string
	// CallbackScheme is the scheme HandleCallback accepts.
	CallbackScheme string
	// Scope is sent verbatim; Strava separates scopes with commas.
	Scope string
	// AuthorizeURL is the browser authorization endpoint.
	AuthorizeURL string
	// AppAuthorizeURL is the native-app handoff endpoint. Optional.
	AppAuthorizeURL string
}

// Configured reports whether the client id and secret are set.
func (c Config) Configured() bool {
	return c.ClientID != 0 && c.ClientSecret != ""
}

// AuthBackend is the OAuth token endpoint.
type AuthBackend interface {
	Exchange(ctx context.Context, code string) (*strava.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*strava.TokenResponse, error)
	Deauthorize(ctx context.Context, accessToken string) error
}

// IdentityFetcher loads the athlete behind an access token.
type IdentityFetcher interface {
	GetCurrentAthlete(ctx context.Context, accessToken string) (*strava.Athlete, error)
}

// Launcher presents the provider's consent screen.
type Launcher interface {
	// OpenApp hands appURL to an installed provider app. It returns false when
	// no app can take it. On true the redirect arrives later through
	// Session.HandleCallback.
	OpenApp(ctx context.Context, appURL string) bool
	// Browse runs an interactive browser session and blocks until the provider
	// redirects to a URL with callbackScheme, returning that URL.
	Browse(ctx context.Context, authURL, callbackScheme string) (string, error)
}

// Snapshot is a consistent copy of the session's observable fields.
type Snapshot struct {
	State      State
	Identity   *Identity
	Loading    bool
	LoginError string
}

// Observer is told about every state change.
type Observer interface {
	SessionChanged(Snapshot)
}

// Options carries the collaborators of a Session. Auth, API and Store are required.
type Options struct {
	Auth     AuthBackend
	API      IdentityFetcher
	Store    tokenstore.Store
	Launcher Launcher
	Observer Observer
	Logger   *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// pendingLogin is the single in-flight authorization round trip.
type pendingLogin struct {
	state string
}

// Session is safe for concurrent use. Network calls are made without holding
// the lock, so observers can read state while a call is in flight.
type Session struct {
	cfg      Config
	auth     AuthBackend
	api      IdentityFetcher
	store    tokenstore.Store
	launcher Launcher
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	state    State
	identity *Identity
	loading  bool
	loginErr string
	pending  *pendingLogin

	// background tracks detached deauthorize calls.
	background sync.WaitGroup
}

// New creates a logged-out session. Call Restore to pick up a stored credential.
func New(cfg Config, opts Options) *Session {
	s := &Session{
		cfg:      cfg,
		auth:     opts.Auth,
		api:      opts.API,
		store:    opts.Store,
		launcher: opts.Launcher,
		observer: opts.Observer,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Snapshot returns the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) State() State { return s.Snapshot().State }

func (s *Session) Identity() *Identity { return s.Snapshot().Identity }

func (s *Session) LoginError() string { return s.Snapshot().LoginError }

func (s *Session) IsLoggedIn() bool { return s.State() == StateLoggedIn }

// ClearLoginError dismisses the last login error.
func (s *Session) ClearLoginError() {
	s.update(func() { s.loginErr = "" })
}

// Restore signs in silently from the stored credential. Any failure,
// including a failed refresh, forgets the credential and leaves the session
// logged out without a login error.
func (s *Session) Restore(ctx context.Context) bool {
	token, err := s.ValidAccessToken(ctx)
	if err != nil {
		if !errors.Is(err, tokenstore.ErrNoCredential) {
			s.forgetUnlessCanceled(ctx, "restore: no valid token", err)
		}
		return false
	}

	athlete, err := s.api.GetCurrentAthlete(ctx, token)
	if err != nil {
		s.forgetUnlessCanceled(ctx, "restore: identity fetch failed", err)
		return false
	}

	identity := identityFrom(athlete)
	s.update(func() {
		s.state = StateLoggedIn
		s.identity = identity
	})
	s.logger.InfoContext(ctx, "session restored", "athlete_id", identity.ID)
	return true
}

// ValidAccessToken returns a token valid for at least another hour, refreshing
// once through the auth backend when the stored one is closer to expiry. It
// does not clear the stored credential when the refresh fails.
func (s *Session) ValidAccessToken(ctx context.Context) (string, error) {
	cred, err := s.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, tokenstore.ErrNoCredential) {
			s.logger.WarnContext(ctx, "token store read failed", "error", err)
		}
		return "", fmt.Errorf("%w: %w", ErrNotLoggedIn, err)
	}

	if cred.ValidFor(s.now(), refreshMargin) {
		return cred.AccessToken, nil
	}

	s.logger.DebugContext(ctx, "refreshing access token", "expires_at", cred.ExpiresAt)
	resp, err := s.auth.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		s.logger.WarnContext(ctx, "token refresh failed", "error", err)
		return "", fmt.Errorf("%w: %w", ErrNotLoggedIn, err)
	}

	s.saveCredential(ctx, resp.Credential())
	return resp.AccessToken, nil
}

// PresentLogin starts the authorization code flow. It tries the native app
// first; the app path returns right away and the login completes in
// HandleCallback. Otherwise it blocks on the launcher's browser session and
// finishes the login itself.
func (s *Session) PresentLogin(ctx context.Context) error {
	if !s.cfg.Configured() {
		return s.fail(ctx, ErrNotConfigured)
	}
	if s.IsLoggedIn() {
		return nil
	}
	if s.launcher == nil {
		return s.fail(ctx, errors.New("no login launcher configured"))
	}

	pending := &pendingLogin{state: uuid.NewString()}

	webURL, err := s.authorizeURL(s.cfg.AuthorizeURL, pending.state)
	if err != nil {
		return s.fail(ctx, err)
	}

	// A new login replaces any round trip still waiting for its callback.
	s.update(func() {
		s.state = StateLoggingIn
		s.loading = true
		s.loginErr = ""
		s.pending = pending
	})

	if appURL, err := s.authorizeURL(s.cfg.AppAuthorizeURL, pending.state); err == nil &&
		s.launcher.OpenApp(ctx, appURL) {
		s.update(func() { s.loading = false })
		s.logger.InfoContext(ctx, "handed authorization to provider app")
		return nil
	}

	callback, err := s.launcher.Browse(ctx, webURL, s.cfg.CallbackScheme)
	if !s.takePending(pending) {
		// Superseded by a newer PresentLogin.
		return err
	}
	if err != nil {
		return s.fail(ctx, err)
	}

	u, err := url.Parse(callback)
	if err != nil {
		return s.fail(ctx, fmt.Errorf("%w: %v", ErrMissingAuthorizationCode, err))
	}
	return s.completeLogin(ctx, u, pending)
}

// HandleCallback delivers a redirect from the provider app. URLs with a
// different scheme, or arriving when no login is pending, are ignored.
func (s *Session) HandleCallback(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != s.cfg.CallbackScheme {
		s.logger.DebugContext(ctx, "ignoring callback", "url", rawURL)
		return nil
	}

	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if pending == nil {
		s.logger.DebugContext(ctx, "ignoring callback with no pending login")
		return nil
	}
	return s.completeLogin(ctx, u, pending)
}

// Logout forgets the athlete and the stored credential. The token is revoked
// in the background and the outcome of that call is ignored.
func (s *Session) Logout(ctx context.Context) {
	if cred, err := s.store.Load(ctx); err == nil {
		bgCtx := context.WithoutCancel(ctx)
		s.background.Add(1)
		go func(token string) {
			defer s.background.Done()
			if err := s.auth.Deauthorize(bgCtx, token); err != nil {
				s.logger.DebugContext(bgCtx, "deauthorize failed", "error", err)
			}
		}(cred.AccessToken)
	}

	s.clearStore(ctx)
	s.update(func() {
		s.state = StateLoggedOut
		s.identity = nil
		s.loading = false
		s.loginErr = ""
		s.pending = nil
	})
	s.logger.InfoContext(ctx, "logged out")
}

// Wait blocks until background deauthorize calls have finished.
func (s *Session) Wait() {
	s.background.Wait()
}

func (s *Session) completeLogin(ctx context.Context, callback *url.URL, pending *pendingLogin) error {
	q := callback.Query()
	code := q.Get("code")
	if code == "" {
		if q.Has("error") {
			return s.fail(ctx, ErrAccessDenied)
		}
		return s.fail(ctx, ErrMissingAuthorizationCode)
	}
	if state := q.Get("state"); state != "" && state != pending.state {
		return s.fail(ctx, ErrStateMismatch)
	}

	s.update(func() {
		s.state = StateLoggingIn
		s.loading = true
		s.loginErr = ""
	})

	resp, err := s.auth.Exchange(ctx, code)
	if err != nil {
		return s.fail(ctx, err)
	}
	cred := resp.Credential()
	s.saveCredential(ctx, cred)

	athlete := resp.Athlete
	if athlete == nil {
		athlete, err = s.api.GetCurrentAthlete(ctx, cred.AccessToken)
		if err != nil {
			s.clearStore(ctx)
			return s.fail(ctx, err)
		}
	}

	identity := identityFrom(athlete)
	s.update(func() {
		s.state = StateLoggedIn
		s.identity = identity
		s.loading = false
		s.loginErr = ""
	})
	s.logger.InfoContext(ctx, "logged in", "athlete_id", identity.ID)
	return nil
}

// authorizeURL builds the authorization request against base.
func (s *Session) authorizeURL(base, state string) (string, error) {
	if base == "" {
		return "", ErrInvalidAuthURL
	}
	conf := &oauth2.Config{
		ClientID:    strconv.Itoa(s.cfg.ClientID),
		RedirectURL: s.cfg.RedirectURI,
		Endpoint:    oauth2.Endpoint{AuthURL: base},
	}
	raw := conf.AuthCodeURL(
		state,
		oauth2.SetAuthURLParam("approval_prompt", "auto"),
		oauth2.SetAuthURLParam("scope", s.cfg.Scope),
	)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "", ErrInvalidAuthURL
	}
	return raw, nil
}

// takePending clears the pending slot if it still holds p.
func (s *Session) takePending(p *pendingLogin) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != p {
		return false
	}
	s.pending = nil
	return true
}

// fail records err as the login error and returns to logged out.
func (s *Session) fail(ctx context.Context, err error) error {
	s.update(func() {
		s.state = StateLoggedOut
		s.identity = nil
		s.loading = false
		s.loginErr = err.Error()
	})
	s.logger.WarnContext(ctx, "login failed", "error", err)
	return err
}

// saveCredential persists best-effort; a failed write only costs a re-login later.
func (s *Session) saveCredential(ctx context.Context, cred tokenstore.Credential) {
	if err := s.store.Save(ctx, cred); err != nil {
		s.logger.WarnContext(ctx, "failed to save credential", "error", err)
	}
}

func (s *Session) clearStore(ctx context.Context) {
	if err := s.store.Clear(ctx); err != nil {
		s.logger.WarnContext(ctx, "failed to clear credential", "error", err)
	}
}

func (s *Session) forgetUnlessCanceled(ctx context.Context, msg string, err error) {
	if ctx.Err() != nil {
		return
	}
	s.logger.InfoContext(ctx, msg, "error", err)
	s.clearStore(ctx)
}

func (s *Session) update(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.SessionChanged(snap)
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:      s.state,
		Loading:    s.loading,
		LoginError: s.loginErr,
	}
	if s.identity != nil {
		id := *s.identity
		snap.Identity = &id
	}
	return snap
}
