package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/rbxbridge/internal/credentials"
	"github.com/desertthunder/rbxbridge/internal/models"
	"github.com/desertthunder/rbxbridge/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCallbackTimeout bounds how long an authorization request waits for its callback.
	DefaultCallbackTimeout = 10 * time.Minute
	// DefaultRefreshMargin is how early a token is refreshed ahead of its expiry.
	DefaultRefreshMargin = 60 * time.Second

	revokeTimeout  = 10 * time.Second
	refreshTimeout = 30 * time.Second
	refreshKey     = "refresh"
)

// ConnectionState is the position of the session in its lifecycle.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	AwaitingCallback
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case AwaitingCallback:
		return "awaiting_callback"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Account is the platform surface used around the token exchange.
type Account interface {
	UserInfo(ctx context.Context, accessToken string) (models.UserInfo, error)
	Revoke(ctx context.Context, token string) error
}

// AuthorizationStart is returned by [Manager.BeginAuthorization].
type AuthorizationStart struct {
	URL   string
	State string
}

// Options configures a [Manager]. Zero durations use the package defaults.
type Options struct {
	Roblox     shared.RobloxConfig
	Auth       shared.AuthConfig
	Store      credentials.Store
	Account    Account
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Manager owns the OAuth lifecycle for the single platform account.
type Manager struct {
	oauth      *oauth2.Config
	store      credentials.Store
	account    Account
	httpClient *http.Client
	logger     *log.Logger
	ttl        time.Duration
	margin     time.Duration
	refreshTTL time.Duration

	now      func() time.Time
	newState func() (string, error)

	mu      sync.Mutex
	pending *models.AuthorizationRequest

	// session guards store writes; generation changes whenever the grant is replaced or dropped.
	session    sync.Mutex
	generation uint64

	refresh singleflight.Group
}

// NewManager creates a Manager from opts.
func NewManager(opts Options) *Manager {
	ttl := opts.Auth.CallbackTimeout
	if ttl <= 0 {
		ttl = DefaultCallbackTimeout
	}
	margin := opts.Auth.RefreshMargin
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	return &Manager{
		oauth: &oauth2.Config{
			ClientID:     opts.Roblox.ClientID,
			ClientSecret: opts.Roblox.ClientSecret,
			RedirectURL:  opts.Roblox.RedirectURI,
			Scopes:       append([]string(nil), opts.Roblox.Scopes...),
			Endpoint: oauth2.Endpoint{
				AuthURL:   opts.Roblox.AuthURL,
				TokenURL:  opts.Roblox.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		store:      opts.Store,
		account:    opts.Account,
		httpClient: client,
		logger:     shared.WithLogger(logger, "component", "auth"),
		ttl:        ttl,
		margin:     margin,
		refreshTTL: refreshTimeout,
		now:        time.Now,
		newState:   func() (string, error) { return shared.GenerateState(32) },
	}
}

// oauthContext carries the manager's HTTP client into [oauth2] calls.
func (m *Manager) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// BeginAuthorization starts a new authorization-code flow and returns the URL the user must visit.
//
// Any request still pending is superseded; its state will no longer be accepted.
func (m *Manager) BeginAuthorization(ctx context.Context) (AuthorizationStart, error) {
	if m.oauth.ClientID == "" || m.oauth.ClientSecret == "" {
		return AuthorizationStart{}, shared.ErrMissingCredentials
	}

	state, err := m.newState()
	if err != nil {
		return AuthorizationStart{}, err
	}
	verifier := oauth2.GenerateVerifier()

	req := &models.AuthorizationRequest{
		State:        state,
		CodeVerifier: verifier,
		RedirectURI:  m.oauth.RedirectURL,
		Scopes:       m.oauth.Scopes,
		CreatedAt:    m.now(),
	}

	m.mu.Lock()
	superseded := m.pending != nil
	m.pending = req
	m.mu.Unlock()

	if superseded {
		m.logger.Debug("superseded pending authorization request")
	}
	m.logger.Info("authorization started", "state", shared.Redact(state))

	url := m.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	return AuthorizationStart{URL: url, State: state}, nil
}

// take validates state against the pending request and consumes it.
//
// A mismatched or expired request is discarded as well; only one callback is ever processed per request.
func (m *Manager) take(state string) (*models.AuthorizationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req := m.pending
	if req == nil {
		return nil, shared.ErrNoPendingRequest
	}
	m.pending = nil

	if state != req.State {
		return nil, shared.ErrStateMismatch
	}
	if req.Expired(m.now(), m.ttl) {
		return nil, fmt.Errorf("%w: requested %s ago", shared.ErrAuthExpired, m.now().Sub(req.CreatedAt).Round(time.Second))
	}
	return req, nil
}

// HandleCallback completes the flow started by [Manager.BeginAuthorization].
//
// The store is only written after a successful exchange.
func (m *Manager) HandleCallback(ctx context.Context, state, code string) (models.TokenSet, error) {
	req, err := m.take(state)
	if err != nil {
		m.logger.Warn("rejected authorization callback", "state", shared.Redact(state), "error", err)
		return models.TokenSet{}, err
	}
	if code == "" {
		return models.TokenSet{}, fmt.Errorf("%w: callback carried no code", shared.ErrPlatformRejected)
	}

	tok, err := m.oauth.Exchange(m.oauthContext(ctx), code, oauth2.VerifierOption(req.CodeVerifier))
	if err != nil {
		m.logger.Error("code exchange failed", "error", err)
		return models.TokenSet{}, fmt.Errorf("%w: %v", shared.ErrPlatformRejected, err)
	}

	ts := models.FromOAuth2(tok, m.now(), req.Scopes)
	if m.account != nil {
		user, err := m.account.UserInfo(ctx, ts.AccessToken)
		if err != nil {
			m.logger.Warn("failed to fetch user info", "error", err)
		} else {
			ts.User = user
		}
	}

	m.session.Lock()
	m.generation++
	err = m.store.Put(ctx, ts)
	m.session.Unlock()
	if err != nil {
		return models.TokenSet{}, fmt.Errorf("failed to store credentials: %w", err)
	}

	m.logger.Info("connected", "user", ts.User.Name(), "expires_at", ts.ExpiresAt.Format(time.RFC3339))
	return ts, nil
}

// DenyCallback handles a callback carrying ?error= from the authorization server.
//
// The pending request is only discarded when state matches it.
func (m *Manager) DenyCallback(ctx context.Context, state, errCode, description string) error {
	m.mu.Lock()
	matched := m.pending != nil && state != "" && state == m.pending.State
	if matched {
		m.pending = nil
	}
	m.mu.Unlock()

	m.logger.Warn("authorization denied", "error", errCode, "description", description, "matched", matched)
	if description != "" {
		return fmt.Errorf("%w: %s (%s)", shared.ErrAuthDenied, description, errCode)
	}
	return fmt.Errorf("%w: %s", shared.ErrAuthDenied, errCode)
}

// EnsureFreshToken returns a TokenSet that will stay valid for at least the refresh margin.
//
// Concurrent callers that find the token stale share one refresh.
func (m *Manager) EnsureFreshToken(ctx context.Context) (models.TokenSet, error) {
	ts, ok, err := m.store.Get(ctx)
	if err != nil {
		return models.TokenSet{}, err
	}
	if !ok {
		return models.TokenSet{}, shared.ErrNotConnected
	}
	if ts.Valid(m.now(), m.margin) {
		return ts, nil
	}

	ch := m.refresh.DoChan(refreshKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTTL)
		defer cancel()
		return m.refreshToken(rctx)
	})

	select {
	case <-ctx.Done():
		return models.TokenSet{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.TokenSet{}, res.Err
		}
		return res.Val.(models.TokenSet), nil
	}
}

// refreshToken exchanges the stored refresh token. The result is dropped when the grant
// was replaced or disconnected while the exchange was in flight.
func (m *Manager) refreshToken(ctx context.Context) (models.TokenSet, error) {
	m.session.Lock()
	gen := m.generation
	current, ok, err := m.store.Get(ctx)
	m.session.Unlock()
	if err != nil {
		return models.TokenSet{}, err
	}
	if !ok {
		return models.TokenSet{}, shared.ErrNotConnected
	}
	if current.Valid(m.now(), m.margin) {
		return current, nil
	}
	if current.RefreshToken == "" {
		m.clearIf(ctx, gen)
		return models.TokenSet{}, fmt.Errorf("%w: no refresh token", shared.ErrRefreshFailed)
	}

	m.logger.Debug("refreshing access token", "expires_at", current.ExpiresAt.Format(time.RFC3339))

	src := m.oauth.TokenSource(m.oauthContext(ctx), &oauth2.Token{RefreshToken: current.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			m.logger.Error("refresh token rejected; disconnecting", "code", re.ErrorCode, "error", err)
			m.clearIf(ctx, gen)
		} else {
			m.logger.Warn("token refresh failed", "error", err)
		}
		return models.TokenSet{}, fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
	}

	next := models.FromOAuth2(tok, m.now(), current.Scopes)
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	next.User = current.User
	next.ConnectedAt = current.ConnectedAt

	m.session.Lock()
	defer m.session.Unlock()
	if m.generation != gen {
		m.logger.Debug("discarding refreshed token; session changed during refresh")
		return models.TokenSet{}, fmt.Errorf("%w: disconnected during refresh", shared.ErrNotConnected)
	}
	if err := m.store.Put(ctx, next); err != nil {
		return models.TokenSet{}, fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
	}
	m.logger.Info("access token refreshed", "expires_at", next.ExpiresAt.Format(time.RFC3339))
	return next, nil
}

// clearIf empties the store unless the session changed since gen was read.
func (m *Manager) clearIf(ctx context.Context, gen uint64) {
	m.session.Lock()
	defer m.session.Unlock()
	if m.generation != gen {
		return
	}
	m.generation++
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("failed to clear stored credentials", "error", err)
	}
}

// Disconnect revokes the grant on a best-effort basis and empties the Credential Store.
//
// Only a failure to clear the store is returned.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()

	ts, ok, err := m.store.Get(ctx)
	if err == nil && ok && m.account != nil {
		token := ts.RefreshToken
		if token == "" {
			token = ts.AccessToken
		}

		rctx, cancel := context.WithTimeout(ctx, revokeTimeout)
		if err := m.account.Revoke(rctx, token); err != nil {
			m.logger.Warn("token revocation failed; clearing local credentials anyway", "error", err)
		}
		cancel()
	}

	m.session.Lock()
	m.generation++
	err = m.store.Clear(ctx)
	m.session.Unlock()
	if err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	m.logger.Info("disconnected")
	return nil
}

// State reports the current lifecycle position.
func (m *Manager) State(ctx context.Context) ConnectionState {
	if _, ok, err := m.store.Get(ctx); err == nil && ok {
		return Connected
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil && !m.pending.Expired(m.now(), m.ttl) {
		return AwaitingCallback
	}
	return Disconnected
}

// Connected reports whether a TokenSet is held and, if so, whose it is.
func (m *Manager) Connected(ctx context.Context) (bool, *models.UserInfo) {
	ts, ok, err := m.store.Get(ctx)
	if err != nil || !ok {
		return false, nil
	}
	user := ts.User
	return true, &user
}
