// Package session owns the client's authentication state. It is the only
// writer of the credential store and supplies the bearer header for every
// authenticated backend call.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/iwvelando/loan-calculator/internal/backend"
	"github.com/iwvelando/loan-calculator/internal/credstore"
	"github.com/iwvelando/loan-calculator/pkg/apperr"
	"go.uber.org/zap"
)

// State is the authentication state of the client.
type State int

const (
	Anonymous State = iota
	Authenticating
	Authenticated
	Expired
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Errors returned by the manager. They match by kind like every apperr
// sentinel.
var (
	ErrAuthInProgress       = apperr.New(apperr.KindInProgress, "a login is already in progress")
	ErrAlreadyAuthenticated = apperr.New(apperr.KindValidation, "you are already logged in, log out first")
	ErrSuperseded           = apperr.New(apperr.KindNotAuthenticated, "the login was cancelled by a logout")
)

// Authenticator is the part of the backend the manager drives.
type Authenticator interface {
	Register(ctx context.Context, reg backend.Registration) (backend.AuthResult, error)
	Authenticate(ctx context.Context, creds backend.Credentials) (backend.AuthResult, error)
}

// Status is a snapshot of the session.
type Status struct {
	State      State
	CustomerID string
	// ExpiresAt is set when the token carries an expiry.
	ExpiresAt time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithExpiryHandler registers fn to be called once per expiry event.
func WithExpiryHandler(fn func()) Option {
	return func(m *Manager) { m.onExpire = fn }
}

// WithClock overrides the clock used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager is the session state machine.
type Manager struct {
	mu     sync.Mutex
	store  credstore.Store
	auth   Authenticator
	logger *zap.Logger

	state State
	creds credstore.Credentials
	// epoch increases on every login attempt and logout so a late result
	// from a superseded attempt is discarded.
	epoch         uint64
	expiredNotice bool
	// expiryReported is set once a call has failed with the expiry reason.
	// Later calls in the Expired state fail as not authenticated.
	expiryReported bool

	onExpire func()
	now      func() time.Time
}

// New restores the session saved in store. A complete saved session starts
// Authenticated, anything else starts Anonymous.
func New(ctx context.Context, store credstore.Store, auth Authenticator, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:  store,
		auth:   auth,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	creds, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if creds.Valid() {
		m.state = Authenticated
		m.creds = creds
		m.logger.Debug("restored saved session",
			zap.String("op", "session.New"),
			zap.String("customerId", creds.CustomerID),
		)
	}

	// A restored token may already be past its expiry. No call has failed
	// yet, so the first one reports it.
	if m.state == Authenticated {
		if exp, ok := tokenExpiry(m.creds.Token); ok && !m.now().Before(exp) {
			m.expireLocked(ctx, "saved token expiry passed")
			m.notifyExpired()
		}
	}
	return m, nil
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CustomerID returns the authenticated customer, or "" when there is none.
func (m *Manager) CustomerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Authenticated {
		return ""
	}
	return m.creds.CustomerID
}

// Status returns a snapshot of the session.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := Status{State: m.state}
	if m.state == Authenticated {
		status.CustomerID = m.creds.CustomerID
		status.ExpiresAt, _ = tokenExpiry(m.creds.Token)
	}
	return status
}

// AuthorizationHeader returns "Bearer <token>" while Authenticated.
func (m *Manager) AuthorizationHeader() (string, bool) {
	header, err := m.Authorize(context.Background())
	if err != nil {
		return "", false
	}
	return header, true
}

// Authorize implements backend.Authorizer. A token whose own expiry has
// passed is expired locally instead of being sent. Only the first failing
// call after an expiry reports it as such.
func (m *Manager) Authorize(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state != Authenticated {
		report := m.state == Expired && !m.expiryReported
		if report {
			m.expiryReported = true
		}
		m.mu.Unlock()
		if report {
			return "", errSessionExpired()
		}
		return "", apperr.New(apperr.KindNotAuthenticated, "please log in first")
	}

	if exp, ok := tokenExpiry(m.creds.Token); ok && !m.now().Before(exp) {
		m.expireLocked(ctx, "token expiry passed")
		m.expiryReported = true
		m.mu.Unlock()
		m.notifyExpired()
		return "", errSessionExpired()
	}

	header := bearer(m.creds.Token)
	m.mu.Unlock()
	return header, nil
}

// Rejected implements backend.Authorizer. A 401 to the current token
// expires the session; a 401 to an older token is ignored. The caller
// reports the expiry for the rejected request.
func (m *Manager) Rejected(ctx context.Context, header string) {
	m.mu.Lock()
	if m.state != Authenticated || header != bearer(m.creds.Token) {
		m.mu.Unlock()
		return
	}
	m.expireLocked(ctx, "backend rejected the token")
	// The rejected call itself fails with the expiry.
	m.expiryReported = true
	m.mu.Unlock()
	m.notifyExpired()
}

// expireLocked clears the store and moves to Expired. The token is known to
// be dead, so memory moves on even if the store cannot be cleared.
func (m *Manager) expireLocked(ctx context.Context, reason string) {
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("failed to clear expired session",
			zap.String("op", "session.expire"),
			zap.Error(err),
		)
	}
	m.logger.Info("session expired",
		zap.String("op", "session.expire"),
		zap.String("customerId", m.creds.CustomerID),
		zap.String("reason", reason),
	)
	m.state = Expired
	m.creds = credstore.Credentials{}
	m.expiredNotice = true
	m.expiryReported = false
	m.epoch++
}

func errSessionExpired() error {
	return apperr.New(apperr.KindSessionExpired, "your session has expired, please log in again")
}

func (m *Manager) notifyExpired() {
	if m.onExpire != nil {
		m.onExpire()
	}
}

// TakeExpiredNotice reports whether the session expired since the last
// call. It returns true once per expiry event.
func (m *Manager) TakeExpiredNotice() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	notice := m.expiredNotice
	m.expiredNotice = false
	return notice
}

// Login authenticates with the backend and persists the session.
func (m *Manager) Login(ctx context.Context, creds backend.Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	epoch, err := m.begin()
	if err != nil {
		return err
	}

	result, err := m.auth.Authenticate(ctx, creds)
	return m.finish(ctx, epoch, "session.Login", result, err)
}

// Register creates an account and logs in. When the registration response
// carries no token the manager logs in with the same credentials.
func (m *Manager) Register(ctx context.Context, reg backend.Registration) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	epoch, err := m.begin()
	if err != nil {
		return err
	}

	result, err := m.auth.Register(ctx, reg)
	if err == nil && result.Token == "" {
		if !m.current(epoch) {
			return ErrSuperseded
		}
		m.logger.Debug("registration returned no token, logging in",
			zap.String("op", "session.Register"),
		)
		result, err = m.auth.Authenticate(ctx, backend.Credentials{
			Username: reg.Username,
			Password: reg.Password,
		})
	}
	return m.finish(ctx, epoch, "session.Register", result, err)
}

func (m *Manager) begin() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Authenticating:
		return 0, ErrAuthInProgress
	case Authenticated:
		return 0, ErrAlreadyAuthenticated
	}
	m.epoch++
	m.state = Authenticating
	return m.epoch, nil
}

func (m *Manager) current(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch == epoch
}

// finish applies the outcome of a login attempt unless it was superseded.
// The store is written first and memory follows only on success.
func (m *Manager) finish(ctx context.Context, epoch uint64, op string, result backend.AuthResult, authErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch {
		m.logger.Debug("discarding superseded login result", zap.String("op", op))
		return ErrSuperseded
	}

	if authErr != nil {
		m.state = Anonymous
		m.logger.Debug("login failed",
			zap.String("op", op),
			zap.String("kind", apperr.KindOf(authErr).String()),
		)
		return authErr
	}

	creds := credstore.Credentials{Token: result.Token, CustomerID: result.CustomerID()}
	if !creds.Valid() {
		m.state = Anonymous
		return apperr.New(apperr.KindServer, "the loan service did not return a session")
	}

	if err := m.store.Save(ctx, creds); err != nil {
		m.state = Anonymous
		return err
	}
	m.state = Authenticated
	m.creds = creds
	m.expiredNotice = false
	m.logger.Info("logged in",
		zap.String("op", op),
		zap.String("customerId", creds.CustomerID),
	)
	return nil
}

// Logout clears the saved session before forgetting it in memory. A login
// in flight is superseded.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		return err
	}
	if m.state == Authenticating {
		m.logger.Debug("logout supersedes login in flight", zap.String("op", "session.Logout"))
	}
	m.epoch++
	m.state = Anonymous
	m.creds = credstore.Credentials{}
	m.expiredNotice = false
	m.logger.Info("logged out", zap.String("op", "session.Logout"))
	return nil
}

func bearer(token string) string {
	return "Bearer " + token
}

// tokenExpiry reads the exp claim of a JWT without verifying it. The
// backend remains the authority; this only avoids sending a token that is
// certain to be rejected.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

var _ backend.Authorizer = (*Manager)(nil)
