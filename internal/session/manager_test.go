package session

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iwvelando/loan-calculator/internal/backend"
	"github.com/iwvelando/loan-calculator/internal/credstore"
	"github.com/iwvelando/loan-calculator/pkg/apperr"
	"github.com/iwvelando/loan-calculator/pkg/testutil"
	"go.uber.org/zap"
)

type harness struct {
	fake    *testutil.FakeBackend
	client  *backend.Client
	store   *credstore.Memory
	manager *Manager
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	fake := testutil.NewFakeBackend(t)
	client, err := backend.NewClient(backend.Config{BaseURL: fake.URL(), Timeout: 5 * time.Second}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	store := credstore.NewMemory()
	manager, err := New(context.Background(), store, client, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	client.SetAuthorizer(manager)
	return &harness{fake: fake, client: client, store: store, manager: manager}
}

func registration(username string) backend.Registration {
	return backend.Registration{
		FirstName:       "Jane",
		LastName:        "Doe",
		Username:        username,
		Email:           username + "@example.com",
		Password:        "s3cret-pass",
		ConfirmPassword: "s3cret-pass",
	}
}

// signUp registers username and logs out again so tests start anonymous.
func (h *harness) signUp(t *testing.T, username string) {
	t.Helper()
	ctx := testutil.Context(t, 5*time.Second)
	if err := h.manager.Register(ctx, registration(username)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := h.manager.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
}

func (h *harness) login(t *testing.T, username string) {
	t.Helper()
	ctx := testutil.Context(t, 5*time.Second)
	if err := h.manager.Login(ctx, backend.Credentials{Username: username, Password: "s3cret-pass"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, expected %s", m.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{Anonymous, "anonymous"},
		{Authenticating, "authenticating"},
		{Authenticated, "authenticated"},
		{Expired, "expired"},
		{State(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %q, expected %q", tt.state, got, tt.expected)
		}
	}
}

func TestStartsAnonymous(t *testing.T) {
	h := newHarness(t)
	if h.manager.State() != Anonymous {
		t.Errorf("State() = %s, expected anonymous", h.manager.State())
	}
	if header, ok := h.manager.AuthorizationHeader(); ok || header != "" {
		t.Errorf("AuthorizationHeader() = %q, %v; expected none", header, ok)
	}
	_, err := h.client.Statement(context.Background())
	if !errors.Is(err, apperr.ErrNotAuthenticated) {
		t.Errorf("Statement() error = %v, expected ErrNotAuthenticated", err)
	}
	if len(h.fake.Requests()) != 0 {
		t.Errorf("anonymous statement request reached the backend")
	}
}

func TestLoginPersistsAndAuthorizes(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "jane")
	h.login(t, "jane")

	if h.manager.State() != Authenticated {
		t.Fatalf("State() = %s, expected authenticated", h.manager.State())
	}
	if h.manager.CustomerID() != "1" {
		t.Errorf("CustomerID() = %q, expected 1", h.manager.CustomerID())
	}

	saved, _ := h.store.Load(context.Background())
	header, ok := h.manager.AuthorizationHeader()
	if !ok || header != "Bearer "+saved.Token {
		t.Errorf("AuthorizationHeader() = %q, %v; expected bearer of saved token", header, ok)
	}
	if saved.CustomerID != "1" {
		t.Errorf("saved customer = %q, expected 1", saved.CustomerID)
	}

	if _, err := h.client.Statement(context.Background()); err != nil {
		t.Fatalf("Statement() error = %v", err)
	}
	requests := h.fake.Requests()
	last := requests[len(requests)-1]
	if last.Path != "/api/loans/statement" || last.Authorization != header {
		t.Errorf("statement request = %+v", last)
	}

	status := h.manager.Status()
	if status.State != Authenticated || status.CustomerID != "1" || status.ExpiresAt.IsZero() {
		t.Errorf("Status() = %+v", status)
	}
}

func TestLogoutClearsStore(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "jane")
	h.login(t, "jane")

	if err := h.manager.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if h.manager.State() != Anonymous {
		t.Errorf("State() = %s, expected anonymous", h.manager.State())
	}
	if saved, _ := h.store.Load(context.Background()); saved.Valid() {
		t.Errorf("store still holds %+v after logout", saved)
	}
	if _, ok := h.manager.AuthorizationHeader(); ok {
		t.Errorf("header still available after logout")
	}
	if h.manager.TakeExpiredNotice() {
		t.Errorf("logout must not raise an expiry notice")
	}
}

func TestRestoreFromStore(t *testing.T) {
	store := credstore.NewMemory()
	if err := store.Save(context.Background(), credstore.Credentials{Token: "abc", CustomerID: "1"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	m, err := New(context.Background(), store, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if m.State() != Authenticated {
		t.Fatalf("State() = %s, expected authenticated", m.State())
	}
	header, ok := m.AuthorizationHeader()
	if !ok || header != "Bearer abc" {
		t.Errorf("AuthorizationHeader() = %q, %v; expected Bearer abc", header, ok)
	}
}

func TestRestoreExpiredToken(t *testing.T) {
	fake := testutil.NewFakeBackend(t)
	store := credstore.NewMemory()
	token := fake.IssueToken(4, -time.Minute)
	if err := store.Save(context.Background(), credstore.Credentials{Token: token, CustomerID: "4"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	m, err := New(context.Background(), store, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if m.State() != Expired {
		t.Errorf("State() = %s, expected expired", m.State())
	}
	if saved, _ := store.Load(context.Background()); saved.Valid() {
		t.Errorf("expired token was kept in the store")
	}
	if !m.TakeExpiredNotice() {
		t.Errorf("expected an expiry notice after restoring a stale token")
	}

	// Nothing has failed yet, so the first call reports the expiry once.
	if _, err := m.Authorize(context.Background()); !errors.Is(err, apperr.ErrSessionExpired) {
		t.Errorf("first Authorize() error = %v, expected ErrSessionExpired", err)
	}
	if _, err := m.Authorize(context.Background()); !errors.Is(err, apperr.ErrNotAuthenticated) {
		t.Errorf("second Authorize() error = %v, expected ErrNotAuthenticated", err)
	}
	if m.State() != Expired {
		t.Errorf("State() = %s, expected expired", m.State())
	}
}

func TestBackendRejectionExpiresSession(t *testing.T) {
	var expiries int32
	h := newHarness(t, WithExpiryHandler(func() { atomic.AddInt32(&expiries, 1) }))
	h.signUp(t, "jane")
	h.login(t, "jane")

	h.fake.ExpireSessions()
	_, err := h.client.Statement(context.Background())
	if !errors.Is(err, apperr.ErrSessionExpired) {
		t.Fatalf("Statement() error = %v, expected ErrSessionExpired", err)
	}

	if h.manager.State() != Expired {
		t.Errorf("State() = %s, expected expired", h.manager.State())
	}
	if saved, _ := h.store.Load(context.Background()); saved.Valid() {
		t.Errorf("store still holds credentials after rejection")
	}
	if _, ok := h.manager.AuthorizationHeader(); ok {
		t.Errorf("header still available after rejection")
	}
	if h.manager.CustomerID() != "" {
		t.Errorf("CustomerID() = %q after expiry", h.manager.CustomerID())
	}

	if !h.manager.TakeExpiredNotice() {
		t.Errorf("expected an expiry notice")
	}
	if h.manager.TakeExpiredNotice() {
		t.Errorf("expiry notice delivered twice")
	}
	if got := atomic.LoadInt32(&expiries); got != 1 {
		t.Errorf("expiry handler called %d times, expected 1", got)
	}

	// The rejected call reported the expiry. Later calls do not reach the
	// backend and fail as not authenticated.
	before := len(h.fake.Requests())
	for i := 0; i < 2; i++ {
		_, err = h.client.Statement(context.Background())
		if !errors.Is(err, apperr.ErrNotAuthenticated) {
			t.Errorf("Statement() call %d after expiry error = %v, expected ErrNotAuthenticated", i+1, err)
		}
	}
	if len(h.fake.Requests()) != before {
		t.Errorf("request sent with an expired session")
	}

	// Logging in again recovers.
	h.login(t, "jane")
	if _, err := h.client.Statement(context.Background()); err != nil {
		t.Errorf("Statement() after new login error = %v", err)
	}
}

func TestStaleRejectionIgnored(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "jane")
	h.login(t, "jane")

	h.manager.Rejected(context.Background(), "Bearer some-older-token")
	if h.manager.State() != Authenticated {
		t.Errorf("State() = %s, rejection of another token must be ignored", h.manager.State())
	}
}

func TestLocalExpiryCheck(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	h := newHarness(t, WithClock(clock))
	h.signUp(t, "jane")
	h.login(t, "jane")

	now = now.Add(2 * time.Hour)
	before := len(h.fake.Requests())
	_, err := h.client.Statement(context.Background())
	if !errors.Is(err, apperr.ErrSessionExpired) {
		t.Fatalf("Statement() error = %v, expected ErrSessionExpired", err)
	}
	if len(h.fake.Requests()) != before {
		t.Errorf("expired token was sent to the backend")
	}
	if h.manager.State() != Expired {
		t.Errorf("State() = %s, expected expired", h.manager.State())
	}
	if _, err := h.client.Statement(context.Background()); !errors.Is(err, apperr.ErrNotAuthenticated) {
		t.Errorf("Statement() after reported expiry error = %v, expected ErrNotAuthenticated", err)
	}
}

func TestConcurrentLoginRejected(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "jane")
	h.fake.SetDelay(300 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- h.manager.Login(context.Background(), backend.Credentials{Username: "jane", Password: "s3cret-pass"})
	}()
	waitForState(t, h.manager, Authenticating)

	err := h.manager.Login(context.Background(), backend.Credentials{Username: "jane", Password: "s3cret-pass"})
	if !errors.Is(err, ErrAuthInProgress) {
		t.Errorf("second Login() error = %v, expected ErrAuthInProgress", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("first Login() error = %v", err)
	}
	if h.manager.State() != Authenticated {
		t.Errorf("State() = %s, expected authenticated", h.manager.State())
	}

	err = h.manager.Login(context.Background(), backend.Credentials{Username: "jane", Password: "s3cret-pass"})
	if !errors.Is(err, ErrAlreadyAuthenticated) {
		t.Errorf("Login() while authenticated error = %v", err)
	}
}

func TestLogoutSupersedesLoginInFlight(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "jane")
	h.fake.SetDelay(300 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- h.manager.Login(context.Background(), backend.Credentials{Username: "jane", Password: "s3cret-pass"})
	}()
	waitForState(t, h.manager, Authenticating)

	if err := h.manager.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Errorf("Login() error = %v, expected ErrSuperseded", err)
	}
	if h.manager.State() != Anonymous {
		t.Errorf("State() = %s, late login result must be discarded", h.manager.State())
	}
	if saved, _ := h.store.Load(context.Background()); saved.Valid() {
		t.Errorf("late login result was persisted")
	}
}

func TestRegisterWithoutTokenLogsIn(t *testing.T) {
	h := newHarness(t)
	h.fake.SetRegisterReturnsToken(false)

	if err := h.manager.Register(context.Background(), registration("sam")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if h.manager.State() != Authenticated || h.manager.CustomerID() != "1" {
		t.Errorf("State() = %s, CustomerID() = %q", h.manager.State(), h.manager.CustomerID())
	}

	var paths []string
	for _, r := range h.fake.Requests() {
		paths = append(paths, r.Path)
	}
	if strings.Join(paths, ",") != "/api/customers/register,/api/customers/authenticate" {
		t.Errorf("requests = %v", paths)
	}
}

func TestLoginFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		creds backend.Credentials
		want  error
	}{
		{
			name:  "wrong password",
			creds: backend.Credentials{Username: "jane", Password: "nope"},
			want:  apperr.ErrInvalidCredentials,
		},
		{
			name:  "unknown user",
			creds: backend.Credentials{Username: "nobody", Password: "nope"},
			want:  apperr.ErrInvalidCredentials,
		},
		{
			name:  "missing fields",
			creds: backend.Credentials{Username: "jane"},
			want:  apperr.ErrValidation,
		},
		{
			name:  "server failure",
			setup: func(h *harness) { h.fake.FailNext(500, "database unavailable") },
			creds: backend.Credentials{Username: "jane", Password: "s3cret-pass"},
			want:  apperr.ErrServer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.signUp(t, "jane")
			if tt.setup != nil {
				tt.setup(h)
			}
			err := h.manager.Login(context.Background(), tt.creds)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Login() error = %v, expected %v", err, tt.want)
			}
			if h.manager.State() != Anonymous {
				t.Errorf("State() = %s, expected anonymous", h.manager.State())
			}
			if saved, _ := h.store.Load(context.Background()); saved.Valid() {
				t.Errorf("failed login persisted credentials")
			}
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "jane")

	err := h.manager.Register(context.Background(), registration("jane"))
	if !errors.Is(err, apperr.ErrDuplicateAccount) {
		t.Errorf("Register() error = %v, expected ErrDuplicateAccount", err)
	}
	if h.manager.State() != Anonymous {
		t.Errorf("State() = %s, expected anonymous", h.manager.State())
	}
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t)
	reg := registration("jane")
	reg.ConfirmPassword = "different"

	err := h.manager.Register(context.Background(), reg)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("Register() error = %v, expected ErrValidation", err)
	}
	if len(h.fake.Requests()) != 0 {
		t.Errorf("invalid registration reached the backend")
	}
}

type failingStore struct {
	credstore.Memory
	failSave  bool
	failClear bool
}

func (f *failingStore) Save(ctx context.Context, creds credstore.Credentials) error {
	if f.failSave {
		return apperr.New(apperr.KindStorage, "disk full")
	}
	return f.Memory.Save(ctx, creds)
}

func (f *failingStore) Clear(ctx context.Context) error {
	if f.failClear {
		return apperr.New(apperr.KindStorage, "read-only file system")
	}
	return f.Memory.Clear(ctx)
}

func TestStoreFailures(t *testing.T) {
	fake := testutil.NewFakeBackend(t)
	client, err := backend.NewClient(backend.Config{BaseURL: fake.URL()}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	store := &failingStore{}
	m, err := New(context.Background(), store, client)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	store.failSave = true
	err = m.Register(context.Background(), registration("jane"))
	if !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("Register() error = %v, expected ErrStorage", err)
	}
	if m.State() != Anonymous {
		t.Errorf("State() = %s after failed save", m.State())
	}

	store.failSave = false
	if err := m.Login(context.Background(), backend.Credentials{Username: "jane", Password: "s3cret-pass"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	store.failClear = true
	if err := m.Logout(context.Background()); !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("Logout() error = %v, expected ErrStorage", err)
	}
	if m.State() != Authenticated {
		t.Errorf("State() = %s, memory must stay in step with the store", m.State())
	}
}

func TestTokensNeverLogged(t *testing.T) {
	logger, logs := testutil.ObservedLogger()
	h := newHarness(t, WithLogger(logger))
	h.signUp(t, "jane")
	h.login(t, "jane")
	saved, _ := h.store.Load(context.Background())

	h.fake.ExpireSessions()
	_, _ = h.client.Statement(context.Background())

	if logs.Len() == 0 {
		t.Fatalf("expected session log entries")
	}
	for _, entry := range logs.All() {
		if strings.Contains(entry.Message, saved.Token) {
			t.Errorf("token logged in message %q", entry.Message)
		}
		for key, value := range entry.ContextMap() {
			if s, ok := value.(string); ok && (strings.Contains(s, saved.Token) || strings.Contains(s, "s3cret-pass")) {
				t.Errorf("secret logged in field %s", key)
			}
		}
	}
}
