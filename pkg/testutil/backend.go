package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/iwvelando/loan-calculator/pkg/loans"
	"github.com/iwvelando/loan-calculator/pkg/rates"
	"golang.org/x/crypto/bcrypt"
)

// FakeBackendSecret signs the tokens issued by FakeBackend.
const FakeBackendSecret = "fake-backend-secret"

// RecordedRequest is one request seen by the fake backend.
type RecordedRequest struct {
	Method        string
	Path          string
	Authorization string
	RequestID     string
}

type fakeCustomer struct {
	ID           int    `json:"id"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	passwordHash []byte
}

type failure struct {
	status  int
	message string
}

// FakeBackend is an in-memory loan service served over httptest. It speaks
// the same JSON as the real service under the /api prefix.
type FakeBackend struct {
	Server *httptest.Server

	mu                   sync.Mutex
	customers            map[string]*fakeCustomer
	nextID               int
	tokens               map[string]int
	issued               int
	loans                map[int][]map[string]interface{}
	requests             []RecordedRequest
	failures             []failure
	registerReturnsToken bool
	tokenTTL             time.Duration
	delay                time.Duration
}

// NewFakeBackend starts a fake backend that is closed when the test ends.
func NewFakeBackend(t testing.TB) *FakeBackend {
	t.Helper()
	f := &FakeBackend{
		customers:            make(map[string]*fakeCustomer),
		nextID:               1,
		tokens:               make(map[string]int),
		loans:                make(map[int][]map[string]interface{}),
		registerReturnsToken: true,
		tokenTTL:             time.Hour,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/customers/register", f.handleRegister)
	mux.HandleFunc("/api/customers/authenticate", f.handleAuthenticate)
	mux.HandleFunc("/api/loans/statement", f.handleStatement)
	mux.HandleFunc("/api/loans", f.handleApply)
	mux.HandleFunc("/api/loans/", f.handleApply)

	f.Server = httptest.NewServer(f.record(mux))
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the API base URL.
func (f *FakeBackend) URL() string {
	return f.Server.URL + "/api"
}

// SetRegisterReturnsToken controls whether registration responses carry a
// token or only the customer.
func (f *FakeBackend) SetRegisterReturnsToken(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerReturnsToken = v
}

// SetTokenTTL sets the lifetime of newly issued tokens.
func (f *FakeBackend) SetTokenTTL(ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenTTL = ttl
}

// SetDelay makes every handler wait before answering.
func (f *FakeBackend) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// ExpireSessions invalidates every issued token.
func (f *FakeBackend) ExpireSessions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = make(map[string]int)
}

// FailNext makes the next request fail with status and a message body.
func (f *FakeBackend) FailNext(status int, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failure{status: status, message: message})
}

// Requests returns the requests seen so far.
func (f *FakeBackend) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RecordedRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// LoanCount returns how many loans the customer has applied for.
func (f *FakeBackend) LoanCount(customerID int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loans[customerID])
}

// IssueToken signs a token for customerID expiring after ttl and accepts it
// for authenticated calls. A negative ttl yields an already expired token.
func (f *FakeBackend) IssueToken(customerID int, ttl time.Duration) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issueTokenLocked(customerID, ttl)
}

func (f *FakeBackend) issueTokenLocked(customerID int, ttl time.Duration) string {
	f.issued++
	claims := jwt.MapClaims{
		"sub": strconv.Itoa(customerID),
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
		"jti": strconv.Itoa(f.issued),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(FakeBackendSecret))
	if err != nil {
		panic(fmt.Sprintf("failed to sign token: %v", err))
	}
	f.tokens[token] = customerID
	return token
}

func (f *FakeBackend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, RecordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			RequestID:     r.Header.Get("X-Request-ID"),
		})
		delay := f.delay
		var fail *failure
		if len(f.failures) > 0 {
			fail = &f.failures[0]
			f.failures = f.failures[1:]
		}
		f.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if fail != nil {
			writeJSON(w, fail.status, map[string]string{"message": fail.message})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *FakeBackend) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method Not Allowed"})
		return
	}
	var body struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Username  string `json:"username"`
		Email     string `json:"email"`
		Password  string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Malformed request"})
		return
	}
	if body.Username == "" || body.Email == "" || body.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Username, email and password are required"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.MinCost)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.customers {
		if c.Username == body.Username || strings.EqualFold(c.Email, body.Email) {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "Username or email already exists"})
			return
		}
	}
	customer := &fakeCustomer{
		ID:           f.nextID,
		FirstName:    body.FirstName,
		LastName:     body.LastName,
		Username:     body.Username,
		Email:        body.Email,
		passwordHash: hash,
	}
	f.nextID++
	f.customers[customer.Username] = customer

	resp := map[string]interface{}{"customer": customer}
	if f.registerReturnsToken {
		resp["token"] = f.issueTokenLocked(customer.ID, f.tokenTTL)
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (f *FakeBackend) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method Not Allowed"})
		return
	}
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Malformed request"})
		return
	}

	f.mu.Lock()
	customer, ok := f.customers[body.Username]
	f.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(customer.passwordHash, []byte(body.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid username or password"})
		return
	}

	f.mu.Lock()
	token := f.issueTokenLocked(customer.ID, f.tokenTTL)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"token": token, "customer": customer})
}

// authorize returns the customer id for a valid bearer token.
func (f *FakeBackend) authorize(r *http.Request) (int, bool) {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return 0, false
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(FakeBackendSecret), nil
	})
	if err != nil || !parsed.Valid {
		return 0, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.tokens[token]
	return id, ok
}

func (f *FakeBackend) handleApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method Not Allowed"})
		return
	}
	customerID, ok := f.authorize(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}
	if scoped := strings.TrimPrefix(r.URL.Path, "/api/loans/"); scoped != r.URL.Path && scoped != "" {
		if scoped != strconv.Itoa(customerID) {
			writeJSON(w, http.StatusForbidden, map[string]string{"message": "Customer mismatch"})
			return
		}
	}

	var body struct {
		FullName           string  `json:"fullName"`
		Email              string  `json:"email"`
		PhoneNumber        string  `json:"phoneNumber"`
		Amount             float64 `json:"amount"`
		LoanTerm           int     `json:"loanTerm"`
		RepaymentFrequency string  `json:"repaymentFrequency"`
		Purpose            string  `json:"purpose"`
		Location           string  `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Malformed request"})
		return
	}
	if body.Amount <= 0 || body.LoanTerm <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Amount and loan term must be positive"})
		return
	}

	rate, err := rates.Standard().Lookup(body.Amount)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Amount is outside the offered range"})
		return
	}
	quote, err := loans.CalculateMonths(body.Amount, rate, body.LoanTerm)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	now := time.Now().UTC()
	f.mu.Lock()
	record := map[string]interface{}{
		"id":                 len(f.loans[customerID]) + 1,
		"fullName":           body.FullName,
		"email":              body.Email,
		"phoneNumber":        body.PhoneNumber,
		"amount":             body.Amount,
		"loanTerm":           body.LoanTerm,
		"repaymentFrequency": body.RepaymentFrequency,
		"purpose":            body.Purpose,
		"location":           body.Location,
		"totalInterest":      quote.TotalInterest,
		"totalRepayment":     quote.TotalRepayment,
		"createdAt":          now.Format("2006-01-02T15:04:05"),
		"startDate":          now.Format("2006-01-02"),
		"endDate":            now.AddDate(0, body.LoanTerm, 0).Format("2006-01-02"),
		"dueDate":            now.AddDate(0, 1, 0).Format("2006-01-02"),
	}
	f.loans[customerID] = append(f.loans[customerID], record)
	f.mu.Unlock()

	writeJSON(w, http.StatusCreated, record)
}

func (f *FakeBackend) handleStatement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method Not Allowed"})
		return
	}
	customerID, ok := f.authorize(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	f.mu.Lock()
	records := append([]map[string]interface{}{}, f.loans[customerID]...)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, records)
}
