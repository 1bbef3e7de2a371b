// Package backend is the HTTP client for the remote loan service. It maps
// every failure onto the apperr taxonomy and asks an Authorizer for the
// bearer header of authenticated calls.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iwvelando/loan-calculator/pkg/apperr"
	"github.com/iwvelando/loan-calculator/pkg/constants"
	"go.uber.org/zap"
)

const (
	maxResponseBytes = 1 << 20

	headerRequestID = "X-Request-ID"

	pathRegister     = "/customers/register"
	pathAuthenticate = "/customers/authenticate"
	pathLoans        = "/loans"
	pathStatement    = "/loans/statement"
)

// Authorizer supplies the Authorization header for authenticated calls and
// is told when the service rejects it.
type Authorizer interface {
	// Authorize returns the full header value ("Bearer <token>") or
	// apperr.ErrNotAuthenticated when there is no session.
	Authorize(ctx context.Context) (string, error)
	// Rejected is called when the service answered 401 to a request sent
	// with header.
	Rejected(ctx context.Context, header string)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// ScopeLoansByCustomer posts applications to /loans/{customerId}.
	ScopeLoansByCustomer bool
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// Client talks to the loan service.
type Client struct {
	baseURL         *url.URL
	http            *http.Client
	logger          *zap.Logger
	auth            Authorizer
	scopeByCustomer bool
	userAgent       string
}

// NewClient builds a client for cfg.BaseURL.
func NewClient(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := cfg.BaseURL
	if base == "" {
		base = constants.DefaultBackendURL
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultBackendTimeoutSeconds) * time.Second
	}

	c := &Client{
		baseURL:         u,
		http:            &http.Client{Timeout: timeout},
		logger:          logger,
		scopeByCustomer: cfg.ScopeLoansByCustomer,
		userAgent:       "loan-calculator",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetAuthorizer installs the session used for authenticated calls.
func (c *Client) SetAuthorizer(a Authorizer) {
	c.auth = a
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, reg Registration) (AuthResult, error) {
	var result AuthResult
	err := c.do(ctx, request{
		op:     "backend.Register",
		method: http.MethodPost,
		path:   pathRegister,
		body:   reg,
		classify: func(status int) (apperr.Kind, string) {
			if status == http.StatusConflict {
				return apperr.KindDuplicateAccount, "an account with these details already exists"
			}
			return defaultClassify(status)
		},
	}, &result)
	return result, err
}

// Authenticate exchanges credentials for a session.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (AuthResult, error) {
	var result AuthResult
	err := c.do(ctx, request{
		op:     "backend.Authenticate",
		method: http.MethodPost,
		path:   pathAuthenticate,
		body:   creds,
		classify: func(status int) (apperr.Kind, string) {
			switch status {
			case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
				return apperr.KindInvalidCredentials, "invalid username or password"
			}
			return defaultClassify(status)
		},
	}, &result)
	return result, err
}

// ApplyForLoan submits an application for the authenticated customer.
func (c *Client) ApplyForLoan(ctx context.Context, customerID string, loan LoanRequest) (LoanRecord, error) {
	path := pathLoans
	if c.scopeByCustomer {
		if customerID == "" {
			return LoanRecord{}, apperr.New(apperr.KindNotAuthenticated, "please log in to apply for a loan")
		}
		path = pathLoans + "/" + url.PathEscape(customerID)
	}

	var record LoanRecord
	err := c.do(ctx, request{
		op:            "backend.ApplyForLoan",
		method:        http.MethodPost,
		path:          path,
		body:          loan,
		authenticated: true,
		classify: func(status int) (apperr.Kind, string) {
			kind, _ := defaultClassify(status)
			return kind, "loan application failed"
		},
	}, &record)
	return record, err
}

// Statement fetches the loans of the authenticated customer.
func (c *Client) Statement(ctx context.Context) (Statement, error) {
	var statement Statement
	err := c.do(ctx, request{
		op:            "backend.Statement",
		method:        http.MethodGet,
		path:          pathStatement,
		authenticated: true,
		classify:      defaultClassify,
	}, &statement)
	return statement, err
}

type request struct {
	op            string
	method        string
	path          string
	body          interface{}
	authenticated bool
	classify      func(status int) (apperr.Kind, string)
}

func defaultClassify(status int) (apperr.Kind, string) {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperr.KindValidation, "the loan service rejected the request"
	default:
		return apperr.KindServer, fmt.Sprintf("the loan service failed (%d %s)", status, http.StatusText(status))
	}
}

func (c *Client) do(ctx context.Context, r request, out interface{}) error {
	var header string
	if r.authenticated {
		if c.auth == nil {
			return apperr.New(apperr.KindNotAuthenticated, "please log in first")
		}
		var err error
		header, err = c.auth.Authorize(ctx)
		if err != nil {
			return err
		}
	}

	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return apperr.Wrap(apperr.KindInvalidInput, err, "could not encode the request")
		}
		body = bytes.NewReader(payload)
	}

	endpoint := c.baseURL.String() + r.path
	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, body)
	if err != nil {
		return apperr.Wrap(apperr.KindNetwork, err, "could not build the request")
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerRequestID, requestID)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if header != "" {
		req.Header.Set("Authorization", header)
	}

	fields := []zap.Field{
		zap.String("op", r.op),
		zap.String("method", r.method),
		zap.String("path", r.path),
		zap.String("requestId", requestID),
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", append(fields, zap.Error(err))...)
		if errors.Is(err, context.Canceled) {
			return apperr.Wrap(apperr.KindNetwork, err, "the request was cancelled")
		}
		return apperr.Wrap(apperr.KindNetwork, err, "could not reach the loan service, check your connection")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperr.Wrap(apperr.KindNetwork, err, "the connection to the loan service was interrupted")
	}
	c.logger.Debug("request completed", append(fields,
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)...)

	if resp.StatusCode == http.StatusUnauthorized && r.authenticated {
		c.auth.Rejected(ctx, header)
		return apperr.New(apperr.KindSessionExpired, "your session has expired, please log in again")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind, message := r.classify(resp.StatusCode)
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && strings.TrimSpace(eb.text()) != "" {
			message = strings.TrimSpace(eb.text())
		}
		return &apperr.Error{
			Kind:    kind,
			Message: message,
			Err:     fmt.Errorf("%s %s: status %d", r.method, r.path, resp.StatusCode),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Wrap(apperr.KindServer, err, "the loan service sent an unexpected response")
	}
	return nil
}
