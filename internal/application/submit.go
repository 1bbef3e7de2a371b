package application

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/iwvelando/loan-calculator/internal/backend"
	"github.com/iwvelando/loan-calculator/pkg/apperr"
	"go.uber.org/zap"
)

// ErrSubmissionInProgress is returned when Submit is called again before
// the previous submission finished.
var ErrSubmissionInProgress = apperr.New(apperr.KindInProgress, "a loan application is already being submitted")

// Applier sends an application to the loan service.
type Applier interface {
	ApplyForLoan(ctx context.Context, customerID string, loan backend.LoanRequest) (backend.LoanRecord, error)
}

// Customer identifies the logged-in customer.
type Customer interface {
	CustomerID() string
}

// Submitter submits applications one at a time and remembers the last
// accepted one for the report view.
type Submitter struct {
	applier  Applier
	customer Customer
	logger   *zap.Logger

	inFlight atomic.Bool

	mu   sync.Mutex
	last *backend.LoanRecord
}

// NewSubmitter returns a Submitter for the customer's session.
func NewSubmitter(applier Applier, customer Customer, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{applier: applier, customer: customer, logger: logger}
}

// Submit validates and sends app. Invalid applications never reach the
// service.
func (s *Submitter) Submit(ctx context.Context, app LoanApplication) (backend.LoanRecord, error) {
	app = app.Normalize()
	if err := app.Validate(); err != nil {
		return backend.LoanRecord{}, err
	}
	customerID := s.customer.CustomerID()
	if customerID == "" {
		return backend.LoanRecord{}, apperr.New(apperr.KindNotAuthenticated, "you need to be logged in to apply for a loan")
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		return backend.LoanRecord{}, ErrSubmissionInProgress
	}
	defer s.inFlight.Store(false)

	s.logger.Debug("submitting loan application",
		zap.String("op", "application.Submit"),
		zap.String("customerId", customerID),
		zap.Float64("amount", app.Amount),
		zap.Int("loanTerm", app.LoanTerm),
		zap.String("repaymentFrequency", string(app.RepaymentFrequency)),
	)

	record, err := s.applier.ApplyForLoan(ctx, customerID, app.Request())
	if err != nil {
		s.logger.Debug("loan application rejected",
			zap.String("op", "application.Submit"),
			zap.String("kind", apperr.KindOf(err).String()),
		)
		return backend.LoanRecord{}, err
	}

	s.mu.Lock()
	s.last = &record
	s.mu.Unlock()

	s.logger.Info("loan application submitted",
		zap.String("op", "application.Submit"),
		zap.String("customerId", customerID),
		zap.String("loanId", record.ID.String()),
	)
	return record, nil
}

// Last returns the most recent accepted application.
func (s *Submitter) Last() (backend.LoanRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return backend.LoanRecord{}, false
	}
	return *s.last, true
}
