package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iwvelando/loan-calculator/internal/backend"
	"github.com/iwvelando/loan-calculator/internal/credstore"
	"github.com/iwvelando/loan-calculator/internal/session"
	"github.com/iwvelando/loan-calculator/pkg/apperr"
	"github.com/iwvelando/loan-calculator/pkg/testutil"
	"github.com/shopspring/decimal"
)

type staticCustomer string

func (c staticCustomer) CustomerID() string { return string(c) }

type blockingApplier struct {
	started chan struct{}
	release chan struct{}
	calls   int
}

func (b *blockingApplier) ApplyForLoan(ctx context.Context, customerID string, loan backend.LoanRequest) (backend.LoanRecord, error) {
	b.calls++
	if b.started != nil {
		close(b.started)
		<-b.release
	}
	return backend.LoanRecord{ID: "9", FullName: loan.FullName, Amount: decimal.NewFromFloat(loan.Amount)}, nil
}

func TestSubmitRequiresLogin(t *testing.T) {
	applier := &blockingApplier{}
	s := NewSubmitter(applier, staticCustomer(""), nil)
	_, err := s.Submit(context.Background(), validApplication())
	if !errors.Is(err, apperr.ErrNotAuthenticated) {
		t.Errorf("Submit() error = %v, expected ErrNotAuthenticated", err)
	}
	if applier.calls != 0 {
		t.Errorf("applier called without a session")
	}
}

func TestSubmitRejectsInvalid(t *testing.T) {
	applier := &blockingApplier{}
	s := NewSubmitter(applier, staticCustomer("1"), nil)
	app := validApplication()
	app.PhoneNumber = "123"
	if _, err := s.Submit(context.Background(), app); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Submit() error = %v, expected ErrValidation", err)
	}
	if applier.calls != 0 {
		t.Errorf("invalid application reached the service")
	}
	if _, ok := s.Last(); ok {
		t.Errorf("Last() reported a loan after a rejected submit")
	}
}

func TestSubmitInProgress(t *testing.T) {
	applier := &blockingApplier{started: make(chan struct{}), release: make(chan struct{})}
	s := NewSubmitter(applier, staticCustomer("1"), nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), validApplication())
		done <- err
	}()
	<-applier.started

	if _, err := s.Submit(context.Background(), validApplication()); !errors.Is(err, ErrSubmissionInProgress) {
		t.Errorf("second Submit() error = %v, expected ErrSubmissionInProgress", err)
	}
	close(applier.release)
	if err := <-done; err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}

	last, ok := s.Last()
	if !ok || last.ID != "9" {
		t.Errorf("Last() = %+v, %v", last, ok)
	}
}

func TestSubmitEndToEnd(t *testing.T) {
	fake := testutil.NewFakeBackend(t)
	client, err := backend.NewClient(backend.Config{BaseURL: fake.URL(), ScopeLoansByCustomer: true}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	ctx := testutil.Context(t, 5*time.Second)
	manager, err := session.New(ctx, credstore.NewMemory(), client)
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}
	client.SetAuthorizer(manager)

	err = manager.Register(ctx, backend.Registration{
		FirstName:       "Jane",
		LastName:        "Doe",
		Username:        "jane",
		Email:           "jane@example.com",
		Password:        "s3cret-pass",
		ConfirmPassword: "s3cret-pass",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	s := NewSubmitter(client, manager, nil)
	record, err := s.Submit(ctx, validApplication())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !record.TotalRepayment.Equal(decimal.RequireFromString("55578.6")) {
		t.Errorf("TotalRepayment = %s, expected 55578.6", record.TotalRepayment)
	}
	if record.Term() != 36 || record.RepaymentFrequency != "MONTHLY" {
		t.Errorf("record = %+v", record)
	}
	if fake.LoanCount(1) != 1 {
		t.Errorf("LoanCount() = %d, expected 1", fake.LoanCount(1))
	}

	requests := fake.Requests()
	if last := requests[len(requests)-1]; last.Path != "/api/loans/1" {
		t.Errorf("scoped application sent to %s", last.Path)
	}

	statement, err := client.Statement(ctx)
	if err != nil {
		t.Fatalf("Statement() error = %v", err)
	}
	if len(statement.Loans) != 1 || statement.Loans[0].FullName != "Jane Doe" {
		t.Errorf("Statement() = %+v", statement)
	}

	fake.ExpireSessions()
	if _, err := s.Submit(ctx, validApplication()); !errors.Is(err, apperr.ErrSessionExpired) {
		t.Errorf("Submit() after expiry error = %v, expected ErrSessionExpired", err)
	}
	if manager.State() != session.Expired {
		t.Errorf("State() = %s, expected expired", manager.State())
	}
	if _, err := s.Submit(ctx, validApplication()); !errors.Is(err, apperr.ErrNotAuthenticated) {
		t.Errorf("Submit() without session error = %v, expected ErrNotAuthenticated", err)
	}
}
