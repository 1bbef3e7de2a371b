// Package application validates loan applications, previews their cost and
// submits them to the loan service for the logged-in customer.
package application

import (
	"fmt"
	"strings"

	"github.com/iwvelando/loan-calculator/internal/backend"
	"github.com/iwvelando/loan-calculator/pkg/apperr"
	"github.com/iwvelando/loan-calculator/pkg/constants"
	"github.com/iwvelando/loan-calculator/pkg/loans"
	"github.com/iwvelando/loan-calculator/pkg/rates"
	"github.com/iwvelando/loan-calculator/pkg/validation"
)

// RepaymentFrequency is how often the borrower repays.
type RepaymentFrequency string

const (
	Daily   RepaymentFrequency = "DAILY"
	Weekly  RepaymentFrequency = "WEEKLY"
	Monthly RepaymentFrequency = "MONTHLY"
	Yearly  RepaymentFrequency = "YEARLY"
)

// Frequencies lists the accepted frequencies.
var Frequencies = []RepaymentFrequency{Daily, Weekly, Monthly, Yearly}

// ParseFrequency accepts any casing of a frequency name, so "Monthly" and
// "monthly" both map to Monthly.
func ParseFrequency(value string) (RepaymentFrequency, error) {
	candidate := RepaymentFrequency(strings.ToUpper(strings.TrimSpace(value)))
	for _, f := range Frequencies {
		if f == candidate {
			return f, nil
		}
	}
	return "", apperr.New(apperr.KindValidation, "repaymentFrequency: must be one of %s", frequencyNames())
}

func frequencyNames() string {
	names := make([]string, len(Frequencies))
	for i, f := range Frequencies {
		names[i] = strings.ToLower(string(f))
	}
	return strings.Join(names, ", ")
}

// PeriodsPerYear returns the number of repayments a year.
func (f RepaymentFrequency) PeriodsPerYear() int {
	switch f {
	case Daily:
		return constants.DailyPeriodsPerYear
	case Weekly:
		return constants.WeeklyPeriodsPerYear
	case Yearly:
		return constants.YearlyPeriodsPerYear
	default:
		return constants.MonthlyPeriodsPerYear
	}
}

// LoanApplication is the application form. LoanTerm is in months.
type LoanApplication struct {
	FullName           string             `json:"fullName"`
	Email              string             `json:"email"`
	PhoneNumber        string             `json:"phoneNumber"`
	Amount             float64            `json:"amount"`
	LoanTerm           int                `json:"loanTerm"`
	RepaymentFrequency RepaymentFrequency `json:"repaymentFrequency"`
	Purpose            string             `json:"purpose"`
	Location           string             `json:"location,omitempty"`
}

// Validate reports every invalid field at once.
func (a LoanApplication) Validate() error {
	var v validation.Validator
	v.Required("fullName", a.FullName)
	v.Email("email", a.Email)
	v.Phone("phoneNumber", a.PhoneNumber)
	v.PositiveAmount("amount", a.Amount)
	v.PositiveInt("loanTerm", a.LoanTerm)
	if a.LoanTerm > constants.MaxTermMonths {
		v.Add("loanTerm", fmt.Sprintf("must be at most %d months", constants.MaxTermMonths))
	}
	if v.Required("repaymentFrequency", string(a.RepaymentFrequency)) {
		if _, err := ParseFrequency(string(a.RepaymentFrequency)); err != nil {
			v.Add("repaymentFrequency", "must be one of "+frequencyNames())
		}
	}
	v.Required("purpose", a.Purpose)
	return v.Err()
}

// Normalize trims the text fields and canonicalizes the frequency.
func (a LoanApplication) Normalize() LoanApplication {
	a.FullName = strings.TrimSpace(a.FullName)
	a.Email = strings.TrimSpace(a.Email)
	a.PhoneNumber = strings.TrimSpace(a.PhoneNumber)
	a.Purpose = strings.TrimSpace(a.Purpose)
	a.Location = strings.TrimSpace(a.Location)
	if f, err := ParseFrequency(string(a.RepaymentFrequency)); err == nil {
		a.RepaymentFrequency = f
	}
	return a
}

// Request converts the form into the loan service's request body.
func (a LoanApplication) Request() backend.LoanRequest {
	return backend.LoanRequest{
		FullName:           a.FullName,
		Email:              a.Email,
		PhoneNumber:        a.PhoneNumber,
		Amount:             a.Amount,
		LoanTerm:           a.LoanTerm,
		RepaymentFrequency: string(a.RepaymentFrequency),
		Purpose:            a.Purpose,
		Location:           a.Location,
	}
}

// QuoteRequest returns the calculator inputs for the application at the
// given annual rate.
func (a LoanApplication) QuoteRequest(ratePercent float64) loans.QuoteRequest {
	return loans.QuoteRequest{
		Principal:         a.Amount,
		AnnualRatePercent: ratePercent,
		TermMonths:        a.LoanTerm,
		PeriodsPerYear:    a.RepaymentFrequency.PeriodsPerYear(),
	}
}

// Preview prices the application with the rate policy at its own
// repayment frequency.
func Preview(policy rates.Policy, app LoanApplication) (loans.Quote, error) {
	app = app.Normalize()
	if err := app.Validate(); err != nil {
		return loans.Quote{}, err
	}
	rate, err := policy.Lookup(app.Amount)
	if err != nil {
		return loans.Quote{}, err
	}
	quote, err := loans.CalculateRequest(app.QuoteRequest(rate))
	if err != nil {
		return loans.Quote{}, fmt.Errorf("failed to preview application: %w", err)
	}
	return quote, nil
}
