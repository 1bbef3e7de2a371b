// Package loans provides the amortization calculator: fixed-payment quotes
// and full repayment schedules.
package loans

import (
	"fmt"
	"math"

	"github.com/iwvelando/loan-calculator/pkg/apperr"
	"github.com/iwvelando/loan-calculator/pkg/constants"
	"github.com/iwvelando/loan-calculator/pkg/datetime"
	"github.com/iwvelando/loan-calculator/pkg/mathutil"
	"github.com/iwvelando/loan-calculator/pkg/rates"
	"go.uber.org/zap"
)

// QuoteRequest holds the inputs of one calculation.
type QuoteRequest struct {
	Principal         float64 `json:"principal"`
	AnnualRatePercent float64 `json:"annualInterestRatePercent"`
	TermMonths        int     `json:"termMonths"`
	// PeriodsPerYear defaults to monthly repayments when zero.
	PeriodsPerYear int `json:"periodsPerYear,omitempty"`
}

// Quote is the rounded summary of a fixed-payment loan.
type Quote struct {
	PaymentPerPeriod  float64 `json:"monthlyPayment"`
	TotalInterest     float64 `json:"totalInterest"`
	TotalRepayment    float64 `json:"totalRepayment"`
	NumberOfPayments  int     `json:"numberOfPayments"`
	AnnualRatePercent float64 `json:"annualInterestRatePercent"`
}

// MonthlyPayment is the payment per period for monthly quotes.
func (q Quote) MonthlyPayment() float64 {
	return q.PaymentPerPeriod
}

// Payment is one row of an amortization schedule.
type Payment struct {
	Period             int     `json:"period"`
	DueDate            string  `json:"dueDate,omitempty"`
	Payment            float64 `json:"payment"`
	Principal          float64 `json:"principal"`
	Interest           float64 `json:"interest"`
	RemainingPrincipal float64 `json:"remainingPrincipal"`
}

// MonthsFromYears converts a term in years into months. Terms past the
// longest accepted term come back as MaxTermMonths+1 so that validation
// rejects them instead of the multiplication wrapping.
func MonthsFromYears(years int) int {
	const maxYears = constants.MaxTermMonths / constants.MonthsPerYear
	switch {
	case years > maxYears:
		return constants.MaxTermMonths + 1
	case years < 0:
		return 0
	}
	return years * constants.MonthsPerYear
}

// PeriodsFor returns the number of repayments over termMonths at the given
// frequency. Partial periods count as a full repayment.
func PeriodsFor(termMonths, periodsPerYear int) int {
	if periodsPerYear <= 0 || periodsPerYear == constants.MonthlyPeriodsPerYear {
		return termMonths
	}
	return int(math.Ceil(float64(termMonths) * float64(periodsPerYear) / constants.MonthsPerYear))
}

// CalculatePeriodicPayment calculates the payment per period using the
// standard amortization formula. Inputs must already be validated.
func CalculatePeriodicPayment(principal, annualInterestRate float64, periods, periodsPerYear int) float64 {
	if annualInterestRate == 0 {
		// For zero interest, simply divide the principal by the number of payments
		return principal / float64(periods)
	}

	periodicInterestRate := mathutil.PercentToPeriodicRate(annualInterestRate, periodsPerYear)
	return principal * periodicInterestRate / (1.00 - math.Pow(1.00+periodicInterestRate, -float64(periods)))
}

// CalculateMonthlyPayment calculates the monthly payment for a loan using the standard amortization formula.
func CalculateMonthlyPayment(principal, annualInterestRate float64, termMonths int) float64 {
	return CalculatePeriodicPayment(principal, annualInterestRate, termMonths, constants.MonthlyPeriodsPerYear)
}

// CalculateInterestPayment calculates the interest portion of a payment.
func CalculateInterestPayment(remainingPrincipal, annualInterestRate float64, periodsPerYear int) float64 {
	return remainingPrincipal * mathutil.PercentToPeriodicRate(annualInterestRate, periodsPerYear)
}

// Validate rejects inputs the formula cannot price.
func (r QuoteRequest) Validate() error {
	switch {
	case !mathutil.IsFinite(r.Principal) || r.Principal <= 0:
		return apperr.New(apperr.KindInvalidInput, "principal must be a positive amount")
	case !mathutil.IsFinite(r.AnnualRatePercent) || r.AnnualRatePercent < 0:
		return apperr.New(apperr.KindInvalidInput, "interest rate must be zero or positive")
	case r.TermMonths <= 0:
		return apperr.New(apperr.KindInvalidInput, "loan term must be at least one month")
	case r.TermMonths > constants.MaxTermMonths:
		return apperr.New(apperr.KindInvalidInput, "loan term must be at most %d months", constants.MaxTermMonths)
	case r.PeriodsPerYear < 0 || r.PeriodsPerYear > constants.DailyPeriodsPerYear:
		return apperr.New(apperr.KindInvalidInput, "repayment frequency must be between 1 and %d payments a year", constants.DailyPeriodsPerYear)
	}
	return nil
}

func (r QuoteRequest) periodsPerYear() int {
	if r.PeriodsPerYear == 0 {
		return constants.MonthlyPeriodsPerYear
	}
	return r.PeriodsPerYear
}

// CalculateRequest prices a validated request. Totals are derived from the
// rounded payment, which is what the borrower actually pays each period.
func CalculateRequest(r QuoteRequest) (Quote, error) {
	if err := r.Validate(); err != nil {
		return Quote{}, err
	}
	perYear := r.periodsPerYear()
	periods := PeriodsFor(r.TermMonths, perYear)
	if periods <= 0 {
		return Quote{}, apperr.New(apperr.KindInvalidInput, "loan parameters are out of range")
	}

	payment := CalculatePeriodicPayment(r.Principal, r.AnnualRatePercent, periods, perYear)
	if !mathutil.IsFinite(payment) {
		return Quote{}, apperr.New(apperr.KindInvalidInput, "loan parameters are out of range")
	}

	rounded := mathutil.RoundDecimal(payment)
	total := rounded.Mul(mathutil.RoundDecimal(float64(periods)))
	interest := total.Sub(mathutil.RoundDecimal(r.Principal))

	return Quote{
		PaymentPerPeriod:  rounded.InexactFloat64(),
		TotalRepayment:    total.InexactFloat64(),
		TotalInterest:     interest.InexactFloat64(),
		NumberOfPayments:  periods,
		AnnualRatePercent: r.AnnualRatePercent,
	}, nil
}

// Calculate quotes a monthly-repayment loan with a term in years.
func Calculate(principal, annualRatePercent float64, termYears int) (Quote, error) {
	return CalculateRequest(QuoteRequest{
		Principal:         principal,
		AnnualRatePercent: annualRatePercent,
		TermMonths:        MonthsFromYears(termYears),
	})
}

// CalculateMonths quotes a monthly-repayment loan with a term in months.
func CalculateMonths(principal, annualRatePercent float64, termMonths int) (Quote, error) {
	return CalculateRequest(QuoteRequest{
		Principal:         principal,
		AnnualRatePercent: annualRatePercent,
		TermMonths:        termMonths,
	})
}

// CalculateWithPolicy looks up the rate for principal in policy and quotes
// a monthly-repayment loan with a term in years.
func CalculateWithPolicy(policy rates.Policy, principal float64, termYears int) (Quote, error) {
	if !mathutil.IsFinite(principal) || principal <= 0 {
		return Quote{}, apperr.New(apperr.KindInvalidInput, "principal must be a positive amount")
	}
	rate, err := policy.Lookup(principal)
	if err != nil {
		return Quote{}, err
	}
	return Calculate(principal, rate, termYears)
}

// AmortizationScheduleGenerator provides utilities for generating loan amortization schedules
type AmortizationScheduleGenerator struct {
	logger *zap.Logger
}

// NewAmortizationScheduleGenerator creates a new generator instance
func NewAmortizationScheduleGenerator(logger *zap.Logger) *AmortizationScheduleGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AmortizationScheduleGenerator{logger: logger}
}

// GenerateSchedule creates the complete repayment table for a loan. When
// startMonth (YYYY-MM) is set, monthly rows carry a due month starting there.
func (g *AmortizationScheduleGenerator) GenerateSchedule(r QuoteRequest, startMonth string) ([]Payment, error) {
	quote, err := CalculateRequest(r)
	if err != nil {
		return nil, err
	}
	perYear := r.periodsPerYear()
	dated := startMonth != "" && perYear == constants.MonthlyPeriodsPerYear
	if startMonth != "" && !dated {
		g.logger.Debug("due dates are only assigned to monthly schedules",
			zap.String("op", "loans.GenerateSchedule"),
			zap.Int("periodsPerYear", perYear),
		)
	}

	schedule := make([]Payment, 0, quote.NumberOfPayments)
	balance := mathutil.Round(r.Principal)
	dueDate := startMonth
	for period := 1; period <= quote.NumberOfPayments; period++ {
		var row Payment
		row.Period = period
		if dated {
			row.DueDate = dueDate
			dueDate, err = datetime.OffsetDate(dueDate, datetime.DateTimeLayout, 1)
			if err != nil {
				return nil, apperr.Wrap(apperr.KindInvalidInput, err, fmt.Sprintf("start month %q must look like 2006-01", startMonth))
			}
		}

		row.Interest = mathutil.Round(CalculateInterestPayment(balance, r.AnnualRatePercent, perYear))
		row.Payment = quote.PaymentPerPeriod
		row.Principal = mathutil.Round(row.Payment - row.Interest)

		if period == quote.NumberOfPayments || row.Principal >= balance {
			// The last payment absorbs the accumulated rounding.
			if period != quote.NumberOfPayments {
				g.logger.Debug(fmt.Sprintf("loan paid off early at period %d of %d", period, quote.NumberOfPayments),
					zap.String("op", "loans.GenerateSchedule"),
				)
			}
			row.Principal = balance
			row.Payment = mathutil.Round(balance + row.Interest)
			row.RemainingPrincipal = 0
			schedule = append(schedule, row)
			break
		}

		balance = mathutil.Round(balance - row.Principal)
		row.RemainingPrincipal = balance
		schedule = append(schedule, row)
	}

	return schedule, nil
}

// ScheduleTotals sums the payments and interest of a schedule.
func ScheduleTotals(schedule []Payment) (totalPaid, totalInterest float64) {
	for _, p := range schedule {
		totalPaid += p.Payment
		totalInterest += p.Interest
	}
	return mathutil.Round(totalPaid), mathutil.Round(totalInterest)
}
