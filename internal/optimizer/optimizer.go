// Package optimizer searches the rate policy for the largest principal a
// borrower can repay within a fixed payment per period.
package optimizer

import (
	"fmt"
	"math"

	"github.com/iwvelando/loan-calculator/pkg/apperr"
	"github.com/iwvelando/loan-calculator/pkg/constants"
	"github.com/iwvelando/loan-calculator/pkg/format"
	"github.com/iwvelando/loan-calculator/pkg/loans"
	"github.com/iwvelando/loan-calculator/pkg/mathutil"
	"github.com/iwvelando/loan-calculator/pkg/optimization"
	"github.com/iwvelando/loan-calculator/pkg/rates"
	"go.uber.org/zap"
)

const (
	// FieldPrincipal is the only field the runner adjusts.
	FieldPrincipal = "principal"

	defaultTolerance     = 0.01
	defaultMaxIterations = 64
)

// Target is the repayment budget to fit.
type Target struct {
	Budget     float64
	TermMonths int
	// PeriodsPerYear defaults to monthly repayments when zero.
	PeriodsPerYear int
}

func (t Target) validate() error {
	switch {
	case !mathutil.IsFinite(t.Budget) || t.Budget <= 0:
		return apperr.New(apperr.KindInvalidInput, "budget must be a positive amount")
	case t.TermMonths <= 0:
		return apperr.New(apperr.KindInvalidInput, "loan term must be at least one month")
	case t.TermMonths > constants.MaxTermMonths:
		return apperr.New(apperr.KindInvalidInput, "loan term must be at most %d months", constants.MaxTermMonths)
	case t.PeriodsPerYear < 0 || t.PeriodsPerYear > constants.DailyPeriodsPerYear:
		return apperr.New(apperr.KindInvalidInput, "repayment frequency must be between 1 and %d payments a year", constants.DailyPeriodsPerYear)
	}
	return nil
}

func (t Target) periodsPerYear() int {
	if t.PeriodsPerYear == 0 {
		return constants.MonthlyPeriodsPerYear
	}
	return t.PeriodsPerYear
}

type evaluation struct {
	value   float64
	rate    float64
	payment float64
	budget  float64
}

func (e evaluation) feasible() bool {
	return e.payment <= e.budget
}

func (e evaluation) headroom() float64 {
	return mathutil.Round(e.budget - e.payment)
}

// Runner runs affordability searches against one rate policy.
type Runner struct {
	logger        *zap.Logger
	policy        rates.Policy
	tolerance     float64
	maxIterations int
}

// NewRunner validates policy and returns a runner for it.
func NewRunner(logger *zap.Logger, policy rates.Policy) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Runner{
		logger:        logger,
		policy:        policy,
		tolerance:     defaultTolerance,
		maxIterations: defaultMaxIterations,
	}, nil
}

// MaxPrincipal returns the largest principal, to the cent, whose payment per
// period fits within target.Budget. The rate changes between tiers, so each
// tier is searched on its own and the largest feasible value wins.
func (r *Runner) MaxPrincipal(target Target) (optimization.Summary, error) {
	if err := target.validate(); err != nil {
		return optimization.Summary{}, err
	}

	summary := optimization.Summary{
		Field:          FieldPrincipal,
		PolicyVersion:  r.policy.Version,
		Budget:         target.Budget,
		TermMonths:     target.TermMonths,
		PeriodsPerYear: target.periodsPerYear(),
	}

	var best evaluation
	found := false
	var cheapest evaluation
	for i, tier := range r.policy.Tiers {
		minVal, maxVal := r.bounds(i)

		lowerEval, err := r.evaluate(target, minVal, tier.RatePercent)
		if err != nil {
			return optimization.Summary{}, err
		}
		if i == 0 || lowerEval.payment < cheapest.payment {
			cheapest = lowerEval
		}
		if !lowerEval.feasible() {
			r.logger.Debug("tier is out of budget",
				zap.String("op", "optimizer.MaxPrincipal"),
				zap.Int("tier", i+1),
				zap.Float64("payment", lowerEval.payment),
			)
			continue
		}

		chosen, iterations, converged, err := r.search(target, lowerEval, maxVal, tier.RatePercent)
		if err != nil {
			return optimization.Summary{}, err
		}
		summary.Iterations += iterations
		if !converged {
			summary.Notes = append(summary.Notes, fmt.Sprintf(
				"search in tier %d stopped after %d iterations", i+1, iterations))
		}
		if !found || chosen.value > best.value {
			best = chosen
			found = true
			summary.Converged = converged
		}
	}

	if !found {
		return optimization.Summary{}, apperr.New(apperr.KindNoApplicableRate,
			"a payment of %s per period is too small: the smallest loan offered, %s, needs %s",
			format.NumericCurrency(target.Budget), format.NumericCurrency(cheapest.value), format.NumericCurrency(cheapest.payment))
	}

	summary.Value = best.value
	summary.RatePercent = best.rate
	summary.Payment = best.payment
	summary.Headroom = best.headroom()
	if best.value == r.policy.Tiers[len(r.policy.Tiers)-1].Max {
		summary.Notes = append(summary.Notes, "the budget covers the largest loan offered")
	}

	r.logger.Debug("affordability search finished",
		zap.String("op", "optimizer.MaxPrincipal"),
		zap.Float64("value", summary.Value),
		zap.Int("iterations", summary.Iterations),
		zap.Bool("converged", summary.Converged),
	)
	return summary, nil
}

// bounds returns the smallest and largest principal priced by tier i. A
// tier that starts where the previous one ends excludes its minimum, and
// no loan is smaller than one cent.
func (r *Runner) bounds(i int) (float64, float64) {
	tier := r.policy.Tiers[i]
	minVal := tier.Min
	if i > 0 && r.policy.Tiers[i-1].Max >= tier.Min {
		minVal = mathutil.Round(tier.Min + r.tolerance)
	}
	return math.Max(minVal, r.tolerance), tier.Max
}

// search bisects (lower, maxVal] for the largest feasible principal. The
// rounded payment never decreases with the principal at a fixed rate.
func (r *Runner) search(target Target, lower evaluation, maxVal, rate float64) (evaluation, int, bool, error) {
	upperEval, err := r.evaluate(target, maxVal, rate)
	if err != nil {
		return evaluation{}, 0, false, err
	}
	if upperEval.feasible() {
		return upperEval, 0, true, nil
	}

	lo, hi := lower, upperEval
	iterations := 0
	for !mathutil.WithinTolerance(hi.value, lo.value, r.tolerance+1e-9) {
		if iterations >= r.maxIterations {
			return lo, iterations, false, nil
		}
		iterations++
		mid := snap((lo.value + hi.value) / 2)
		if mid <= lo.value || mid >= hi.value {
			break
		}
		midEval, err := r.evaluate(target, mid, rate)
		if err != nil {
			return evaluation{}, iterations, false, err
		}
		if midEval.feasible() {
			lo = midEval
		} else {
			hi = midEval
		}
	}
	return lo, iterations, true, nil
}

func (r *Runner) evaluate(target Target, principal, rate float64) (evaluation, error) {
	quote, err := loans.CalculateRequest(loans.QuoteRequest{
		Principal:         principal,
		AnnualRatePercent: rate,
		TermMonths:        target.TermMonths,
		PeriodsPerYear:    target.PeriodsPerYear,
	})
	if err != nil {
		return evaluation{}, err
	}
	return evaluation{
		value:   principal,
		rate:    rate,
		payment: quote.PaymentPerPeriod,
		budget:  target.Budget,
	}, nil
}

// snap rounds down to whole cents.
func snap(value float64) float64 {
	return math.Floor(value*constants.DecimalPrecision+1e-6) / constants.DecimalPrecision
}
