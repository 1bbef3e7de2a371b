// Package rates selects an annual interest rate from the principal band a
// loan amount falls into. Bands live in versioned policy tables so the
// tiers can change without touching the calculator.
package rates

import (
	"fmt"
	"sort"
	"sync"

	"github.com/iwvelando/loan-calculator/pkg/apperr"
	"github.com/iwvelando/loan-calculator/pkg/format"
	"github.com/iwvelando/loan-calculator/pkg/mathutil"
)

// StandardVersion names the built-in policy.
const StandardVersion = "standard-v1"

// Tier is one principal band. The first tier of a policy covers
// [Min, Max]; every later tier covers (previous Max, Max].
type Tier struct {
	Min         float64 `json:"min" yaml:"min" mapstructure:"min"`
	Max         float64 `json:"max" yaml:"max" mapstructure:"max"`
	RatePercent float64 `json:"ratePercent" yaml:"ratePercent" mapstructure:"ratePercent"`
}

// Policy is an ordered, versioned tier table.
type Policy struct {
	Version string `json:"version" yaml:"version" mapstructure:"version"`
	Tiers   []Tier `json:"tiers" yaml:"tiers" mapstructure:"tiers"`
}

// Standard returns the tier table offered on the loan application pages.
// A tier whose Min equals the previous tier's Max excludes that amount, so
// the bands are [10000, 100000], (100000, 500000] and (500000, 1000000]:
// 100000 is priced at 7% and 100000.01 at 5%.
func Standard() Policy {
	return Policy{
		Version: StandardVersion,
		Tiers: []Tier{
			{Min: 10000, Max: 100000, RatePercent: 7},
			{Min: 100000, Max: 500000, RatePercent: 5},
			{Min: 500000, Max: 1000000, RatePercent: 3},
		},
	}
}

// Validate checks that the tiers are sorted, non-overlapping and sane.
func (p Policy) Validate() error {
	if p.Version == "" {
		return apperr.New(apperr.KindInvalidInput, "rate policy is missing a version")
	}
	if len(p.Tiers) == 0 {
		return apperr.New(apperr.KindInvalidInput, "rate policy %s has no tiers", p.Version)
	}
	for i, tier := range p.Tiers {
		if !mathutil.IsFinite(tier.Min) || !mathutil.IsFinite(tier.Max) || !mathutil.IsFinite(tier.RatePercent) {
			return apperr.New(apperr.KindInvalidInput, "rate policy %s tier %d has a non-numeric bound", p.Version, i+1)
		}
		if tier.Min < 0 || tier.RatePercent < 0 {
			return apperr.New(apperr.KindInvalidInput, "rate policy %s tier %d has a negative value", p.Version, i+1)
		}
		if tier.Max <= tier.Min {
			return apperr.New(apperr.KindInvalidInput, "rate policy %s tier %d has max %.2f not above min %.2f",
				p.Version, i+1, tier.Max, tier.Min)
		}
		if i > 0 && tier.Min < p.Tiers[i-1].Max {
			return apperr.New(apperr.KindInvalidInput, "rate policy %s tier %d overlaps the previous tier", p.Version, i+1)
		}
	}
	return nil
}

// Lookup returns the annual rate in percent for principal.
func (p Policy) Lookup(principal float64) (float64, error) {
	tier, err := p.TierFor(principal)
	if err != nil {
		return 0, err
	}
	return tier.RatePercent, nil
}

// TierFor returns the tier covering principal.
func (p Policy) TierFor(principal float64) (Tier, error) {
	if mathutil.IsFinite(principal) {
		for i, tier := range p.Tiers {
			lowerOK := principal > tier.Min
			if i == 0 || (p.Tiers[i-1].Max < tier.Min) {
				lowerOK = principal >= tier.Min
			}
			if lowerOK && principal <= tier.Max {
				return tier, nil
			}
		}
	}
	return Tier{}, &apperr.Error{
		Kind:    apperr.KindNoApplicableRate,
		Message: fmt.Sprintf("no interest rate is offered for %s", format.NumericCurrency(principal)),
	}
}

// Registry holds policy versions and tracks the active one.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
	active   string
}

// NewRegistry returns a registry containing the standard policy as active.
func NewRegistry() *Registry {
	standard := Standard()
	return &Registry{
		policies: map[string]Policy{standard.Version: standard},
		active:   standard.Version,
	}
}

// Register validates and adds (or replaces) a policy version.
func (r *Registry) Register(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	tiers := make([]Tier, len(p.Tiers))
	copy(tiers, p.Tiers)
	p.Tiers = tiers

	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.Version] = p
	return nil
}

// Activate makes version the policy returned by Active.
func (r *Registry) Activate(version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.policies[version]; !ok {
		return apperr.New(apperr.KindInvalidInput, "unknown rate policy %q", version)
	}
	r.active = version
	return nil
}

// Active returns the active policy.
func (r *Registry) Active() Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policies[r.active]
}

// Get returns the policy with the given version.
func (r *Registry) Get(version string) (Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[version]
	return p, ok
}

// Versions lists the registered versions in lexical order.
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := make([]string, 0, len(r.policies))
	for v := range r.policies {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}
