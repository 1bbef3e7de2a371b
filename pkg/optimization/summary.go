// Package optimization provides shared data structures for optimization results.
package optimization

// Summary captures the result of a single affordability search.
type Summary struct {
	Field          string   `json:"field"`
	PolicyVersion  string   `json:"policyVersion"`
	Budget         float64  `json:"budget"`
	TermMonths     int      `json:"termMonths"`
	PeriodsPerYear int      `json:"periodsPerYear"`
	Value          float64  `json:"value"`
	RatePercent    float64  `json:"annualInterestRatePercent"`
	Payment        float64  `json:"payment"`
	Headroom       float64  `json:"headroom"`
	Iterations     int      `json:"iterations"`
	Converged      bool     `json:"converged"`
	Notes          []string `json:"notes,omitempty"`
}
