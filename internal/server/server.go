package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iwvelando/loan-calculator/internal/application"
	"github.com/iwvelando/loan-calculator/internal/optimizer"
	"github.com/iwvelando/loan-calculator/pkg/apperr"
	"github.com/iwvelando/loan-calculator/pkg/constants"
	"github.com/iwvelando/loan-calculator/pkg/loans"
	"github.com/iwvelando/loan-calculator/pkg/rates"
	"go.uber.org/zap"
)

type handler struct {
	logger      *zap.Logger
	registry    *rates.Registry
	maxBodySize int64
	version     string
}

// NewHandler constructs the HTTP handler that serves the quote API.
func NewHandler(logger *zap.Logger, registry *rates.Registry, maxBodySize int64, version string) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = rates.NewRegistry()
	}
	if maxBodySize <= 0 {
		maxBodySize = constants.DefaultMaxBodySizeBytes
	}

	trimmedVersion := strings.TrimSpace(version)
	if trimmedVersion == "" {
		trimmedVersion = "dev"
	}

	h := &handler{logger: logger, registry: registry, maxBodySize: maxBodySize, version: trimmedVersion}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/quote", h.handleQuote)
	mux.HandleFunc("/api/schedule", h.handleSchedule)
	mux.HandleFunc("/api/afford", h.handleAfford)
	mux.HandleFunc("/api/rates", h.handleRates)
	mux.HandleFunc("/api/version", h.handleVersion)
	return mux
}

// quoteRequest is the body of /api/quote and /api/schedule. When the rate
// is omitted it is looked up in the rate policy.
type quoteRequest struct {
	Principal          float64  `json:"principal"`
	AnnualRatePercent  *float64 `json:"annualInterestRatePercent,omitempty"`
	TermMonths         int      `json:"termMonths,omitempty"`
	TermYears          int      `json:"termYears,omitempty"`
	RepaymentFrequency string   `json:"repaymentFrequency,omitempty"`
	RatePolicy         string   `json:"ratePolicy,omitempty"`
	StartMonth         string   `json:"startMonth,omitempty"`
}

type quoteResponse struct {
	Principal      float64 `json:"principal"`
	TermMonths     int     `json:"termMonths"`
	PeriodsPerYear int     `json:"periodsPerYear"`
	RatePolicy     string  `json:"ratePolicy,omitempty"`
	loans.Quote
}

type scheduleResponse struct {
	Payments       []loans.Payment `json:"payments"`
	TotalRepayment float64         `json:"totalRepayment"`
	TotalInterest  float64         `json:"totalInterest"`
	Duration       string          `json:"duration"`
}

// affordRequest is the body of /api/afford.
type affordRequest struct {
	Budget             float64 `json:"budget"`
	TermMonths         int     `json:"termMonths,omitempty"`
	TermYears          int     `json:"termYears,omitempty"`
	RepaymentFrequency string  `json:"repaymentFrequency,omitempty"`
	RatePolicy         string  `json:"ratePolicy,omitempty"`
}

type rateResponse struct {
	Version     string     `json:"version"`
	Principal   float64    `json:"principal"`
	RatePercent float64    `json:"ratePercent"`
	Tier        rates.Tier `json:"tier"`
}

type ratesResponse struct {
	Active   string       `json:"active"`
	Versions []string     `json:"versions"`
	Policy   rates.Policy `json:"policy"`
}

// decodeJSON reads a size-limited JSON body into v and writes the error
// response itself when that fails.
func (h *handler) decodeJSON(w http.ResponseWriter, r *http.Request, op string, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.respondErrorWithOp(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", h.maxBodySize), op)
			return false
		}
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to decode request: %v", err), op)
		return false
	}
	return true
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, op string) (loans.QuoteRequest, string, string, bool) {
	var body quoteRequest
	if !h.decodeJSON(w, r, op, &body) {
		return loans.QuoteRequest{}, "", "", false
	}

	req := loans.QuoteRequest{Principal: body.Principal, TermMonths: body.TermMonths}
	if req.TermMonths == 0 {
		req.TermMonths = loans.MonthsFromYears(body.TermYears)
	}
	if body.RepaymentFrequency != "" {
		frequency, err := application.ParseFrequency(body.RepaymentFrequency)
		if err != nil {
			h.respondKind(w, err, op)
			return loans.QuoteRequest{}, "", "", false
		}
		req.PeriodsPerYear = frequency.PeriodsPerYear()
	}

	var policyVersion string
	if body.AnnualRatePercent != nil {
		req.AnnualRatePercent = *body.AnnualRatePercent
	} else {
		policy, err := h.policy(body.RatePolicy)
		if err != nil {
			h.respondKind(w, err, op)
			return loans.QuoteRequest{}, "", "", false
		}
		rate, err := policy.Lookup(req.Principal)
		if err != nil {
			h.respondKind(w, err, op)
			return loans.QuoteRequest{}, "", "", false
		}
		req.AnnualRatePercent = rate
		policyVersion = policy.Version
	}
	return req, policyVersion, body.StartMonth, true
}

func (h *handler) policy(version string) (rates.Policy, error) {
	if version == "" {
		return h.registry.Active(), nil
	}
	policy, ok := h.registry.Get(version)
	if !ok {
		return rates.Policy{}, apperr.New(apperr.KindInvalidInput, "unknown rate policy %q", version)
	}
	return policy, nil
}

func (h *handler) handleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	req, policyVersion, _, ok := h.decode(w, r, "server.handleQuote")
	if !ok {
		return
	}
	quote, err := loans.CalculateRequest(req)
	if err != nil {
		h.respondKind(w, err, "server.handleQuote")
		return
	}

	perYear := req.PeriodsPerYear
	if perYear == 0 {
		perYear = constants.MonthlyPeriodsPerYear
	}
	h.writeJSON(w, http.StatusOK, quoteResponse{
		Principal:      req.Principal,
		TermMonths:     req.TermMonths,
		PeriodsPerYear: perYear,
		RatePolicy:     policyVersion,
		Quote:          quote,
	})
}

func (h *handler) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	req, _, startMonth, ok := h.decode(w, r, "server.handleSchedule")
	if !ok {
		return
	}
	schedule, err := loans.NewAmortizationScheduleGenerator(h.logger).GenerateSchedule(req, startMonth)
	if err != nil {
		h.respondKind(w, err, "server.handleSchedule")
		return
	}

	totalPaid, totalInterest := loans.ScheduleTotals(schedule)
	h.writeJSON(w, http.StatusOK, scheduleResponse{
		Payments:       schedule,
		TotalRepayment: totalPaid,
		TotalInterest:  totalInterest,
		Duration:       time.Since(start).String(),
	})
}

func (h *handler) handleAfford(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	const op = "server.handleAfford"
	var body affordRequest
	if !h.decodeJSON(w, r, op, &body) {
		return
	}
	target := optimizer.Target{Budget: body.Budget, TermMonths: body.TermMonths}
	if target.TermMonths == 0 {
		target.TermMonths = loans.MonthsFromYears(body.TermYears)
	}
	if body.RepaymentFrequency != "" {
		frequency, err := application.ParseFrequency(body.RepaymentFrequency)
		if err != nil {
			h.respondKind(w, err, op)
			return
		}
		target.PeriodsPerYear = frequency.PeriodsPerYear()
	}

	policy, err := h.policy(body.RatePolicy)
	if err != nil {
		h.respondKind(w, err, op)
		return
	}
	runner, err := optimizer.NewRunner(h.logger, policy)
	if err != nil {
		h.respondKind(w, err, op)
		return
	}
	summary, err := runner.MaxPrincipal(target)
	if err != nil {
		h.respondKind(w, err, op)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *handler) handleRates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	policy, err := h.policy(query.Get("version"))
	if err != nil {
		h.respondKind(w, err, "server.handleRates")
		return
	}

	if raw := query.Get("principal"); raw != "" {
		principal, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("invalid principal %q", raw), "server.handleRates")
			return
		}
		tier, err := policy.TierFor(principal)
		if err != nil {
			h.respondKind(w, err, "server.handleRates")
			return
		}
		h.writeJSON(w, http.StatusOK, rateResponse{
			Version:     policy.Version,
			Principal:   principal,
			RatePercent: tier.RatePercent,
			Tier:        tier,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, ratesResponse{
		Active:   h.registry.Active().Version,
		Versions: h.registry.Versions(),
		Policy:   policy,
	})
}

func (h *handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"version": h.version,
	})
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidInput, apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNoApplicableRate:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) respondKind(w http.ResponseWriter, err error, op string) {
	h.respondErrorWithOp(w, statusFor(err), apperr.Message(err), op)
}

func (h *handler) respondErrorWithOp(w http.ResponseWriter, status int, msg string, op string) {
	h.logger.Warn("quote request failed",
		zap.String("op", op),
		zap.Int("status", status),
		zap.String("error", msg),
	)

	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}
