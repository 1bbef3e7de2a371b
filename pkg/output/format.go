// Package output renders quotes, schedules, affordability results and loan
// statements as pretty tables, CSV or JSON.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/iwvelando/loan-calculator/internal/backend"
	"github.com/iwvelando/loan-calculator/pkg/constants"
	"github.com/iwvelando/loan-calculator/pkg/datetime"
	"github.com/iwvelando/loan-calculator/pkg/loans"
	"github.com/iwvelando/loan-calculator/pkg/optimization"
	"github.com/iwvelando/loan-calculator/pkg/rates"
	"github.com/iwvelando/loan-calculator/pkg/validation"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Renderer writes results in one output format.
type Renderer struct {
	w        io.Writer
	format   string
	currency string
	p        *message.Printer
}

// NewRenderer returns a renderer for format ("pretty", "csv" or "json").
// An empty currency falls back to the default prefix.
func NewRenderer(w io.Writer, format, currency string) (*Renderer, error) {
	if err := validation.ValidateOutputFormat(format); err != nil {
		return nil, err
	}
	if currency == "" {
		currency = constants.DefaultCurrency
	}
	return &Renderer{
		w:        w,
		format:   format,
		currency: currency,
		p:        message.NewPrinter(language.English),
	}, nil
}

func (r *Renderer) money(amount float64) string {
	if amount < 0 {
		return r.p.Sprintf("-%s %.2f", r.currency, -amount)
	}
	return r.p.Sprintf("%s %.2f", r.currency, amount)
}

func (r *Renderer) moneyDecimal(amount decimal.Decimal) string {
	return r.money(amount.InexactFloat64())
}

func plain(amount float64) string {
	return strconv.FormatFloat(amount, 'f', constants.DecimalPlaces, 64)
}

func (r *Renderer) writeJSON(v interface{}) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	return nil
}

func (r *Renderer) writeCSV(rows [][]string) error {
	cw := csv.NewWriter(r.w)
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write CSV output: %w", err)
	}
	return nil
}

func (r *Renderer) writeKeyValues(title string, pairs [][2]string) error {
	if _, err := fmt.Fprintf(r.w, "--- %s ---\n", title); err != nil {
		return err
	}
	width := 0
	for _, kv := range pairs {
		if len(kv[0]) > width {
			width = len(kv[0])
		}
	}
	for _, kv := range pairs {
		if _, err := fmt.Fprintf(r.w, "%-*s | %s\n", width, kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

type quoteView struct {
	Principal      float64 `json:"principal"`
	TermMonths     int     `json:"termMonths"`
	PeriodsPerYear int     `json:"periodsPerYear"`
	loans.Quote
}

func periodsPerYear(req loans.QuoteRequest) int {
	if req.PeriodsPerYear == 0 {
		return constants.MonthlyPeriodsPerYear
	}
	return req.PeriodsPerYear
}

func paymentLabel(perYear int) string {
	switch perYear {
	case constants.DailyPeriodsPerYear:
		return "Daily payment"
	case constants.WeeklyPeriodsPerYear:
		return "Weekly payment"
	case constants.YearlyPeriodsPerYear:
		return "Yearly payment"
	case constants.MonthlyPeriodsPerYear:
		return "Monthly payment"
	default:
		return "Payment per period"
	}
}

// Quote renders a calculator quote together with its inputs.
func (r *Renderer) Quote(req loans.QuoteRequest, quote loans.Quote) error {
	perYear := periodsPerYear(req)
	switch r.format {
	case constants.OutputFormatJSON:
		return r.writeJSON(quoteView{
			Principal:      req.Principal,
			TermMonths:     req.TermMonths,
			PeriodsPerYear: perYear,
			Quote:          quote,
		})
	case constants.OutputFormatCSV:
		return r.writeCSV([][]string{
			{"principal", "annualInterestRatePercent", "termMonths", "periodsPerYear", "numberOfPayments", "paymentPerPeriod", "totalInterest", "totalRepayment"},
			{plain(req.Principal), strconv.FormatFloat(quote.AnnualRatePercent, 'f', -1, 64), strconv.Itoa(req.TermMonths),
				strconv.Itoa(perYear), strconv.Itoa(quote.NumberOfPayments), plain(quote.PaymentPerPeriod),
				plain(quote.TotalInterest), plain(quote.TotalRepayment)},
		})
	}
	return r.writeKeyValues("Loan quote", [][2]string{
		{"Principal", r.money(req.Principal)},
		{"Interest rate", r.p.Sprintf("%v%% a year", quote.AnnualRatePercent)},
		{"Term", r.p.Sprintf("%d months", req.TermMonths)},
		{"Payments", r.p.Sprintf("%d", quote.NumberOfPayments)},
		{paymentLabel(perYear), r.money(quote.PaymentPerPeriod)},
		{"Total interest", r.money(quote.TotalInterest)},
		{"Total repayment", r.money(quote.TotalRepayment)},
	})
}

// Schedule renders an amortization schedule followed by its totals.
func (r *Renderer) Schedule(schedule []loans.Payment) error {
	switch r.format {
	case constants.OutputFormatJSON:
		totalPaid, totalInterest := loans.ScheduleTotals(schedule)
		return r.writeJSON(struct {
			Payments       []loans.Payment `json:"payments"`
			TotalRepayment float64         `json:"totalRepayment"`
			TotalInterest  float64         `json:"totalInterest"`
		}{schedule, totalPaid, totalInterest})
	case constants.OutputFormatCSV:
		rows := [][]string{{"period", "dueDate", "payment", "principal", "interest", "remainingPrincipal"}}
		for _, row := range schedule {
			rows = append(rows, []string{strconv.Itoa(row.Period), row.DueDate, plain(row.Payment),
				plain(row.Principal), plain(row.Interest), plain(row.RemainingPrincipal)})
		}
		return r.writeCSV(rows)
	}

	fmt.Fprintf(r.w, "--- Repayment schedule ---\n")
	fmt.Fprintf(r.w, "Period | Due     | Payment | Principal | Interest | Balance\n")
	fmt.Fprintf(r.w, "______ | _______ | _______ | _________ | ________ | _______\n")
	for _, row := range schedule {
		due := row.DueDate
		if due == "" {
			due = "-"
		}
		_, _ = r.p.Fprintf(r.w, "%d | %s | %s | %s | %s | %s\n", row.Period, due,
			r.money(row.Payment), r.money(row.Principal), r.money(row.Interest), r.money(row.RemainingPrincipal))
	}
	totalPaid, totalInterest := loans.ScheduleTotals(schedule)
	_, err := fmt.Fprintf(r.w, "Total paid %s, of which interest %s\n", r.money(totalPaid), r.money(totalInterest))
	return err
}

// Statement renders every loan of the customer and the overall totals.
func (r *Renderer) Statement(statement backend.Statement) error {
	borrowed, repayable := statement.Totals()
	switch r.format {
	case constants.OutputFormatJSON:
		loansOut := statement.Loans
		if loansOut == nil {
			loansOut = []backend.LoanRecord{}
		}
		return r.writeJSON(struct {
			Loans          []backend.LoanRecord `json:"loans"`
			TotalBorrowed  decimal.Decimal      `json:"totalBorrowed"`
			TotalRepayment decimal.Decimal      `json:"totalRepayment"`
		}{loansOut, borrowed, repayable})
	case constants.OutputFormatCSV:
		rows := [][]string{{"id", "amount", "loanTerm", "repaymentFrequency", "purpose", "totalInterest", "totalRepayment", "createdAt", "dueDate"}}
		for _, loan := range statement.Loans {
			rows = append(rows, []string{loan.ID.String(), loan.Amount.StringFixed(constants.DecimalPlaces),
				strconv.Itoa(loan.Term()), loan.RepaymentFrequency, loan.Purpose,
				loan.TotalInterest.StringFixed(constants.DecimalPlaces), loan.TotalRepayment.StringFixed(constants.DecimalPlaces),
				loan.CreatedAt, loan.DueDate})
		}
		return r.writeCSV(rows)
	}

	fmt.Fprintf(r.w, "--- Loan statement ---\n")
	if len(statement.Loans) == 0 {
		_, err := fmt.Fprintf(r.w, "No loans yet.\n")
		return err
	}
	fmt.Fprintf(r.w, "ID | Applied    | Amount | Term | Frequency | Purpose | Total repayment | Next due\n")
	fmt.Fprintf(r.w, "__ | __________ | ______ | ____ | _________ | _______ | _______________ | ________\n")
	for _, loan := range statement.Loans {
		fmt.Fprintf(r.w, "%s | %s | %s | %d | %s | %s | %s | %s\n",
			loan.ID, datetime.DisplayDate(loan.CreatedAt), r.moneyDecimal(loan.Amount), loan.Term(),
			loan.RepaymentFrequency, loan.Purpose, r.moneyDecimal(loan.TotalRepayment), datetime.DisplayDate(loan.DueDate))
	}
	_, err := fmt.Fprintf(r.w, "Total borrowed %s, total to repay %s\n", r.moneyDecimal(borrowed), r.moneyDecimal(repayable))
	return err
}

// Report renders a single submitted application.
func (r *Renderer) Report(loan backend.LoanRecord) error {
	switch r.format {
	case constants.OutputFormatJSON:
		return r.writeJSON(loan)
	case constants.OutputFormatCSV:
		return r.writeCSV([][]string{
			{"field", "value"},
			{"fullName", loan.FullName},
			{"email", loan.Email},
			{"phoneNumber", loan.PhoneNumber},
			{"amount", loan.Amount.StringFixed(constants.DecimalPlaces)},
			{"loanTerm", strconv.Itoa(loan.Term())},
			{"repaymentFrequency", loan.RepaymentFrequency},
			{"purpose", loan.Purpose},
			{"location", loan.Location},
			{"totalInterest", loan.TotalInterest.StringFixed(constants.DecimalPlaces)},
			{"totalRepayment", loan.TotalRepayment.StringFixed(constants.DecimalPlaces)},
			{"createdAt", loan.CreatedAt},
			{"startDate", loan.StartDate},
			{"endDate", loan.EndDate},
			{"dueDate", loan.DueDate},
		})
	}
	return r.writeKeyValues("Loan report", [][2]string{
		{"Full name", loan.FullName},
		{"Email", loan.Email},
		{"Phone number", loan.PhoneNumber},
		{"Loan amount", r.moneyDecimal(loan.Amount)},
		{"Loan term", r.p.Sprintf("%d months", loan.Term())},
		{"Repayment frequency", loan.RepaymentFrequency},
		{"Purpose", loan.Purpose},
		{"Location", loan.Location},
		{"Total interest", r.moneyDecimal(loan.TotalInterest)},
		{"Total repayment", r.moneyDecimal(loan.TotalRepayment)},
		{"Applied on", datetime.DisplayDate(loan.CreatedAt)},
		{"Start date", datetime.DisplayDate(loan.StartDate)},
		{"End date", datetime.DisplayDate(loan.EndDate)},
		{"Next due date", datetime.DisplayDate(loan.DueDate)},
	})
}

// Rates renders the tiers of a rate policy.
func (r *Renderer) Rates(policy rates.Policy) error {
	switch r.format {
	case constants.OutputFormatJSON:
		return r.writeJSON(policy)
	case constants.OutputFormatCSV:
		rows := [][]string{{"version", "min", "max", "ratePercent"}}
		for _, tier := range policy.Tiers {
			rows = append(rows, []string{policy.Version, plain(tier.Min), plain(tier.Max),
				strconv.FormatFloat(tier.RatePercent, 'f', -1, 64)})
		}
		return r.writeCSV(rows)
	}

	fmt.Fprintf(r.w, "--- Rate policy %s ---\n", policy.Version)
	fmt.Fprintf(r.w, "From | Up to | Annual rate\n")
	fmt.Fprintf(r.w, "____ | _____ | ___________\n")
	for _, tier := range policy.Tiers {
		_, _ = r.p.Fprintf(r.w, "%s | %s | %v%%\n", r.money(tier.Min), r.money(tier.Max), tier.RatePercent)
	}
	return nil
}

// Rate renders the rate that applies to one principal.
func (r *Renderer) Rate(policy rates.Policy, principal float64, tier rates.Tier) error {
	switch r.format {
	case constants.OutputFormatJSON:
		return r.writeJSON(struct {
			Version     string     `json:"version"`
			Principal   float64    `json:"principal"`
			RatePercent float64    `json:"ratePercent"`
			Tier        rates.Tier `json:"tier"`
		}{policy.Version, principal, tier.RatePercent, tier})
	case constants.OutputFormatCSV:
		return r.writeCSV([][]string{
			{"version", "principal", "ratePercent"},
			{policy.Version, plain(principal), strconv.FormatFloat(tier.RatePercent, 'f', -1, 64)},
		})
	}
	_, err := r.p.Fprintf(r.w, "%s is charged %v%% a year under %s\n", r.money(principal), tier.RatePercent, policy.Version)
	return err
}

// Affordability renders the result of an affordability search.
func (r *Renderer) Affordability(summary optimization.Summary) error {
	switch r.format {
	case constants.OutputFormatJSON:
		return r.writeJSON(summary)
	case constants.OutputFormatCSV:
		return r.writeCSV([][]string{
			{"policyVersion", "budget", "termMonths", "periodsPerYear", "maxPrincipal", "annualInterestRatePercent", "payment", "headroom", "converged"},
			{summary.PolicyVersion, plain(summary.Budget), strconv.Itoa(summary.TermMonths), strconv.Itoa(summary.PeriodsPerYear),
				plain(summary.Value), strconv.FormatFloat(summary.RatePercent, 'f', -1, 64), plain(summary.Payment),
				plain(summary.Headroom), strconv.FormatBool(summary.Converged)},
		})
	}
	if err := r.writeKeyValues("Affordable loan", [][2]string{
		{"Budget per payment", r.money(summary.Budget)},
		{"Term", r.p.Sprintf("%d months", summary.TermMonths)},
		{"Largest principal", r.money(summary.Value)},
		{"Interest rate", r.p.Sprintf("%v%% a year (%s)", summary.RatePercent, summary.PolicyVersion)},
		{paymentLabel(summary.PeriodsPerYear), r.money(summary.Payment)},
		{"Left over", r.money(summary.Headroom)},
	}); err != nil {
		return err
	}
	for _, note := range summary.Notes {
		if _, err := fmt.Fprintf(r.w, "Note: %s\n", note); err != nil {
			return err
		}
	}
	return nil
}
