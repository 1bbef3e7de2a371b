package main

import (
	"github.com/iwvelando/loan-calculator/internal/application"
	"github.com/spf13/cobra"
)

func (a *app) applyCommand() *cobra.Command {
	var form application.LoanApplication
	var frequency string
	var preview bool
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply for a loan",
		Example: `  loan-calculator apply --full-name "Jane Doe" --email jane@example.com --phone 0712345678 \
    --amount 50000 --term 36 --frequency monthly --purpose "School fees"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			form.RepaymentFrequency = application.RepaymentFrequency(frequency)
			r, err := a.renderer()
			if err != nil {
				return err
			}

			if preview {
				quote, err := application.Preview(a.registry.Active(), form)
				if err != nil {
					return err
				}
				return r.Quote(form.Normalize().QuoteRequest(quote.AnnualRatePercent), quote)
			}

			if err := a.connect(cmd.Context()); err != nil {
				return err
			}
			submitter := application.NewSubmitter(a.client, a.session, a.logger)
			record, err := submitter.Submit(cmd.Context(), form)
			if err != nil {
				return err
			}
			return r.Report(record)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&form.FullName, "full-name", "", "applicant's full name")
	flags.StringVar(&form.Email, "email", "", "applicant's email address")
	flags.StringVar(&form.PhoneNumber, "phone", "", "ten digit phone number")
	flags.Float64Var(&form.Amount, "amount", 0, "amount to borrow")
	flags.IntVar(&form.LoanTerm, "term", 0, "loan term in months")
	flags.StringVar(&frequency, "frequency", "monthly", "repayment frequency: daily, weekly, monthly, yearly")
	flags.StringVar(&form.Purpose, "purpose", "", "purpose of the loan")
	flags.StringVar(&form.Location, "location", "", "applicant's location")
	flags.BoolVar(&preview, "preview", false, "only show the cost of the loan, do not apply")
	return cmd
}

func (a *app) statementCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "statement",
		Short: "List your loans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.connect(cmd.Context()); err != nil {
				return err
			}
			statement, err := a.client.Statement(cmd.Context())
			if err != nil {
				return err
			}
			r, err := a.renderer()
			if err != nil {
				return err
			}
			return r.Statement(statement)
		},
	}
}
