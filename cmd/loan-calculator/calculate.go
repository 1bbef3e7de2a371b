package main

import (
	"fmt"
	"strconv"

	"github.com/iwvelando/loan-calculator/internal/application"
	"github.com/iwvelando/loan-calculator/internal/optimizer"
	"github.com/iwvelando/loan-calculator/pkg/apperr"
	"github.com/iwvelando/loan-calculator/pkg/loans"
	"github.com/iwvelando/loan-calculator/pkg/rates"
	"github.com/iwvelando/loan-calculator/pkg/support"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// quoteFlags are the loan inputs shared by quote and schedule.
type quoteFlags struct {
	principal float64
	rate      float64
	years     int
	months    int
	frequency string
	policy    string
}

func (f *quoteFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Float64Var(&f.principal, "principal", 0, "amount borrowed")
	flags.Float64Var(&f.rate, "rate", 0, "annual interest rate in percent (default: looked up from the rate policy)")
	flags.IntVar(&f.years, "years", 0, "loan term in years")
	flags.IntVar(&f.months, "months", 0, "loan term in months (overrides --years)")
	flags.StringVar(&f.frequency, "frequency", "monthly", "repayment frequency: daily, weekly, monthly, yearly")
	flags.StringVar(&f.policy, "policy", "", "rate policy version (default: the active policy)")
	_ = cmd.MarkFlagRequired("principal")
}

func (a *app) policy(version string) (rates.Policy, error) {
	if version == "" {
		return a.registry.Active(), nil
	}
	policy, ok := a.registry.Get(version)
	if !ok {
		return rates.Policy{}, apperr.New(apperr.KindInvalidInput, "unknown rate policy %q", version)
	}
	return policy, nil
}

func (a *app) quoteRequest(cmd *cobra.Command, f *quoteFlags) (loans.QuoteRequest, error) {
	frequency, err := application.ParseFrequency(f.frequency)
	if err != nil {
		return loans.QuoteRequest{}, err
	}
	req := loans.QuoteRequest{
		Principal:      f.principal,
		TermMonths:     f.months,
		PeriodsPerYear: frequency.PeriodsPerYear(),
	}
	if req.TermMonths == 0 {
		req.TermMonths = loans.MonthsFromYears(f.years)
	}

	if cmd.Flags().Changed("rate") {
		req.AnnualRatePercent = f.rate
		return req, nil
	}
	policy, err := a.policy(f.policy)
	if err != nil {
		return loans.QuoteRequest{}, err
	}
	rate, err := policy.Lookup(f.principal)
	if err != nil {
		return loans.QuoteRequest{}, err
	}
	req.AnnualRatePercent = rate
	a.logger.Debug("rate looked up",
		zap.String("op", "main.quoteRequest"),
		zap.String("policy", policy.Version),
		zap.Float64("rate", rate),
	)
	return req, nil
}

func (a *app) quoteCommand() *cobra.Command {
	var f quoteFlags
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Calculate the repayment and total cost of a loan",
		Example: `  loan-calculator quote --principal 100000 --years 2
  loan-calculator quote --principal 100000 --rate 7 --months 24 --frequency weekly`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := a.quoteRequest(cmd, &f)
			if err != nil {
				return err
			}
			quote, err := loans.CalculateRequest(req)
			if err != nil {
				return err
			}
			r, err := a.renderer()
			if err != nil {
				return err
			}
			return r.Quote(req, quote)
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) scheduleCommand() *cobra.Command {
	var f quoteFlags
	var start string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the full amortization schedule of a loan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := a.quoteRequest(cmd, &f)
			if err != nil {
				return err
			}
			schedule, err := loans.NewAmortizationScheduleGenerator(a.logger).GenerateSchedule(req, start)
			if err != nil {
				return err
			}
			r, err := a.renderer()
			if err != nil {
				return err
			}
			return r.Schedule(schedule)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&start, "start", "", "month of the first repayment (YYYY-MM), monthly schedules only")
	return cmd
}

func (a *app) rateCommand() *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "rate [principal]",
		Short: "Show the interest rate tiers, or the rate for one amount",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := a.policy(version)
			if err != nil {
				return err
			}
			r, err := a.renderer()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return r.Rates(policy)
			}

			principal, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return apperr.New(apperr.KindInvalidInput, "principal %q is not a number", args[0])
			}
			tier, err := policy.TierFor(principal)
			if err != nil {
				return err
			}
			return r.Rate(policy, principal, tier)
		},
	}
	cmd.Flags().StringVar(&version, "policy", "", "rate policy version (default: the active policy)")
	return cmd
}

func (a *app) affordCommand() *cobra.Command {
	var budget float64
	var years, months int
	var frequency, version string
	cmd := &cobra.Command{
		Use:     "afford",
		Short:   "Find the largest loan a repayment budget covers",
		Example: `  loan-calculator afford --budget 5000 --years 2`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			freq, err := application.ParseFrequency(frequency)
			if err != nil {
				return err
			}
			policy, err := a.policy(version)
			if err != nil {
				return err
			}
			runner, err := optimizer.NewRunner(a.logger, policy)
			if err != nil {
				return err
			}
			target := optimizer.Target{
				Budget:         budget,
				TermMonths:     months,
				PeriodsPerYear: freq.PeriodsPerYear(),
			}
			if target.TermMonths == 0 {
				target.TermMonths = loans.MonthsFromYears(years)
			}
			summary, err := runner.MaxPrincipal(target)
			if err != nil {
				return err
			}
			r, err := a.renderer()
			if err != nil {
				return err
			}
			return r.Affordability(summary)
		},
	}
	flags := cmd.Flags()
	flags.Float64Var(&budget, "budget", 0, "most you can pay per repayment")
	flags.IntVar(&years, "years", 0, "loan term in years")
	flags.IntVar(&months, "months", 0, "loan term in months (overrides --years)")
	flags.StringVar(&frequency, "frequency", "monthly", "repayment frequency: daily, weekly, monthly, yearly")
	flags.StringVar(&version, "policy", "", "rate policy version (default: the active policy)")
	_ = cmd.MarkFlagRequired("budget")
	return cmd
}

func (a *app) helpLinkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "help-link",
		Short: "Print a WhatsApp link to the support help line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			link, err := support.WhatsAppLink(a.conf.Support.WhatsAppNumber, a.conf.Support.Message)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, link)
			return err
		},
	}
}
