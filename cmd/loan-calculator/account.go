package main

import (
	"fmt"
	"time"

	"github.com/iwvelando/loan-calculator/internal/backend"
	"github.com/iwvelando/loan-calculator/internal/session"
	"github.com/spf13/cobra"
)

func (a *app) registerCommand() *cobra.Command {
	var reg backend.Registration
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := a.readPassword("Password: ", passwordStdin)
			if err != nil {
				return err
			}
			reg.Password = password
			if passwordStdin {
				reg.ConfirmPassword = password
			} else if reg.ConfirmPassword, err = a.readPassword("Confirm password: ", false); err != nil {
				return err
			}

			if err := a.connect(cmd.Context()); err != nil {
				return err
			}
			if err := a.session.Register(cmd.Context(), reg); err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.out, "Welcome %s, your account is ready and you are logged in.\n", reg.FirstName)
			return err
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&reg.FirstName, "first-name", "", "first name")
	flags.StringVar(&reg.LastName, "last-name", "", "last name")
	flags.StringVar(&reg.Username, "username", "", "username")
	flags.StringVar(&reg.Email, "email", "", "email address")
	flags.BoolVar(&passwordStdin, "password-stdin", false, "read the password from standard input")
	return cmd
}

func (a *app) loginCommand() *cobra.Command {
	var creds backend.Credentials
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the loan service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := a.readPassword("Password: ", passwordStdin)
			if err != nil {
				return err
			}
			creds.Password = password

			if err := a.connect(cmd.Context()); err != nil {
				return err
			}
			if err := a.session.Login(cmd.Context(), creds); err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.out, "Logged in as %s.\n", creds.Username)
			return err
		},
	}
	cmd.Flags().StringVar(&creds.Username, "username", "", "username")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from standard input")
	return cmd
}

func (a *app) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.connect(cmd.Context()); err != nil {
				return err
			}
			if err := a.session.Logout(cmd.Context()); err != nil {
				return err
			}
			_, err := fmt.Fprintln(a.out, "Logged out.")
			return err
		},
	}
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether you are logged in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.connect(cmd.Context()); err != nil {
				return err
			}
			status := a.session.Status()
			switch status.State {
			case session.Authenticated:
				fmt.Fprintf(a.out, "Logged in as customer %s.\n", status.CustomerID)
				if !status.ExpiresAt.IsZero() {
					fmt.Fprintf(a.out, "Session valid until %s.\n", status.ExpiresAt.Local().Format(time.RFC1123))
				}
			case session.Expired:
				// close prints the expiry notice.
			default:
				fmt.Fprintln(a.out, "Not logged in. Run `loan-calculator login` to sign in.")
			}
			return nil
		},
	}
}
