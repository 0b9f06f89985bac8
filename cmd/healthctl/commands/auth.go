package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/benvon/wellness-tracker/internal/errs"
	"github.com/spf13/cobra"
)

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts, func(ctx context.Context, app *App) error {
				p := prompter(cmd)
				address, err := valueOrPrompt(p, email, "Email")
				if err != nil {
					return err
				}
				password, err := p.Password("Password")
				if err != nil {
					return err
				}

				s, err := app.Sessions.Login(ctx, address, password)
				if err != nil {
					return errors.New(errs.UserMessage(err))
				}
				fmt.Fprintf(stdout(cmd), "Signed in as %s\n", displayName(s.User.DisplayName, s.User.Email))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email (prompted when omitted)")
	return cmd
}

func newSignupCmd(opts *rootOptions) *cobra.Command {
	var email, name string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts, func(ctx context.Context, app *App) error {
				p := prompter(cmd)
				address, err := valueOrPrompt(p, email, "Email")
				if err != nil {
					return err
				}
				profileName, err := valueOrPrompt(p, name, "Name")
				if err != nil {
					return err
				}
				password, err := p.Password("Password")
				if err != nil {
					return err
				}

				result, err := app.Sessions.Signup(ctx, address, password, profileName)
				if err != nil {
					return errors.New(errs.UserMessage(err))
				}
				fmt.Fprintf(stdout(cmd), "Account created for %s\n", address)
				if result.Warning != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", errs.UserMessage(result.Warning))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email (prompted when omitted)")
	cmd.Flags().StringVar(&name, "name", "", "display name (prompted when omitted)")
	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts, func(ctx context.Context, app *App) error {
				if _, err := app.AwaitSession(ctx); err != nil {
					return err
				}
				err := app.Sessions.Logout(ctx)
				fmt.Fprintln(stdout(cmd), "Signed out")
				if err != nil {
					return fmt.Errorf("provider sign-out reported: %s", errs.UserMessage(err))
				}
				return nil
			})
		},
	}
}

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts, func(ctx context.Context, app *App) error {
				s, err := app.AwaitSession(ctx)
				if err != nil {
					return err
				}
				if !s.IsAuthenticated() {
					fmt.Fprintln(stdout(cmd), "Not signed in")
					return nil
				}
				fmt.Fprintf(stdout(cmd), "%s <%s>\n", displayName(s.User.DisplayName, s.User.Email), s.User.Email)
				return nil
			})
		},
	}
}

func displayName(name, email string) string {
	if name != "" {
		return name
	}
	return email
}
