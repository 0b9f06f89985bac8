package commands

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/benvon/wellness-tracker/internal/errs"
	"github.com/benvon/wellness-tracker/internal/recovery"
	"github.com/spf13/cobra"
)

// passwordAttempts is how often confirm re-prompts after a local check fails
const passwordAttempts = 3

func newResetCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Recover a forgotten password",
	}
	cmd.AddCommand(newResetRequestCmd(opts), newResetConfirmCmd(opts))
	return cmd
}

func newResetRequestCmd(opts *rootOptions) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Email a password reset link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithRecovery(cmd, opts, func(ctx context.Context, app *App) error {
				address, err := valueOrPrompt(prompter(cmd), email, "Email")
				if err != nil {
					return err
				}
				if err := app.Recovery.RequestReset(ctx, address); err != nil {
					return errors.New(errs.UserMessage(err))
				}
				fmt.Fprintln(stdout(cmd), app.Recovery.State().Message)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email (prompted when omitted)")
	return cmd
}

func newResetConfirmCmd(opts *rootOptions) *cobra.Command {
	var link, code string

	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Set a new password from a reset link",
		Long:  "Pass the full link from the reset email with --link, or just its code with --code.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := resetParams(link, code)
			if err != nil {
				return err
			}
			return runWithRecovery(cmd, opts, func(ctx context.Context, app *App) error {
				return confirmReset(ctx, cmd, app.Recovery, params)
			})
		},
	}

	cmd.Flags().StringVar(&link, "link", "", "reset link from the email")
	cmd.Flags().StringVar(&code, "code", "", "reset code from the email")
	cmd.MarkFlagsMutuallyExclusive("link", "code")
	return cmd
}

// resetParams turns --link or --code into link parameters
func resetParams(link, code string) (url.Values, error) {
	if code != "" {
		return url.Values{recovery.ParamCode: {code}}, nil
	}
	if link == "" {
		return nil, errors.New("one of --link or --code is required")
	}
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("invalid reset link: %w", err)
	}
	return u.Query(), nil
}

func confirmReset(ctx context.Context, cmd *cobra.Command, flow *recovery.Flow, params url.Values) error {
	out := stdout(cmd)
	code, triggered, err := flow.Begin(ctx, params)
	if !triggered {
		return errors.New("the link does not contain a password reset code")
	}
	if err != nil {
		return errors.New(errs.UserMessage(err))
	}
	fmt.Fprintf(out, "Resetting the password for %s\n", flow.State().Email)

	p := prompter(cmd)
	for attempt := 1; ; attempt++ {
		newPassword, err := p.Password("New password")
		if err != nil {
			return err
		}
		confirm, err := p.Password("Confirm password")
		if err != nil {
			return err
		}

		err = flow.SubmitNewPassword(ctx, code, newPassword, confirm)
		if err == nil {
			fmt.Fprintln(out, flow.State().Message)
			return nil
		}
		if !errs.IsValidation(err) || attempt == passwordAttempts {
			return errors.New(errs.UserMessage(err))
		}
		fmt.Fprintln(cmd.ErrOrStderr(), errs.UserMessage(err))
	}
}
