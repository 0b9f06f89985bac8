package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/benvon/wellness-tracker/internal/errs"
	"github.com/benvon/wellness-tracker/internal/models"
	"github.com/spf13/cobra"
)

func newProfileCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "View or edit your profile through the Backend API",
	}
	cmd.AddCommand(newProfileShowCmd(opts), newProfileUpdateCmd(opts))
	return cmd
}

func newProfileShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show your profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts, func(ctx context.Context, app *App) error {
				user, err := app.RequireUser(ctx)
				if err != nil {
					return err
				}
				profile, err := app.Backend.GetUser(ctx, user.ID)
				if err != nil {
					return errors.New(errs.UserMessage(err))
				}
				return renderUser(stdout(cmd), profile)
			})
		},
	}
}

func newProfileUpdateCmd(opts *rootOptions) *cobra.Command {
	var name, gender string
	var age int

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Change your name, age or gender",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := profilePatch(cmd, name, age, gender)
			if patch.IsEmpty() {
				return errors.New("nothing to update: pass --name, --age or --gender")
			}
			if patch.Age != nil && *patch.Age < 0 {
				return errors.New("age cannot be negative")
			}
			return runWithApp(cmd, opts, func(ctx context.Context, app *App) error {
				user, err := app.RequireUser(ctx)
				if err != nil {
					return err
				}
				if err := app.Backend.UpdateUser(ctx, user.ID, patch); err != nil {
					return errors.New(errs.UserMessage(err))
				}
				fmt.Fprintln(stdout(cmd), "Profile updated")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().IntVar(&age, "age", 0, "age in years")
	cmd.Flags().StringVar(&gender, "gender", "", "gender")
	return cmd
}

// profilePatch includes only the flags the user actually passed
func profilePatch(cmd *cobra.Command, name string, age int, gender string) models.UserPatch {
	var patch models.UserPatch
	if cmd.Flags().Changed("name") {
		patch.DisplayName = &name
	}
	if cmd.Flags().Changed("age") {
		patch.Age = &age
	}
	if cmd.Flags().Changed("gender") {
		patch.Gender = &gender
	}
	return patch
}

func newBackendCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Backend API utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Check that the Backend API is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts, func(ctx context.Context, app *App) error {
				if err := app.Backend.HealthCheck(ctx); err != nil {
					return fmt.Errorf("backend unavailable: %s", errs.UserMessage(err))
				}
				fmt.Fprintln(stdout(cmd), "Backend API is healthy")
				return nil
			})
		},
	})
	return cmd
}
