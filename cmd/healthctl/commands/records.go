package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/benvon/wellness-tracker/internal/errs"
	"github.com/benvon/wellness-tracker/internal/livequery"
	"github.com/benvon/wellness-tracker/internal/models"
	"github.com/spf13/cobra"
)

var fieldPrompts = map[string]string{
	models.FieldSteps:       "Steps",
	models.FieldHeartRate:   "Heart rate (bpm)",
	models.FieldSleepHours:  "Sleep (hours)",
	models.FieldWaterIntake: "Water (glasses)",
	models.FieldCalories:    "Calories (kcal)",
}

func newRecordsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Add and view health records",
	}
	cmd.AddCommand(
		newRecordsAddCmd(opts),
		newRecordsListCmd(opts),
		newRecordsWatchCmd(opts),
		newRecordsSummaryCmd(opts),
	)
	return cmd
}

func newRecordsAddCmd(opts *rootOptions) *cobra.Command {
	var values map[string]*string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record today's numbers",
		Long:  "Fields left out are stored as 0. Without any field flags every field is prompted; press Enter to skip one.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			form, err := recordForm(cmd, values)
			if err != nil {
				return err
			}
			return runWithApp(cmd, opts, func(ctx context.Context, app *App) error {
				user, err := app.RequireUser(ctx)
				if err != nil {
					return err
				}
				record, err := app.Writer.SubmitForm(ctx, user.ID, form)
				if err != nil {
					return errors.New(errs.UserMessage(err))
				}
				fmt.Fprintf(stdout(cmd), "Health record saved (%s)\n", record.ID)
				return nil
			})
		},
	}

	values = recordFlags(cmd)
	return cmd
}

func recordFlags(cmd *cobra.Command) map[string]*string {
	values := make(map[string]*string, len(models.HealthFieldNames))
	for _, name := range models.HealthFieldNames {
		values[name] = cmd.Flags().String(flagName(name), "", fieldPrompts[name])
	}
	return values
}

// recordForm collects the flag values, prompting for all of them when none were given
func recordForm(cmd *cobra.Command, values map[string]*string) (map[string]string, error) {
	form := make(map[string]string, len(values))
	anySet := false
	for _, name := range models.HealthFieldNames {
		if cmd.Flags().Changed(flagName(name)) {
			anySet = true
			form[name] = *values[name]
		}
	}
	if anySet {
		return form, nil
	}

	p := prompter(cmd)
	for _, name := range models.HealthFieldNames {
		v, err := p.Text(fieldPrompts[name])
		if err != nil {
			return nil, err
		}
		form[name] = v
	}
	return form, nil
}

// flagName turns heart_rate into heart-rate
func flagName(field string) string {
	return strings.ReplaceAll(field, "_", "-")
}

func newRecordsListCmd(opts *rootOptions) *cobra.Command {
	var limit int
	var ascending bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts, func(ctx context.Context, app *App) error {
				user, err := app.RequireUser(ctx)
				if err != nil {
					return err
				}
				records, err := app.Store.ListHealthRecords(ctx, models.RecordQuery{
					OwnerID:    user.ID,
					Descending: !ascending,
					Limit:      limit,
				})
				if err != nil {
					return errors.New(errs.UserMessage(errs.NewStoreError("list health records", err)))
				}
				return renderRecords(stdout(cmd), records)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", models.DefaultRecordLimit, "maximum number of records (0 for all)")
	cmd.Flags().BoolVar(&ascending, "asc", false, "oldest first")
	return cmd
}

func newRecordsWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Show your records and update them live until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts, func(ctx context.Context, app *App) error {
				if _, err := app.RequireUser(ctx); err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				sub := app.Dashboard.Watch()
				defer sub.Unsubscribe()
				app.Dashboard.Start(ctx)
				defer app.Dashboard.Stop()

				return watchRecords(ctx, stdout(cmd), sub.C())
			})
		},
	}
}

// errSignedOut ends a watch when the session is signed out under it
var errSignedOut = errors.New("signed out; run `healthctl login` to continue")

// watchRecords prints every loaded snapshot until ctx is done. A closed
// view after one was bound means the user was signed out.
func watchRecords(ctx context.Context, out io.Writer, states <-chan livequery.State) error {
	bound := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case state, ok := <-states:
			if !ok {
				return nil
			}
			if state.Err != nil {
				return errors.New(errs.UserMessage(state.Err))
			}
			if state.OwnerID == "" {
				if bound {
					return errSignedOut
				}
				continue
			}
			bound = true
			if state.Loading {
				continue
			}
			fmt.Fprintf(out, "\n%d record(s)\n", len(state.Records))
			if err := renderRecords(out, state.Records); err != nil {
				return err
			}
		}
	}
}

func newRecordsSummaryCmd(opts *rootOptions) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "summary",
		Short: fmt.Sprintf("Summarize your last %d records", models.SummaryWindow),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts, func(ctx context.Context, app *App) error {
				user, err := app.RequireUser(ctx)
				if err != nil {
					return err
				}
				if remote {
					summary, err := app.Backend.Summary(ctx, user.ID)
					if err != nil {
						return errors.New(errs.UserMessage(err))
					}
					return renderSummary(stdout(cmd), *summary)
				}

				q := models.NewestFirst(user.ID)
				q.Limit = models.SummaryWindow
				records, err := app.Store.ListHealthRecords(ctx, q)
				if err != nil {
					return errors.New(errs.UserMessage(errs.NewStoreError("list health records", err)))
				}
				return renderSummary(stdout(cmd), models.Summarize(records))
			})
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "ask the Backend API instead of the store")
	return cmd
}
