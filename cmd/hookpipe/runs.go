package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dcshock/hookpipe/ctxlog"
	"github.com/dcshock/hookpipe/observer"
)

var errNoStore = errors.New("no run store configured (set --db or db.dsn)")

// openStore opens the run store without loading definitions.
func (c *cli) openStore(ctx context.Context) (*stack, error) {
	s, err := c.openStack(ctx, false)
	if err != nil {
		return nil, err
	}
	if s.store == nil {
		_ = s.Close(ctx)
		return nil, errNoStore
	}
	return s, nil
}

func newRunsCmd(c *cli) *cobra.Command {
	var filter observer.RunFilter
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ctxlog.WithLogger(cmd.Context(), c.logger)
			s, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close(ctx) }()

			runs, err := s.store.ListRuns(ctx, filter)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tPIPELINE\tSTATUS\tSTARTED\tDURATION\tFAILED")
			for _, r := range runs {
				failed, err := s.store.FailedSteps(ctx, r.RunID)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.RunID, r.Pipeline, statusLabel(r.Status),
					r.StartedAt.Format(time.DateTime), runDuration(r), strings.Join(failed, ","))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&filter.Pipeline, "pipeline", "p", "", "only runs of this pipeline")
	cmd.Flags().StringVar(&filter.Status, "status", "", "only runs with this status (running, success, failed)")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 20, "maximum runs to list (0 for all)")
	cmd.AddCommand(newRunsShowCmd(c))
	return cmd
}

func newRunsShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded run and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ctxlog.WithLogger(cmd.Context(), c.logger)
			s, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close(ctx) }()

			run, err := s.store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			printRun(cmd.OutOrStdout(), run)
			return nil
		},
	}
}

func printRun(w io.Writer, run *observer.Run) {
	fmt.Fprintf(w, "%s %s %s\n", runLabel(run.Pipeline), run.RunID, statusLabel(run.Status))
	if len(run.Args) > 0 {
		fmt.Fprintf(w, "args: %s\n", run.Args)
	}
	if run.Error != "" {
		fmt.Fprintf(w, "error: %s\n", run.Error)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, st := range run.Steps {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\n", st.Index, st.Step, statusLabel(st.Status),
			st.Duration.Round(time.Millisecond), st.Error)
	}
	_ = tw.Flush()
}

func statusLabel(status string) string {
	switch status {
	case observer.StatusSuccess:
		return color.New(color.FgGreen).Sprint(status)
	case observer.StatusFailed:
		return color.New(color.FgRed).Sprint(status)
	default:
		return color.New(color.FgYellow).Sprint(status)
	}
}

func runDuration(r observer.Run) string {
	if r.FinishedAt.IsZero() {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
}
