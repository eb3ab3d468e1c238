package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/dcshock/hookpipe/ctxlog"
	"github.com/dcshock/hookpipe/observer"
	"github.com/dcshock/hookpipe/pipeline"
)

func newResumeCmd(c *cli) *cobra.Command {
	var (
		pipelineName string
		limit        int
	)
	cmd := &cobra.Command{
		Use:   "resume [run-id]",
		Short: "Re-run the failed steps of recorded runs",
		Long: `Re-run only the failed steps of a recorded run, reusing its run ID and
args. Without a run ID every failed run (optionally of one pipeline) is
resumed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ctxlog.WithLogger(cmd.Context(), c.logger)
			s, err := c.openStack(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close(ctx) }()
			if s.store == nil {
				return errNoStore
			}

			rep := newReporter(cmd.OutOrStdout())
			var pipelines []string
			for name := range s.pipelines {
				pipelines = append(pipelines, name)
			}
			obs, err := s.runObserver([]string{observeStatus, observeDB}, pipelines, rep.observer())
			if err != nil {
				return err
			}
			resumer := observer.NewResumer(s.store, s.lookup)

			if len(args) == 1 {
				res, err := resumer.Resume(ctx, args[0], obs)
				if err != nil {
					return err
				}
				if !res.OK() {
					return errStepsFailed
				}
				return nil
			}
			results, err := resumer.ResumeFailed(ctx, pipelineName, limit, obs)
			if err != nil && !errors.Is(err, observer.ErrNothingToResume) {
				return err
			}
			if !pipeline.OK(results) {
				return errStepsFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&pipelineName, "pipeline", "p", "", "only resume runs of this pipeline")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum runs to resume (0 for all)")
	return cmd
}
