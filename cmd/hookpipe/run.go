package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dcshock/hookpipe/config"
	"github.com/dcshock/hookpipe/ctxlog"
	"github.com/dcshock/hookpipe/httpstages"
	"github.com/dcshock/hookpipe/pipeline"
)

func newRunCmd(c *cli) *cobra.Command {
	var (
		observe []string
		watch   bool
		url     string
	)
	cmd := &cobra.Command{
		Use:   "run <pipeline|sequence> [args...]",
		Short: "Run a pipeline or sequence",
		Long: `Run a pipeline or sequence from the definitions file. Remaining
arguments are passed to every step as strings. With --url the first argument
is an HTTP payload for the http.fetch and json.decode actions.

The command exits non-zero when any step fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ctxlog.WithLogger(cmd.Context(), c.logger)
			s, err := c.openStack(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close(context.WithoutCancel(ctx)) }()

			if !cmd.Flags().Changed("observe") {
				observe = s.defaultObservers()
			}
			target := runTarget{name: args[0], observe: observe, args: runArgs(url, args[1:])}
			if watch {
				return c.watchLoop(ctx, cmd.OutOrStdout(), s, target)
			}
			return c.runOnce(ctx, cmd.OutOrStdout(), s, target)
		},
	}
	cmd.Flags().StringSliceVar(&observe, "observe", nil, "observers to attach (db, status, trace)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-run whenever the definitions file changes")
	cmd.Flags().StringVar(&url, "url", "", "pass an HTTP payload for this URL as the first argument")
	return cmd
}

type runTarget struct {
	name    string
	observe []string
	args    []interface{}
}

func runArgs(url string, raw []string) []interface{} {
	out := make([]interface{}, 0, len(raw)+1)
	if url != "" {
		out = append(out, &httpstages.Payload{URL: url})
	}
	for _, a := range raw {
		out = append(out, a)
	}
	return out
}

// runOnce runs the named sequence or pipeline and reports to w. Step
// failures are reported as errStepsFailed.
func (c *cli) runOnce(ctx context.Context, w io.Writer, s *stack, t runTarget) error {
	rep := newReporter(w)
	names := append([]string{observeStatus}, t.observe...)

	if seq, ok := s.sequences[t.name]; ok {
		members := make([]string, len(seq.Pipelines))
		for i, p := range seq.Pipelines {
			members[i] = p.Name()
		}
		obs, err := s.runObserver(names, members, rep.observer())
		if err != nil {
			return err
		}
		results, err := seq.Run(ctx, &pipeline.RunOptions{Observer: obs}, t.args...)
		if err != nil {
			return err
		}
		if !pipeline.OK(results) {
			return errStepsFailed
		}
		return nil
	}

	p, ok := s.pipelines[t.name]
	if !ok {
		return fmt.Errorf("no pipeline or sequence named %q", t.name)
	}
	obs, err := s.runObserver(names, []string{t.name}, rep.observer())
	if err != nil {
		return err
	}
	res, err := p.RunWithOptions(ctx, &pipeline.RunOptions{Observer: obs}, t.args...)
	if err != nil {
		return err
	}
	if !res.OK() {
		return errStepsFailed
	}
	return nil
}

// watchLoop runs t, then rebuilds and re-runs it every time the definitions
// file changes, until ctx is canceled. A file that fails to load keeps the
// previous definitions.
func (c *cli) watchLoop(ctx context.Context, w io.Writer, s *stack, t runTarget) error {
	watcher, err := config.NewWatcher(config.DefaultWatchConfig(s.settings.Pipelines))
	if err != nil {
		return err
	}
	changes, err := watcher.Start()
	if err != nil {
		_ = watcher.Stop()
		return err
	}
	defer func() { _ = watcher.Stop() }()

	log := c.logger.With("file", s.settings.Pipelines)
	for {
		if err := c.runOnce(ctx, w, s, t); err != nil && !errors.Is(err, errStepsFailed) {
			log.Error("run failed", "pipeline", t.name, "error", err)
		}
		if st, ok := s.status.Status(t.name); ok {
			log.Debug("last run", "pipeline", t.name, "state", st.State, "failed", st.Failed)
		}
		log.Info("watching for changes")

	wait:
		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-watcher.Errors():
				log.Warn("watch error", "error", err)
			case <-changes:
				if err := s.load(c); err != nil {
					log.Error("reload failed, keeping previous definitions", "error", err)
					continue
				}
				log.Info("definitions reloaded")
				break wait
			}
		}
	}
}
