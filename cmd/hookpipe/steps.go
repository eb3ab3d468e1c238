package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dcshock/hookpipe/ctxlog"
	"github.com/dcshock/hookpipe/priority"
)

func newStepsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "steps <pipeline>",
		Short: "List the steps of a pipeline in run order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ctxlog.WithLogger(cmd.Context(), c.logger)
			s, err := c.openStack(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close(ctx) }()

			p, ok := s.pipelines[args[0]]
			if !ok {
				return fmt.Errorf("no pipeline named %q", args[0])
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tSTEP\tORDER\tBEFORE\tAFTER\tPROTECTED")
			for i, e := range p.StepEntries() {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", i, e.Key,
					priority.Name(e.Order), yesNo(e.Value.Before), yesNo(e.Value.After), yesNo(e.Protected))
			}
			return tw.Flush()
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}
