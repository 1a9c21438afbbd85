package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pkt.systems/lockbank/internal/scenario"
	"pkt.systems/pslog"
)

func newScenarioCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "scenario",
		Aliases: []string{"scenarios"},
		Short:   "List and run the built-in concurrent scenarios",
	}
	cmd.AddCommand(newScenarioListCommand())
	cmd.AddCommand(newScenarioRunCommand(baseLogger))
	return cmd
}

func newScenarioListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scenario names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range scenario.Names() {
				summary, _ := scenario.Summary(name)
				fmt.Fprintf(tw, "%s\t%s\n", name, summary)
			}
			return tw.Flush()
		},
	}
}

func newScenarioRunCommand(baseLogger pslog.Logger) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "run NAME...",
		Short: "Run one or more scenarios and check their outcome",
		Example: `  lockbank scenario run refill
  lockbank scenario run --all --stage-delay 0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if all {
				if len(args) > 0 {
					return fmt.Errorf("--all does not take scenario names")
				}
				names = scenario.Names()
			}
			if len(names) == 0 {
				return fmt.Errorf("no scenario named (see `lockbank scenario list`)")
			}
			for _, name := range names {
				if _, ok := scenario.Summary(name); !ok {
					return fmt.Errorf("%w: %q", scenario.ErrUnknown, name)
				}
			}

			kernel, logger, err := openKernel(cmd, baseLogger)
			if err != nil {
				return err
			}
			defer closeKernel(kernel, logger)

			out := &syncWriter{w: cmd.OutOrStdout()}
			for _, name := range names {
				summary, _ := scenario.Summary(name)
				out.printf("%s: %s (fairness %s)\n", name, summary, kernel.Config().Fairness)
				report, err := kernel.RunScenario(cmd.Context(), name, stagePrinter(out))
				printReport(out, report)
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "run every scenario in catalogue order")
	return cmd
}
