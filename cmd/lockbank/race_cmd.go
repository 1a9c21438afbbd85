package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
)

func newRaceCommand(baseLogger pslog.Logger) *cobra.Command {
	var cars []string
	var name string
	cmd := &cobra.Command{
		Use:   "race",
		Short: "Race cars through a single-occupancy track section",
		Example: `  lockbank race --cars Ferrari,Lamborghini,Porsche
  lockbank race --cars a,b,c,d --stages 3 --stage-delay 100ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			field := make([]string, 0, len(cars))
			seen := make(map[string]struct{}, len(cars))
			for _, car := range cars {
				car = strings.TrimSpace(car)
				if car == "" {
					continue
				}
				if _, dup := seen[car]; dup {
					return fmt.Errorf("car %q entered twice", car)
				}
				seen[car] = struct{}{}
				field = append(field, car)
			}
			if len(field) == 0 {
				return fmt.Errorf("--cars needs at least one name")
			}

			kernel, logger, err := openKernel(cmd, baseLogger)
			if err != nil {
				return err
			}
			defer closeKernel(kernel, logger)

			out := &syncWriter{w: cmd.OutOrStdout()}
			out.printf("%s: %d cars, %d stages each\n", name, len(field), kernel.Config().TrackStages)
			report, err := kernel.Race(cmd.Context(), name, field, stagePrinter(out))
			printReport(out, report)
			return err
		},
	}
	cmd.Flags().StringSliceVar(&cars, "cars", []string{"Ferrari", "Lamborghini", "Porsche"}, "comma-separated participant names")
	cmd.Flags().StringVar(&name, "track", "common-section", "track section name")
	return cmd
}
