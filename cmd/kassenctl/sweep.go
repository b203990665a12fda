package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/Kassenwart/internal/pkg/bootstrap"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/sweeper"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sweep <" + sweeper.KindOverdue + "|" + sweeper.KindReconcile + ">",
		Short:     "Run one sweep pass now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{sweeper.KindOverdue, sweeper.KindReconcile},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(func(ctx context.Context, s *bootstrap.Services) error {
				rep, err := s.Sweeps.RunNow(ctx, strings.ToLower(args[0]))
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(rep)
				}
				fmt.Printf("Sweep %s finished in %s\n", rep.Kind, rep.Duration)
				fmt.Printf("  Scanned:         %d\n", rep.Scanned)
				fmt.Printf("  Transitioned:    %d\n", rep.Transitioned)
				fmt.Printf("  Already settled: %d\n", rep.AlreadySettled)
				fmt.Printf("  Unresolved:      %d\n", rep.Unresolved)
				fmt.Printf("  Failed:          %d\n", rep.Failed)
				return nil
			})
		},
	}
}
