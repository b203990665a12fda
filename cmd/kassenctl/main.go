package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/Kassenwart/internal/pkg/bootstrap"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/cache"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/database"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/env"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "kassenctl",
		Short:         "Kassenwart operator tool",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(markPaidCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(recalcDebtCmd())
	rootCmd.AddCommand(webhooksCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withServices connects to the database and cache and runs fn with the
// wired services. Sweep tickers stay off; only the event dispatcher runs
// so settlement events are still published.
func withServices(fn func(ctx context.Context, s *bootstrap.Services) error) error {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	ctx := context.Background()
	services, err := bootstrap.New(ctx, database.GetDB(), cache.GetClient())
	if err != nil {
		return err
	}
	services.Start(false)
	defer services.Stop()

	return fn(ctx, services)
}
