package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/Kassenwart/internal/pkg/bootstrap"
)

func webhooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Inspect and replay stored webhook deliveries",
	}
	cmd.AddCommand(webhooksFailedCmd())
	cmd.AddCommand(webhooksReplayCmd())
	return cmd
}

func webhooksFailedCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List deliveries whose processing failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(func(ctx context.Context, s *bootstrap.Services) error {
				evs, err := s.Repos.WebhookEvent.ListFailed(0, limit)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(evs)
				}
				rows := make([][]string, 0, len(evs))
				for _, ev := range evs {
					rows = append(rows, []string{
						strconv.FormatUint(uint64(ev.ID), 10),
						ev.Provider,
						ev.ProviderEventID,
						ev.EventType,
						ev.ProcessingError,
					})
				}
				printTable([]string{"ID", "PROVIDER", "EVENT", "TYPE", "ERROR"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum results")
	return cmd
}

func webhooksReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <id>",
		Short: "Process a stored delivery again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid webhook event id %q", args[0])
			}
			return withServices(func(ctx context.Context, s *bootstrap.Services) error {
				res, err := s.Billing.ReplayWebhookEvent(ctx, uint(id))
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(res)
				}
				fmt.Printf("Webhook %d replayed: %s (invoice %s)\n", id, res.Outcome, res.InvoiceID)
				return nil
			})
		},
	}
}
