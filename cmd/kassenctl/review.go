package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/Kassenwart/app/models"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/bootstrap"
)

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Inspect and resolve the review queue",
	}
	cmd.AddCommand(reviewListCmd())
	cmd.AddCommand(reviewResolveCmd())
	return cmd
}

func reviewListCmd() *cobra.Command {
	var status, kind string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List review items",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status == "all" {
				status = ""
			}
			return withServices(func(ctx context.Context, s *bootstrap.Services) error {
				items, err := s.Repos.ReviewItem.List(status, kind, 0, limit)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(items)
				}
				if len(items) == 0 {
					fmt.Println("No review items.")
					return nil
				}
				rows := make([][]string, 0, len(items))
				for _, it := range items {
					rows = append(rows, []string{
						strconv.FormatUint(uint64(it.ID), 10),
						it.Kind,
						it.Status,
						it.InvoiceID,
						it.Reference,
						it.CreatedAt.Format(time.RFC3339),
					})
				}
				printTable([]string{"ID", "KIND", "STATUS", "INVOICE", "REFERENCE", "CREATED"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", models.ReviewStatusOpen, "open, resolved or all")
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Filter by kind")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum results")
	return cmd
}

func reviewResolveCmd() *cobra.Command {
	var actor, note string
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark a review item resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid review item id %q", args[0])
			}
			return withServices(func(ctx context.Context, s *bootstrap.Services) error {
				resolved, err := s.Repos.ReviewItem.Resolve(uint(id), actor, note, time.Now().UTC())
				if err != nil {
					return err
				}
				if !resolved {
					fmt.Printf("Review item %d was already resolved\n", id)
					return nil
				}
				fmt.Printf("Review item %d resolved by %s\n", id, actor)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "kassenctl", "Who resolved the item")
	cmd.Flags().StringVar(&note, "note", "", "Resolution note")
	return cmd
}
