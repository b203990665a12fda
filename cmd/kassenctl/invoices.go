package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ManuelReschke/Kassenwart/internal/pkg/bootstrap"
	"github.com/ManuelReschke/Kassenwart/internal/pkg/settlement"
)

func issueCmd() *cobra.Command {
	var (
		invoiceID, memberName, period, amount, currency, due string
	)
	cmd := &cobra.Command{
		Use:   "issue <member-id>",
		Short: "Issue a pending invoice and raise the member debt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount %q: %w", amount, err)
			}
			dueDate, err := time.Parse("2006-01-02", due)
			if err != nil {
				return fmt.Errorf("invalid --due %q, want YYYY-MM-DD: %w", due, err)
			}

			return withServices(func(ctx context.Context, s *bootstrap.Services) error {
				inv, err := s.Engine.IssueInvoice(ctx, settlement.IssueInvoiceInput{
					InvoiceID:  invoiceID,
					MemberID:   args[0],
					MemberName: memberName,
					Period:     period,
					Amount:     amt,
					Currency:   currency,
					DueDate:    dueDate,
				})
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(inv)
				}
				fmt.Printf("Issued invoice %s for %s (%s %s, due %s)\n",
					inv.ID, inv.MemberID, inv.AmountDue.StringFixed(2), inv.Currency, inv.DueDate.Format("2006-01-02"))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&invoiceID, "id", "", "Invoice id (generated when empty)")
	cmd.Flags().StringVar(&memberName, "name", "", "Member display name")
	cmd.Flags().StringVarP(&period, "period", "p", "", "Billing period, e.g. 2026-10")
	cmd.Flags().StringVarP(&amount, "amount", "a", "", "Amount due")
	cmd.Flags().StringVar(&currency, "currency", "", "ISO currency code")
	cmd.Flags().StringVar(&due, "due", "", "Due date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("period")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("due")

	return cmd
}

func markPaidCmd() *cobra.Command {
	var actor, note string
	cmd := &cobra.Command{
		Use:   "mark-paid <invoice-id>",
		Short: "Settle an invoice by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(func(ctx context.Context, s *bootstrap.Services) error {
				res, err := s.Billing.MarkPaid(ctx, args[0], actor, note)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(res)
				}
				fmt.Printf("Invoice %s: %s (payment %s)\n", res.InvoiceID, res.Outcome, res.PaymentID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "kassenctl", "Who settled the invoice")
	cmd.Flags().StringVar(&note, "note", "", "Free text kept with the payment")
	return cmd
}

func recalcDebtCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recalc-debt <member-id>",
		Short: "Recompute a member's debt from their unpaid invoices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(func(ctx context.Context, s *bootstrap.Services) error {
				before, after, err := s.Engine.RecalculateMemberDebt(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(map[string]interface{}{
						"member_id": args[0],
						"before":    before,
						"after":     after,
					})
				}
				fmt.Printf("Member %s debt: %s -> %s\n", args[0], before.StringFixed(2), after.StringFixed(2))
				return nil
			})
		},
	}
}
