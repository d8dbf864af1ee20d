package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sitesmith/sitesmith/server/internal/billing"
	"github.com/sitesmith/sitesmith/server/internal/store"
)

func newCreditsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and adjust user credit balances",
	}
	cmd.AddCommand(newCreditsShowCmd())
	cmd.AddCommand(newCreditsGrantCmd())
	return cmd
}

func newCreditsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a user's balance and recent ledger entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			limit, _ := cmd.Flags().GetInt("limit")

			return withStore(cmd, func(ctx context.Context, s store.Store) error {
				user, err := lookupUser(ctx, s, email)
				if err != nil {
					return err
				}
				txs, err := s.ListCreditTransactions(ctx, user.ID, limit, 0)
				if err != nil {
					return fmt.Errorf("list transactions: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%s: %d credits", user.Email, user.Credits)))
				for _, tx := range txs {
					line := fmt.Sprintf("%s  %+6d  %6d  %-16s %s", tx.CreatedAt.Format("2006-01-02 15:04"), tx.Delta, tx.Balance, tx.Reason, tx.Reference)
					fmt.Fprintln(out, mutedStyle.Render(line))
				}
				return nil
			})
		},
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().Int("limit", 20, "number of ledger entries to print")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newCreditsGrantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Add (or with a negative amount, remove) credits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			amount, _ := cmd.Flags().GetInt("amount")
			reason, _ := cmd.Flags().GetString("reason")
			if amount == 0 {
				return errors.New("--amount must not be zero")
			}

			return withStore(cmd, func(ctx context.Context, s store.Store) error {
				user, err := lookupUser(ctx, s, email)
				if err != nil {
					return err
				}
				svc := billing.NewService(billing.Options{Store: s})
				balance, err := svc.GrantCredits(ctx, user.ID, amount, reason)
				if errors.Is(err, store.ErrInsufficientCredits) {
					return fmt.Errorf("%s has only %d credits", user.Email, user.Credits)
				}
				if err != nil {
					return fmt.Errorf("grant credits: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("%s now has %d credits", user.Email, balance)))
				return nil
			})
		},
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().Int("amount", 0, "credits to add, negative to remove")
	cmd.Flags().String("reason", store.ReasonAdmin, "ledger reason")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// withStore opens the configured store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, s store.Store) error) error {
	cfg, _, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	s, err := store.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()
	return fn(cmd.Context(), s)
}

func lookupUser(ctx context.Context, s store.Store, email string) (*store.User, error) {
	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("no user with email %q", email)
	}
	return user, nil
}
