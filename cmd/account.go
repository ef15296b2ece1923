package main

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// accountCommands groups the settlement-network account utilities.
// These talk straight to the configured backend and never touch the
// ledger; they exist for operators inspecting or topping up accounts.
func accountCommands(b *settlrInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "inspect settlement network accounts",
	}

	cmd.AddCommand(accountBalanceCommand(b))
	cmd.AddCommand(accountFundCommand(b))

	return cmd
}

func accountBalanceCommand(b *settlrInstance) *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "balance",
		Short: "show the settlement balance of an account",
		Run: func(cmd *cobra.Command, args []string) {
			if account == "" {
				log.Fatal("--account is required")
			}

			balance, err := b.settlr.Backend().CheckBalance(context.Background(), account)
			if err != nil {
				log.Fatalf("Error checking balance: %v", err)
			}

			fmt.Printf("%s: %s\n", account, balance.String())
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "settlement account id")

	return cmd
}

func accountFundCommand(b *settlrInstance) *cobra.Command {
	var account string
	var amount string

	cmd := &cobra.Command{
		Use:   "fund",
		Short: "fund a settlement account on test networks",
		Run: func(cmd *cobra.Command, args []string) {
			if account == "" || amount == "" {
				log.Fatal("--account and --amount are required")
			}

			value, err := decimal.NewFromString(amount)
			if err != nil {
				log.Fatalf("Invalid amount %q: %v", amount, err)
			}

			if err := b.settlr.Backend().Fund(context.Background(), account, value); err != nil {
				log.Fatalf("Error funding account: %v", err)
			}

			fmt.Printf("Funded %s with %s\n", account, value.String())
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "settlement account id")
	cmd.Flags().StringVar(&amount, "amount", "", "amount to fund")

	return cmd
}
