package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAccountsCommand(ctx *commandContext) *cobra.Command {
	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage billing accounts",
	}

	accountsCmd.AddCommand(newAccountsCreateCommand(ctx))
	accountsCmd.AddCommand(newAccountsShowCommand(ctx))

	return accountsCmd
}

func newAccountsCreateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "create <email>",
		Short: "Create an account on the free plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, err := ctx.accountStore()
			if err != nil {
				return err
			}
			acct, err := accounts.Create(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created account %s (%s).\n", acct.ID, acct.Email)
			return nil
		},
	}
}

func newAccountsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, err := ctx.accountStore()
			if err != nil {
				return err
			}
			acct, err := accounts.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"FIELD", "VALUE"},
				[][]string{
					{"ID", acct.ID},
					{"Email", acct.Email},
					{"Plan", acct.Plan},
					{"Credits", fmt.Sprintf("%d", acct.Credits)},
					{"Subscription", acct.SubscriptionStatus},
					{"Version", fmt.Sprintf("%d", acct.Version)},
					{"Updated", acct.UpdatedAt.Format("2006-01-02 15:04:05")},
				},
			))
			return nil
		},
	}
}
