package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

const (
	ansiReset = "\x1b[0m"
	ansiGreen = "\x1b[32m"
	ansiRed   = "\x1b[31m"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show database and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			queue, err := ctx.queueStore()
			if err != nil {
				return err
			}
			accounts, err := ctx.accountStore()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			reachable := "reachable"
			if pingErr := st.Ping(cmd.Context()); pingErr != nil {
				reachable = "unreachable: " + pingErr.Error()
				if colorize {
					reachable = ansiRed + reachable + ansiReset
				}
			} else if colorize {
				reachable = ansiGreen + reachable + ansiReset
			}

			stats, err := queue.Stats(cmd.Context())
			if err != nil {
				return err
			}
			accountCount, err := accounts.Count(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Database:  %s (%s)\n", st.Path(), reachable)
			fmt.Fprintf(out, "Accounts:  %d\n\n", accountCount)
			fmt.Fprintln(out, renderTable(
				[]string{"PENDING", "PROCESSING", "DONE", "FAILED", "TOTAL"},
				[][]string{{
					strconv.FormatInt(stats.Pending, 10),
					strconv.FormatInt(stats.Processing, 10),
					strconv.FormatInt(stats.Done, 10),
					strconv.FormatInt(stats.Failed, 10),
					strconv.FormatInt(stats.Total(), 10),
				}},
				"PENDING", "PROCESSING", "DONE", "FAILED", "TOTAL",
			))
			return nil
		},
	}
}
