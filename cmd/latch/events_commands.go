package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"latch/internal/events"
)

func newEventsCommand(ctx *commandContext) *cobra.Command {
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect and manage queued billing events",
	}

	eventsCmd.AddCommand(newEventsListCommand(ctx))
	eventsCmd.AddCommand(newEventsAddCommand(ctx))
	eventsCmd.AddCommand(newEventsRetryCommand(ctx))
	eventsCmd.AddCommand(newEventsPurgeCommand(ctx))

	return eventsCmd
}

func newEventsListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := ctx.queueStore()
			if err != nil {
				return err
			}

			list, err := queue.List(cmd.Context(), events.Status(strings.TrimSpace(statusFilter)), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No events found.")
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, ev := range list {
				nextRetry := "-"
				if ev.NextRetryAt != nil {
					nextRetry = ev.NextRetryAt.Format(time.RFC3339)
				}
				rows = append(rows, []string{
					ev.ID,
					ev.Type,
					string(ev.Status),
					fmt.Sprintf("%d/%d", ev.Attempts, ev.MaxAttempts),
					nextRetry,
					truncate(ev.ErrorMessage, 48),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "TYPE", "STATUS", "ATTEMPTS", "NEXT RETRY", "LAST ERROR"},
				rows,
				"ATTEMPTS",
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (pending, processing, done, failed)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of events to list")
	return cmd
}

func newEventsAddCommand(ctx *commandContext) *cobra.Command {
	var id string
	var payload string
	var maxAttempts int

	cmd := &cobra.Command{
		Use:   "add <type>",
		Short: "Inject an event directly into the queue",
		Long: "Inject an event without going through the webhook receiver, " +
			"for local testing and replaying deliveries the provider has given up on.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := ctx.queueStore()
			if err != nil {
				return err
			}

			body := strings.TrimSpace(payload)
			if body == "" {
				body = "{}"
			}
			if !json.Valid([]byte(body)) {
				return fmt.Errorf("payload is not valid JSON")
			}

			eventID := strings.TrimSpace(id)
			if eventID == "" {
				eventID = "manual:" + uuid.NewString()
			}

			ev, inserted, err := queue.Enqueue(cmd.Context(), eventID, args[0], []byte(body), maxAttempts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !inserted {
				fmt.Fprintf(out, "Event %s already queued (status %s); nothing added.\n", ev.ID, ev.Status)
				return nil
			}
			fmt.Fprintf(out, "Queued event %s (%s).\n", ev.ID, ev.Type)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Idempotency id (defaults to a generated manual id)")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON payload for the event")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Attempt budget for this event (defaults to the configured value)")
	return cmd
}

func newEventsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Reset a failed event for another round of attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := ctx.queueStore()
			if err != nil {
				return err
			}
			ev, err := queue.RetryFailed(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Event %s reset to pending.\n", ev.ID)
			return nil
		},
	}
}

func newEventsPurgeCommand(ctx *commandContext) *cobra.Command {
	var purgeFailed bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete completed events (or failed ones with --failed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := ctx.queueStore()
			if err != nil {
				return err
			}

			var removed int64
			if purgeFailed {
				removed, err = queue.PurgeFailed(cmd.Context())
			} else {
				removed, err = queue.PurgeDone(cmd.Context())
			}
			if err != nil {
				return err
			}

			kind := "completed"
			if purgeFailed {
				kind = "failed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s %s event(s).\n", strconv.FormatInt(removed, 10), kind)
			return nil
		},
	}

	cmd.Flags().BoolVar(&purgeFailed, "failed", false, "Purge failed events instead of completed ones")
	return cmd
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
