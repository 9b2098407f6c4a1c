package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"latch/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigNewCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))

	return configCmd
}

func newConfigNewCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "new",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set webhook_secret (or export LATCH_WEBHOOK_SECRET) before starting latchd.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			secret := "(not set)"
			if cfg.Server.WebhookSecret != "" {
				secret = "(set)"
			}
			token := "(not set)"
			if cfg.Server.APIToken != "" {
				token = "(set)"
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"SETTING", "VALUE"},
				[][]string{
					{"paths.data_dir", cfg.Paths.DataDir},
					{"paths.log_dir", cfg.Paths.LogDir},
					{"server.bind", cfg.Server.Bind},
					{"server.api_token", token},
					{"server.webhook_secret", secret},
					{"server.webhook_tolerance_seconds", fmt.Sprintf("%d", cfg.Server.WebhookToleranceSeconds)},
					{"queue.poll_interval", fmt.Sprintf("%d", cfg.Queue.PollInterval)},
					{"queue.error_retry_interval", fmt.Sprintf("%d", cfg.Queue.ErrorRetryInterval)},
					{"queue.workers", fmt.Sprintf("%d", cfg.Queue.Workers)},
					{"queue.max_attempts", fmt.Sprintf("%d", cfg.Queue.MaxAttempts)},
					{"queue.retry_backoff_base", fmt.Sprintf("%d", cfg.Queue.RetryBackoffBase)},
					{"queue.stale_processing_timeout", fmt.Sprintf("%d", cfg.Queue.StaleProcessingTimeout)},
					{"queue.reclaim_interval", fmt.Sprintf("%d", cfg.Queue.ReclaimInterval)},
					{"queue.lock_ttl", fmt.Sprintf("%d", cfg.Queue.LockTTL)},
					{"logging.format", cfg.Logging.Format},
					{"logging.level", cfg.Logging.Level},
				},
			))
			return nil
		},
	}
}
