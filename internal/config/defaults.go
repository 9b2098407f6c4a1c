package config

const (
	defaultDataDir = "~/.local/share/latch"
	defaultLogDir  = "~/.local/share/latch/logs"

	defaultBind                    = "127.0.0.1:8480"
	defaultWebhookToleranceSeconds = 300

	defaultQueuePollInterval       = 5
	defaultQueueErrorRetryInterval = 10
	defaultQueueWorkers            = 2
	defaultQueueMaxAttempts        = 5
	defaultRetryBackoffBase        = 2
	defaultStaleProcessingTimeout  = 120
	defaultReclaimInterval         = 30
	defaultLockTTL                 = 30

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Server: Server{
			Bind:                    defaultBind,
			WebhookToleranceSeconds: defaultWebhookToleranceSeconds,
		},
		Queue: Queue{
			PollInterval:           defaultQueuePollInterval,
			ErrorRetryInterval:     defaultQueueErrorRetryInterval,
			Workers:                defaultQueueWorkers,
			MaxAttempts:            defaultQueueMaxAttempts,
			RetryBackoffBase:       defaultRetryBackoffBase,
			StaleProcessingTimeout: defaultStaleProcessingTimeout,
			ReclaimInterval:        defaultReclaimInterval,
			LockTTL:                defaultLockTTL,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
