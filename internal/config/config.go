package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL string
	WorkerID    string
	LogLevel    string

	// SiteName is reported in every webhook payload.
	SiteName string

	// Verification worker pacing.
	PollInterval    time.Duration
	DequeueBatch    int
	StaleTimeout    time.Duration
	MaxRetries      int
	VerifyTimeout   time.Duration // hard cap on one verifier call
	FetchTimeout    time.Duration // page fetch inside the verifier
	LivenessTimeout time.Duration // anti-fraud HEAD/GET probe
	JobDelayMin     time.Duration // pause between jobs, lower bound
	JobDelayMax     time.Duration // pause between jobs, upper bound

	// Webhook delivery.
	WebhookTimeout     time.Duration
	WebhookMaxAttempts int
	DispatchInterval   time.Duration

	// Aggregate stats re-broadcast.
	BroadcastCron   string
	BroadcastWindow time.Duration

	// Ops HTTP server.
	OpsAddr  string
	OpsToken string

	ShutdownTimeout time.Duration
}

func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.DatabaseURL, "dsn", c.DatabaseURL, "Database connection string")
	fs.StringVar(&c.WorkerID, "worker-id", c.WorkerID, "Unique worker ID")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug|info|warn|error)")
	fs.StringVar(&c.SiteName, "site-name", c.SiteName, "Site name reported in webhook payloads")
	fs.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "Interval between worker cycles")
	fs.IntVar(&c.DequeueBatch, "dequeue-batch", c.DequeueBatch, "Max jobs per worker cycle")
	fs.DurationVar(&c.StaleTimeout, "stale-timeout", c.StaleTimeout, "Age after which unfinished jobs are force-failed")
	fs.IntVar(&c.MaxRetries, "max-retries", c.MaxRetries, "Retry count at which jobs stop being dequeued")
	fs.DurationVar(&c.VerifyTimeout, "verify-timeout", c.VerifyTimeout, "Hard timeout for one verification call")
	fs.DurationVar(&c.DispatchInterval, "dispatch-interval", c.DispatchInterval, "Webhook dispatcher poll interval")
	fs.StringVar(&c.BroadcastCron, "broadcast-cron", c.BroadcastCron, "Cron expression for the stats re-broadcast")
	fs.StringVar(&c.OpsAddr, "ops-addr", c.OpsAddr, "HTTP address for health/metrics")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "Time to wait for the in-flight job on shutdown")
}

// Defaults returns the built-in configuration. Layering order is
// defaults, then config file, then environment, then flags.
func Defaults() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		WorkerID: fmt.Sprintf("worker-%s-%d", hostname, time.Now().Unix()),
		LogLevel: "info",
		SiteName: "clippay",

		PollInterval:    5 * time.Second,
		DequeueBatch:    5,
		StaleTimeout:    5 * time.Minute,
		MaxRetries:      3,
		VerifyTimeout:   300 * time.Second,
		FetchTimeout:    15 * time.Second,
		LivenessTimeout: 10 * time.Second,
		JobDelayMin:     3 * time.Second,
		JobDelayMax:     8 * time.Second,

		WebhookTimeout:     30 * time.Second,
		WebhookMaxAttempts: 3,
		DispatchInterval:   time.Second,

		BroadcastCron:   "0 * * * *",
		BroadcastWindow: 24 * time.Hour,

		OpsAddr: ":8080",

		ShutdownTimeout: 30 * time.Second,
	}
}

// ApplyEnv overlays environment variables onto the config. Unset variables
// leave the current value alone.
func (c *Config) ApplyEnv() {
	c.DatabaseURL = envString("DATABASE_URL", c.DatabaseURL)
	c.WorkerID = envString("WORKER_ID", c.WorkerID)
	c.LogLevel = envString("LOG_LEVEL", c.LogLevel)
	c.SiteName = envString("SITE_NAME", c.SiteName)

	c.PollInterval = envDuration("POLL_INTERVAL", c.PollInterval)
	c.DequeueBatch = envInt("DEQUEUE_BATCH", c.DequeueBatch)
	c.StaleTimeout = envDuration("STALE_TIMEOUT", c.StaleTimeout)
	c.MaxRetries = envInt("MAX_RETRIES", c.MaxRetries)
	c.VerifyTimeout = envDuration("VERIFY_TIMEOUT", c.VerifyTimeout)
	c.FetchTimeout = envDuration("FETCH_TIMEOUT", c.FetchTimeout)
	c.LivenessTimeout = envDuration("LIVENESS_TIMEOUT", c.LivenessTimeout)
	c.JobDelayMin = envDuration("JOB_DELAY_MIN", c.JobDelayMin)
	c.JobDelayMax = envDuration("JOB_DELAY_MAX", c.JobDelayMax)

	c.WebhookTimeout = envDuration("WEBHOOK_TIMEOUT", c.WebhookTimeout)
	c.WebhookMaxAttempts = envInt("WEBHOOK_MAX_ATTEMPTS", c.WebhookMaxAttempts)
	c.DispatchInterval = envDuration("DISPATCH_INTERVAL", c.DispatchInterval)

	c.BroadcastCron = envString("BROADCAST_CRON", c.BroadcastCron)
	c.BroadcastWindow = envDuration("BROADCAST_WINDOW", c.BroadcastWindow)

	c.OpsAddr = envString("OPS_ADDR", c.OpsAddr)
	c.OpsToken = envString("OPS_TOKEN", c.OpsToken)

	c.ShutdownTimeout = envDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
}

// Validate runs after all layers are applied.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database DSN is required (DATABASE_URL, config file, or --dsn)")
	}
	if c.JobDelayMax < c.JobDelayMin {
		return fmt.Errorf("JOB_DELAY_MAX must be >= JOB_DELAY_MIN")
	}
	return nil
}

// Load is the env-only path: defaults overlaid with the environment.
func Load() (*Config, error) {
	cfg := Defaults()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
