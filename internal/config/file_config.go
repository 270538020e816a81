package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var defaultConfigFilenames = []string{
	"clippay.yaml",
	"clippay.yml",
	"clippay.toml",
	".clippay.yaml",
	".clippay.yml",
	".clippay.toml",
}

type FileConfig struct {
	DSN       string              `yaml:"dsn" toml:"dsn"`
	SiteName  string              `yaml:"site_name" toml:"site_name"`
	Worker    WorkerFileConfig    `yaml:"worker" toml:"worker"`
	Webhook   WebhookFileConfig   `yaml:"webhook" toml:"webhook"`
	Broadcast BroadcastFileConfig `yaml:"broadcast" toml:"broadcast"`
	Ops       OpsFileConfig       `yaml:"ops" toml:"ops"`
}

type WorkerFileConfig struct {
	WorkerID      string `yaml:"worker_id" toml:"worker_id"`
	LogLevel      string `yaml:"log_level" toml:"log_level"`
	PollInterval  string `yaml:"poll_interval" toml:"poll_interval"`
	DequeueBatch  *int   `yaml:"dequeue_batch" toml:"dequeue_batch"`
	StaleTimeout  string `yaml:"stale_timeout" toml:"stale_timeout"`
	MaxRetries    *int   `yaml:"max_retries" toml:"max_retries"`
	VerifyTimeout string `yaml:"verify_timeout" toml:"verify_timeout"`
	FetchTimeout  string `yaml:"fetch_timeout" toml:"fetch_timeout"`
	JobDelayMin   string `yaml:"job_delay_min" toml:"job_delay_min"`
	JobDelayMax   string `yaml:"job_delay_max" toml:"job_delay_max"`
}

type WebhookFileConfig struct {
	Timeout          string `yaml:"timeout" toml:"timeout"`
	MaxAttempts      *int   `yaml:"max_attempts" toml:"max_attempts"`
	DispatchInterval string `yaml:"dispatch_interval" toml:"dispatch_interval"`
}

type BroadcastFileConfig struct {
	Cron   string `yaml:"cron" toml:"cron"`
	Window string `yaml:"window" toml:"window"`
}

type OpsFileConfig struct {
	Addr  string `yaml:"addr" toml:"addr"`
	Token string `yaml:"token" toml:"token"`
}

func ResolveConfigPath(args []string) (string, error) {
	path, ok, err := parseConfigFlag(args)
	if err != nil {
		return "", err
	}
	if ok {
		return path, nil
	}
	if env := os.Getenv("CLIPPAY_CONFIG"); env != "" {
		return env, nil
	}
	for _, name := range defaultConfigFilenames {
		if fileExists(name) {
			return name, nil
		}
	}
	return "", nil
}

func LoadFileConfig(path string) (*FileConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse toml config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config extension: %s", filepath.Ext(path))
	}

	return &cfg, nil
}

func ApplyFileConfig(cfg *Config, fileCfg *FileConfig) error {
	if fileCfg == nil {
		return nil
	}

	if fileCfg.DSN != "" {
		cfg.DatabaseURL = fileCfg.DSN
	}
	if fileCfg.SiteName != "" {
		cfg.SiteName = fileCfg.SiteName
	}

	if fileCfg.Worker.WorkerID != "" {
		cfg.WorkerID = fileCfg.Worker.WorkerID
	}
	if fileCfg.Worker.LogLevel != "" {
		cfg.LogLevel = fileCfg.Worker.LogLevel
	}
	if err := applyDuration(&cfg.PollInterval, "worker.poll_interval", fileCfg.Worker.PollInterval); err != nil {
		return err
	}
	if fileCfg.Worker.DequeueBatch != nil {
		cfg.DequeueBatch = *fileCfg.Worker.DequeueBatch
	}
	if err := applyDuration(&cfg.StaleTimeout, "worker.stale_timeout", fileCfg.Worker.StaleTimeout); err != nil {
		return err
	}
	if fileCfg.Worker.MaxRetries != nil {
		cfg.MaxRetries = *fileCfg.Worker.MaxRetries
	}
	if err := applyDuration(&cfg.VerifyTimeout, "worker.verify_timeout", fileCfg.Worker.VerifyTimeout); err != nil {
		return err
	}
	if err := applyDuration(&cfg.FetchTimeout, "worker.fetch_timeout", fileCfg.Worker.FetchTimeout); err != nil {
		return err
	}
	if err := applyDuration(&cfg.JobDelayMin, "worker.job_delay_min", fileCfg.Worker.JobDelayMin); err != nil {
		return err
	}
	if err := applyDuration(&cfg.JobDelayMax, "worker.job_delay_max", fileCfg.Worker.JobDelayMax); err != nil {
		return err
	}
	if cfg.JobDelayMax < cfg.JobDelayMin {
		return fmt.Errorf("worker.job_delay_max must be >= worker.job_delay_min")
	}

	if err := applyDuration(&cfg.WebhookTimeout, "webhook.timeout", fileCfg.Webhook.Timeout); err != nil {
		return err
	}
	if fileCfg.Webhook.MaxAttempts != nil {
		cfg.WebhookMaxAttempts = *fileCfg.Webhook.MaxAttempts
	}
	if err := applyDuration(&cfg.DispatchInterval, "webhook.dispatch_interval", fileCfg.Webhook.DispatchInterval); err != nil {
		return err
	}

	if fileCfg.Broadcast.Cron != "" {
		cfg.BroadcastCron = fileCfg.Broadcast.Cron
	}
	if err := applyDuration(&cfg.BroadcastWindow, "broadcast.window", fileCfg.Broadcast.Window); err != nil {
		return err
	}

	if fileCfg.Ops.Addr != "" {
		cfg.OpsAddr = fileCfg.Ops.Addr
	}
	if fileCfg.Ops.Token != "" {
		cfg.OpsToken = fileCfg.Ops.Token
	}

	return nil
}

func applyDuration(dst *time.Duration, field, value string) error {
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	*dst = parsed
	return nil
}

func parseConfigFlag(args []string) (string, bool, error) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" || arg == "-config" {
			if i+1 >= len(args) || args[i+1] == "" {
				return "", true, fmt.Errorf("missing value for --config")
			}
			return args[i+1], true, nil
		}
		if strings.HasPrefix(arg, "--config=") {
			value := strings.TrimPrefix(arg, "--config=")
			if value == "" {
				return "", true, fmt.Errorf("missing value for --config")
			}
			return value, true, nil
		}
	}
	return "", false, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
