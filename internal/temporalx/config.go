package temporalx

import (
	"time"

	"github.com/yungbote/objective-cascade/internal/platform/envutil"
)

type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`

	ClientCertPath string `yaml:"client_cert_path"`
	ClientKeyPath  string `yaml:"client_key_path"`
	ClientCAPath   string `yaml:"client_ca_path"`

	AutoRegisterNamespace bool          `yaml:"auto_register_namespace"`
	RetentionDays         int           `yaml:"retention_days"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	DialMaxWait           time.Duration `yaml:"dial_max_wait"`
	Backoff               time.Duration `yaml:"backoff"`
	BackoffMax            time.Duration `yaml:"backoff_max"`
	WorkerConcurrency     int           `yaml:"worker_concurrency"`
}

// LoadConfig overlays TEMPORAL_* environment variables on base and fills defaults.
func LoadConfig(base Config) Config {
	cfg := base
	cfg.Enabled = envutil.Bool("TEMPORAL_ENABLED", cfg.Enabled)
	cfg.Address = envutil.String("TEMPORAL_ADDRESS", cfg.Address)
	cfg.Namespace = envutil.String("TEMPORAL_NAMESPACE", or(cfg.Namespace, "objective-cascade"))
	cfg.TaskQueue = envutil.String("TEMPORAL_TASK_QUEUE", or(cfg.TaskQueue, "cascade-pipeline"))

	cfg.ClientCertPath = envutil.String("TEMPORAL_CLIENT_CERT_PATH", cfg.ClientCertPath)
	cfg.ClientKeyPath = envutil.String("TEMPORAL_CLIENT_KEY_PATH", cfg.ClientKeyPath)
	cfg.ClientCAPath = envutil.String("TEMPORAL_CLIENT_CA_PATH", cfg.ClientCAPath)

	cfg.AutoRegisterNamespace = envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", cfg.AutoRegisterNamespace)
	cfg.RetentionDays = envutil.Int("TEMPORAL_NAMESPACE_RETENTION_DAYS", cfg.RetentionDays)
	if cfg.RetentionDays < 1 || cfg.RetentionDays > 365 {
		cfg.RetentionDays = 7
	}
	cfg.DialTimeout = envutil.Duration("TEMPORAL_DIAL_TIMEOUT", orDur(cfg.DialTimeout, 5*time.Second))
	cfg.DialMaxWait = envutil.Duration("TEMPORAL_DIAL_MAX_WAIT", orDur(cfg.DialMaxWait, time.Minute))
	cfg.Backoff = envutil.Duration("TEMPORAL_DIAL_BACKOFF", orDur(cfg.Backoff, 250*time.Millisecond))
	cfg.BackoffMax = envutil.Duration("TEMPORAL_DIAL_BACKOFF_MAX", orDur(cfg.BackoffMax, 5*time.Second))
	cfg.WorkerConcurrency = envutil.Int("WORKER_CONCURRENCY", cfg.WorkerConcurrency)
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 4
	}
	return cfg
}

func (c Config) mTLS() bool {
	return c.ClientCertPath != "" || c.ClientKeyPath != "" || c.ClientCAPath != ""
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDur(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
