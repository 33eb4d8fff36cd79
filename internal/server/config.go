package server

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverNATS     = "nats"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds server configuration. Values come from built-in defaults,
// then the YAML file named by OJS_CONFIG_FILE, then environment variables.
type Config struct {
	Port     string `yaml:"port"`
	GRPCPort string `yaml:"grpc_port"`

	Driver      string `yaml:"driver"`
	NatsURL     string `yaml:"nats_url"`
	PostgresDSN string `yaml:"postgres_dsn"`

	BucketPrefix    string `yaml:"bucket_prefix"`
	JobsBucket      string `yaml:"jobs_bucket"`
	TriggersBucket  string `yaml:"triggers_bucket"`
	CalendarsBucket string `yaml:"calendars_bucket"`
	KVReplicas      int    `yaml:"kv_replicas"`
	// EventRetention is how long scheduling events stay in the events
	// stream. Zero disables the stream.
	EventRetention time.Duration `yaml:"event_retention"`

	InstanceID       string        `yaml:"instance_id"`
	InstanceName     string        `yaml:"instance_name"`
	Clustered        bool          `yaml:"clustered"`
	MisfireThreshold time.Duration `yaml:"misfire_threshold"`
	LockTimeout      time.Duration `yaml:"lock_timeout"`

	Scheduler      bool          `yaml:"scheduler"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ThreadPoolSize int           `yaml:"thread_pool_size"`
	BatchSize      int           `yaml:"batch_size"`
	BatchWindow    time.Duration `yaml:"batch_window"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Port:             "8080",
		GRPCPort:         "9090",
		Driver:           DriverNATS,
		NatsURL:          "nats://localhost:4222",
		BucketPrefix:     "ojs",
		KVReplicas:       1,
		EventRetention:   24 * time.Hour,
		InstanceID:       "AUTO",
		InstanceName:     "ojs-jobstore",
		Clustered:        true,
		MisfireThreshold: time.Minute,
		LockTimeout:      10 * time.Minute,
		Scheduler:        true,
		PollInterval:     30 * time.Second,
		ThreadPoolSize:   10,
		BatchSize:        1,
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     30 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  30 * time.Second,
		LogLevel:         "INFO",
		LogFormat:        "json",
	}
}

// LoadConfig reads configuration from the optional YAML file and the
// environment.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv("OJS_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.loadEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	c.Port = getEnv("OJS_PORT", c.Port)
	c.GRPCPort = getEnv("OJS_GRPC_PORT", c.GRPCPort)
	c.Driver = getEnv("OJS_JOBSTORE_DRIVER", c.Driver)
	c.NatsURL = getEnv("NATS_URL", c.NatsURL)
	c.PostgresDSN = getEnv("DATABASE_URL", c.PostgresDSN)
	c.BucketPrefix = getEnv("OJS_JOBSTORE_PREFIX", c.BucketPrefix)
	c.JobsBucket = getEnv("OJS_JOBS_BUCKET", c.JobsBucket)
	c.TriggersBucket = getEnv("OJS_TRIGGERS_BUCKET", c.TriggersBucket)
	c.CalendarsBucket = getEnv("OJS_CALENDARS_BUCKET", c.CalendarsBucket)
	c.KVReplicas = getEnvInt("OJS_KV_REPLICAS", c.KVReplicas)
	c.EventRetention = getEnvDuration("OJS_EVENT_RETENTION", c.EventRetention)
	c.InstanceID = getEnv("OJS_INSTANCE_ID", c.InstanceID)
	c.InstanceName = getEnv("OJS_INSTANCE_NAME", c.InstanceName)
	c.Clustered = getEnvBool("OJS_CLUSTERED", c.Clustered)
	c.MisfireThreshold = getEnvDuration("OJS_MISFIRE_THRESHOLD", c.MisfireThreshold)
	c.LockTimeout = getEnvDuration("OJS_LOCK_TIMEOUT", c.LockTimeout)
	c.Scheduler = getEnvBool("OJS_SCHEDULER_ENABLED", c.Scheduler)
	c.PollInterval = getEnvDuration("OJS_POLL_INTERVAL", c.PollInterval)
	c.ThreadPoolSize = getEnvInt("OJS_THREAD_POOL_SIZE", c.ThreadPoolSize)
	c.BatchSize = getEnvInt("OJS_BATCH_SIZE", c.BatchSize)
	c.BatchWindow = getEnvDuration("OJS_BATCH_WINDOW", c.BatchWindow)
	c.ShutdownTimeout = getEnvDuration("OJS_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverNATS:
		if c.NatsURL == "" {
			return fmt.Errorf("driver %s requires NATS_URL", c.Driver)
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("driver %s requires DATABASE_URL", c.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Driver)
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("lock timeout must not be negative: %v", c.LockTimeout)
	}
	if c.ThreadPoolSize < 1 || c.BatchSize < 1 {
		return fmt.Errorf("thread pool size and batch size must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
