// Package config loads service configuration from a YAML file and
// PROCDISPATCH_* environment variables, with env taking precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the service.
type Config struct {
	Web       Web       `mapstructure:"web"`
	Pools     Pools     `mapstructure:"pools"`
	Processor Processor `mapstructure:"processor"`
	Kafka     Kafka     `mapstructure:"kafka"`
	Otel      Otel      `mapstructure:"otel"`
	Janitor   Janitor   `mapstructure:"janitor"`
}

// Web configures the HTTP listeners.
type Web struct {
	APIHost         string        `mapstructure:"api_host"`
	DebugHost       string        `mapstructure:"debug_host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Pools sizes the worker pools.
type Pools struct {
	CoreSize          int `mapstructure:"core_size"`
	TimeConsumingSize int `mapstructure:"time_consuming_size"`
}

// Processor configures how external processors are invoked.
type Processor struct {
	// ProjectRoot is the directory all working folders must resolve under.
	ProjectRoot string `mapstructure:"project_root"`

	InputFlag       string `mapstructure:"input_flag"`
	OutputFlag      string `mapstructure:"output_flag"`
	DescriptionFlag string `mapstructure:"description_flag"`

	// TimeConsuming lists processors routed to the time-consuming pool.
	TimeConsuming []string `mapstructure:"time_consuming"`
}

// Kafka configures the job lifecycle event stream.
type Kafka struct {
	Enabled           bool     `mapstructure:"enabled"`
	Brokers           []string `mapstructure:"brokers"`
	JobLifecycleTopic string   `mapstructure:"job_lifecycle_topic"`
	ClientID          string   `mapstructure:"client_id"`
}

// Otel configures telemetry export.
type Otel struct {
	ExporterEndpoint string  `mapstructure:"exporter_endpoint"`
	Probability      float64 `mapstructure:"probability"`
	Insecure         bool    `mapstructure:"insecure"`
}

// Janitor configures the retention purge schedule.
type Janitor struct {
	// Schedule is a cron expression. Blank keeps the janitor off.
	Schedule  string        `mapstructure:"schedule"`
	Retention time.Duration `mapstructure:"retention"`
}

// Load reads configuration from the given file. An empty path falls back to
// config.yaml in the working directory if present; a missing file there is
// not an error since env variables can carry the whole configuration.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PROCDISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %q: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("web.api_host", "0.0.0.0:8080")
	v.SetDefault("web.debug_host", "0.0.0.0:3010")
	v.SetDefault("web.read_timeout", 5*time.Second)
	v.SetDefault("web.write_timeout", 10*time.Second)
	v.SetDefault("web.idle_timeout", 120*time.Second)
	v.SetDefault("web.shutdown_timeout", 20*time.Second)

	v.SetDefault("pools.core_size", 4)
	v.SetDefault("pools.time_consuming_size", 1)

	v.SetDefault("processor.project_root", "/data/projects")
	v.SetDefault("processor.input_flag", "-I")
	v.SetDefault("processor.output_flag", "-O")
	v.SetDefault("processor.description_flag", "--dump-json")
	v.SetDefault("processor.time_consuming", []string{})

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.job_lifecycle_topic", "job-lifecycle")
	v.SetDefault("kafka.client_id", "procdispatch")

	v.SetDefault("otel.exporter_endpoint", "")
	v.SetDefault("otel.probability", 0.05)
	v.SetDefault("otel.insecure", true)

	v.SetDefault("janitor.schedule", "")
	v.SetDefault("janitor.retention", 24*time.Hour)
}

func (c *Config) validate() error {
	if c.Pools.CoreSize < 1 {
		return fmt.Errorf("pools.core_size must be at least 1, got %d", c.Pools.CoreSize)
	}
	if c.Pools.TimeConsumingSize < 1 {
		return fmt.Errorf("pools.time_consuming_size must be at least 1, got %d", c.Pools.TimeConsumingSize)
	}
	if strings.TrimSpace(c.Processor.ProjectRoot) == "" {
		return errors.New("processor.project_root must not be blank")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers must not be empty when kafka is enabled")
	}
	return nil
}
