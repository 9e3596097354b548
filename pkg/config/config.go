package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application-wide configuration for the replication session
// and the selected downstream sink.
type Config struct {
	Source   SourceConfig   `mapstructure:"source"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// SourceConfig describes the upstream Postgres logical replication source.
type SourceConfig struct {
	DSN             string `mapstructure:"dsn"`
	Database        string `mapstructure:"database"` // catalog key; defaults to DSN's dbname if empty
	PublicationName string `mapstructure:"publicationName"`
	SlotName        string `mapstructure:"slotName"`
	StartLSN        string `mapstructure:"startLSN"` // empty: use slot's confirmed_flush_lsn
}

// SinkConfig selects and configures a pkg/consumer sink by name.
type SinkConfig struct {
	Name       string           `mapstructure:"name"` // "debug", "kafka", "clickhouse", "mqtt", "nats"
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	NATS       NATSConfig       `mapstructure:"nats"`
}

type KafkaConfig struct {
	Brokers   string `mapstructure:"brokers"`
	Topic     string `mapstructure:"topic"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Algorithm string `mapstructure:"algorithm"`
	UseTLS    bool   `mapstructure:"useTLS"`
}

type ClickHouseConfig struct {
	Addr      []string `mapstructure:"addr"`
	Database  string   `mapstructure:"database"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	DestTable string   `mapstructure:"destTable"`
	UseTLS    bool     `mapstructure:"useTLS"`
}

type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ClientID    string `mapstructure:"clientID"`
	TopicPrefix string `mapstructure:"topicPrefix"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subjectPrefix"`
	Credentials   string `mapstructure:"credentials"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listenAddr"`
	Enabled    bool   `mapstructure:"enabled"`
}

// DefaultConfig returns sane defaults for local development.
func DefaultConfig() Config {
	return Config{
		Sink: SinkConfig{Name: "debug"},
		Metrics: MetricsConfig{
			ListenAddr: ":9091",
			Enabled:    true,
		},
	}
}

// Load reads config from cfgFile, or from ./pgcdc.yaml / ~/.config/pgcdc.yaml
// if cfgFile is empty, layering in PGCDC_-prefixed environment variables and
// any flags bound to viper's global instance. An environment variable names
// a key path with dots replaced by underscores (e.g. PGCDC_SOURCE_DSN) and
// is read for keys that the config file or a bound flag defines.
func Load(cfgFile string) (*Config, error) {
	v := viper.GetViper()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pgcdc")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("PGCDC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := DefaultConfig()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	} else {
		fmt.Println("Using config file:", v.ConfigFileUsed())
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	return &cfg, nil
}
