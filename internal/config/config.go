package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Symbols  SymbolsConfig  `mapstructure:"symbols"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Rate     RateConfig     `mapstructure:"rate"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	// Echo resolved records back to the browser. Turn off when clients
	// should not see deobfuscated traces.
	ReturnResolved bool `mapstructure:"return_resolved"`
	MaxBodyBytes   int64 `mapstructure:"max_body_bytes"`
}

type SymbolsConfig struct {
	// Directories holding <permutation>.symbolMap files, searched in order.
	Dirs           []string `mapstructure:"dirs"`
	RedisEnabled   bool     `mapstructure:"redis_enabled"`
	RedisPrefix    string   `mapstructure:"redis_prefix"`
	DevPermutation string   `mapstructure:"dev_permutation"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`        // server log level
	ClientLevel string `mapstructure:"client_level"` // threshold for replayed client records
}

type AuthConfig struct {
	APIKey   string `mapstructure:"api_key"`
	AdminKey string `mapstructure:"admin_key"`
}

type RateConfig struct {
	QPS   float64 `mapstructure:"qps"`
	Burst int     `mapstructure:"burst"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	ListKey  string `mapstructure:"list_key"`
	ListMax  int    `mapstructure:"list_max"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres | sqlite
	DSN    string `mapstructure:"dsn"`
	// Records older than this are deleted hourly. Zero keeps everything.
	Retention time.Duration `mapstructure:"retention"`
}

type SinkConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
	AsyncQueue int `mapstructure:"async_queue"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// e.g. LOGBRIDGE_SERVER_PORT
	v.SetEnvPrefix("logbridge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	return Decode(v)
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.return_resolved", true)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("symbols.dirs", []string{})
	v.SetDefault("symbols.redis_enabled", false)
	v.SetDefault("symbols.redis_prefix", "symbolmap")
	v.SetDefault("symbols.dev_permutation", "HostedMode")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.client_level", "DEBUG")
	v.SetDefault("rate.qps", 20)
	v.SetDefault("rate.burst", 40)
	v.SetDefault("redis.list_key", "client_logs")
	v.SetDefault("redis.list_max", 10000)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.retention", "168h")
	v.SetDefault("sink.buffer_size", 1000)
	v.SetDefault("sink.async_queue", 1000)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Decode unmarshals v. A comma separated LOGBRIDGE_SYMBOLS_DIRS is split.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.Symbols.Dirs) == 1 && strings.Contains(cfg.Symbols.Dirs[0], ",") {
		cfg.Symbols.Dirs = splitList(cfg.Symbols.Dirs[0])
	}
	return &cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
