package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTP         HTTPConfig         `mapstructure:"http"`
	GRPC         GRPCConfig         `mapstructure:"grpc"`
	Store        StoreConfig        `mapstructure:"store"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Notification NotificationConfig `mapstructure:"notification"`
	Checkout     CheckoutConfig     `mapstructure:"checkout"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Log          LogConfig          `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type StoreConfig struct {
	// Driver is mysql, postgres or memory.
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

type RedisConfig struct {
	// Addr empty means the in-process cache is used.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type NotificationConfig struct {
	// Queue is memory, redis or kafka.
	Queue       string        `mapstructure:"queue"`
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	Brokers     string        `mapstructure:"brokers"`
	Topic       string        `mapstructure:"topic"`
	GroupID     string        `mapstructure:"group_id"`
	MailDelay   time.Duration `mapstructure:"mail_delay"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

type CheckoutConfig struct {
	ConflictRetries uint          `mapstructure:"conflict_retries"`
	InitialBackoff  time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type TelemetryConfig struct {
	ServiceName  string  `mapstructure:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.shutdown_timeout", 5*time.Second)

	v.SetDefault("grpc.addr", ":50051")

	v.SetDefault("store.driver", "mysql")
	v.SetDefault("store.dsn", "root:root@tcp(localhost:3306)/storefront?parseTime=true")
	v.SetDefault("store.max_open_conns", 50)
	v.SetDefault("store.max_idle_conns", 25)
	v.SetDefault("store.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("store.migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)

	v.SetDefault("notification.queue", "redis")
	v.SetDefault("notification.workers", 10)
	v.SetDefault("notification.queue_size", 10000)
	v.SetDefault("notification.brokers", "")
	v.SetDefault("notification.topic", "order.confirmed")
	v.SetDefault("notification.group_id", "storefront-notifier")
	v.SetDefault("notification.mail_delay", 0)
	v.SetDefault("notification.send_timeout", 5*time.Second)

	v.SetDefault("checkout.conflict_retries", 0)
	v.SetDefault("checkout.initial_backoff", 20*time.Millisecond)
	v.SetDefault("checkout.max_backoff", 200*time.Millisecond)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("telemetry.service_name", "storefront")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("log.level", "info")
}

// Load reads defaults, then the optional file at path, then STOREFRONT_*
// environment variables (store.dsn is STOREFRONT_STORE_DSN).
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case "mysql", "postgres", "memory":
	default:
		return fmt.Errorf("store.driver must be mysql, postgres or memory, got %q", c.Store.Driver)
	}
	switch c.Notification.Queue {
	case "memory", "redis", "kafka":
	default:
		return fmt.Errorf("notification.queue must be memory, redis or kafka, got %q", c.Notification.Queue)
	}
	if c.Notification.Queue == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("notification.queue redis needs redis.addr")
	}
	if c.Notification.Queue == "kafka" && strings.TrimSpace(c.Notification.Brokers) == "" {
		return fmt.Errorf("notification.queue kafka needs notification.brokers")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Notification.Workers < 1 {
		return fmt.Errorf("notification.workers must be positive")
	}
	return nil
}

func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
