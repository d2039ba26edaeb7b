package config

import (
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	Gateway GatewayConfig
	JWT     JWTConfig
	Redis   RedisConfig
	Kafka   KafkaConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// GatewayConfig is the tuning surface of the real-time core
type GatewayConfig struct {
	MaxConnectionsPerIdentity int
	MaxTotalConnections       int
	ConnectionTimeout         time.Duration
	SweepInterval             time.Duration
	RateLimitMaxMessages      int
	RateLimitWindow           time.Duration
	MaxFrameSize              int64

	// Per-IP token bucket on the upgrade endpoint
	UpgradeRatePerSecond float64
	UpgradeBurst         int
}

type JWTConfig struct {
	Secret string
}

type RedisConfig struct {
	URI          string
	Enabled      bool
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
	GroupID string
}

var (
	instance *Config
	once     sync.Once
)

// LoadConfig reads configuration from the environment with documented
// defaults. Safe to call from multiple packages; the first call wins.
func LoadConfig() (*Config, error) {
	once.Do(func() {
		viper.SetDefault("RVP_HOST", "")
		viper.SetDefault("RVP_PORT", "8080")
		viper.SetDefault("RVP_READ_TIMEOUT", 30*time.Second)
		viper.SetDefault("RVP_WRITE_TIMEOUT", 30*time.Second)
		viper.SetDefault("RVP_IDLE_TIMEOUT", 60*time.Second)
		viper.SetDefault("RVP_JWT_SECRET", "secret")

		viper.SetDefault("RVP_MAX_CONNECTIONS_PER_IDENTITY", 3)
		viper.SetDefault("RVP_MAX_TOTAL_CONNECTIONS", 1000)
		viper.SetDefault("RVP_CONNECTION_TIMEOUT_SECONDS", 60)
		viper.SetDefault("RVP_HEARTBEAT_SWEEP_INTERVAL_SECONDS", 30)
		viper.SetDefault("RVP_RATE_LIMIT_MAX_MESSAGES", 100)
		viper.SetDefault("RVP_RATE_LIMIT_WINDOW_SECONDS", 60)
		viper.SetDefault("RVP_MAX_FRAME_SIZE_BYTES", 65536)
		viper.SetDefault("RVP_UPGRADE_RATE_PER_SECOND", 5.0)
		viper.SetDefault("RVP_UPGRADE_BURST", 10)

		viper.SetDefault("RVP_REDIS_ENABLED", false)
		viper.SetDefault("REDIS_URL", "redis://127.0.0.1:6379/0")
		viper.SetDefault("REDIS_MAX_RETRIES", 3)
		viper.SetDefault("REDIS_POOL_SIZE", 100)
		viper.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
		viper.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
		viper.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
		viper.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)

		viper.SetDefault("RVP_KAFKA_ENABLED", false)
		viper.SetDefault("KAFKA_BROKERS", []string{"localhost:9092"})
		viper.SetDefault("KAFKA_EVENTS_TOPIC", "reviewpoint.events")
		viper.SetDefault("KAFKA_GROUP_ID", "reviewpoint-realtime")

		viper.AutomaticEnv()

		instance = &Config{
			Server: ServerConfig{
				Host:         viper.GetString("RVP_HOST"),
				Port:         viper.GetString("RVP_PORT"),
				ReadTimeout:  viper.GetDuration("RVP_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("RVP_WRITE_TIMEOUT"),
				IdleTimeout:  viper.GetDuration("RVP_IDLE_TIMEOUT"),
			},
			Gateway: GatewayConfig{
				MaxConnectionsPerIdentity: viper.GetInt("RVP_MAX_CONNECTIONS_PER_IDENTITY"),
				MaxTotalConnections:       viper.GetInt("RVP_MAX_TOTAL_CONNECTIONS"),
				ConnectionTimeout:         time.Duration(viper.GetInt("RVP_CONNECTION_TIMEOUT_SECONDS")) * time.Second,
				SweepInterval:             time.Duration(viper.GetInt("RVP_HEARTBEAT_SWEEP_INTERVAL_SECONDS")) * time.Second,
				RateLimitMaxMessages:      viper.GetInt("RVP_RATE_LIMIT_MAX_MESSAGES"),
				RateLimitWindow:           time.Duration(viper.GetInt("RVP_RATE_LIMIT_WINDOW_SECONDS")) * time.Second,
				MaxFrameSize:              viper.GetInt64("RVP_MAX_FRAME_SIZE_BYTES"),
				UpgradeRatePerSecond:      viper.GetFloat64("RVP_UPGRADE_RATE_PER_SECOND"),
				UpgradeBurst:              viper.GetInt("RVP_UPGRADE_BURST"),
			},
			JWT: JWTConfig{
				Secret: viper.GetString("RVP_JWT_SECRET"),
			},
			Redis: RedisConfig{
				URI:          viper.GetString("REDIS_URL"),
				Enabled:      viper.GetBool("RVP_REDIS_ENABLED"),
				MaxRetries:   viper.GetInt("REDIS_MAX_RETRIES"),
				DialTimeout:  viper.GetDuration("REDIS_DIAL_TIMEOUT"),
				ReadTimeout:  viper.GetDuration("REDIS_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("REDIS_WRITE_TIMEOUT"),
				PoolSize:     viper.GetInt("REDIS_POOL_SIZE"),
				MinIdleConns: viper.GetInt("REDIS_MIN_IDLE_CONNS"),
			},
			Kafka: KafkaConfig{
				Enabled: viper.GetBool("RVP_KAFKA_ENABLED"),
				Brokers: viper.GetStringSlice("KAFKA_BROKERS"),
				Topic:   viper.GetString("KAFKA_EVENTS_TOPIC"),
				GroupID: viper.GetString("KAFKA_GROUP_ID"),
			},
		}
	})

	return instance, nil
}
