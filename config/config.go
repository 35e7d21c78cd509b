package config

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppInfo
	Server    ServerConfig
	Auth      AuthConfig
	Broker    BrokerConfig
	Session   SessionConfig
	WebSocket WebSocketConfig
	Rest      RestConfig
	Metrics   MetricsConfig
	Logging   LoggingConfig
}

type AppInfo struct {
	Name string
}

type ServerConfig struct {
	Port         int
	ReadTimeout  int
	WriteTimeout int
}

type AuthConfig struct {
	JWTSecret       string
	TokenQueryParam string
	LocaleParam     string
}

type BrokerConfig struct {
	Type  string
	Redis RedisConfig
	Kafka KafkaConfig
}

type RedisConfig struct {
	Address     string
	Password    string
	DB          int
	PoolSize    int
	PoolTimeout int
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
}

type SessionConfig struct {
	TTL int // Seconds
}

type WebSocketConfig struct {
	MessageSizeLimit int
	HandshakeTimeout int
	PingInterval     int // Seconds
	ActivityTimeout  int // Seconds
	WriteTimeout     int // Seconds
	SendBufferSize   int
	KeepAlive        bool
}

// RestConfig holds the base URLs of the external persistence services.
// The relay never owns those entities; it forwards the caller's bearer
// credential and triggers fan-out on their behalf.
type RestConfig struct {
	UsersServiceBaseURL    string
	MessagesServiceBaseURL string
	RequestTimeout         int // Seconds
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

type LoggingConfig struct {
	Level string
}

var (
	instance *AppConfig
	once     sync.Once
)

func Initialize(env string) error {
	var initErr error
	once.Do(func() {
		viper.SetConfigName(fmt.Sprintf("config.%s", env))
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")

		viper.AutomaticEnv()
		viper.SetEnvPrefix("WSRELAY")

		setDefaults()
		bindEnvVars()

		if err := viper.ReadInConfig(); err != nil {
			// A missing config file is fine; defaults plus env vars
			// fully describe a deployment.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				initErr = fmt.Errorf("config file error: %w", err)
				return
			}
		}

		if err := viper.Unmarshal(&instance); err != nil {
			initErr = fmt.Errorf("config unmarshal error: %w", err)
			return
		}

		if err := instance.Validate(); err != nil {
			initErr = fmt.Errorf("config validation failed: %w", err)
			return
		}
	})
	return initErr
}

func Get() *AppConfig {
	return instance
}
