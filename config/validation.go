package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func (c *AppConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret must be set")
	}
	if c.Auth.TokenQueryParam == "" {
		return errors.New("auth.tokenQueryParam must be configured")
	}

	switch strings.ToLower(c.Broker.Type) {
	case "redis":
		if c.Broker.Redis.Address == "" {
			return errors.New("redis address must be specified for redis broker")
		}
	case "kafka":
		if len(c.Broker.Kafka.Brokers) == 0 {
			return errors.New("kafka brokers must be specified for kafka broker")
		}
		if c.Broker.Kafka.GroupID == "" {
			return errors.New("kafka groupID must be specified for kafka broker")
		}
	case "memory":
		// Single-instance mode; nothing to validate.
	default:
		return fmt.Errorf("invalid broker type: %s. Must be 'redis', 'kafka' or 'memory'", c.Broker.Type)
	}

	if c.Session.TTL <= c.WebSocket.ActivityTimeout {
		return errors.New("session TTL should be greater than activity timeout")
	}

	if c.WebSocket.PingInterval >= c.WebSocket.ActivityTimeout {
		return errors.New("ping interval should be less than activity timeout")
	}

	if c.Rest.UsersServiceBaseURL == "" || c.Rest.MessagesServiceBaseURL == "" {
		return errors.New("rest collaborator base URLs must be configured")
	}

	if c.Rest.RequestTimeout < 1 {
		return errors.New("rest request timeout must be at least 1 second")
	}

	return nil
}

func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "WSRELAY_PORT")

	// Auth
	viper.BindEnv("auth.jwtSecret", "WSRELAY_AUTH_JWT_SECRET")
	viper.BindEnv("auth.tokenQueryParam", "WSRELAY_AUTH_TOKEN_PARAM")

	// Broker
	viper.BindEnv("broker.type", "WSRELAY_BROKER_TYPE")
	viper.BindEnv("broker.redis.address", "WSRELAY_REDIS_ADDRESS")
	viper.BindEnv("broker.redis.password", "WSRELAY_REDIS_PASSWORD")
	viper.BindEnv("broker.kafka.brokers", "WSRELAY_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.groupID", "WSRELAY_KAFKA_GROUPID")

	// Session
	viper.BindEnv("session.ttl", "WSRELAY_SESSION_TTL")

	// WebSocket
	viper.BindEnv("websocket.pingInterval", "WSRELAY_PING_INTERVAL")
	viper.BindEnv("websocket.activityTimeout", "WSRELAY_ACTIVITY_TIMEOUT")
	viper.BindEnv("websocket.writeTimeout", "WSRELAY_WRITE_TIMEOUT")

	// External REST collaborators
	viper.BindEnv("rest.usersServiceBaseURL", "WSRELAY_USERS_SERVICE_URL")
	viper.BindEnv("rest.messagesServiceBaseURL", "WSRELAY_MESSAGES_SERVICE_URL")

	// Logging
	viper.BindEnv("logging.level", "WSRELAY_LOG_LEVEL")
}
