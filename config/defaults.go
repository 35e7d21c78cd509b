package config

import "github.com/spf13/viper"

func setDefaults() {
	// App
	viper.SetDefault("app.name", "therrChat")

	// Server
	viper.SetDefault("server.port", 7743)
	viper.SetDefault("server.readTimeout", 15)
	viper.SetDefault("server.writeTimeout", 15)

	// Auth
	viper.SetDefault("auth.jwtSecret", "")
	viper.SetDefault("auth.tokenQueryParam", "token")
	viper.SetDefault("auth.localeParam", "localeCode")

	// Broker
	viper.SetDefault("broker.type", "redis")
	viper.SetDefault("broker.redis.address", "localhost:6379")
	viper.SetDefault("broker.redis.db", 0)
	viper.SetDefault("broker.redis.poolSize", 100)
	viper.SetDefault("broker.redis.poolTimeout", 5)
	viper.SetDefault("broker.kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("broker.kafka.groupID", "ws-relay")

	// Session
	// 30 minutes, refreshed on explicit session updates.
	viper.SetDefault("session.ttl", 1800)

	// WebSocket
	viper.SetDefault("websocket.messageSizeLimit", 4096)
	viper.SetDefault("websocket.handshakeTimeout", 10)
	viper.SetDefault("websocket.pingInterval", 25)
	viper.SetDefault("websocket.activityTimeout", 60)
	viper.SetDefault("websocket.writeTimeout", 10)
	viper.SetDefault("websocket.sendBufferSize", 64)
	viper.SetDefault("websocket.keepAlive", true)

	// External REST collaborators
	viper.SetDefault("rest.usersServiceBaseURL", "http://localhost:7771")
	viper.SetDefault("rest.messagesServiceBaseURL", "http://localhost:7772")
	viper.SetDefault("rest.requestTimeout", 10)

	// Metrics
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging
	viper.SetDefault("logging.level", "info")
}
