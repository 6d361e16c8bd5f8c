package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Database
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	// Server
	Port string
	Host string

	// Auth
	JWTSecret string

	// Face match scoring service
	FaceMatchURL string

	// RabbitMQ (optional; empty URL disables the mirror)
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string

	// Redis push bridge (optional; empty host keeps pushes in-process)
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// How often the sweep retries unassigned cases
	AssignmentSweepInterval time.Duration
}

func Load() *Config {
	return &Config{
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBName:     getEnv("DB_NAME", "missing_persons"),

		Port: getEnv("PORT", "8080"),
		Host: getEnv("HOST", "0.0.0.0"),

		JWTSecret: getEnv("JWT_SECRET", "secret"),

		FaceMatchURL: getEnv("FACE_MATCH_URL", ""),

		AMQPURL:        getEnv("AMQP_URL", ""),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "case-lifecycle"),
		AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "transition"),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		AssignmentSweepInterval: getEnvAsDuration("ASSIGNMENT_SWEEP_INTERVAL_SECONDS", 60),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultSeconds int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return time.Duration(defaultSeconds) * time.Second
}
