package config

import (
	"os"
	"strconv"
	"strings"
)

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
	// SlowQueryMs is the threshold above which queries are logged as slow.
	SlowQueryMs int `yaml:"slow_query_ms"`
}

// MQConfig holds RabbitMQ settings.
type MQConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds Redis settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ServerConfig holds the admin HTTP server settings.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// ElasticsearchConfig holds the search cluster settings.
type ElasticsearchConfig struct {
	Addresses []string `yaml:"addresses"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	Index     string   `yaml:"index"`
}

// AWSConfig holds AWS settings used by the SES reply transport.
type AWSConfig struct {
	Region    string `yaml:"region"`
	FromEmail string `yaml:"from_email"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// OverrideDBFromEnv overrides database settings from DB_* variables.
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

// OverrideMQFromEnv overrides the broker URL from MQ_URL.
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv overrides Redis settings from REDIS_* variables.
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideServerFromEnv overrides the admin port from SERVER_PORT.
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

// OverrideElasticsearchFromEnv overrides the cluster addresses from
// ES_ADDRESSES (comma separated) and credentials from ES_USERNAME/ES_PASSWORD.
func OverrideElasticsearchFromEnv(cfg *ElasticsearchConfig) {
	if addrs := os.Getenv("ES_ADDRESSES"); addrs != "" {
		cfg.Addresses = strings.Split(addrs, ",")
	}
	if user := os.Getenv("ES_USERNAME"); user != "" {
		cfg.Username = user
	}
	if password := os.Getenv("ES_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideAWSFromEnv overrides the region from AWS_REGION.
func OverrideAWSFromEnv(cfg *AWSConfig) {
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.Region = region
	}
}
