package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Server          ServerConfig
	Database        DatabaseConfig
	Redis           RedisConfig
	Kafka           KafkaConfig
	DeliveryService DeliveryServiceConfig
	Sweeper         SweeperConfig
	Auth            AuthConfig
	Features        FeatureFlags
	StoreDriver     string
	LogLevel        string
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

func (d DatabaseConfig) ConnectionString() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Name +
		" sslmode=" + d.SSLMode
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
	// InvalidationDelay is the gap before the second eviction after a write.
	// Zero disables the second pass.
	InvalidationDelay time.Duration
}

// Addr returns the host:port pair, or "" when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type KafkaConfig struct {
	Brokers       []string
	OrdersTopic   string
	PaymentsTopic string
	ConsumerGroup string
}

type DeliveryServiceConfig struct {
	BaseURL      string
	Timeout      time.Duration
	FallbackDays int
}

type SweeperConfig struct {
	Enabled  bool
	Interval time.Duration
	Window   time.Duration
	LockTTL  time.Duration
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
}

type FeatureFlags struct {
	EnableOrderCaching    bool
	EnableOrderEvents     bool
	EnablePaymentConsumer bool
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8082),
			ReadTimeout:  time.Duration(getEnvInt("SERVER_READ_TIMEOUT", 30)) * time.Second,
			WriteTimeout: time.Duration(getEnvInt("SERVER_WRITE_TIMEOUT", 30)) * time.Second,
		},
		Database: DatabaseConfig{
			Host:         getEnvString("DB_HOST", "localhost"),
			Port:         getEnvInt("DB_PORT", 5432),
			User:         getEnvString("DB_USER", "acme"),
			Password:     getEnvString("DB_PASSWORD", "acme"),
			Name:         getEnvString("DB_NAME", "acme_orders"),
			SSLMode:      getEnvString("DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", ""),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      time.Duration(getEnvInt("REDIS_TTL_SECONDS", 300)) * time.Second,

			InvalidationDelay: getEnvDuration("REDIS_INVALIDATION_DELAY", 500*time.Millisecond),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvList("KAFKA_BROKERS", nil),
			OrdersTopic:   getEnvString("KAFKA_ORDERS_TOPIC", "orders"),
			PaymentsTopic: getEnvString("KAFKA_PAYMENTS_TOPIC", "payments"),
			ConsumerGroup: getEnvString("KAFKA_CONSUMER_GROUP", "order-sync"),
		},
		DeliveryService: DeliveryServiceConfig{
			BaseURL:      getEnvString("DELIVERY_SERVICE_URL", "http://localhost:8085"),
			Timeout:      time.Duration(getEnvInt("DELIVERY_SERVICE_TIMEOUT", 5)) * time.Second,
			FallbackDays: getEnvInt("DELIVERY_FALLBACK_DAYS", 0),
		},
		Sweeper: SweeperConfig{
			Enabled:  getEnvBool("SWEEP_ENABLED", true),
			Interval: time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
			Window:   getEnvDuration("SWEEP_WINDOW", 10*time.Minute),
			LockTTL:  time.Duration(getEnvInt("SWEEP_LOCK_TTL_SECONDS", 55)) * time.Second,
		},
		Auth: AuthConfig{
			Enabled:   getEnvBool("AUTH_ENABLED", true),
			JWTSecret: getEnvString("AUTH_JWT_SECRET", ""),
		},
		Features: FeatureFlags{
			EnableOrderCaching:    getEnvBool("FEATURE_ORDER_CACHING", true),
			EnableOrderEvents:     getEnvBool("FEATURE_ORDER_EVENTS", true),
			EnablePaymentConsumer: getEnvBool("FEATURE_PAYMENT_CONSUMER", true),
		},
		StoreDriver: getEnvString("STORE_DRIVER", StoreDriverPostgres),
		LogLevel:    getEnvString("LOG_LEVEL", "info"),
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration parses values such as "10m" or "500ms".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
