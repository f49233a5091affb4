package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	RabbitMQ  RabbitMQConfig
	Auth      AuthConfig
	Payments  PaymentsConfig
	Tickets   TicketsConfig
	Pricing   PricingConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
}

type DatabaseConfig struct {
	Driver        string // postgres | sqlite
	DSN           string
	MaxOpenConns  int
	MaxIdleConns  int
	MaxLifetime   time.Duration
	MigrationsDir string
	AutoMigrate   bool
}

type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	SessionLockTTL time.Duration
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	GroupID string
	Topics  TopicConfig
}

type TopicConfig struct {
	OrderCreated    string
	OrderPaid       string
	OrderFailed     string
	TicketsIssued   string
	TicketCheckedIn string
	Audit           string
}

func (t TopicConfig) All() []string {
	return []string{t.OrderCreated, t.OrderPaid, t.OrderFailed, t.TicketsIssued, t.TicketCheckedIn, t.Audit}
}

type RabbitMQConfig struct {
	URL        string
	EmailQueue string
}

type AuthConfig struct {
	OIDCIssuer string
	ClientID   string
	JWTSecret  string
}

type PaymentsConfig struct {
	DefaultProvider     string
	StripeSecretKey     string
	StripeWebhookSecret string
	SuccessURL          string
	CancelURL           string
	DummyEnabled        bool
}

type TicketsConfig struct {
	SigningSecret string
}

type PricingConfig struct {
	FeeScheduleFile string
	Fees            FeeSchedule
}

type RateLimitConfig struct {
	ScanPerMinute int
}

func Load() (*Config, error) {
	fees, err := LoadFeeSchedule(getEnv("FEE_SCHEDULE_FILE", ""))
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8084"),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			CORSOrigins:  getEnvList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Driver:        getEnv("DB_DRIVER", "postgres"),
			DSN:           getEnv("POSTGRES_DSN", ""),
			MaxOpenConns:  getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:   time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			MigrationsDir: getEnv("MIGRATIONS_DIR", "./migrations"),
			AutoMigrate:   getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", "localhost:6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvInt("REDIS_DB", 0),
			SessionLockTTL: time.Duration(getEnvInt("CHECKOUT_LOCK_TTL_SECONDS", 30)) * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupID: getEnv("KAFKA_GROUP_ID", "ticketing-audit"),
			Topics: TopicConfig{
				OrderCreated:    getEnv("KAFKA_TOPIC_ORDER_CREATED", "ticketing.order.created"),
				OrderPaid:       getEnv("KAFKA_TOPIC_ORDER_PAID", "ticketing.order.paid"),
				OrderFailed:     getEnv("KAFKA_TOPIC_ORDER_FAILED", "ticketing.order.failed"),
				TicketsIssued:   getEnv("KAFKA_TOPIC_TICKETS_ISSUED", "ticketing.tickets.issued"),
				TicketCheckedIn: getEnv("KAFKA_TOPIC_TICKET_CHECKED_IN", "ticketing.ticket.checked_in"),
				Audit:           getEnv("KAFKA_TOPIC_AUDIT", "ticketing.audit"),
			},
		},
		RabbitMQ: RabbitMQConfig{
			URL:        getEnv("RABBITMQ_URL", ""),
			EmailQueue: getEnv("RABBITMQ_EMAIL_QUEUE", "ticketing.email"),
		},
		Auth: AuthConfig{
			OIDCIssuer: getEnv("OIDC_ISSUER", ""),
			ClientID:   getEnv("OIDC_CLIENT_ID", ""),
			JWTSecret:  getEnv("JWT_SECRET", ""),
		},
		Payments: PaymentsConfig{
			DefaultProvider:     getEnv("PAYMENTS_DEFAULT_PROVIDER", "stripe"),
			StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			SuccessURL:          getEnv("PAYMENTS_SUCCESS_URL", "http://localhost:3000/checkout/success?order={ORDER_NUMBER}"),
			CancelURL:           getEnv("PAYMENTS_CANCEL_URL", "http://localhost:3000/checkout/cancel?order={ORDER_NUMBER}"),
			DummyEnabled:        getEnvBool("PAYMENTS_DUMMY_ENABLED", false),
		},
		Tickets: TicketsConfig{
			SigningSecret: getEnv("TICKET_SIGNING_SECRET", ""),
		},
		Pricing: PricingConfig{
			FeeScheduleFile: getEnv("FEE_SCHEDULE_FILE", ""),
			Fees:            fees,
		},
		RateLimit: RateLimitConfig{
			ScanPerMinute: getEnvInt("SCAN_RATE_LIMIT_PER_MINUTE", 120),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
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
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
