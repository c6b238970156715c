package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the resolver.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Workflow     WorkflowConfig
	Scheduler    SchedulerConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	BaseURL               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines intake API authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	IntakeAPIKey          string
	IntakeAPIKeyHash      string
	BcryptCost            int
}

// WorkflowConfig holds the external workflow endpoint and its per-app
// default API keys.
type WorkflowConfig struct {
	BaseURL        string
	User           string
	AnswerAPIKey   string
	HearingAPIKey  string
	TitleAPIKey    string
	KeywordsAPIKey string
	MaxFrameBytes  int
	TimeoutSeconds int
}

// SchedulerConfig bounds the ticket poll loop.
type SchedulerConfig struct {
	PollIntervalSeconds  int
	FAQConcurrency       int
	HearingConcurrency   int
	TicketTimeoutSeconds int
	ClaimLeaseSeconds    int
	HearingCount         int
}

// NotificationConfig holds outbound chat delivery values.
type NotificationConfig struct {
	ChatPostMessageURL string
	TimeoutSeconds     int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-resolver"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			BaseURL:               getEnv("APP_BASE_URL", "https://localhost:3000"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			IntakeAPIKey:          os.Getenv("AUTH_INTAKE_API_KEY"),
			IntakeAPIKeyHash:      os.Getenv("AUTH_INTAKE_API_KEY_HASH"),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Workflow: WorkflowConfig{
			BaseURL:        getEnv("WORKFLOW_BASE_URL", "https://workflow.example.com"),
			User:           getEnv("WORKFLOW_USER", "ticket-resolver"),
			AnswerAPIKey:   os.Getenv("WORKFLOW_ANSWER_API_KEY"),
			HearingAPIKey:  os.Getenv("WORKFLOW_HEARING_API_KEY"),
			TitleAPIKey:    os.Getenv("WORKFLOW_TITLE_API_KEY"),
			KeywordsAPIKey: os.Getenv("WORKFLOW_KEYWORDS_API_KEY"),
			MaxFrameBytes:  getEnvAsInt("WORKFLOW_MAX_FRAME_BYTES", 1<<20),
			TimeoutSeconds: getEnvAsInt("WORKFLOW_TIMEOUT_SECONDS", 300),
		},
		Scheduler: SchedulerConfig{
			PollIntervalSeconds:  getEnvAsInt("SCHEDULER_POLL_INTERVAL_SECONDS", 1),
			FAQConcurrency:       getEnvAsInt("SCHEDULER_MAX_FAQ_CONCURRENT", 5),
			HearingConcurrency:   getEnvAsInt("SCHEDULER_MAX_HEARING_CONCURRENT", 3),
			TicketTimeoutSeconds: getEnvAsInt("SCHEDULER_TICKET_TIMEOUT_SECONDS", 120),
			ClaimLeaseSeconds:    getEnvAsInt("SCHEDULER_CLAIM_LEASE_SECONDS", 300),
			HearingCount:         getEnvAsInt("SCHEDULER_HEARING_COUNT", 3),
		},
		Notification: NotificationConfig{
			ChatPostMessageURL: getEnv("NOTIFY_CHAT_POST_MESSAGE_URL", "https://slack.com/api/chat.postMessage"),
			TimeoutSeconds:     getEnvAsInt("NOTIFY_TIMEOUT_SECONDS", 15),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// PollInterval returns the scheduler cycle cadence.
func (s SchedulerConfig) PollInterval() time.Duration {
	if s.PollIntervalSeconds <= 0 {
		return time.Second
	}
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// TicketTimeout returns the per-ticket processing deadline.
func (s SchedulerConfig) TicketTimeout() time.Duration {
	if s.TicketTimeoutSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(s.TicketTimeoutSeconds) * time.Second
}

// ClaimLease returns how long a processing claim excludes other schedulers.
func (s SchedulerConfig) ClaimLease() time.Duration {
	if s.ClaimLeaseSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.ClaimLeaseSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
