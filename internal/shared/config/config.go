package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the booking engine process.
type Config struct {
	// Server configuration
	Port           string
	GinMode        string
	APIVersion     string
	APIPrefix      string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	ShutdownGrace  time.Duration

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Booking  BookingConfig
	Payment  PaymentConfig
	Ticket   TicketConfig
	Sweeper  SweeperConfig

	RateLimit RateLimitConfig

	LogLevel string

	// Email credentials are optional; without SMTP_HOST the Ticket
	// Generator's send_email sub-job is disabled rather than failing
	// startup. There are no SMS credentials: SMS sends go through a
	// logging provider.
	Email EmailConfig
}

type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
	DSN      string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Addr     string
}

// JWTConfig holds the secret and lifetimes for the bearer tokens minted
// and verified at the identity boundary.
type JWTConfig struct {
	Secret           string
	JWTExpiresIn     time.Duration
	RefreshExpiresIn time.Duration
}

// BookingConfig holds the timing constants governing §4.1/§4.2.
type BookingConfig struct {
	LockTTL        time.Duration // §4.1 default 600s
	ExpiryWindow   time.Duration // §3 Booking.expires_at default 15min
	LockDeadline   time.Duration // §5 deadline for Acquire
	CreateDeadline time.Duration // §5 deadline for CreateBooking
	ConfirmTimeout time.Duration // §5 deadline for ConfirmBooking
}

type PaymentConfig struct {
	WebhookSecret   string
	AmountTolerance float64 // §4.3 0.01 tolerance
}

type TicketConfig struct {
	WorkerConcurrency   int
	GenerationBaseDelay time.Duration
	EmailBaseDelay      time.Duration
	SMSBaseDelay        time.Duration
	MaxAttempts         int
	KafkaBrokers        []string
	Topic               string
}

type SweeperConfig struct {
	LockSweepInterval      time.Duration // 5 min
	TokenSweepInterval     time.Duration // 1 hour
	MinIntervalBetweenRuns time.Duration // 30s floor
}

type RateLimitConfig struct {
	Enabled          bool
	WindowDuration   time.Duration
	DefaultRequests  int
	AuthRequests     int
	SeatLockRequests int
	BookingRequests  int
	PaymentRequests  int
	WhitelistedIPs   []string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
}

const insecureDefaultJWTSecret = "your-super-secret-jwt-key"
const insecureDefaultWebhookSecret = "change-me"

// Load reads configuration from the environment (optionally pre-populated
// from a .env file by the caller). It hard-fails the process when a
// required secret is missing or left at its insecure default in
// release GinMode, per §6 Environment.
func Load() *Config {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		APIVersion:     getEnv("API_VERSION", "v1"),
		APIPrefix:      getEnv("API_PREFIX", "/api"),
		ReadTimeout:    getDurationEnv("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:   getDurationEnv("WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:    getDurationEnv("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes: getIntEnv("MAX_HEADER_BYTES", 1<<20),
		ShutdownGrace:  getDurationEnv("SHUTDOWN_GRACE", 10*time.Second),

		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			Name:     getEnv("DB_NAME", "evently_db"),
			User:     getEnv("DB_USER", "evently_user"),
			Password: getEnv("DB_PASSWORD", "evently_password"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},

		JWT: JWTConfig{
			Secret:           getEnv("JWT_SECRET", insecureDefaultJWTSecret),
			JWTExpiresIn:     getDurationEnvSeconds("JWT_EXPIRES_IN", 15*time.Minute),
			RefreshExpiresIn: getDurationEnvSeconds("JWT_REFRESH_EXPIRES_IN", 24*time.Hour),
		},

		Booking: BookingConfig{
			LockTTL:        getDurationEnvSeconds("LOCK_TTL_SECONDS", 600*time.Second),
			ExpiryWindow:   getDurationEnvSeconds("BOOKING_EXPIRY_SECONDS", 15*time.Minute),
			LockDeadline:   getDurationEnvSeconds("LOCK_DEADLINE_SECONDS", 5*time.Second),
			CreateDeadline: getDurationEnvSeconds("CREATE_DEADLINE_SECONDS", 15*time.Second),
			ConfirmTimeout: getDurationEnvSeconds("CONFIRM_DEADLINE_SECONDS", 30*time.Second),
		},

		Payment: PaymentConfig{
			WebhookSecret:   getEnv("PAYMENT_WEBHOOK_SECRET", insecureDefaultWebhookSecret),
			AmountTolerance: 0.01,
		},

		Ticket: TicketConfig{
			WorkerConcurrency:   getIntEnv("TICKET_WORKER_CONCURRENCY", 3),
			GenerationBaseDelay: getDurationEnvSeconds("TICKET_GEN_BACKOFF_SECONDS", 5*time.Second),
			EmailBaseDelay:      getDurationEnvSeconds("TICKET_EMAIL_BACKOFF_SECONDS", 10*time.Second),
			SMSBaseDelay:        getDurationEnvSeconds("TICKET_SMS_BACKOFF_SECONDS", 15*time.Second),
			MaxAttempts:         getIntEnv("TICKET_MAX_ATTEMPTS", 3),
			KafkaBrokers:        getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:               getEnv("KAFKA_TICKET_TOPIC", "ticket-generation"),
		},

		Sweeper: SweeperConfig{
			LockSweepInterval:      getDurationEnv("SWEEPER_LOCK_INTERVAL", 5*time.Minute),
			TokenSweepInterval:     getDurationEnv("SWEEPER_TOKEN_INTERVAL", 1*time.Hour),
			MinIntervalBetweenRuns: getDurationEnv("SWEEPER_MIN_INTERVAL", 30*time.Second),
		},

		RateLimit: RateLimitConfig{
			Enabled:          getBoolEnv("RATE_LIMIT_ENABLED", true),
			WindowDuration:   getDurationEnv("RATE_LIMIT_WINDOW_DURATION", 60*time.Second),
			DefaultRequests:  getIntEnv("RATE_LIMIT_DEFAULT_REQUESTS", 60),
			AuthRequests:     getIntEnv("RATE_LIMIT_AUTH_REQUESTS", 10),
			SeatLockRequests: getIntEnv("RATE_LIMIT_SEATLOCK_REQUESTS", 30),
			BookingRequests:  getIntEnv("RATE_LIMIT_BOOKING_REQUESTS", 20),
			PaymentRequests:  getIntEnv("RATE_LIMIT_PAYMENT_REQUESTS", 30),
			WhitelistedIPs:   getStringSliceEnv("RATE_LIMIT_WHITELISTED_IPS", []string{}),
		},

		LogLevel: getEnv("LOG_LEVEL", "debug"),

		Email: EmailConfig{
			SMTPHost:     getEnv("SMTP_HOST", ""),
			SMTPPort:     getIntEnv("SMTP_PORT", 587),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			FromEmail:    getEnv("FROM_EMAIL", "noreply@evently.com"),
		},
	}

	cfg.Database.DSN = buildDatabaseDSN(cfg.Database)
	cfg.Redis.Addr = cfg.Redis.Host + ":" + cfg.Redis.Port

	cfg.failFastOnInsecureSecrets()

	return cfg
}

// failFastOnInsecureSecrets hard-fails startup in release mode when a
// required secret was left at its insecure default, per §6 Environment.
func (c *Config) failFastOnInsecureSecrets() {
	if c.IsProduction() {
		if c.JWT.Secret == insecureDefaultJWTSecret || c.JWT.Secret == "" {
			log.Fatal("config: JWT_SECRET is missing or left at its default value; refusing to start in release mode")
		}
		if c.Payment.WebhookSecret == insecureDefaultWebhookSecret || c.Payment.WebhookSecret == "" {
			log.Fatal("config: PAYMENT_WEBHOOK_SECRET is missing or left at its default value; refusing to start in release mode")
		}
	}
}

func buildDatabaseDSN(db DatabaseConfig) string {
	return "host=" + db.Host +
		" port=" + db.Port +
		" user=" + db.User +
		" password=" + db.Password +
		" dbname=" + db.Name +
		" sslmode=" + db.SSLMode
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return fallback
}

// getDurationEnvSeconds reads an environment variable as whole seconds.
func getDurationEnvSeconds(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return fallback
}

func getStringSliceEnv(key string, fallback []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		var result []string
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}

func (c *Config) IsProduction() bool {
	return c.GinMode == "release"
}

func (c *Config) IsDevelopment() bool {
	return c.GinMode == "debug"
}

func (c *Config) GetServerAddress() string {
	return ":" + c.Port
}

func (c *Config) GetAPIBasePath() string {
	return c.APIPrefix + "/" + c.APIVersion
}
