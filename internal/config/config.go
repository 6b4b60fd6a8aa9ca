/**
 * @description
 * This package handles the configuration management for the wheel service. It uses the
 * Viper library to read configuration from environment variables and an optional .env
 * file.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - github.com/robfig/cron/v3: validates the job schedules.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	defaultRedisRateLimitPrefix    = "wheel:rate_limit"
	defaultExtractionCooldown      = 600
	defaultExtractionRateLimit     = 30
	defaultTokenRefreshConcurrency = 4
	maxTokenRefreshConcurrency     = 32
	defaultStaleExtractionMinutes  = 30
)

// Config holds all the configuration variables for the wheel service.
type Config struct {
	ServerPort                   string `mapstructure:"SERVER_PORT"`
	DatabaseURL                  string `mapstructure:"DATABASE_URL"`
	RedisURL                     string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix         string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                  string `mapstructure:"RABBITMQ_URL"`
	EventsExchange               string `mapstructure:"EVENTS_EXCHANGE"`
	RefreshRequestQueue          string `mapstructure:"REFRESH_REQUEST_QUEUE"`
	LedgerAPIBaseURL             string `mapstructure:"LEDGER_API_BASE_URL"`
	LedgerAPIKey                 string `mapstructure:"LEDGER_API_KEY"`
	PriceAPIBaseURL              string `mapstructure:"PRICE_API_BASE_URL"`
	PriceAPIKey                  string `mapstructure:"PRICE_API_KEY"`
	ProfileServiceURL            string `mapstructure:"PROFILE_SERVICE_URL"`
	ProfileServiceAPIKey         string `mapstructure:"PROFILE_SERVICE_API_KEY"`
	JWKSURL                      string `mapstructure:"JWKS_URL"`
	JWTAudience                  string `mapstructure:"JWT_AUDIENCE"`
	JWTIssuer                    string `mapstructure:"JWT_ISSUER"`
	InternalAPIKey               string `mapstructure:"INTERNAL_API_KEY"`
	ServicePrincipal             string `mapstructure:"SERVICE_PRINCIPAL"`
	BootstrapAdminPrincipal      string `mapstructure:"BOOTSTRAP_ADMIN_PRINCIPAL"`
	ExtractionCooldownSeconds    int    `mapstructure:"EXTRACTION_COOLDOWN_SECONDS"`
	ExtractionRateLimitPerMinute int    `mapstructure:"EXTRACTION_RATE_LIMIT_PER_MINUTE"`
	TokenRefreshSchedule         string `mapstructure:"TOKEN_REFRESH_SCHEDULE"`
	TokenRefreshConcurrency      int    `mapstructure:"TOKEN_REFRESH_CONCURRENCY"`
	StaleExtractionSchedule      string `mapstructure:"STALE_EXTRACTION_SCHEDULE"`
	StaleExtractionMinutes       int    `mapstructure:"STALE_EXTRACTION_MINUTES"`
	CORSAllowedOrigins           string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// ExtractionCooldown is the wait before a claimant with a failed extraction may retry.
func (c Config) ExtractionCooldown() time.Duration {
	return time.Duration(c.ExtractionCooldownSeconds) * time.Second
}

func (c Config) StaleExtractionAge() time.Duration {
	return time.Duration(c.StaleExtractionMinutes) * time.Minute
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas. Empty means the router default.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// LoadConfig reads configuration from environment variables and an optional .env file
// in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRedisRateLimitPrefix)
	viper.SetDefault("EVENTS_EXCHANGE", "wheel.events")
	viper.SetDefault("REFRESH_REQUEST_QUEUE", "wheel_service.refresh_requests")
	viper.SetDefault("EXTRACTION_COOLDOWN_SECONDS", defaultExtractionCooldown)
	viper.SetDefault("EXTRACTION_RATE_LIMIT_PER_MINUTE", defaultExtractionRateLimit)
	viper.SetDefault("TOKEN_REFRESH_SCHEDULE", "@every 1h")
	viper.SetDefault("TOKEN_REFRESH_CONCURRENCY", defaultTokenRefreshConcurrency)
	viper.SetDefault("STALE_EXTRACTION_SCHEDULE", "@every 10m")
	viper.SetDefault("STALE_EXTRACTION_MINUTES", defaultStaleExtractionMinutes)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "WHEEL_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("REFRESH_REQUEST_QUEUE")
	_ = viper.BindEnv("LEDGER_API_BASE_URL")
	_ = viper.BindEnv("LEDGER_API_KEY")
	_ = viper.BindEnv("PRICE_API_BASE_URL")
	_ = viper.BindEnv("PRICE_API_KEY")
	_ = viper.BindEnv("PROFILE_SERVICE_URL")
	_ = viper.BindEnv("PROFILE_SERVICE_API_KEY")
	_ = viper.BindEnv("JWKS_URL", "JWKS_URL", "CLERK_JWKS_URL")
	_ = viper.BindEnv("JWT_AUDIENCE", "JWT_AUDIENCE", "CLERK_AUDIENCE")
	_ = viper.BindEnv("JWT_ISSUER", "JWT_ISSUER", "CLERK_ISSUER")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "WHEEL_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("SERVICE_PRINCIPAL")
	_ = viper.BindEnv("BOOTSTRAP_ADMIN_PRINCIPAL")
	_ = viper.BindEnv("EXTRACTION_COOLDOWN_SECONDS")
	_ = viper.BindEnv("EXTRACTION_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("TOKEN_REFRESH_SCHEDULE")
	_ = viper.BindEnv("TOKEN_REFRESH_CONCURRENCY")
	_ = viper.BindEnv("STALE_EXTRACTION_SCHEDULE")
	_ = viper.BindEnv("STALE_EXTRACTION_MINUTES")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

	// It's okay if the config file doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.ServicePrincipal = strings.TrimSpace(config.ServicePrincipal)
	config.BootstrapAdminPrincipal = strings.TrimSpace(config.BootstrapAdminPrincipal)
	config.ProfileServiceURL = strings.TrimRight(strings.TrimSpace(config.ProfileServiceURL), "/")
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRedisRateLimitPrefix
	}

	if config.ExtractionCooldownSeconds < 0 {
		log.Printf("level=warn component=config msg=\"negative extraction cooldown configured; coercing to zero\" cooldown_seconds=%d", config.ExtractionCooldownSeconds)
		config.ExtractionCooldownSeconds = 0
	}
	if config.ExtractionRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative extraction rate limit configured; disabling throttle\" limit=%d", config.ExtractionRateLimitPerMinute)
		config.ExtractionRateLimitPerMinute = 0
	}
	if config.TokenRefreshConcurrency <= 0 {
		config.TokenRefreshConcurrency = defaultTokenRefreshConcurrency
	}
	if config.TokenRefreshConcurrency > maxTokenRefreshConcurrency {
		log.Printf("level=warn component=config msg=\"token refresh concurrency too high; capping\" concurrency=%d max=%d", config.TokenRefreshConcurrency, maxTokenRefreshConcurrency)
		config.TokenRefreshConcurrency = maxTokenRefreshConcurrency
	}
	if config.StaleExtractionMinutes <= 0 {
		config.StaleExtractionMinutes = defaultStaleExtractionMinutes
	}

	config.TokenRefreshSchedule = validSchedule("TOKEN_REFRESH_SCHEDULE", config.TokenRefreshSchedule)
	config.StaleExtractionSchedule = validSchedule("STALE_EXTRACTION_SCHEDULE", config.StaleExtractionSchedule)

	return
}

// validSchedule returns the trimmed schedule, or "" (job disabled) when it does not parse.
func validSchedule(key, schedule string) string {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" || strings.EqualFold(schedule, "off") {
		return ""
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		log.Printf("level=warn component=config msg=\"invalid cron schedule; job disabled\" key=%s value=%q err=%v", key, schedule, err)
		return ""
	}
	return schedule
}
