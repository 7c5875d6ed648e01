package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DateLayout is the calendar date format used by the provider, the admin API
// and the CLI.
const DateLayout = "2006-01-02"

type Config struct {
	Port        string
	Environment string
	Timezone    string

	DBDriver    string // postgres, sqlite
	DatabaseURL string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	SQLitePath  string

	UpstreamBaseURL     string
	UpstreamUser        string
	UpstreamPassword    string
	UpstreamCallTimeout time.Duration
	UpstreamRateLimit   int // requests per second
	UpstreamPageSize    int

	FullImportStart string
	Granularity     string
	AdjustFlag      string
	ScoreEvery      int

	SchedulerEnabled bool
	DataUpdateHour   int
	DataUpdateMinute int

	LogLevel  string
	LogFormat string

	AdminJWTSecret    string
	AdminUsername     string
	AdminPasswordHash string
	AnalyticsWebhook  string
	AnalyticsNATSURL  string
	MongoDBURI        string
	MongoDBDatabase   string
}

var AppConfig *Config

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// A missing .env is normal in containers.
	_ = godotenv.Load()

	config := &Config{
		Port:        getEnv("PORT", "5000"),
		Environment: getEnv("ENVIRONMENT", "development"),
		Timezone:    getEnv("TIMEZONE", "Asia/Shanghai"),

		DBDriver:    getEnv("DB_DRIVER", "postgres"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", ""),
		DBName:      getEnv("DB_NAME", "quantitativeanalysis"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),
		SQLitePath:  getEnv("SQLITE_PATH", "data/market.db"),

		UpstreamBaseURL:     getEnv("UPSTREAM_BASE_URL", "http://localhost:10030"),
		UpstreamUser:        getEnv("UPSTREAM_USER", "anonymous"),
		UpstreamPassword:    getEnv("UPSTREAM_PASSWORD", "123456"),
		UpstreamCallTimeout: getEnvDuration("UPSTREAM_CALL_TIMEOUT", 30*time.Second),
		UpstreamRateLimit:   getEnvInt("UPSTREAM_RATE_LIMIT", 10),
		UpstreamPageSize:    getEnvInt("UPSTREAM_PAGE_SIZE", 10000),

		FullImportStart: getEnv("SYNC_FULL_IMPORT_START", "2025-01-01"),
		Granularity:     getEnv("SYNC_GRANULARITY", "d"),
		AdjustFlag:      getEnv("SYNC_ADJUST_FLAG", "3"),
		ScoreEvery:      getEnvInt("SYNC_SCORE_EVERY", 100),

		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
		DataUpdateHour:   getEnvInt("DATA_UPDATE_HOUR", 18),
		DataUpdateMinute: getEnvInt("DATA_UPDATE_MINUTE", 0),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		AdminJWTSecret:    getEnv("ADMIN_JWT_SECRET", ""),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		AnalyticsWebhook:  getEnv("ANALYTICS_WEBHOOK_URL", ""),
		AnalyticsNATSURL:  getEnv("ANALYTICS_NATS_URL", ""),
		MongoDBURI:        getEnv("MONGODB_URI", ""),
		MongoDBDatabase:   getEnv("MONGODB_DATABASE", "quant_sync"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	AppConfig = config
	return config, nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	var problems []string

	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver))
	}
	if _, err := time.Parse(DateLayout, c.FullImportStart); err != nil {
		problems = append(problems, fmt.Sprintf("SYNC_FULL_IMPORT_START must be YYYY-MM-DD, got %q", c.FullImportStart))
	}
	switch c.Granularity {
	case "d", "5", "15", "30", "60":
	default:
		problems = append(problems, fmt.Sprintf("SYNC_GRANULARITY must be one of d,5,15,30,60, got %q", c.Granularity))
	}
	if c.ScoreEvery <= 0 {
		problems = append(problems, "SYNC_SCORE_EVERY must be positive")
	}
	if c.DataUpdateHour < 0 || c.DataUpdateHour > 23 || c.DataUpdateMinute < 0 || c.DataUpdateMinute > 59 {
		problems = append(problems, fmt.Sprintf("invalid daily update time %02d:%02d", c.DataUpdateHour, c.DataUpdateMinute))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("unknown TIMEZONE %q", c.Timezone))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Location returns the market timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FullImportStartDate returns the configured full-import floor.
func (c *Config) FullImportStartDate() time.Time {
	t, _ := time.Parse(DateLayout, c.FullImportStart)
	return t
}

// InitDB initializes database connection
func InitDB(cfg *Config, log zerolog.Logger) (*gorm.DB, error) {
	var logLevel logger.LogLevel
	if cfg.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Warn
	}
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	}

	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLitePath).Msg("Opening sqlite database")
		if err := os.MkdirAll(dirOf(cfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
		dialector = sqlite.Open(cfg.SQLitePath + "?_busy_timeout=5000&_journal_mode=WAL")
	default:
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = fmt.Sprintf(
				"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
				cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode, cfg.Timezone,
			)
		}
		log.Info().
			Str("host", maskHost(cfg.DBHost)).
			Str("port", cfg.DBPort).
			Str("user", cfg.DBUser).
			Str("dbname", cfg.DBName).
			Bool("url", cfg.DatabaseURL != "").
			Msg("Connecting to database")
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}
	if cfg.DBDriver == "postgres" {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Info().Str("driver", cfg.DBDriver).Msg("Database connection verified successfully")
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

func dirOf(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i > 0 {
		return path[:i]
	}
	return "."
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

// getEnvDuration accepts Go durations ("45s") or plain seconds ("45").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
