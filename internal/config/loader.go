package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures environment driven configuration values for the booking service.
type Config struct {
	HTTPPort       int
	DatabaseDriver string
	DatabaseDSN    string
	JWTSecret      string
	LogLevel       string

	Location        *time.Location
	DayStartHour    int
	DayEndHour      int
	RequestTimeout  time.Duration
	StalenessWindow time.Duration
	DefaultHorizon  int

	GoogleClientID     string
	GoogleClientSecret string
	GoogleAPIBaseURL   string
	ProviderRateLimit  float64
	ProviderBurst      int

	RedisAddr     string
	StatsCacheTTL time.Duration

	CORSOrigins          []string
	RecurringConcurrency int
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Load parses configuration values from the current process environment.
//
// An optional dotenv file (BOOKING_ENV_FILE, default ".env") is applied first.
// Variables already present in the environment take precedence over the file.
// The loader applies defaults for optional fields and reports every missing or
// invalid entry in a single error.
func Load() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		HTTPPort:             8080,
		DatabaseDriver:       DriverSQLite,
		DatabaseDSN:          "file:booking.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		LogLevel:             "info",
		Location:             time.UTC,
		DayStartHour:         6,
		DayEndHour:           22,
		RequestTimeout:       10 * time.Second,
		StalenessWindow:      5 * time.Minute,
		DefaultHorizon:       7,
		GoogleAPIBaseURL:     "https://www.googleapis.com/calendar/v3",
		ProviderRateLimit:    10,
		ProviderBurst:        5,
		StatsCacheTTL:        10 * time.Minute,
		RecurringConcurrency: 4,
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 4)

	if portValue := strings.TrimSpace(os.Getenv("BOOKING_HTTP_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 {
			invalid = append(invalid, "BOOKING_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if driver := strings.ToLower(strings.TrimSpace(os.Getenv("BOOKING_DB_DRIVER"))); driver != "" {
		if driver != DriverMemory && driver != DriverSQLite && driver != DriverPostgres {
			invalid = append(invalid, "BOOKING_DB_DRIVER")
		} else {
			cfg.DatabaseDriver = driver
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("BOOKING_DB_DSN")); dsn != "" {
		cfg.DatabaseDSN = dsn
	} else if cfg.DatabaseDriver == DriverPostgres {
		missing = append(missing, "BOOKING_DB_DSN")
	}

	if secret := strings.TrimSpace(os.Getenv("BOOKING_JWT_SECRET")); secret == "" {
		missing = append(missing, "BOOKING_JWT_SECRET")
	} else {
		cfg.JWTSecret = secret
	}

	if level := strings.TrimSpace(os.Getenv("BOOKING_LOG_LEVEL")); level != "" {
		cfg.LogLevel = level
	}

	if tz := strings.TrimSpace(os.Getenv("BOOKING_TIMEZONE")); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			invalid = append(invalid, "BOOKING_TIMEZONE")
		} else {
			cfg.Location = loc
		}
	}

	parseInt(&cfg.DayStartHour, "BOOKING_DAY_START_HOUR", 0, 23, &invalid)
	parseInt(&cfg.DayEndHour, "BOOKING_DAY_END_HOUR", 1, 24, &invalid)
	if cfg.DayEndHour <= cfg.DayStartHour {
		invalid = append(invalid, "BOOKING_DAY_END_HOUR")
	}
	parseInt(&cfg.DefaultHorizon, "BOOKING_DEFAULT_HORIZON_DAYS", 1, 14, &invalid)
	parseInt(&cfg.ProviderBurst, "BOOKING_PROVIDER_BURST", 1, 1000, &invalid)
	parseInt(&cfg.RecurringConcurrency, "BOOKING_RECURRING_CONCURRENCY", 1, 64, &invalid)

	parseDuration(&cfg.RequestTimeout, "BOOKING_REQUEST_TIMEOUT", &invalid)
	parseDuration(&cfg.StalenessWindow, "BOOKING_STALENESS_WINDOW", &invalid)
	parseDuration(&cfg.StatsCacheTTL, "BOOKING_STATS_CACHE_TTL", &invalid)

	if rateValue := strings.TrimSpace(os.Getenv("BOOKING_PROVIDER_RATE_LIMIT")); rateValue != "" {
		rate, err := strconv.ParseFloat(rateValue, 64)
		if err != nil || rate <= 0 {
			invalid = append(invalid, "BOOKING_PROVIDER_RATE_LIMIT")
		} else {
			cfg.ProviderRateLimit = rate
		}
	}

	cfg.GoogleClientID = strings.TrimSpace(os.Getenv("BOOKING_GOOGLE_CLIENT_ID"))
	cfg.GoogleClientSecret = strings.TrimSpace(os.Getenv("BOOKING_GOOGLE_CLIENT_SECRET"))
	if base := strings.TrimSpace(os.Getenv("BOOKING_GOOGLE_API_BASE_URL")); base != "" {
		cfg.GoogleAPIBaseURL = strings.TrimRight(base, "/")
	}

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("BOOKING_REDIS_ADDR"))

	if origins := strings.TrimSpace(os.Getenv("BOOKING_CORS_ORIGINS")); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
			}
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("environment variables have invalid values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func loadDotEnv() error {
	path := strings.TrimSpace(os.Getenv("BOOKING_ENV_FILE"))
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func parseInt(target *int, key string, min, max int, invalid *[]string) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < min || parsed > max {
		*invalid = append(*invalid, key)
		return
	}
	*target = parsed
}

func parseDuration(target *time.Duration, key string, invalid *[]string) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		*invalid = append(*invalid, key)
		return
	}
	*target = parsed
}
