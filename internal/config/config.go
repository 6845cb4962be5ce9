package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Cache backends.
const (
	CacheBackendFile     = "file"
	CacheBackendPostgres = "postgres"
)

// Config holds the configuration settings for a geocoding run.
//
// Fields:
// - Env: The current environment (e.g., local, development, production).
// - InputPath, OutputPath, CachePath: Files read and written, resolved against BaseDir.
// - CacheBackend: Where geocoding answers are memoized (file, postgres).
// - ProviderType: The type of geocoding provider to use (nominatim, google, visicom).
// - Timeout, Language, UserAgent: How each outbound request is made.
// - Delay: The pause after every row that needed an outbound request.
// - QuerySuffix: Country qualifier appended to every address.
// - Database: Configuration settings for the PostgreSQL cache backend.
type Config struct {
	Env          string         `yaml:"env"`           // Env is the current environment: local, development, production.
	BaseDir      string         `yaml:"base_dir"`      // Directory relative paths are resolved against.
	InputPath    string         `yaml:"input"`         // Place table to read.
	OutputPath   string         `yaml:"output"`        // Augmented place table to write.
	CachePath    string         `yaml:"cache.file"`    // JSON cache document.
	CacheBackend string         `yaml:"cache.backend"` // file or postgres.
	ProviderType string         `yaml:"provider.type"` // ProviderType specifies which geocoding provider to use
	APIKey       string         `yaml:"provider.key"`  // The API key for Google or Visicom.
	RateLimit    int            `yaml:"provider.rate"` // Client-side requests per second for Google or Visicom.
	Timeout      time.Duration  `yaml:"timeout"`       // Per-request timeout.
	Language     string         `yaml:"language"`      // Preferred result language.
	UserAgent    string         `yaml:"user_agent"`    // Sent with every request.
	Delay        time.Duration  `yaml:"delay"`         // Pause after each outbound request.
	QuerySuffix  string         `yaml:"query_suffix"`  // Appended to every address.
	MetricsFile  string         `yaml:"metrics_file"`  // Optional Prometheus textfile output.
	Database     PostgresConfig `yaml:"postgres"`      // Database holds the postgres database configuration
}

// PostgresConfig struct holds the configuration details for connecting to a PostgreSQL database.
type PostgresConfig struct {
	Host     string `yaml:"host"`                        // Host is the database server address.
	Port     string `yaml:"port"     env-default:"5432"` // Port is the database server port.
	User     string `yaml:"user"`                        // User is the database user.
	Password string `yaml:"password"`                    // Password is the database user's password.
	Name     string `yaml:"db_name"`                     // Name is the name of the database.
}

const defaultUserAgent = "Pinpoint-Geocoder/1.0 (https://github.com/UnknownOlympus/pinpoint)"

// MustLoad reads the configuration from the environment (and an optional .env
// file) and panics on values that cannot be parsed.
func MustLoad() *Config {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("PINPOINT")
	v.AutomaticEnv()

	v.SetDefault("env", "local")
	v.SetDefault("input", filepath.Join("..", "places.csv"))
	v.SetDefault("output", "places_with_coords.csv")
	v.SetDefault("cache_file", "geocode_cache.json")
	v.SetDefault("cache_backend", CacheBackendFile)
	v.SetDefault("provider_type", "nominatim")
	v.SetDefault("rate_limit", "0")
	v.SetDefault("timeout", "20s")
	v.SetDefault("language", "he")
	v.SetDefault("user_agent", defaultUserAgent)
	v.SetDefault("delay", "1.2s")
	v.SetDefault("query_suffix", ", ישראל")

	for key, env := range map[string]string{
		"db.host":     "DB_HOST",
		"db.port":     "DB_PORT",
		"db.user":     "DB_USERNAME",
		"db.password": "DB_PASSWORD",
		"db.name":     "DB_NAME",
	} {
		_ = v.BindEnv(key, env)
	}

	timeout, err := time.ParseDuration(v.GetString("timeout"))
	if err != nil {
		panic("failed to parse request timeout from configuration")
	}

	delay, err := time.ParseDuration(v.GetString("delay"))
	if err != nil || delay < 0 {
		panic("failed to parse delay from configuration")
	}

	rateLimit, err := strconv.Atoi(v.GetString("rate_limit"))
	if err != nil {
		panic("failed to parse rate limit from configuration, must be an integer types")
	}

	backend := v.GetString("cache_backend")
	if backend != CacheBackendFile && backend != CacheBackendPostgres {
		panic("unknown cache backend in configuration, must be file or postgres")
	}

	baseDir := v.GetString("base_dir")
	if baseDir == "" {
		baseDir = executableDir()
	}

	return &Config{
		Env:          v.GetString("env"),
		BaseDir:      baseDir,
		InputPath:    resolve(baseDir, v.GetString("input")),
		OutputPath:   resolve(baseDir, v.GetString("output")),
		CachePath:    resolve(baseDir, v.GetString("cache_file")),
		CacheBackend: backend,
		ProviderType: v.GetString("provider_type"),
		APIKey:       v.GetString("provider_key"),
		RateLimit:    rateLimit,
		Timeout:      timeout,
		Language:     v.GetString("language"),
		UserAgent:    v.GetString("user_agent"),
		Delay:        delay,
		QuerySuffix:  v.GetString("query_suffix"),
		MetricsFile:  resolve(baseDir, v.GetString("metrics_file")),
		Database: PostgresConfig{
			Host:     v.GetString("db.host"),
			Port:     v.GetString("db.port"),
			User:     v.GetString("db.user"),
			Password: v.GetString("db.password"),
			Name:     v.GetString("db.name"),
		},
	}
}

// executableDir is the directory holding the running binary, or the working
// directory when it cannot be determined.
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}

	return filepath.Dir(exe)
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(baseDir, path)
}
