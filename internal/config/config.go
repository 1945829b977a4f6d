package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

type AppConfig struct {
	// FieldURL is the fixed remote resource the wind field is fetched from.
	FieldURL string `validate:"required,url"`

	CacheDir string `validate:"required"`
	StateDir string `validate:"required"`

	HTTPTimeout time.Duration `validate:"gt=0"`

	// UpdateInterval is the periodic job interval; MinUpdateInterval debounces
	// expedited triggers and is the base of the retry backoff.
	UpdateInterval    time.Duration `validate:"gt=0"`
	MinUpdateInterval time.Duration `validate:"gt=0,ltefield=UpdateInterval"`

	// BreakerFailures consecutive failed fetches open the circuit breaker for
	// BreakerTimeout, which defaults to UpdateInterval.
	BreakerFailures int           `validate:"gte=1"`
	BreakerTimeout  time.Duration `validate:"gt=0"`

	EstimatedKB   int    `validate:"gte=0"`
	ClientVersion string `validate:"required"`

	Port string `validate:"required,numeric"`
}

// fileConfig is the optional YAML file named by CONFIG_FILE. Environment
// variables override every value it sets.
type fileConfig struct {
	Field struct {
		URL         string `yaml:"url"`
		EstimatedKB int    `yaml:"estimatedKB"`
	} `yaml:"field"`
	Storage struct {
		CacheDir string `yaml:"cacheDir"`
		StateDir string `yaml:"stateDir"`
	} `yaml:"storage"`
	Update struct {
		Interval        string `yaml:"interval"`
		MinimumInterval string `yaml:"minimumInterval"`
		HTTPTimeout     string `yaml:"httpTimeout"`
	} `yaml:"update"`
	Breaker struct {
		Failures int    `yaml:"failures"`
		Timeout  string `yaml:"timeout"`
	} `yaml:"breaker"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	ClientVersion string `yaml:"clientVersion"`
}

// Load reads configuration from an optional YAML file and the environment,
// with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	defaults := map[string]string{
		"CACHE_DIR":               "./data",
		"STATE_DIR":               "./data/state",
		"HTTP_TIMEOUT":            "30s",
		"UPDATE_INTERVAL":         "3h",
		"UPDATE_INTERVAL_MINIMUM": "15m",
		"FIELD_SIZE_ESTIMATED_KB": "400",
		"BREAKER_FAILURES":        "3",
		"CLIENT_VERSION":          "dev",
		"PORT":                    "8080",
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fc, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		fc.apply(defaults)
	}

	cfg := &AppConfig{
		FieldURL:      getenvDefault("FIELD_URL", defaults["FIELD_URL"]),
		CacheDir:      getenvDefault("CACHE_DIR", defaults["CACHE_DIR"]),
		StateDir:      getenvDefault("STATE_DIR", defaults["STATE_DIR"]),
		ClientVersion: getenvDefault("CLIENT_VERSION", defaults["CLIENT_VERSION"]),
		Port:          getenvDefault("PORT", defaults["PORT"]),
	}

	def, _ := strconv.Atoi(defaults["FIELD_SIZE_ESTIMATED_KB"])
	cfg.EstimatedKB = getenvInt("FIELD_SIZE_ESTIMATED_KB", def)

	def, _ = strconv.Atoi(defaults["BREAKER_FAILURES"])
	cfg.BreakerFailures = getenvInt("BREAKER_FAILURES", def)

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", defaults["HTTP_TIMEOUT"]); err != nil {
		return nil, err
	}
	if cfg.UpdateInterval, err = getenvDuration("UPDATE_INTERVAL", defaults["UPDATE_INTERVAL"]); err != nil {
		return nil, err
	}
	if cfg.MinUpdateInterval, err = getenvDuration("UPDATE_INTERVAL_MINIMUM", defaults["UPDATE_INTERVAL_MINIMUM"]); err != nil {
		return nil, err
	}

	cfg.BreakerTimeout = cfg.UpdateInterval
	if v := getenvDefault("BREAKER_TIMEOUT", defaults["BREAKER_TIMEOUT"]); v != "" {
		if cfg.BreakerTimeout, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("invalid BREAKER_TIMEOUT: %w", err)
		}
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// EstimatedBytes returns the estimated payload size in bytes.
func (c *AppConfig) EstimatedBytes() int64 {
	return int64(c.EstimatedKB) * 1024
}

func loadFile(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

func (fc *fileConfig) apply(values map[string]string) {
	set := func(key, v string) {
		if v != "" {
			values[key] = v
		}
	}
	set("FIELD_URL", fc.Field.URL)
	set("CACHE_DIR", fc.Storage.CacheDir)
	set("STATE_DIR", fc.Storage.StateDir)
	set("HTTP_TIMEOUT", fc.Update.HTTPTimeout)
	set("UPDATE_INTERVAL", fc.Update.Interval)
	set("UPDATE_INTERVAL_MINIMUM", fc.Update.MinimumInterval)
	set("CLIENT_VERSION", fc.ClientVersion)
	set("BREAKER_TIMEOUT", fc.Breaker.Timeout)
	if fc.Breaker.Failures > 0 {
		values["BREAKER_FAILURES"] = strconv.Itoa(fc.Breaker.Failures)
	}
	if fc.Field.EstimatedKB > 0 {
		values["FIELD_SIZE_ESTIMATED_KB"] = strconv.Itoa(fc.Field.EstimatedKB)
	}
	if fc.Server.Port > 0 {
		values["PORT"] = strconv.Itoa(fc.Server.Port)
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
