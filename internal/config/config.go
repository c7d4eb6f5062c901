// Package config loads the gate server configuration from the environment,
// an optional .env file, and an optional YAML rules file.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nhalm/chigate"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Environment     string        `env:"APP_ENV"`
	HTTPAddr        string        `env:"HTTP_ADDR" validate:"required"`
	MetricsAddr     string        `env:"METRICS_ADDR"`
	UpstreamURL     string        `env:"UPSTREAM_URL" validate:"omitempty,url"`
	LogLevel        string        `env:"LOG_LEVEL" validate:"oneof=debug info warn warning error"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	RulesFile       string        `env:"GATE_RULES_FILE"`

	Store StoreConfig

	// Rules are the bundled tables with any overrides from RulesFile applied.
	Rules chigate.Rules `validate:"-"`
}

type StoreConfig struct {
	Backend        string        `env:"STORE_BACKEND" validate:"oneof=memory redis"`
	EventRetention time.Duration `env:"EVENT_RETENTION" validate:"gt=0"`
	Redis          RedisConfig
}

type RedisConfig struct {
	URL      string `env:"REDIS_URL"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" validate:"gte=0"`
	Prefix   string `env:"REDIS_PREFIX"`
}

// RulesOverride is the YAML shape of GATE_RULES_FILE. Omitted keys keep the bundled tables.
type RulesOverride struct {
	Honeypots      []string             `yaml:"honeypots"`
	RouteLimits    []chigate.RouteLimit `yaml:"route_limits" validate:"dive"`
	DefaultLimit   *chigate.RouteLimit  `yaml:"default_limit"`
	AllowedOrigins []string             `yaml:"allowed_origins" validate:"dive,url"`
	BlockThreshold *int64               `yaml:"block_threshold" validate:"omitempty,gt=0"`
	MaxURLLength   *int                 `yaml:"max_url_length" validate:"omitempty,gt=0"`
}

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("env"); name != "" {
			return name
		}
		if name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]; name != "" && name != "-" {
			return name
		}
		return fld.Name
	})
}

// Load reads .env (when present) and the environment, applies the rules file,
// and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment:    getEnv("APP_ENV", "development"),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9090"),
		UpstreamURL:    getEnv("UPSTREAM_URL", ""),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
		RulesFile:      getEnv("GATE_RULES_FILE", ""),
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", ""),
				Password: os.Getenv("REDIS_PASSWORD"),
				Prefix:   getEnv("REDIS_PREFIX", "chigate:"),
			},
		},
		Rules: chigate.DefaultRules(),
	}

	var err error
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.Store.EventRetention, err = getDuration("EVENT_RETENTION", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Store.Redis.DB, err = strconv.Atoi(getEnv("REDIS_DB", "0")); err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	if cfg.RulesFile != "" {
		override, err := LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		cfg.Rules = override.Apply(cfg.Rules)
	}
	// Origins allowed by CORS must also pass the gate's Origin check.
	for _, origin := range cfg.AllowedOrigins {
		if !slices.Contains(cfg.Rules.AllowedOrigins, origin) {
			cfg.Rules.AllowedOrigins = append(cfg.Rules.AllowedOrigins, origin)
		}
	}

	if cfg.Store.Backend == BackendRedis && cfg.Store.Redis.URL == "" {
		return nil, errors.New("invalid config: REDIS_URL is required when STORE_BACKEND=redis")
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %s", describe(err))
	}

	return cfg, nil
}

// IsProduction reports whether the configured environment is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// LoadRules parses and validates a YAML rules file.
func LoadRules(path string) (*RulesOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var override RulesOverride
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	if err := validate.Struct(&override); err != nil {
		return nil, fmt.Errorf("invalid rules file: %s", describe(err))
	}
	return &override, nil
}

// Apply returns base with every table set in o replaced.
func (o *RulesOverride) Apply(base chigate.Rules) chigate.Rules {
	if o.Honeypots != nil {
		base.Honeypots = o.Honeypots
	}
	if o.RouteLimits != nil {
		base.RouteLimits = o.RouteLimits
	}
	if o.DefaultLimit != nil {
		base.DefaultLimit = *o.DefaultLimit
	}
	if o.AllowedOrigins != nil {
		base.AllowedOrigins = o.AllowedOrigins
	}
	if o.BlockThreshold != nil {
		base.BlockThreshold = *o.BlockThreshold
	}
	if o.MaxURLLength != nil {
		base.MaxURLLength = *o.MaxURLLength
	}
	return base
}

func describe(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err.Error()
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		field := e.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		if e.Param() != "" {
			msgs[i] = fmt.Sprintf("%s failed %s=%s", field, e.Tag(), e.Param())
		} else {
			msgs[i] = fmt.Sprintf("%s failed %s", field, e.Tag())
		}
	}
	return strings.Join(msgs, "; ")
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
