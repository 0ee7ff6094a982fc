package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lbartoszcze/autolife/internal/gate"
)

// Store backends.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

type Config struct {
	StateRoot       string `yaml:"state_root"`
	CooldownMinutes int    `yaml:"cooldown_minutes"`
	MaxPerDay       int    `yaml:"max_per_day"`
	Store           string `yaml:"store"`
	TraceIndex      bool   `yaml:"trace_index"`
	SafetyPolicy    string `yaml:"safety_policy"`
	Catalog         string `yaml:"catalog"`
	DefaultTopic    string `yaml:"default_topic"`
	FallbackEnabled bool   `yaml:"fallback_enabled"`
	HTTPAddr        string `yaml:"http_addr"`
	GRPCAddr        string `yaml:"grpc_addr"`
	NatsURL         string `yaml:"nats_url"`
	NatsSubject     string `yaml:"nats_subject"`
	LogLevel        string `yaml:"log_level"`
}

func Default() Config {
	l := gate.DefaultLimits()
	return Config{
		StateRoot:       ".nudge",
		CooldownMinutes: l.CooldownMinutes,
		MaxPerDay:       l.MaxPerDay,
		Store:           StoreFile,
		DefaultTopic:    "general",
		FallbackEnabled: true,
		HTTPAddr:        ":8780",
		GRPCAddr:        ":8781",
		NatsSubject:     "nudge.decisions",
		LogLevel:        "info",
	}
}

// Load starts from Default, overlays the YAML file at path (skipped when
// path is empty) and then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.StateRoot = envStr("NUDGE_STATE_ROOT", cfg.StateRoot)
	cfg.CooldownMinutes = envInt("NUDGE_COOLDOWN_MINUTES", cfg.CooldownMinutes)
	cfg.MaxPerDay = envInt("NUDGE_MAX_PER_DAY", cfg.MaxPerDay)
	cfg.Store = strings.ToLower(envStr("NUDGE_STORE", cfg.Store))
	cfg.TraceIndex = envBool("NUDGE_TRACE_INDEX", cfg.TraceIndex)
	cfg.SafetyPolicy = envStr("NUDGE_SAFETY_POLICY", cfg.SafetyPolicy)
	cfg.Catalog = envStr("NUDGE_CATALOG", cfg.Catalog)
	cfg.DefaultTopic = envStr("NUDGE_DEFAULT_TOPIC", cfg.DefaultTopic)
	cfg.FallbackEnabled = envBool("NUDGE_FALLBACK_ENABLED", cfg.FallbackEnabled)
	cfg.HTTPAddr = envStr("NUDGE_HTTP_ADDR", cfg.HTTPAddr)
	cfg.GRPCAddr = envStr("NUDGE_GRPC_ADDR", cfg.GRPCAddr)
	cfg.NatsURL = envStr("NATS_URL", cfg.NatsURL)
	cfg.NatsSubject = envStr("NUDGE_NATS_SUBJECT", cfg.NatsSubject)
	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.StateRoot == "" {
		errs = append(errs, errors.New("state_root is required"))
	}
	if c.CooldownMinutes < 0 {
		errs = append(errs, fmt.Errorf("cooldown_minutes must be >= 0, got %d", c.CooldownMinutes))
	}
	if c.MaxPerDay < 0 {
		errs = append(errs, fmt.Errorf("max_per_day must be >= 0, got %d", c.MaxPerDay))
	}
	if c.Store != StoreFile && c.Store != StoreSQLite {
		errs = append(errs, fmt.Errorf("store must be %q or %q, got %q", StoreFile, StoreSQLite, c.Store))
	}
	return errors.Join(errs...)
}

// Limits returns the configured pacing limits.
func (c Config) Limits() gate.Limits {
	return gate.Limits{CooldownMinutes: c.CooldownMinutes, MaxPerDay: c.MaxPerDay}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
