package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// SessionFlow selects which variant of the session state machine new games
// are created with.
const (
	// FlowZK: players submit proof-checked board commitments and shot
	// results; the service only adjudicates.
	FlowZK = "zk"
	// FlowAttested: a trusted backend starts games and attests outcomes,
	// collapsing board submission into a single start transition.
	FlowAttested = "attested"
)

type AppConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	// VerifierBaseURL points at the external prover service. Empty means
	// the accept-all verifier (attested deployments).
	VerifierBaseURL string `yaml:"verifier_base_url"`

	BackendKey string `yaml:"backend_key"`
	AdminKey   string `yaml:"admin_key"`

	MinStake   int64 `yaml:"min_stake"`
	MaxStake   int64 `yaml:"max_stake"`
	FeePercent int64 `yaml:"fee_percent"`

	InviteTTL   time.Duration `yaml:"invite_ttl"`
	TurnTimeout time.Duration `yaml:"turn_timeout"`

	SessionFlow  string `yaml:"session_flow"`
	LogicVersion int    `yaml:"logic_version"`
}

// Load builds the configuration from an optional YAML file (CONFIG_FILE)
// overlaid by environment variables. Env always wins.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:   ":8080",
		MinStake:     1,
		MaxStake:     1_000_000,
		FeePercent:   10,
		InviteTTL:    24 * time.Hour,
		TurnTimeout:  5 * time.Minute,
		SessionFlow:  FlowZK,
		LogicVersion: 1,
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("VERIFIER_BASE_URL")); v != "" {
		cfg.VerifierBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BACKEND_KEY")); v != "" {
		cfg.BackendKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ADMIN_KEY")); v != "" {
		cfg.AdminKey = v
	}

	if v := strings.TrimSpace(os.Getenv("MIN_STAKE")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MinStake = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_STAKE")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxStake = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("FEE_PERCENT")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 && n <= 100 {
			cfg.FeePercent = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("INVITE_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.InviteTTL = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("TURN_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TurnTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("SESSION_FLOW")); v != "" {
		cfg.SessionFlow = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("LOGIC_VERSION")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LogicVersion = n
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.BackendKey == "" {
		return nil, errors.New("BACKEND_KEY is required")
	}
	if cfg.SessionFlow != FlowZK && cfg.SessionFlow != FlowAttested {
		return nil, fmt.Errorf("invalid SESSION_FLOW %q", cfg.SessionFlow)
	}
	if cfg.MinStake > cfg.MaxStake {
		return nil, errors.New("MIN_STAKE exceeds MAX_STAKE")
	}

	return cfg, nil
}
