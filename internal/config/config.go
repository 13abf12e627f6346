// Package config loads service configuration from environment variables
// and an optional TOML policy file.
//
// Secrets (vault key, token signing secret, database DSN) come from the
// environment only. The policy file holds tunable gate thresholds and is
// safe to commit; every knob has a default matching the shipped policy.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	envAddr        = "AIDGATE_ADDR"
	envPGDSN       = "AIDGATE_PG_DSN"
	envVaultSecret = "AIDGATE_VAULT_SECRET"
	envTokenSecret = "AIDGATE_TOKEN_SECRET"
	envPolicyFile  = "AIDGATE_POLICY_FILE"
)

// Config is the full runtime configuration.
type Config struct {
	Addr        string
	PGDSN       string
	VaultSecret string
	TokenSecret string
	Policy      Policy
}

// Policy holds the tunable gate thresholds.
type Policy struct {
	LoginMaxFailures   int      `toml:"login_max_failures"`
	LoginFailureWindow Duration `toml:"login_failure_window"`
	LockoutDuration    Duration `toml:"lockout_duration"`

	ResourceViewMax    int      `toml:"resource_view_max"`
	ResourceViewWindow Duration `toml:"resource_view_window"`

	APICallMax    int      `toml:"api_call_max"`
	APICallWindow Duration `toml:"api_call_window"`

	SessionTTL       Duration `toml:"session_ttl"`
	SessionCap       int      `toml:"session_cap"`
	SessionRetention Duration `toml:"session_retention"`

	AuditQueueSize int    `toml:"audit_queue_size"`
	MFAIssuer      string `toml:"mfa_issuer"`
}

// Duration wraps time.Duration so TOML values can be written as "15m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// DefaultPolicy returns the shipped gate policy.
func DefaultPolicy() Policy {
	return Policy{
		LoginMaxFailures:   5,
		LoginFailureWindow: Duration{15 * time.Minute},
		LockoutDuration:    Duration{30 * time.Minute},
		ResourceViewMax:    20,
		ResourceViewWindow: Duration{60 * time.Minute},
		APICallMax:         100,
		APICallWindow:      Duration{60 * time.Second},
		SessionTTL:         Duration{12 * time.Hour},
		SessionCap:         5,
		SessionRetention:   Duration{7 * 24 * time.Hour},
		AuditQueueSize:     1024,
		MFAIssuer:          "aidgate",
	}
}

// Load reads configuration from the environment and, when
// AIDGATE_POLICY_FILE is set, merges the TOML policy file on top of the
// defaults.
func Load() (Config, error) {
	cfg := Config{
		Addr:        strings.TrimSpace(os.Getenv(envAddr)),
		PGDSN:       strings.TrimSpace(os.Getenv(envPGDSN)),
		VaultSecret: strings.TrimSpace(os.Getenv(envVaultSecret)),
		TokenSecret: strings.TrimSpace(os.Getenv(envTokenSecret)),
		Policy:      DefaultPolicy(),
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	if path := strings.TrimSpace(os.Getenv(envPolicyFile)); path != "" {
		policy, err := LoadPolicy(path)
		if err != nil {
			return Config{}, err
		}
		cfg.Policy = policy
	}
	return cfg, cfg.Policy.validate()
}

// LoadPolicy decodes a TOML policy file, starting from the defaults so a
// partial file only overrides what it names.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if _, err := toml.DecodeFile(path, &policy); err != nil {
		return Policy{}, fmt.Errorf("decode policy file %s: %w", path, err)
	}
	if err := policy.validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

func (p Policy) validate() error {
	if p.LoginMaxFailures <= 0 {
		return fmt.Errorf("login_max_failures must be positive, got %d", p.LoginMaxFailures)
	}
	if p.SessionCap <= 0 {
		return fmt.Errorf("session_cap must be positive, got %d", p.SessionCap)
	}
	for name, d := range map[string]time.Duration{
		"login_failure_window": p.LoginFailureWindow.Duration,
		"lockout_duration":     p.LockoutDuration.Duration,
		"resource_view_window": p.ResourceViewWindow.Duration,
		"api_call_window":      p.APICallWindow.Duration,
		"session_ttl":          p.SessionTTL.Duration,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if p.AuditQueueSize <= 0 {
		return fmt.Errorf("audit_queue_size must be positive, got %d", p.AuditQueueSize)
	}
	return nil
}
