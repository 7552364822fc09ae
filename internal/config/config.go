// Package config loads the gateway's environment-driven configuration (spec
// §6). Unlike a typical config package that snapshots values once at
// startup, Load is meant to be called fresh wherever a caller's behavior
// must track live environment changes (spec §9 Design Notes: "configuration
// is observed, not hard-captured") — mirroring the teacher's own
// ReplaceFrom/fresh-read config pattern.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ReasoningHandling controls how thinking/reasoning content is surfaced to
// clients.
type ReasoningHandling string

const (
	ReasoningIncludeAsText ReasoningHandling = "include_as_text"
	ReasoningEmitBlock     ReasoningHandling = "emit_block"
	ReasoningStrip         ReasoningHandling = "strip"
)

// Config is a plain value object. It carries no mutex because every field is
// set once per Load() call and never mutated in place; callers that need
// live values call Load() again.
type Config struct {
	GatewayKey   string
	RefreshToken string
	CredsFile    string
	KiroDBFile   string
	ProfileARN   string
	VPNProxyURL  string

	FirstTokenTimeout time.Duration
	MaxRetries        int
	TruncationRecover bool
	ReasoningHandling ReasoningHandling
}

// Exit code values mirror spec §6's three documented process outcomes.
const (
	ExitOK            = 0
	ExitConfigInvalid = 64
	ExitNoCredential  = 77
)

// Load reads configuration from the process environment. It never caches:
// call it again to observe changes, matching the teacher's "no ambient
// singleton, explicit value object" composition-root pattern.
func Load() (*Config, error) {
	c := &Config{
		GatewayKey:        os.Getenv("GATEWAY_KEY"),
		RefreshToken:      os.Getenv("REFRESH_TOKEN"),
		CredsFile:         os.Getenv("KIRO_CREDS_FILE"),
		KiroDBFile:        os.Getenv("KIRO_CLI_DB_FILE"),
		ProfileARN:        os.Getenv("PROFILE_ARN"),
		VPNProxyURL:       os.Getenv("VPN_PROXY_URL"),
		FirstTokenTimeout: 30 * time.Second,
		MaxRetries:        3,
		TruncationRecover: true,
		ReasoningHandling: ReasoningIncludeAsText,
	}

	if v := os.Getenv("FIRST_TOKEN_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("FIRST_TOKEN_TIMEOUT: %w", err)
		}
		c.FirstTokenTimeout = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("MAX_RETRIES: %w", err)
		}
		c.MaxRetries = n
	}

	if v := os.Getenv("TRUNCATION_RECOVERY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("TRUNCATION_RECOVERY: %w", err)
		}
		c.TruncationRecover = b
	}

	if v := os.Getenv("FAKE_REASONING_HANDLING"); v != "" {
		switch ReasoningHandling(v) {
		case ReasoningIncludeAsText, ReasoningEmitBlock, ReasoningStrip:
			c.ReasoningHandling = ReasoningHandling(v)
		default:
			return nil, fmt.Errorf("FAKE_REASONING_HANDLING: unknown value %q", v)
		}
	}

	if c.GatewayKey == "" {
		return nil, fmt.Errorf("GATEWAY_KEY is required")
	}
	if c.RefreshToken == "" && c.CredsFile == "" && c.KiroDBFile == "" {
		return nil, fmt.Errorf("no credential source configured: set one of REFRESH_TOKEN, KIRO_CREDS_FILE, KIRO_CLI_DB_FILE")
	}

	return c, nil
}
