package config

import (
	"fmt"
	"strings"
)

// MaxSampleRatio bounds the telemetry sampling fraction.
const MaxSampleRatio = 1.0

// Validate checks the loaded configuration for values the daemon cannot run
// with.
func (c *Config) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("node: ChainID must be positive")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("node: DataDir required")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("node: unknown LogLevel %q", c.LogLevel)
	}
	if _, err := c.Market.Policy(); err != nil {
		return fmt.Errorf("market: %w", err)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > MaxSampleRatio {
		return fmt.Errorf("telemetry: SampleRatio must be within [0, 1]")
	}
	if c.Indexer.Enabled {
		switch c.Indexer.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("indexer: unsupported driver %q", c.Indexer.Driver)
		}
		if strings.TrimSpace(c.Indexer.DSN) == "" {
			return fmt.Errorf("indexer: DSN required")
		}
	}
	if c.RPC.RateLimitBurst < 1 {
		return fmt.Errorf("rpc: RateLimitBurst must be at least 1")
	}
	if err := c.Genesis.validate(); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	return nil
}
