package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"luxmarket/core/genesis"
	"luxmarket/crypto"
	"luxmarket/native/escrow"
)

func init() {
	crypto.UseLightScrypt()
}

func writeConfig(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != defaultRPCAddress || cfg.ChainID != defaultChainID {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.OperatorKeystorePath != filepath.Join(dir, "nested", "operator.keystore") {
		t.Fatalf("keystore path = %q", cfg.OperatorKeystorePath)
	}
	if _, err := crypto.LoadFromKeystore(cfg.OperatorKeystorePath, ""); err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not persisted: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.OperatorKeystorePath != cfg.OperatorKeystorePath {
		t.Fatalf("reloaded keystore path = %q", reloaded.OperatorKeystorePath)
	}
	if reloaded.RPC.RateLimitBurst != 40 || reloaded.Auth.DomainVersion == "" {
		t.Fatalf("reloaded sections = %+v %+v", reloaded.RPC, reloaded.Auth)
	}
}

func TestLoadParsesSections(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `RPCAddress = "127.0.0.1:9000"
DataDir = "./data"
ChainID = 7
Environment = "staging"
GenesisFile = "genesis.yaml"
LogLevel = "debug"
Mystery = true

[auth]
DomainVersion = "2"
AllowLegacySignatures = true
JWTSecretEnv = "TEST_SECRET"

[market]
WithdrawPolicy = "within-window"

[telemetry]
Endpoint = "collector:4318"
Traces = true
SampleRatio = 0.25

[indexer]
Enabled = true
Driver = "Postgres"
DSN = "postgres://market@localhost/market"

[rpc]
RateLimitPerSecond = 5.5
RateLimitBurst = 11
ReadTimeout = 30

[genesis]
Treasury = "0x00000000000000000000000000000000000007ea"
FiatFeeBps = 250

[[genesis.fees]]
name = "royalty"
percentage_bps = 400
payout_wallet = "0x00000000000000000000000000000000000000a1"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChainID != 7 || cfg.Environment != "staging" || cfg.LogLevel != "debug" {
		t.Fatalf("node section = %+v", cfg)
	}
	if !cfg.Auth.AllowLegacySignatures || cfg.Auth.DomainVersion != "2" || cfg.Auth.JWTSecretEnv != "TEST_SECRET" {
		t.Fatalf("auth section = %+v", cfg.Auth)
	}
	policy, err := cfg.Market.Policy()
	if err != nil || policy != escrow.WithdrawWithinWindow {
		t.Fatalf("policy = %v, %v", policy, err)
	}
	otelCfg := cfg.Telemetry.OTel(cfg.Environment)
	if otelCfg.ServiceName != "marketd" || !otelCfg.Traces || otelCfg.SampleRatio != 0.25 || otelCfg.Environment != "staging" {
		t.Fatalf("telemetry = %+v", otelCfg)
	}
	if cfg.Indexer.Driver != "postgres" {
		t.Fatalf("indexer driver = %q", cfg.Indexer.Driver)
	}
	if cfg.RPC.RateLimitBurst != 11 || cfg.RPC.ReadTimeoutDuration().Seconds() != 30 || cfg.RPC.IdleTimeout != 60 {
		t.Fatalf("rpc section = %+v", cfg.RPC)
	}
	if len(cfg.Genesis.Fees) != 1 || cfg.Genesis.Fees[0].PercentageBps != 400 {
		t.Fatalf("genesis fees = %+v", cfg.Genesis.Fees)
	}
	found := false
	for _, key := range cfg.UnknownKeys() {
		if key == "Mystery" {
			found = true
		}
	}
	if !found {
		t.Fatalf("unknown keys = %v", cfg.UnknownKeys())
	}
}

func TestLoadRejectsRawOperatorKey(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `OperatorKey = "deadbeef"`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "OperatorKey") {
		t.Fatalf("expected raw key rejection, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.applyDefaults()
		return cfg
	}
	over := uint32(10_001)
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"withdraw policy", func(c *Config) { c.Market.WithdrawPolicy = "never" }},
		{"sample ratio", func(c *Config) { c.Telemetry.SampleRatio = 1.5 }},
		{"indexer driver", func(c *Config) { c.Indexer.Enabled = true; c.Indexer.Driver = "mysql" }},
		{"indexer dsn", func(c *Config) { c.Indexer.Enabled = true; c.Indexer.Driver = "postgres"; c.Indexer.DSN = "" }},
		{"fiat fee", func(c *Config) { c.Genesis.FiatFeeBps = &over }},
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestGenesisOverrides(t *testing.T) {
	delay := uint64(7200)
	fiat := uint32(150)
	overrides := Genesis{Treasury: " 0xabc ", FiatFeeBps: &fiat, ListingDelay: &delay}
	spec := &genesis.GenesisSpec{Treasury: "0xdef", FiatFeeBps: 10}
	overrides.ApplyTo(spec)
	if spec.Treasury != "0xabc" || spec.FiatFeeBps != 150 || spec.ListingDelay == nil || *spec.ListingDelay != 7200 {
		t.Fatalf("overrides not applied: %+v", spec)
	}
	delay = 1
	if *spec.ListingDelay != 7200 {
		t.Fatalf("override aliases config value")
	}
}
