package config

import (
	"strings"
	"time"

	"luxmarket/native/auth"
	"luxmarket/native/escrow"
	"luxmarket/observability/otel"
)

// Auth configures signature verification and the admin bearer tokens.
type Auth struct {
	DomainVersion         string `toml:"DomainVersion"`
	AllowLegacySignatures bool   `toml:"AllowLegacySignatures"`
	// JWTSecretEnv names the environment variable holding the HMAC secret
	// for admin tokens. Admin methods are disabled when it is empty.
	JWTSecretEnv string `toml:"JWTSecretEnv"`
	JWTIssuer    string `toml:"JWTIssuer,omitempty"`
	JWTAudience  string `toml:"JWTAudience,omitempty"`
}

func (a *Auth) applyDefaults() {
	if strings.TrimSpace(a.DomainVersion) == "" {
		a.DomainVersion = auth.DefaultVersion
	}
	if strings.TrimSpace(a.JWTSecretEnv) == "" {
		a.JWTSecretEnv = "LUX_ADMIN_JWT_SECRET"
	}
}

// Market carries trading policy knobs.
type Market struct {
	WithdrawPolicy string `toml:"WithdrawPolicy"`
}

func (m *Market) applyDefaults() {
	if strings.TrimSpace(m.WithdrawPolicy) == "" {
		m.WithdrawPolicy = escrow.WithdrawAnytime.String()
	}
}

// Policy resolves the configured withdraw policy.
func (m Market) Policy() (escrow.WithdrawPolicy, error) {
	return escrow.ParseWithdrawPolicy(m.WithdrawPolicy)
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	ServiceName string            `toml:"ServiceName"`
	Endpoint    string            `toml:"Endpoint"`
	Insecure    bool              `toml:"Insecure"`
	Metrics     bool              `toml:"Metrics"`
	Traces      bool              `toml:"Traces"`
	SampleRatio float64           `toml:"SampleRatio"`
	Headers     map[string]string `toml:"Headers,omitempty"`
}

func (t *Telemetry) applyDefaults() {
	if strings.TrimSpace(t.ServiceName) == "" {
		t.ServiceName = "marketd"
	}
}

// OTel converts the section into exporter settings.
func (t Telemetry) OTel(environment string) otel.Config {
	return otel.Config{
		ServiceName: t.ServiceName,
		Environment: environment,
		Endpoint:    t.Endpoint,
		Insecure:    t.Insecure,
		Headers:     t.Headers,
		Metrics:     t.Metrics,
		Traces:      t.Traces,
		SampleRatio: t.SampleRatio,
	}
}

// Indexer configures the SQL projection of committed events.
type Indexer struct {
	Enabled bool   `toml:"Enabled"`
	Driver  string `toml:"Driver"`
	DSN     string `toml:"DSN"`
}

func (i *Indexer) applyDefaults() {
	i.Driver = strings.ToLower(strings.TrimSpace(i.Driver))
	if i.Driver == "" {
		i.Driver = "sqlite"
	}
	if strings.TrimSpace(i.DSN) == "" && i.Driver == "sqlite" {
		i.DSN = "file:market-index.db"
	}
}

// RPC configures the JSON-RPC listener. Timeouts are in seconds.
type RPC struct {
	ReadHeaderTimeout  int     `toml:"ReadHeaderTimeout"`
	ReadTimeout        int     `toml:"ReadTimeout"`
	WriteTimeout       int     `toml:"WriteTimeout"`
	IdleTimeout        int     `toml:"IdleTimeout"`
	MaxBodyBytes       int64   `toml:"MaxBodyBytes"`
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`
	TrustProxyHeaders  bool    `toml:"TrustProxyHeaders"`
}

func (r *RPC) applyDefaults() {
	if r.ReadHeaderTimeout <= 0 {
		r.ReadHeaderTimeout = 5
	}
	if r.ReadTimeout <= 0 {
		r.ReadTimeout = 15
	}
	if r.WriteTimeout <= 0 {
		r.WriteTimeout = 15
	}
	if r.IdleTimeout <= 0 {
		r.IdleTimeout = 60
	}
	if r.MaxBodyBytes <= 0 {
		r.MaxBodyBytes = 1 << 20
	}
	if r.RateLimitPerSecond <= 0 {
		r.RateLimitPerSecond = 20
	}
	if r.RateLimitBurst <= 0 {
		r.RateLimitBurst = 40
	}
}

func seconds(v int) time.Duration { return time.Duration(v) * time.Second }

func (r RPC) ReadHeaderTimeoutDuration() time.Duration { return seconds(r.ReadHeaderTimeout) }
func (r RPC) ReadTimeoutDuration() time.Duration       { return seconds(r.ReadTimeout) }
func (r RPC) WriteTimeoutDuration() time.Duration      { return seconds(r.WriteTimeout) }
func (r RPC) IdleTimeoutDuration() time.Duration       { return seconds(r.IdleTimeout) }
