package config

import (
	"fmt"
	"strings"

	"luxmarket/core/genesis"
	"luxmarket/native/fees"
)

// Genesis holds operator overrides merged into the genesis file before it is
// applied. Unset fields leave the file untouched.
type Genesis struct {
	Treasury     string      `toml:"Treasury,omitempty"`
	FiatFeeBps   *uint32     `toml:"FiatFeeBps,omitempty"`
	ListingDelay *uint64     `toml:"ListingDelay,omitempty"`
	Fees         []fees.Seed `toml:"fees,omitempty"`
}

func (g Genesis) validate() error {
	if g.FiatFeeBps != nil && *g.FiatFeeBps > fees.BasisPoints {
		return fmt.Errorf("FiatFeeBps %d exceeds %d", *g.FiatFeeBps, fees.BasisPoints)
	}
	var total uint64
	seen := make(map[string]struct{}, len(g.Fees))
	for _, seed := range g.Fees {
		name := strings.ToLower(strings.TrimSpace(seed.Name))
		if name == "" {
			return fmt.Errorf("fee name required")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate fee %q", name)
		}
		seen[name] = struct{}{}
		total += uint64(seed.PercentageBps)
	}
	if total > fees.BasisPoints {
		return fmt.Errorf("fee shares total %d bps, above %d", total, fees.BasisPoints)
	}
	return nil
}

// ApplyTo merges the overrides into spec. A non-empty fee list replaces the
// file's fee list entirely.
func (g Genesis) ApplyTo(spec *genesis.GenesisSpec) {
	if spec == nil {
		return
	}
	if strings.TrimSpace(g.Treasury) != "" {
		spec.Treasury = strings.TrimSpace(g.Treasury)
	}
	if g.FiatFeeBps != nil {
		spec.FiatFeeBps = *g.FiatFeeBps
	}
	if g.ListingDelay != nil {
		delay := *g.ListingDelay
		spec.ListingDelay = &delay
	}
	if len(g.Fees) > 0 {
		spec.Fees = append([]fees.Seed(nil), g.Fees...)
	}
}
