package fees

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Seed describes a named fee in configuration files.
type Seed struct {
	Name          string `json:"name" yaml:"name"`
	PercentageBps uint32 `json:"percentageBps" yaml:"percentageBps"`
	Wallet        string `json:"wallet" yaml:"wallet"`
}

// UnmarshalTOML accepts both snake_case and camelCase keys so operator files
// written either way decode to the same seed.
func (s *Seed) UnmarshalTOML(data interface{}) error {
	table, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf("fees: fee seed must decode from a table")
	}
	normalized := normalizeSeedTable(table)

	type alias Seed
	var decoded alias
	blob, err := json.Marshal(normalized)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(blob, &decoded); err != nil {
		return fmt.Errorf("fees: decode fee seed: %w", err)
	}
	*s = Seed(decoded)
	return nil
}

func normalizeSeedTable(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for key, value := range in {
		switch {
		case strings.EqualFold(key, "percentage_bps"), strings.EqualFold(key, "bps"):
			out["percentageBps"] = value
		case strings.EqualFold(key, "payout_wallet"), strings.EqualFold(key, "payoutWallet"):
			out["wallet"] = value
		default:
			out[key] = value
		}
	}
	return out
}
