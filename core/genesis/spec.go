// core/genesis/spec.go
package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"luxmarket/crypto"
	nativecommon "luxmarket/native/common"
	"luxmarket/native/fees"
	"luxmarket/native/roles"
	"luxmarket/native/schedule"
	"luxmarket/native/wrapper"
)

// DefaultListingDelay applies when the genesis file leaves listingDelay unset.
const DefaultListingDelay = uint64(3600)

// GenesisSpec is the operator-facing description of the initial marketplace
// state. Addresses may be written as 0x hex or lux bech32.
type GenesisSpec struct {
	ChainID          *uint64                      `json:"chainId,omitempty" yaml:"chainId,omitempty"`
	Roles            map[string][]string          `json:"roles" yaml:"roles"`
	Directory        map[string]string            `json:"directory" yaml:"directory"`
	PaymentTokens    []string                     `json:"paymentTokens" yaml:"paymentTokens"`
	DefaultFiatToken string                       `json:"defaultFiatToken,omitempty" yaml:"defaultFiatToken,omitempty"`
	Durations        map[uint64]uint64            `json:"durations,omitempty" yaml:"durations,omitempty"`
	Schedules        []ScheduleSpec               `json:"schedules" yaml:"schedules"`
	ListingDelay     *uint64                      `json:"listingDelay,omitempty" yaml:"listingDelay,omitempty"`
	Treasury         string                       `json:"treasury" yaml:"treasury"`
	Fees             []fees.Seed                  `json:"fees" yaml:"fees"`
	FiatFeeBps       uint32                       `json:"fiatFeeBps" yaml:"fiatFeeBps"`
	ServiceFees      map[string]string            `json:"serviceFees" yaml:"serviceFees"`
	MembershipFees   []MembershipFeeSpec          `json:"membershipFees" yaml:"membershipFees"`
	Memberships      map[string]uint64            `json:"memberships,omitempty" yaml:"memberships,omitempty"`
	Whitelist        []string                     `json:"whitelist" yaml:"whitelist"`
	Assets           []AssetSpec                  `json:"assets,omitempty" yaml:"assets,omitempty"`
	Alloc            map[string]map[string]string `json:"alloc,omitempty" yaml:"alloc,omitempty"` // owner -> token -> amount
	Allowances       []AllowanceSpec              `json:"allowances,omitempty" yaml:"allowances,omitempty"`
}

type ScheduleSpec struct {
	ID        uint64 `json:"id" yaml:"id"`
	DayOfWeek uint8  `json:"dayOfWeek" yaml:"dayOfWeek"`
	Hour      uint8  `json:"hour" yaml:"hour"`
	Minute    uint8  `json:"minute" yaml:"minute"`
}

type MembershipFeeSpec struct {
	Tier      uint64 `json:"tier" yaml:"tier"`
	BuyerSide bool   `json:"buyerSide" yaml:"buyerSide"`
	Bps       uint32 `json:"bps" yaml:"bps"`
}

type AssetSpec struct {
	ID         uint64 `json:"id" yaml:"id"`
	Owner      string `json:"owner" yaml:"owner"`
	Collection uint64 `json:"collection" yaml:"collection"`
	Brand      string `json:"brand,omitempty" yaml:"brand,omitempty"`
}

type AllowanceSpec struct {
	Token   string `json:"token" yaml:"token"`
	Owner   string `json:"owner" yaml:"owner"`
	Spender string `json:"spender" yaml:"spender"`
	Amount  string `json:"amount" yaml:"amount"`
}

// RoleGrant assigns a capability role to an address.
type RoleGrant struct {
	Role    string
	Address common.Address
}

// DirectoryEntry names a well-known contract address.
type DirectoryEntry struct {
	Name    string
	Address common.Address
}

type Duration struct {
	ID      uint64
	Seconds uint64
}

type ServiceFee struct {
	Operation nativecommon.Operation
	Amount    *big.Int
}

type Membership struct {
	Address common.Address
	Tier    uint64
}

type Asset struct {
	ID    uint64
	Owner common.Address
	Data  wrapper.AssetData
}

type Balance struct {
	Token  common.Address
	Owner  common.Address
	Amount *big.Int
}

type Allowance struct {
	Token   common.Address
	Owner   common.Address
	Spender common.Address
	Amount  *big.Int
}

// State is the resolved, deterministically ordered genesis content applied by
// the node.
type State struct {
	ChainID          uint64
	HasChainID       bool
	Roles            []RoleGrant
	Directory        []DirectoryEntry
	PaymentTokens    []common.Address
	DefaultFiatToken common.Address
	Durations        []Duration
	Schedules        []ScheduleSpec
	ListingDelay     uint64
	Fees             []fees.Fee
	FiatFeeBps       uint32
	ServiceFees      []ServiceFee
	MembershipFees   []MembershipFeeSpec
	Memberships      []Membership
	Whitelist        []common.Address
	Assets           []Asset
	Balances         []Balance
	Allowances       []Allowance
}

// LoadGenesisSpec reads a genesis file. Files ending in .yaml or .yml decode
// as YAML, everything else as JSON with unknown fields rejected.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec GenesisSpec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
		}
	}
	if _, err := spec.Build(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

// Build validates the spec and resolves it into typed genesis state.
func (s *GenesisSpec) Build() (*State, error) {
	if s == nil {
		return nil, fmt.Errorf("genesis spec must not be nil")
	}
	out := &State{ListingDelay: DefaultListingDelay, FiatFeeBps: s.FiatFeeBps}
	if s.ChainID != nil {
		out.ChainID = *s.ChainID
		out.HasChainID = true
	}
	if s.ListingDelay != nil {
		if *s.ListingDelay > schedule.MaxSeconds {
			return nil, fmt.Errorf("listingDelay exceeds %d seconds", schedule.MaxSeconds)
		}
		out.ListingDelay = *s.ListingDelay
	}
	if s.FiatFeeBps > fees.BasisPoints {
		return nil, fmt.Errorf("fiatFeeBps must be <= %d", fees.BasisPoints)
	}

	roleNames := sortedKeys(s.Roles)
	for _, role := range roleNames {
		for _, raw := range s.Roles[role] {
			addr, err := crypto.ParseAddress(raw)
			if err != nil {
				return nil, fmt.Errorf("roles.%s: %w", role, err)
			}
			out.Roles = append(out.Roles, RoleGrant{Role: strings.ToUpper(strings.TrimSpace(role)), Address: addr})
		}
	}

	for _, name := range sortedKeys(s.Directory) {
		addr, err := crypto.ParseAddress(s.Directory[name])
		if err != nil {
			return nil, fmt.Errorf("directory.%s: %w", name, err)
		}
		out.Directory = append(out.Directory, DirectoryEntry{Name: strings.ToUpper(strings.TrimSpace(name)), Address: addr})
	}
	if !hasDirectory(out.Directory, roles.AddressSales) {
		return nil, fmt.Errorf("directory.%s must be configured", roles.AddressSales)
	}
	if !hasDirectory(out.Directory, roles.AddressPayments) {
		return nil, fmt.Errorf("directory.%s must be configured", roles.AddressPayments)
	}

	for i, raw := range s.PaymentTokens {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("paymentTokens[%d]: %w", i, err)
		}
		out.PaymentTokens = append(out.PaymentTokens, addr)
	}
	if strings.TrimSpace(s.DefaultFiatToken) != "" {
		addr, err := crypto.ParseAddress(s.DefaultFiatToken)
		if err != nil {
			return nil, fmt.Errorf("defaultFiatToken: %w", err)
		}
		out.DefaultFiatToken = addr
	}

	durations := map[uint64]uint64{schedule.DefaultDurationID: schedule.DefaultDuration}
	for id, seconds := range s.Durations {
		durations[id] = seconds
	}
	durationIDs := make([]uint64, 0, len(durations))
	for id := range durations {
		durationIDs = append(durationIDs, id)
	}
	sort.Slice(durationIDs, func(i, j int) bool { return durationIDs[i] < durationIDs[j] })
	for _, id := range durationIDs {
		seconds := durations[id]
		if seconds == 0 || seconds > schedule.MaxSeconds {
			return nil, fmt.Errorf("durations.%d: must be within (0, %d]", id, schedule.MaxSeconds)
		}
		out.Durations = append(out.Durations, Duration{ID: id, Seconds: seconds})
	}

	slots := append([]ScheduleSpec(nil), s.Schedules...)
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].ID < slots[j].ID })
	for i, slot := range slots {
		if slot.ID != uint64(i) {
			return nil, fmt.Errorf("schedules: ids must run densely from 0, found %d at position %d", slot.ID, i)
		}
		if !schedule.ValidSlot(slot.DayOfWeek, slot.Hour, slot.Minute) {
			return nil, fmt.Errorf("schedules[%d]: invalid slot %d %02d:%02d", i, slot.DayOfWeek, slot.Hour, slot.Minute)
		}
		out.Schedules = append(out.Schedules, slot)
	}

	feeList, err := s.buildFees()
	if err != nil {
		return nil, err
	}
	out.Fees = feeList

	for _, name := range sortedKeys(s.ServiceFees) {
		op, err := nativecommon.ParseOperation(name)
		if err != nil {
			return nil, fmt.Errorf("serviceFees.%s: %w", name, err)
		}
		amount, err := parseAmountString(s.ServiceFees[name])
		if err != nil {
			return nil, fmt.Errorf("serviceFees.%s: %w", name, err)
		}
		out.ServiceFees = append(out.ServiceFees, ServiceFee{Operation: op, Amount: amount})
	}

	for i, fee := range s.MembershipFees {
		if fee.Tier >= fees.BuyerTierOffset {
			return nil, fmt.Errorf("membershipFees[%d]: tier must be < %d", i, fees.BuyerTierOffset)
		}
		if fee.Bps > fees.BasisPoints {
			return nil, fmt.Errorf("membershipFees[%d]: bps must be <= %d", i, fees.BasisPoints)
		}
		out.MembershipFees = append(out.MembershipFees, fee)
	}

	for _, raw := range sortedKeys(s.Memberships) {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("memberships: %w", err)
		}
		out.Memberships = append(out.Memberships, Membership{Address: addr, Tier: s.Memberships[raw]})
	}

	for i, raw := range s.Whitelist {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("whitelist[%d]: %w", i, err)
		}
		out.Whitelist = append(out.Whitelist, addr)
	}

	seenAssets := make(map[uint64]struct{}, len(s.Assets))
	for i, asset := range s.Assets {
		if _, dup := seenAssets[asset.ID]; dup {
			return nil, fmt.Errorf("assets[%d]: duplicate id %d", i, asset.ID)
		}
		seenAssets[asset.ID] = struct{}{}
		owner, err := crypto.ParseAddress(asset.Owner)
		if err != nil {
			return nil, fmt.Errorf("assets[%d].owner: %w", i, err)
		}
		var brand common.Address
		if strings.TrimSpace(asset.Brand) != "" {
			if brand, err = crypto.ParseAddress(asset.Brand); err != nil {
				return nil, fmt.Errorf("assets[%d].brand: %w", i, err)
			}
		}
		out.Assets = append(out.Assets, Asset{ID: asset.ID, Owner: owner, Data: wrapper.AssetData{Collection: asset.Collection, Brand: brand}})
	}

	for _, rawOwner := range sortedKeys(s.Alloc) {
		owner, err := crypto.ParseAddress(rawOwner)
		if err != nil {
			return nil, fmt.Errorf("alloc: %w", err)
		}
		tokens := s.Alloc[rawOwner]
		for _, rawToken := range sortedKeys(tokens) {
			token, err := crypto.ParseAddress(rawToken)
			if err != nil {
				return nil, fmt.Errorf("alloc.%s: %w", rawOwner, err)
			}
			amount, err := parseAmountString(tokens[rawToken])
			if err != nil {
				return nil, fmt.Errorf("alloc.%s.%s: %w", rawOwner, rawToken, err)
			}
			out.Balances = append(out.Balances, Balance{Token: token, Owner: owner, Amount: amount})
		}
	}

	for i, allowance := range s.Allowances {
		token, err := crypto.ParseAddress(allowance.Token)
		if err != nil {
			return nil, fmt.Errorf("allowances[%d].token: %w", i, err)
		}
		owner, err := crypto.ParseAddress(allowance.Owner)
		if err != nil {
			return nil, fmt.Errorf("allowances[%d].owner: %w", i, err)
		}
		spender, err := crypto.ParseAddress(allowance.Spender)
		if err != nil {
			return nil, fmt.Errorf("allowances[%d].spender: %w", i, err)
		}
		amount, err := parseAmountString(allowance.Amount)
		if err != nil {
			return nil, fmt.Errorf("allowances[%d].amount: %w", i, err)
		}
		out.Allowances = append(out.Allowances, Allowance{Token: token, Owner: owner, Spender: spender, Amount: amount})
	}
	return out, nil
}

// buildFees resolves the named fee seeds. The treasury fee is always first;
// unless seeded explicitly it takes whatever share the other fees leave.
func (s *GenesisSpec) buildFees() ([]fees.Fee, error) {
	var (
		treasury    *fees.Fee
		others      []fees.Fee
		seen        = make(map[string]struct{}, len(s.Fees))
		othersTotal uint64
	)
	for i, seed := range s.Fees {
		name := strings.ToLower(strings.TrimSpace(seed.Name))
		if name == "" {
			return nil, fmt.Errorf("fees[%d]: name required", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("fees[%d]: duplicate fee %q", i, name)
		}
		seen[name] = struct{}{}
		wallet, err := crypto.ParseAddress(seed.Wallet)
		if err != nil {
			return nil, fmt.Errorf("fees[%d].wallet: %w", i, err)
		}
		fee := fees.Fee{Name: name, PercentageBps: seed.PercentageBps, Wallet: wallet}
		if name == fees.TreasuryFeeName {
			treasury = &fee
			continue
		}
		othersTotal += uint64(seed.PercentageBps)
		others = append(others, fee)
	}
	if othersTotal > fees.BasisPoints {
		return nil, fmt.Errorf("fees: total %d bps exceeds %d", othersTotal, fees.BasisPoints)
	}
	if treasury == nil {
		wallet, err := crypto.ParseAddress(s.Treasury)
		if err != nil {
			return nil, fmt.Errorf("treasury: %w", err)
		}
		treasury = &fees.Fee{
			Name:          fees.TreasuryFeeName,
			PercentageBps: uint32(fees.BasisPoints - othersTotal),
			Wallet:        wallet,
		}
	}
	if uint64(treasury.PercentageBps)+othersTotal > fees.BasisPoints {
		return nil, fmt.Errorf("fees: total %d bps exceeds %d", uint64(treasury.PercentageBps)+othersTotal, fees.BasisPoints)
	}
	return append([]fees.Fee{*treasury}, others...), nil
}

func hasDirectory(entries []DirectoryEntry, name string) bool {
	for _, entry := range entries {
		if entry.Name == name {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseAmountString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
