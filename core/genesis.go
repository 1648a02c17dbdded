package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	marketerr "luxmarket/core/errors"
	"luxmarket/core/genesis"
	"luxmarket/native/roles"
)

var genesisKey = []byte("genesis/applied")

// GenesisApplied reports whether InitGenesis has run against the database.
func (n *Node) GenesisApplied() (bool, error) {
	var applied bool
	err := n.view(func(m *modules) error {
		_, err := m.state.KVGet(genesisKey, &applied)
		return err
	})
	return applied, err
}

// InitGenesis seeds roles, directory, payment tokens, schedules, fees and
// balances in one transaction. It runs at most once per database.
func (n *Node) InitGenesis(ctx context.Context, g *genesis.State) (err error) {
	if g == nil {
		return fmt.Errorf("core: genesis state must not be nil")
	}
	if g.HasChainID && n.cfg.ChainID.Uint64() != g.ChainID {
		return fmt.Errorf("%w: genesis %d, node %s", ErrChainMismatch, g.ChainID, n.cfg.ChainID)
	}
	_, span := n.startSpan(ctx, "genesis")
	defer span.End()
	started := time.Now()
	defer func() { n.observe(span, "genesis", started, err) }()

	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	err = n.apply(func(m *modules) error {
		var applied bool
		if _, err := m.state.KVGet(genesisKey, &applied); err != nil {
			return err
		}
		if applied {
			return marketerr.State(ErrGenesisApplied, "")
		}
		return applyGenesis(m, g)
	})
	if err == nil {
		n.logger.Info("genesis applied",
			slog.Int("fees", len(g.Fees)),
			slog.Int("schedules", len(g.Schedules)),
			slog.Int("assets", len(g.Assets)))
	}
	return err
}

func applyGenesis(m *modules, g *genesis.State) error {
	for _, entry := range g.Directory {
		if err := m.roles.SetRoleAddress(entry.Name, entry.Address); err != nil {
			return fmt.Errorf("directory %s: %w", entry.Name, err)
		}
	}
	for _, grant := range g.Roles {
		if err := m.roles.GrantRole(grant.Role, grant.Address); err != nil {
			return fmt.Errorf("role %s: %w", grant.Role, err)
		}
	}
	// The custodian moves assets through the delegate-only transfer.
	sales, err := m.roles.MustRoleAddress(roles.AddressSales)
	if err != nil {
		return err
	}
	if err := m.roles.GrantRole(roles.RoleDelegate, sales); err != nil {
		return err
	}
	for _, token := range g.PaymentTokens {
		if err := m.roles.GrantRole(roles.RolePayment, token); err != nil {
			return fmt.Errorf("payment token %s: %w", token.Hex(), err)
		}
	}
	if g.DefaultFiatToken != (common.Address{}) {
		if err := m.roles.SetDefaultFiatPayment(g.DefaultFiatToken); err != nil {
			return err
		}
		if err := m.roles.GrantRole(roles.RolePayment, g.DefaultFiatToken); err != nil {
			return err
		}
	}

	for _, d := range g.Durations {
		if err := m.schedule.SetDuration(d.ID, d.Seconds); err != nil {
			return fmt.Errorf("duration %d: %w", d.ID, err)
		}
	}
	for _, slot := range g.Schedules {
		ok, err := m.schedule.SetSchedule(slot.ID, slot.DayOfWeek, slot.Hour, slot.Minute)
		if err != nil {
			return fmt.Errorf("schedule %d: %w", slot.ID, err)
		}
		if !ok {
			return fmt.Errorf("schedule %d: invalid slot", slot.ID)
		}
	}
	if err := m.schedule.SetListingDelay(g.ListingDelay); err != nil {
		return err
	}

	for _, fee := range g.Fees {
		if err := m.fees.AddFee(fee.Name, fee.PercentageBps, fee.Wallet); err != nil {
			return fmt.Errorf("fee %s: %w", fee.Name, err)
		}
	}
	if err := m.fees.SetFiatFeePercentage(g.FiatFeeBps); err != nil {
		return err
	}
	for _, fee := range g.ServiceFees {
		if err := m.fees.SetServiceFee(fee.Operation, fee.Amount); err != nil {
			return fmt.Errorf("service fee %s: %w", fee.Operation, err)
		}
	}
	for _, fee := range g.MembershipFees {
		if err := m.fees.SetMembershipFeePercentage(fee.Tier, fee.BuyerSide, fee.Bps); err != nil {
			return fmt.Errorf("membership fee %d: %w", fee.Tier, err)
		}
	}

	for _, member := range g.Memberships {
		if err := m.membership.SetTier(member.Address, member.Tier); err != nil {
			return err
		}
	}
	for _, addr := range g.Whitelist {
		if err := m.whitelist.Set(addr, true); err != nil {
			return err
		}
	}
	for _, asset := range g.Assets {
		if err := m.assets.Register(asset.ID, asset.Owner, asset.Data); err != nil {
			return fmt.Errorf("asset %d: %w", asset.ID, err)
		}
	}
	for _, balance := range g.Balances {
		if err := m.bank.Mint(balance.Token, balance.Owner, balance.Amount); err != nil {
			return fmt.Errorf("alloc %s: %w", balance.Owner.Hex(), err)
		}
	}
	for _, allowance := range g.Allowances {
		if err := m.bank.Approve(allowance.Token, allowance.Owner, allowance.Spender, allowance.Amount); err != nil {
			return fmt.Errorf("allowance %s: %w", allowance.Owner.Hex(), err)
		}
	}
	return m.state.KVPut(genesisKey, true)
}
