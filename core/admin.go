package core

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"

	"luxmarket/core/events"
	nativecommon "luxmarket/native/common"
	"luxmarket/native/roles"
)

// admin runs fn in one transaction after checking that caller holds the
// admin role.
func (n *Node) admin(ctx context.Context, name string, caller common.Address, fn func(*modules) error) (err error) {
	_, span := n.startSpan(ctx, "admin."+name, attribute.String("caller", caller.Hex()))
	defer span.End()
	started := time.Now()
	defer func() { n.observe(span, "admin_"+name, started, err) }()

	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.apply(func(m *modules) error {
		if err := n.requireRole(m, roles.RoleAdmin, caller, ErrNotAdmin); err != nil {
			return err
		}
		return fn(m)
	})
}

// SetSchedule upserts an activation slot. An out-of-range slot reports false
// and changes nothing.
func (n *Node) SetSchedule(ctx context.Context, caller common.Address, id uint64, day, hour, minute uint8) (bool, error) {
	var ok bool
	err := n.admin(ctx, "set_schedule", caller, func(m *modules) error {
		var err error
		ok, err = m.schedule.SetSchedule(id, day, hour, minute)
		return err
	})
	return ok, err
}

// SetSchedules upserts several slots and returns the indices of skipped
// entries.
func (n *Node) SetSchedules(ctx context.Context, caller common.Address, ids []uint64, days, hours, minutes []uint8) ([]int, error) {
	var skipped []int
	err := n.admin(ctx, "set_schedules", caller, func(m *modules) error {
		var err error
		skipped, err = m.schedule.SetSchedules(ids, days, hours, minutes)
		return err
	})
	return skipped, err
}

func (n *Node) DeactivateSchedule(ctx context.Context, caller common.Address, id uint64) error {
	return n.admin(ctx, "deactivate_schedule", caller, func(m *modules) error {
		return m.schedule.DeactivateSchedule(id)
	})
}

func (n *Node) SetListingDelay(ctx context.Context, caller common.Address, seconds uint64) error {
	return n.admin(ctx, "set_listing_delay", caller, func(m *modules) error {
		return m.schedule.SetListingDelay(seconds)
	})
}

func (n *Node) SetDuration(ctx context.Context, caller common.Address, id, seconds uint64) error {
	return n.admin(ctx, "set_duration", caller, func(m *modules) error {
		return m.schedule.SetDuration(id, seconds)
	})
}

func (n *Node) RemoveDuration(ctx context.Context, caller common.Address, id uint64) error {
	return n.admin(ctx, "remove_duration", caller, func(m *modules) error {
		return m.schedule.RemoveDuration(id)
	})
}

// AddFee registers a named fee and emits a registry change event.
func (n *Node) AddFee(ctx context.Context, caller common.Address, name string, bps uint32, wallet common.Address) error {
	return n.admin(ctx, "add_fee", caller, func(m *modules) error {
		if err := m.fees.AddFee(name, bps, wallet); err != nil {
			return err
		}
		m.events.Emit(events.FeeRegistryChanged{Action: "added", Name: feeName(name), PercentageBps: bps, Wallet: wallet})
		return nil
	})
}

func (n *Node) UpdateFee(ctx context.Context, caller common.Address, name string, bps uint32, wallet common.Address) error {
	return n.admin(ctx, "update_fee", caller, func(m *modules) error {
		if err := m.fees.UpdateFee(name, bps, wallet); err != nil {
			return err
		}
		m.events.Emit(events.FeeRegistryChanged{Action: "updated", Name: feeName(name), PercentageBps: bps, Wallet: wallet})
		return nil
	})
}

func (n *Node) RemoveFee(ctx context.Context, caller common.Address, name string) error {
	return n.admin(ctx, "remove_fee", caller, func(m *modules) error {
		if err := m.fees.RemoveFee(name); err != nil {
			return err
		}
		m.events.Emit(events.FeeRegistryChanged{Action: "removed", Name: feeName(name)})
		return nil
	})
}

func feeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (n *Node) SetFiatFeePercentage(ctx context.Context, caller common.Address, bps uint32) error {
	return n.admin(ctx, "set_fiat_fee", caller, func(m *modules) error {
		return m.fees.SetFiatFeePercentage(bps)
	})
}

func (n *Node) SetServiceFee(ctx context.Context, caller common.Address, op nativecommon.Operation, flat *big.Int) error {
	return n.admin(ctx, "set_service_fee", caller, func(m *modules) error {
		return m.fees.SetServiceFee(op, flat)
	})
}

func (n *Node) SetMembershipFeePercentage(ctx context.Context, caller common.Address, tier uint64, buyerSide bool, bps uint32) error {
	return n.admin(ctx, "set_membership_fee", caller, func(m *modules) error {
		return m.fees.SetMembershipFeePercentage(tier, buyerSide, bps)
	})
}

// SetPaused toggles a module pause flag. Paused trading calls are rejected
// before their signature is checked.
func (n *Node) SetPaused(ctx context.Context, caller common.Address, module string, paused bool) error {
	module = strings.ToLower(strings.TrimSpace(module))
	err := n.admin(ctx, "set_paused", caller, func(m *modules) error {
		if !paused {
			return m.state.KVDelete(pauseKey(module))
		}
		return m.state.KVPut(pauseKey(module), true)
	})
	if err == nil {
		n.metrics.SetPaused(module, paused)
	}
	return err
}

func (n *Node) GrantRole(ctx context.Context, caller common.Address, role string, addr common.Address) error {
	return n.admin(ctx, "grant_role", caller, func(m *modules) error {
		return m.roles.GrantRole(role, addr)
	})
}

func (n *Node) RevokeRole(ctx context.Context, caller common.Address, role string, addr common.Address) error {
	return n.admin(ctx, "revoke_role", caller, func(m *modules) error {
		return m.roles.RevokeRole(role, addr)
	})
}

// SetRoleAddress updates a directory entry. Changing SALES moves the signing
// domain and the custodian for subsequent calls.
func (n *Node) SetRoleAddress(ctx context.Context, caller common.Address, name string, addr common.Address) error {
	return n.admin(ctx, "set_role_address", caller, func(m *modules) error {
		return m.roles.SetRoleAddress(name, addr)
	})
}

func (n *Node) SetDefaultFiatPayment(ctx context.Context, caller common.Address, token common.Address) error {
	return n.admin(ctx, "set_default_fiat", caller, func(m *modules) error {
		return m.roles.SetDefaultFiatPayment(token)
	})
}

func (n *Node) SetWhitelisted(ctx context.Context, caller common.Address, addr common.Address, allowed bool) error {
	return n.admin(ctx, "set_whitelisted", caller, func(m *modules) error {
		return m.whitelist.Set(addr, allowed)
	})
}

func (n *Node) SetMembershipTier(ctx context.Context, caller common.Address, addr common.Address, tier uint64) error {
	return n.admin(ctx, "set_membership_tier", caller, func(m *modules) error {
		return m.membership.SetTier(addr, tier)
	})
}
