package core

import (
	"luxmarket/native/escrow"
	"luxmarket/native/fees"
	"luxmarket/native/roles"
)

// stateLocator resolves the escrow collaborators from the modules of the
// current transaction. The payments engine draws funds with the PAYMENTS
// directory address as spender, so the entry is re-read on every call.
type stateLocator struct {
	mods *modules
}

func (l *stateLocator) Assets() (escrow.AssetRegistry, error) {
	return l.mods.assets, nil
}

func (l *stateLocator) Membership() (fees.MembershipLookup, error) {
	return l.mods.membership, nil
}

func (l *stateLocator) Whitelist() (escrow.WhitelistService, error) {
	return l.mods.whitelist, nil
}

func (l *stateLocator) Payments() (escrow.PaymentEngine, error) {
	spender, err := l.mods.roles.MustRoleAddress(roles.AddressPayments)
	if err != nil {
		return nil, err
	}
	l.mods.fees.SetSpender(spender)
	return l.mods.fees, nil
}

var pausePrefix = []byte("pause/")

func pauseKey(module string) []byte {
	return append(append([]byte(nil), pausePrefix...), module...)
}

// pauseView reads module pause flags from state. Read failures report the
// module as paused.
type pauseView struct {
	mods *modules
}

func (p pauseView) IsPaused(module string) bool {
	var paused bool
	if _, err := p.mods.state.KVGet(pauseKey(module), &paused); err != nil {
		return true
	}
	return paused
}
