package core

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"luxmarket/native/auth"
	nativecommon "luxmarket/native/common"
	"luxmarket/native/escrow"
	"luxmarket/native/fees"
	"luxmarket/native/schedule"
)

// readLedger returns a fresh escrow ledger bound to a read-only view. The
// shared ledger is reserved for writes.
func readLedger(m *modules) *escrow.Ledger {
	ledger := escrow.NewLedger()
	ledger.SetState(m.state)
	ledger.SetSchedule(m.schedule)
	return ledger
}

// GetSale returns the stored sale record, active or not.
func (n *Node) GetSale(id uint64) (*escrow.Sale, error) {
	var sale *escrow.Sale
	err := n.view(func(m *modules) error {
		var err error
		sale, err = readLedger(m).GetSale(id)
		return err
	})
	return sale, err
}

// SalesBySeller lists the ids of the seller's open sales.
func (n *Node) SalesBySeller(seller common.Address) ([]uint64, error) {
	var ids []uint64
	err := n.view(func(m *modules) error {
		var err error
		ids, err = readLedger(m).SalesBySeller(seller)
		return err
	})
	return ids, err
}

// SalesByCollection lists the ids of the collection's open sales.
func (n *Node) SalesByCollection(collection uint64) ([]uint64, error) {
	var ids []uint64
	err := n.view(func(m *modules) error {
		var err error
		ids, err = readLedger(m).SalesByCollection(collection)
		return err
	})
	return ids, err
}

// Nonce returns the next structured-signature nonce of wallet.
func (n *Node) Nonce(wallet common.Address) (uint64, error) {
	var nonce uint64
	err := n.view(func(m *modules) error {
		authorizer, err := n.authorizer(m)
		if err != nil {
			return err
		}
		nonce, err = authorizer.Nonce(wallet)
		return err
	})
	return nonce, err
}

// LegacyHashUsed reports whether a legacy digest has been consumed.
func (n *Node) LegacyHashUsed(hash common.Hash) (bool, error) {
	var used bool
	err := n.view(func(m *modules) error {
		authorizer, err := n.authorizer(m)
		if err != nil {
			return err
		}
		used, err = authorizer.IsHashUsed(hash)
		return err
	})
	return used, err
}

// Domain returns the signing domain of trading calls.
func (n *Node) Domain() (auth.Domain, error) {
	var domain auth.Domain
	err := n.view(func(m *modules) error {
		var err error
		domain, err = n.domain(m)
		return err
	})
	return domain, err
}

// Fees returns the named fee registry in slot order.
func (n *Node) Fees() ([]fees.Fee, error) {
	var out []fees.Fee
	err := n.view(func(m *modules) error {
		var err error
		out, err = m.fees.Fees()
		return err
	})
	return out, err
}

// QuoteServiceFee prices the flat fee of an operation.
func (n *Node) QuoteServiceFee(op nativecommon.Operation, fiat bool) (fees.ServiceFee, error) {
	var quote fees.ServiceFee
	err := n.view(func(m *modules) error {
		var err error
		quote, err = m.fees.ComputeServiceFee(op, fiat)
		return err
	})
	return quote, err
}

// QuoteTransactionFees prices a purchase of amount between seller and buyer.
func (n *Node) QuoteTransactionFees(seller, buyer common.Address, amount *big.Int) (fees.TransactionFees, error) {
	var quote fees.TransactionFees
	err := n.view(func(m *modules) error {
		sellerBps, buyerBps, err := m.fees.MembershipRates(m.membership, seller, buyer)
		if err != nil {
			return err
		}
		quote, err = m.fees.ComputeTransactionFees(amount, sellerBps, buyerBps)
		return err
	})
	return quote, err
}

// NextScheduleTime returns the start date a listing submitted now would get.
func (n *Node) NextScheduleTime() (uint64, error) {
	now := n.now()
	var next uint64
	err := n.view(func(m *modules) error {
		var err error
		next, err = m.schedule.NextScheduleTime(now)
		return err
	})
	return next, err
}

// Schedules returns every slot below the high-water mark.
func (n *Node) Schedules() ([]schedule.Schedule, error) {
	var out []schedule.Schedule
	err := n.view(func(m *modules) error {
		var err error
		out, err = m.schedule.Schedules()
		return err
	})
	return out, err
}

// Duration looks up a configured listing duration.
func (n *Node) Duration(id uint64) (uint64, bool, error) {
	var (
		seconds uint64
		ok      bool
	)
	err := n.view(func(m *modules) error {
		var err error
		seconds, ok, err = m.schedule.Duration(id)
		return err
	})
	return seconds, ok, err
}

// BalanceOf returns the token balance of owner.
func (n *Node) BalanceOf(token, owner common.Address) (*big.Int, error) {
	var balance *big.Int
	err := n.view(func(m *modules) error {
		var err error
		balance, err = m.bank.BalanceOf(token, owner)
		return err
	})
	return balance, err
}

// OwnerOf returns the current holder of a wrapped asset.
func (n *Node) OwnerOf(wrapperID uint64) (common.Address, error) {
	var owner common.Address
	err := n.view(func(m *modules) error {
		var err error
		owner, err = m.assets.OwnerOf(wrapperID)
		return err
	})
	return owner, err
}

// IsPaused reports the pause flag of a module.
func (n *Node) IsPaused(module string) (bool, error) {
	var paused bool
	err := n.view(func(m *modules) error {
		_, err := m.state.KVGet(pauseKey(strings.ToLower(strings.TrimSpace(module))), &paused)
		return err
	})
	return paused, err
}
