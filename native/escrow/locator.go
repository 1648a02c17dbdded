package escrow

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "luxmarket/native/common"
	"luxmarket/native/fees"
	"luxmarket/native/wrapper"
)

// AssetRegistry is the wrapped-asset contract holding custody.
type AssetRegistry interface {
	OwnerOf(id uint64) (common.Address, error)
	AssetData(id uint64) (wrapper.AssetData, error)
	MarketplaceTransfer(caller, from, to common.Address, id uint64) error
}

// WhitelistService answers whether an address may trade.
type WhitelistService interface {
	IsWhitelisted(addr common.Address) (bool, error)
}

// PaymentEngine prices and executes the fund movements of an operation.
type PaymentEngine interface {
	ComputeServiceFee(op nativecommon.Operation, isFiat bool) (fees.ServiceFee, error)
	MembershipRates(lookup fees.MembershipLookup, seller, buyer common.Address) (uint32, uint32, error)
	ComputeTransactionFees(amount *big.Int, sellerBps, buyerBps uint32) (fees.TransactionFees, error)
	ExecuteTransfer(req fees.TransferRequest) (fees.TransferResult, error)
}

// Locator resolves the collaborators of the ledger. It is consulted on every
// call so directory changes take effect immediately.
type Locator interface {
	Assets() (AssetRegistry, error)
	Membership() (fees.MembershipLookup, error)
	Whitelist() (WhitelistService, error)
	Payments() (PaymentEngine, error)
}

// ScheduleSource supplies listing dates and durations.
type ScheduleSource interface {
	NextScheduleTime(now uint64) (uint64, error)
	Duration(id uint64) (uint64, bool, error)
}

type collaborators struct {
	assets     AssetRegistry
	membership fees.MembershipLookup
	whitelist  WhitelistService
	payments   PaymentEngine
}

func (l *Ledger) resolve() (*collaborators, error) {
	if l.locator == nil {
		return nil, errNilLocator
	}
	assets, err := l.locator.Assets()
	if err != nil {
		return nil, err
	}
	membership, err := l.locator.Membership()
	if err != nil {
		return nil, err
	}
	whitelist, err := l.locator.Whitelist()
	if err != nil {
		return nil, err
	}
	payments, err := l.locator.Payments()
	if err != nil {
		return nil, err
	}
	return &collaborators{assets: assets, membership: membership, whitelist: whitelist, payments: payments}, nil
}
