package fees

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "luxmarket/native/common"
)

const (
	// BasisPoints is the 100% scale used by every percentage in the engine.
	BasisPoints = 10_000
	// TreasuryFeeName is the distinguished fee whose wallet receives service
	// fees.
	TreasuryFeeName = "treasury"
	// BuyerTierOffset separates buyer-side membership rows from seller-side
	// rows in the membership fee table.
	BuyerTierOffset = 100
)

// Fee is a named percentage share of the transaction fee pool.
type Fee struct {
	Name          string
	PercentageBps uint32
	Wallet        common.Address
}

// ServiceFee is the flat per-operation charge plus the fiat surcharge.
type ServiceFee struct {
	Operation     nativecommon.Operation
	Flat          *big.Int
	FiatSurcharge *big.Int
}

// Total returns Flat + FiatSurcharge.
func (s ServiceFee) Total() *big.Int {
	total := new(big.Int)
	if s.Flat != nil {
		total.Add(total, s.Flat)
	}
	if s.FiatSurcharge != nil {
		total.Add(total, s.FiatSurcharge)
	}
	return total
}

// TransactionFees is the membership-tier fee split of a trade together with
// the named fee registry snapshot it will be distributed across.
type TransactionFees struct {
	Amount    *big.Int
	SellerBps uint32
	BuyerBps  uint32
	SellerFee *big.Int
	BuyerFee  *big.Int
	Fees      []Fee
}

// Pool returns SellerFee + BuyerFee.
func (t TransactionFees) Pool() *big.Int {
	pool := new(big.Int)
	if t.SellerFee != nil {
		pool.Add(pool, t.SellerFee)
	}
	if t.BuyerFee != nil {
		pool.Add(pool, t.BuyerFee)
	}
	return pool
}

// Payout records one executed transfer to a fee recipient.
type Payout struct {
	Name   string
	Wallet common.Address
	Amount *big.Int
}

// TransferRequest describes the funds movement of one operation. Trade is nil
// for list, withdraw and renew, which only pay the service fee.
type TransferRequest struct {
	Token   common.Address
	Payer   common.Address
	Payee   common.Address
	Amount  *big.Int
	Trade   *TransactionFees
	Service ServiceFee
}

// TransferResult summarises what ExecuteTransfer moved.
type TransferResult struct {
	Token         common.Address
	Payer         common.Address
	Fiat          bool
	Payee         common.Address
	PayeeAmount   *big.Int
	Payouts       []Payout
	Treasury      common.Address
	ServiceAmount *big.Int
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func cloneFees(in []Fee) []Fee {
	if len(in) == 0 {
		return []Fee{}
	}
	out := make([]Fee, len(in))
	copy(out, in)
	return out
}
