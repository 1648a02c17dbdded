package escrow

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"luxmarket/native/fees"
)

// Sale is an escrowed listing. Active means the sale has not been bought or
// withdrawn; whether now lies in [Start, End] is checked per operation.
type Sale struct {
	ID         uint64
	WrapperID  uint64
	Collection uint64
	Seller     common.Address
	Price      *big.Int
	Start      uint64
	End        uint64
	Active     bool
}

// Clone returns a deep copy of the sale.
func (s *Sale) Clone() *Sale {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Price != nil {
		clone.Price = new(big.Int).Set(s.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// Duration returns End - Start.
func (s *Sale) Duration() uint64 {
	if s == nil || s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

// WithdrawPolicy decides whether a seller may withdraw a sale outside its
// [Start, End] window.
type WithdrawPolicy uint8

const (
	// WithdrawAnytime allows withdrawal of any active sale.
	WithdrawAnytime WithdrawPolicy = iota
	// WithdrawWithinWindow only allows withdrawal while Start <= now <= End.
	WithdrawWithinWindow
)

func (p WithdrawPolicy) String() string {
	switch p {
	case WithdrawAnytime:
		return "anytime"
	case WithdrawWithinWindow:
		return "within-window"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParseWithdrawPolicy resolves a policy name as written in configuration.
func ParseWithdrawPolicy(name string) (WithdrawPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "anytime":
		return WithdrawAnytime, nil
	case "within-window", "within_window", "window":
		return WithdrawWithinWindow, nil
	default:
		return 0, fmt.Errorf("escrow: unknown withdraw policy %q", name)
	}
}

// ListRequest carries the parameters of a listing.
type ListRequest struct {
	Seller       common.Address
	WrapperID    uint64
	Price        *big.Int
	DurationID   uint64
	PaymentToken common.Address
}

// SaleRequest carries the parameters shared by buy, withdraw and renew. Wallet
// is the buyer for buy and the seller for withdraw and renew.
type SaleRequest struct {
	Wallet       common.Address
	SaleID       uint64
	PaymentToken common.Address
}

// ListResult echoes the listing together with its dates and service fee.
type ListResult struct {
	Sale         Sale
	DurationID   uint64
	PaymentToken common.Address
	Service      fees.ServiceFee
	Payment      fees.TransferResult
}

// BuyResult describes a completed purchase.
type BuyResult struct {
	Sale    Sale
	Buyer   common.Address
	Service fees.ServiceFee
	Trade   fees.TransactionFees
	Payment fees.TransferResult
}

// WithdrawResult describes a cancelled listing.
type WithdrawResult struct {
	Sale    Sale
	Service fees.ServiceFee
	Payment fees.TransferResult
}

// RenewResult describes a re-activated listing.
type RenewResult struct {
	Sale          Sale
	PreviousStart uint64
	PreviousEnd   uint64
	Service       fees.ServiceFee
	Payment       fees.TransferResult
}
