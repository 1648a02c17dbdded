package events

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"luxmarket/core/types"
)

const (
	TypeSaleListed    = "market.sale.listed"
	TypeSaleBought    = "market.sale.bought"
	TypeSaleWithdrawn = "market.sale.withdrawn"
	TypeSaleRenewed   = "market.sale.renewed"
)

// FeePayout is one transfer to a named fee recipient.
type FeePayout struct {
	Name   string
	Wallet common.Address
	Amount *big.Int
}

// SaleEvent records the outcome of a trading operation: the affected sale,
// its dates and the fee breakdown that was settled.
type SaleEvent struct {
	Type          string
	SaleID        uint64
	WrapperID     uint64
	Collection    uint64
	Seller        common.Address
	Buyer         common.Address
	Price         *big.Int
	Start         uint64
	End           uint64
	PaymentToken  common.Address
	Fiat          bool
	ServiceFee    *big.Int
	FiatSurcharge *big.Int
	SellerFee     *big.Int
	BuyerFee      *big.Int
	PayeeAmount   *big.Int
	Payouts       []FeePayout
	Timestamp     uint64
}

// EventType satisfies the events.Event interface.
func (e SaleEvent) EventType() string { return e.Type }

// Event converts the payload into the attribute map broadcast to RPC
// subscribers.
func (e SaleEvent) Event() *types.Event {
	attrs := map[string]string{
		"saleId":     strconv.FormatUint(e.SaleID, 10),
		"wrapperId":  strconv.FormatUint(e.WrapperID, 10),
		"collection": strconv.FormatUint(e.Collection, 10),
		"seller":     e.Seller.Hex(),
		"start":      strconv.FormatUint(e.Start, 10),
		"end":        strconv.FormatUint(e.End, 10),
		"timestamp":  strconv.FormatUint(e.Timestamp, 10),
	}
	if e.Buyer != (common.Address{}) {
		attrs["buyer"] = e.Buyer.Hex()
	}
	if e.PaymentToken != (common.Address{}) {
		attrs["paymentToken"] = e.PaymentToken.Hex()
	}
	if e.Fiat {
		attrs["fiat"] = "true"
	}
	setAmount(attrs, "price", e.Price)
	setAmount(attrs, "serviceFee", e.ServiceFee)
	setAmount(attrs, "fiatSurcharge", e.FiatSurcharge)
	setAmount(attrs, "sellerFee", e.SellerFee)
	setAmount(attrs, "buyerFee", e.BuyerFee)
	setAmount(attrs, "payeeAmount", e.PayeeAmount)
	if len(e.Payouts) > 0 {
		parts := make([]string, 0, len(e.Payouts))
		for _, p := range e.Payouts {
			amount := "0"
			if p.Amount != nil {
				amount = p.Amount.String()
			}
			parts = append(parts, p.Name+":"+p.Wallet.Hex()+":"+amount)
		}
		attrs["payouts"] = strings.Join(parts, ",")
	}
	return &types.Event{Type: e.Type, Attributes: attrs}
}

func setAmount(attrs map[string]string, key string, v *big.Int) {
	if v == nil {
		return
	}
	attrs[key] = v.String()
}
