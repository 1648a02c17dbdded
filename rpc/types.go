package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"luxmarket/core"
	"luxmarket/crypto"
	"luxmarket/native/escrow"
	"luxmarket/native/fees"
)

// decodeParams unmarshals the first positional parameter into dst.
func decodeParams(req *RPCRequest, dst interface{}) error {
	if len(req.Params) == 0 {
		return invalidParams("params required", nil)
	}
	if err := json.Unmarshal(req.Params[0], dst); err != nil {
		return invalidParams("invalid params", err)
	}
	return nil
}

func parseAddress(field, raw string) (common.Address, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, invalidParams(fmt.Sprintf("invalid %s", field), err)
	}
	return addr, nil
}

// parseToken resolves an optional payment token. Empty selects fiat.
func parseToken(raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	return parseAddress("paymentToken", raw)
}

// parseAmount accepts decimal or 0x-prefixed hexadecimal integers.
func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, invalidParams(fmt.Sprintf("%s required", field), nil)
	}
	amount, ok := new(big.Int).SetString(trimmed, 0)
	if !ok || amount.Sign() < 0 {
		return nil, invalidParams(fmt.Sprintf("invalid %s", field), fmt.Errorf("%q is not a non-negative integer", raw))
	}
	return amount, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addressString(addr common.Address) string {
	if addr == (common.Address{}) {
		return ""
	}
	return addr.Hex()
}

type signatureParam struct {
	Nonce  uint64 `json:"nonce"`
	Expiry uint64 `json:"expiry"`
	Legacy bool   `json:"legacy,omitempty"`
	Salt   string `json:"salt,omitempty"`
	Value  string `json:"value"`
}

func (p signatureParam) toCore() (core.Signature, error) {
	value, err := hexutil.Decode(strings.TrimSpace(p.Value))
	if err != nil {
		return core.Signature{}, invalidParams("invalid signature", err)
	}
	sig := core.Signature{Nonce: p.Nonce, Expiry: p.Expiry, Legacy: p.Legacy, Value: value}
	if p.Legacy {
		salt, err := hexutil.Decode(strings.TrimSpace(p.Salt))
		if err != nil || len(salt) != common.HashLength {
			return core.Signature{}, invalidParams("invalid salt", err)
		}
		sig.Salt = common.BytesToHash(salt)
	}
	return sig, nil
}

type listParams struct {
	Caller       string         `json:"caller,omitempty"`
	Seller       string         `json:"seller"`
	WrapperID    uint64         `json:"wrapperId"`
	Price        string         `json:"price"`
	DurationID   uint64         `json:"durationId"`
	PaymentToken string         `json:"paymentToken,omitempty"`
	Signature    signatureParam `json:"signature"`
}

type saleParams struct {
	Caller       string         `json:"caller,omitempty"`
	Wallet       string         `json:"wallet"`
	SaleID       uint64         `json:"saleId"`
	PaymentToken string         `json:"paymentToken,omitempty"`
	Signature    signatureParam `json:"signature"`
}

type SaleResult struct {
	ID         uint64 `json:"id"`
	WrapperID  uint64 `json:"wrapperId"`
	Collection uint64 `json:"collection"`
	Seller     string `json:"seller"`
	Price      string `json:"price"`
	Start      uint64 `json:"start"`
	End        uint64 `json:"end"`
	Active     bool   `json:"active"`
}

func saleResultFrom(sale escrow.Sale) SaleResult {
	return SaleResult{
		ID:         sale.ID,
		WrapperID:  sale.WrapperID,
		Collection: sale.Collection,
		Seller:     sale.Seller.Hex(),
		Price:      amountString(sale.Price),
		Start:      sale.Start,
		End:        sale.End,
		Active:     sale.Active,
	}
}

type PayoutResult struct {
	Name   string `json:"name"`
	Wallet string `json:"wallet"`
	Amount string `json:"amount"`
}

func payoutsFrom(payouts []fees.Payout) []PayoutResult {
	out := make([]PayoutResult, 0, len(payouts))
	for _, payout := range payouts {
		out = append(out, PayoutResult{Name: payout.Name, Wallet: payout.Wallet.Hex(), Amount: amountString(payout.Amount)})
	}
	return out
}

type PaymentResult struct {
	Token         string         `json:"token"`
	Payer         string         `json:"payer"`
	Fiat          bool           `json:"fiat"`
	Payee         string         `json:"payee,omitempty"`
	PayeeAmount   string         `json:"payeeAmount"`
	Payouts       []PayoutResult `json:"payouts"`
	Treasury      string         `json:"treasury,omitempty"`
	ServiceAmount string         `json:"serviceAmount"`
}

func paymentResultFrom(p fees.TransferResult) PaymentResult {
	return PaymentResult{
		Token:         p.Token.Hex(),
		Payer:         p.Payer.Hex(),
		Fiat:          p.Fiat,
		Payee:         addressString(p.Payee),
		PayeeAmount:   amountString(p.PayeeAmount),
		Payouts:       payoutsFrom(p.Payouts),
		Treasury:      addressString(p.Treasury),
		ServiceAmount: amountString(p.ServiceAmount),
	}
}

type ListResult struct {
	Sale       SaleResult    `json:"sale"`
	DurationID uint64        `json:"durationId"`
	Payment    PaymentResult `json:"payment"`
}

type BuyResult struct {
	Sale      SaleResult    `json:"sale"`
	Buyer     string        `json:"buyer"`
	SellerFee string        `json:"sellerFee"`
	BuyerFee  string        `json:"buyerFee"`
	Payment   PaymentResult `json:"payment"`
}

type WithdrawResult struct {
	Sale    SaleResult    `json:"sale"`
	Payment PaymentResult `json:"payment"`
}

type RenewResult struct {
	Sale          SaleResult    `json:"sale"`
	PreviousStart uint64        `json:"previousStart"`
	PreviousEnd   uint64        `json:"previousEnd"`
	Payment       PaymentResult `json:"payment"`
}

type FeeResult struct {
	Name          string `json:"name"`
	PercentageBps uint32 `json:"percentageBps"`
	Wallet        string `json:"wallet"`
}

type ServiceFeeResult struct {
	Operation     string `json:"operation"`
	Flat          string `json:"flat"`
	FiatSurcharge string `json:"fiatSurcharge"`
	Total         string `json:"total"`
}

type TransactionFeesResult struct {
	Amount    string         `json:"amount"`
	SellerBps uint32         `json:"sellerBps"`
	BuyerBps  uint32         `json:"buyerBps"`
	SellerFee string         `json:"sellerFee"`
	BuyerFee  string         `json:"buyerFee"`
	Pool      string         `json:"pool"`
	Payouts   []PayoutResult `json:"payouts"`
}

type DomainResult struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           string `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
	Separator         string `json:"separator"`
}

type ScheduleResult struct {
	ID        uint64 `json:"id"`
	DayOfWeek uint8  `json:"dayOfWeek"`
	Hour      uint8  `json:"hour"`
	Minute    uint8  `json:"minute"`
	Active    bool   `json:"active"`
}

type okResult struct {
	OK bool `json:"ok"`
}
