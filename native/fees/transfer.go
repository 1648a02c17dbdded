package fees

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	marketerr "luxmarket/core/errors"
	"luxmarket/native/roles"
)

var (
	ErrTokenNotAllowed    = errors.New("fees: payment token not configured")
	ErrFiatUnconfigured   = errors.New("fees: default fiat payment not configured")
	ErrTreasuryUnset      = errors.New("fees: treasury fee not configured")
	ErrPayeeRequired      = errors.New("fees: payee required")
	ErrCollaboratorsUnset = errors.New("fees: token ledger or roles registry not configured")
)

// ResolvePayment maps the requested token and payer onto the settlement
// token and debited account. The zero token selects the default fiat token,
// paid from the fiat settlement address.
func (e *Engine) ResolvePayment(token, payer common.Address) (common.Address, common.Address, bool, error) {
	if e == nil || e.roles == nil {
		return common.Address{}, common.Address{}, false, ErrCollaboratorsUnset
	}
	fiat := token == (common.Address{})
	if fiat {
		var err error
		token, err = e.roles.GetDefaultFiatPayment()
		if err != nil {
			return common.Address{}, common.Address{}, false, marketerr.External(err, "default fiat payment")
		}
		if token == (common.Address{}) {
			return common.Address{}, common.Address{}, false, marketerr.Validation(ErrFiatUnconfigured, "")
		}
		payer, err = e.roles.GetRoleAddress(roles.AddressFiatSettlement)
		if err != nil {
			return common.Address{}, common.Address{}, false, marketerr.External(err, "fiat settlement address")
		}
		if payer == (common.Address{}) {
			return common.Address{}, common.Address{}, false, marketerr.Validation(ErrFiatUnconfigured, "settlement address")
		}
	}
	allowed, err := e.roles.HasPaymentRole(token)
	if err != nil {
		return common.Address{}, common.Address{}, false, marketerr.External(err, "payment role")
	}
	if !allowed {
		return common.Address{}, common.Address{}, false, marketerr.Validation(ErrTokenNotAllowed, "%s", token.Hex())
	}
	return token, payer, fiat, nil
}

// TreasuryWallet returns the payout wallet of the treasury fee.
func (e *Engine) TreasuryWallet() (common.Address, error) {
	fee, ok, err := e.Fee(TreasuryFeeName)
	if err != nil {
		return common.Address{}, err
	}
	if !ok || fee.Wallet == (common.Address{}) {
		return common.Address{}, marketerr.Validation(ErrTreasuryUnset, "")
	}
	return fee.Wallet, nil
}

// ExecuteTransfer realises the payment of one operation. For trades the payee
// receives Amount-BuyerFee and the pool SellerFee+BuyerFee is split across the
// snapshotted named fees; the service fee goes to the treasury in its own
// transfer. Every transfer pulls from the payer with the engine as spender.
// Any failure aborts; the caller discards the surrounding transaction.
func (e *Engine) ExecuteTransfer(req TransferRequest) (TransferResult, error) {
	if err := e.ready(); err != nil {
		return TransferResult{}, err
	}
	if e.tokens == nil {
		return TransferResult{}, ErrCollaboratorsUnset
	}
	token, payer, fiat, err := e.ResolvePayment(req.Token, req.Payer)
	if err != nil {
		return TransferResult{}, err
	}
	result := TransferResult{
		Token:         token,
		Payer:         payer,
		Fiat:          fiat,
		Payee:         req.Payee,
		PayeeAmount:   big.NewInt(0),
		Payouts:       []Payout{},
		ServiceAmount: req.Service.Total(),
	}
	if req.Trade != nil {
		if req.Payee == (common.Address{}) {
			return TransferResult{}, marketerr.Validation(ErrPayeeRequired, "")
		}
		amount := cloneBig(req.Amount)
		net := new(big.Int).Sub(amount, cloneBig(req.Trade.BuyerFee))
		if net.Sign() < 0 {
			return TransferResult{}, marketerr.Validation(ErrInvalidAmount, "buyer fee %s exceeds amount %s", req.Trade.BuyerFee, amount)
		}
		if err := e.pull(token, payer, req.Payee, net); err != nil {
			return TransferResult{}, err
		}
		result.PayeeAmount = net
		payouts, err := SplitPool(req.Trade.Pool(), req.Trade.Fees)
		if err != nil {
			return TransferResult{}, err
		}
		for _, payout := range payouts {
			if err := e.pull(token, payer, payout.Wallet, payout.Amount); err != nil {
				return TransferResult{}, err
			}
		}
		result.Payouts = payouts
	}
	if result.ServiceAmount.Sign() > 0 {
		treasury, err := e.TreasuryWallet()
		if err != nil {
			return TransferResult{}, err
		}
		if err := e.pull(token, payer, treasury, result.ServiceAmount); err != nil {
			return TransferResult{}, err
		}
		result.Treasury = treasury
	}
	return result, nil
}

func (e *Engine) pull(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := e.tokens.TransferFrom(token, e.spender, from, to, amount); err != nil {
		return marketerr.External(err, "transfer %s of %s to %s", amount, token.Hex(), to.Hex())
	}
	return nil
}
