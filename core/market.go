package core

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"

	marketerr "luxmarket/core/errors"
	"luxmarket/native/auth"
	nativecommon "luxmarket/native/common"
	"luxmarket/native/escrow"
	"luxmarket/native/roles"
)

// Signature is the wallet's consent to one trading call. Structured
// signatures are EIP-712 over the sales domain and consume Nonce; legacy
// signatures are EIP-191 over a salted digest and are single use.
type Signature struct {
	Nonce  uint64
	Expiry uint64
	Legacy bool
	Salt   common.Hash
	Value  []byte
}

// List escrows the seller's asset and opens a sale at the next scheduled
// activation. Caller is the submitting account; it must be the seller or hold
// the relayer role.
func (n *Node) List(ctx context.Context, caller common.Address, req escrow.ListRequest, sig Signature) (*escrow.ListResult, error) {
	params := auth.ListParams(req.WrapperID, req.Price, req.DurationID, req.PaymentToken)
	var result *escrow.ListResult
	err := n.trade(ctx, nativecommon.OpList, caller, req.Seller, params, sig, func(ledger *escrow.Ledger) error {
		var err error
		result, err = ledger.List(req)
		return err
	})
	if err != nil {
		return nil, err
	}
	n.metrics.RecordSettlement("service", result.Payment.ServiceAmount)
	return result, nil
}

// Buy settles an active sale. req.Wallet is the buyer.
func (n *Node) Buy(ctx context.Context, caller common.Address, req escrow.SaleRequest, sig Signature) (*escrow.BuyResult, error) {
	params := auth.SaleParams(req.SaleID, req.PaymentToken)
	var result *escrow.BuyResult
	err := n.trade(ctx, nativecommon.OpBuy, caller, req.Wallet, params, sig, func(ledger *escrow.Ledger) error {
		var err error
		result, err = ledger.Buy(req)
		return err
	})
	if err != nil {
		return nil, err
	}
	n.metrics.RecordSettlement("payee", result.Payment.PayeeAmount)
	n.metrics.RecordSettlement("pool", result.Trade.Pool())
	n.metrics.RecordSettlement("service", result.Payment.ServiceAmount)
	return result, nil
}

// Withdraw cancels a sale and returns the asset to its seller. req.Wallet is
// the seller.
func (n *Node) Withdraw(ctx context.Context, caller common.Address, req escrow.SaleRequest, sig Signature) (*escrow.WithdrawResult, error) {
	params := auth.SaleParams(req.SaleID, req.PaymentToken)
	var result *escrow.WithdrawResult
	err := n.trade(ctx, nativecommon.OpWithdraw, caller, req.Wallet, params, sig, func(ledger *escrow.Ledger) error {
		var err error
		result, err = ledger.Withdraw(req)
		return err
	})
	if err != nil {
		return nil, err
	}
	n.metrics.RecordSettlement("service", result.Payment.ServiceAmount)
	return result, nil
}

// Renew re-opens an expired sale at the next scheduled activation. req.Wallet
// is the seller.
func (n *Node) Renew(ctx context.Context, caller common.Address, req escrow.SaleRequest, sig Signature) (*escrow.RenewResult, error) {
	params := auth.SaleParams(req.SaleID, req.PaymentToken)
	var result *escrow.RenewResult
	err := n.trade(ctx, nativecommon.OpRenew, caller, req.Wallet, params, sig, func(ledger *escrow.Ledger) error {
		var err error
		result, err = ledger.Renew(req)
		return err
	})
	if err != nil {
		return nil, err
	}
	n.metrics.RecordSettlement("service", result.Payment.ServiceAmount)
	return result, nil
}

// trade runs the two steps of a trading call. The authorization step checks
// the pause flag, the submitter and the signature and commits the consumed
// nonce on its own. The business step then runs in a second transaction, so
// a rejected trade leaves the nonce spent and every sale and balance intact.
func (n *Node) trade(ctx context.Context, op nativecommon.Operation, caller, wallet common.Address, params common.Hash, sig Signature, run func(*escrow.Ledger) error) (err error) {
	_, span := n.startSpan(ctx, "market."+op.String(),
		attribute.String("wallet", wallet.Hex()),
		attribute.String("caller", caller.Hex()),
		attribute.Bool("legacy", sig.Legacy))
	defer span.End()
	started := time.Now()
	defer func() { n.observe(span, op.String(), started, err) }()

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if err = n.authorize(op, caller, wallet, params, sig); err != nil {
		return err
	}
	return n.apply(func(m *modules) error {
		ledger, err := n.bindLedger(m)
		if err != nil {
			return err
		}
		return run(ledger)
	})
}

func (n *Node) authorize(op nativecommon.Operation, caller, wallet common.Address, params common.Hash, sig Signature) error {
	return n.apply(func(m *modules) error {
		if err := nativecommon.Guard(pauseView{mods: m}, nativecommon.ModuleMarket); err != nil {
			return marketerr.State(err, "%s", op)
		}
		if caller != wallet {
			if err := n.requireRole(m, roles.RoleRelayer, caller, ErrNotRelayer); err != nil {
				return err
			}
		}
		authorizer, err := n.authorizer(m)
		if err != nil {
			return err
		}
		if sig.Legacy {
			return authorizer.VerifyLegacy(auth.LegacyAuthorization{
				Operation: op,
				Wallet:    wallet,
				Expiry:    sig.Expiry,
				Params:    params,
				Salt:      sig.Salt,
				Signature: sig.Value,
			})
		}
		return authorizer.Verify(auth.Authorization{
			Operation: op,
			Wallet:    wallet,
			Nonce:     sig.Nonce,
			Expiry:    sig.Expiry,
			Params:    params,
			Signature: sig.Value,
		})
	})
}
