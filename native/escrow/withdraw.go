package escrow

import (
	"github.com/ethereum/go-ethereum/common"

	marketerr "luxmarket/core/errors"
	"luxmarket/core/events"
	nativecommon "luxmarket/native/common"
	"luxmarket/native/fees"
)

type withdrawPlan struct {
	req     SaleRequest
	collab  *collaborators
	sale    *Sale
	service fees.ServiceFee
}

type withdrawCommitted struct {
	plan withdrawPlan
	sale Sale
}

// Withdraw cancels an unsold listing, deletes the sale and returns custody to
// the seller.
func (l *Ledger) Withdraw(req SaleRequest) (*WithdrawResult, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	release, err := l.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	plan, err := l.validateWithdraw(req)
	if err != nil {
		return nil, err
	}
	committed, err := l.commitWithdraw(plan)
	if err != nil {
		return nil, err
	}
	return l.settleWithdraw(committed)
}

func (l *Ledger) validateWithdraw(req SaleRequest) (withdrawPlan, error) {
	sale, err := l.loadActiveSale(req.SaleID)
	if err != nil {
		return withdrawPlan{}, err
	}
	if sale.Seller != req.Wallet {
		return withdrawPlan{}, marketerr.State(ErrNotSeller, "%s", req.Wallet.Hex())
	}
	if now := l.now(); l.policy == WithdrawWithinWindow && (now < sale.Start || now > sale.End) {
		return withdrawPlan{}, marketerr.State(ErrOutsideWindow, "sale %d window [%d,%d] now %d", sale.ID, sale.Start, sale.End, now)
	}
	collab, err := l.resolve()
	if err != nil {
		return withdrawPlan{}, err
	}
	if err := requireWhitelisted(collab.whitelist, req.Wallet); err != nil {
		return withdrawPlan{}, err
	}
	service, err := collab.payments.ComputeServiceFee(nativecommon.OpWithdraw, req.PaymentToken == (common.Address{}))
	if err != nil {
		return withdrawPlan{}, err
	}
	return withdrawPlan{req: req, collab: collab, sale: sale, service: service}, nil
}

func (l *Ledger) commitWithdraw(plan withdrawPlan) (withdrawCommitted, error) {
	sale := *plan.sale.Clone()
	if err := l.unindexSale(&sale); err != nil {
		return withdrawCommitted{}, err
	}
	if err := l.state.KVDelete(saleKey(sale.ID)); err != nil {
		return withdrawCommitted{}, err
	}
	sale.Active = false
	return withdrawCommitted{plan: plan, sale: sale}, nil
}

func (l *Ledger) settleWithdraw(c withdrawCommitted) (*WithdrawResult, error) {
	payment, err := c.plan.collab.payments.ExecuteTransfer(fees.TransferRequest{
		Token:   c.plan.req.PaymentToken,
		Payer:   c.plan.req.Wallet,
		Service: c.plan.service,
	})
	if err != nil {
		return nil, err
	}
	if err := c.plan.collab.assets.MarketplaceTransfer(l.custodian, l.custodian, c.sale.Seller, c.sale.WrapperID); err != nil {
		return nil, marketerr.External(err, "return asset %d", c.sale.WrapperID)
	}
	l.emit(saleEvent(events.TypeSaleWithdrawn, &c.sale, common.Address{}, l.now(), c.plan.service, nil, payment))
	return &WithdrawResult{Sale: *c.sale.Clone(), Service: c.plan.service, Payment: payment}, nil
}
