package escrow

import (
	"github.com/ethereum/go-ethereum/common"

	marketerr "luxmarket/core/errors"
	"luxmarket/core/events"
	nativecommon "luxmarket/native/common"
	"luxmarket/native/fees"
)

type renewPlan struct {
	req     SaleRequest
	collab  *collaborators
	sale    *Sale
	start   uint64
	end     uint64
	service fees.ServiceFee
}

type renewCommitted struct {
	plan     renewPlan
	previous Sale
	sale     Sale
}

// Renew re-activates an expired listing at the next scheduled start, keeping
// its original duration.
func (l *Ledger) Renew(req SaleRequest) (*RenewResult, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	release, err := l.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	plan, err := l.validateRenew(req)
	if err != nil {
		return nil, err
	}
	committed, err := l.commitRenew(plan)
	if err != nil {
		return nil, err
	}
	return l.settleRenew(committed)
}

func (l *Ledger) validateRenew(req SaleRequest) (renewPlan, error) {
	sale, err := l.loadActiveSale(req.SaleID)
	if err != nil {
		return renewPlan{}, err
	}
	if sale.Seller != req.Wallet {
		return renewPlan{}, marketerr.State(ErrNotSeller, "%s", req.Wallet.Hex())
	}
	now := l.now()
	if now <= sale.End {
		return renewPlan{}, marketerr.State(ErrNotExpired, "sale %d ends %d now %d", sale.ID, sale.End, now)
	}
	start, err := l.schedule.NextScheduleTime(now)
	if err != nil {
		return renewPlan{}, err
	}
	if start <= now {
		return renewPlan{}, marketerr.Validation(ErrStartNotInFuture, "start %d now %d", start, now)
	}
	collab, err := l.resolve()
	if err != nil {
		return renewPlan{}, err
	}
	if err := requireWhitelisted(collab.whitelist, req.Wallet); err != nil {
		return renewPlan{}, err
	}
	service, err := collab.payments.ComputeServiceFee(nativecommon.OpRenew, req.PaymentToken == (common.Address{}))
	if err != nil {
		return renewPlan{}, err
	}
	return renewPlan{
		req:     req,
		collab:  collab,
		sale:    sale,
		start:   start,
		end:     start + sale.Duration(),
		service: service,
	}, nil
}

func (l *Ledger) commitRenew(plan renewPlan) (renewCommitted, error) {
	previous := *plan.sale.Clone()
	sale := *plan.sale.Clone()
	sale.Start = plan.start
	sale.End = plan.end
	if err := l.state.KVPut(saleKey(sale.ID), &sale); err != nil {
		return renewCommitted{}, err
	}
	return renewCommitted{plan: plan, previous: previous, sale: sale}, nil
}

func (l *Ledger) settleRenew(c renewCommitted) (*RenewResult, error) {
	payment, err := c.plan.collab.payments.ExecuteTransfer(fees.TransferRequest{
		Token:   c.plan.req.PaymentToken,
		Payer:   c.plan.req.Wallet,
		Service: c.plan.service,
	})
	if err != nil {
		return nil, err
	}
	l.emit(saleEvent(events.TypeSaleRenewed, &c.sale, common.Address{}, l.now(), c.plan.service, nil, payment))
	return &RenewResult{
		Sale:          *c.sale.Clone(),
		PreviousStart: c.previous.Start,
		PreviousEnd:   c.previous.End,
		Service:       c.plan.service,
		Payment:       payment,
	}, nil
}
