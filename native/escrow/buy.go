package escrow

import (
	"github.com/ethereum/go-ethereum/common"

	marketerr "luxmarket/core/errors"
	"luxmarket/core/events"
	nativecommon "luxmarket/native/common"
	"luxmarket/native/fees"
)

type buyPlan struct {
	req     SaleRequest
	collab  *collaborators
	sale    *Sale
	service fees.ServiceFee
	trade   fees.TransactionFees
}

type buyCommitted struct {
	plan buyPlan
	sale Sale
}

// Buy settles an active sale within its window. The sale is deactivated and
// unindexed before any funds or custody move.
func (l *Ledger) Buy(req SaleRequest) (*BuyResult, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	release, err := l.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	plan, err := l.validateBuy(req)
	if err != nil {
		return nil, err
	}
	committed, err := l.commitBuy(plan)
	if err != nil {
		return nil, err
	}
	return l.settleBuy(committed)
}

func (l *Ledger) validateBuy(req SaleRequest) (buyPlan, error) {
	sale, err := l.loadActiveSale(req.SaleID)
	if err != nil {
		return buyPlan{}, err
	}
	now := l.now()
	if now < sale.Start || now > sale.End {
		return buyPlan{}, marketerr.State(ErrOutsideWindow, "sale %d window [%d,%d] now %d", sale.ID, sale.Start, sale.End, now)
	}
	collab, err := l.resolve()
	if err != nil {
		return buyPlan{}, err
	}
	if err := requireWhitelisted(collab.whitelist, req.Wallet); err != nil {
		return buyPlan{}, err
	}
	if err := requireWhitelisted(collab.whitelist, sale.Seller); err != nil {
		return buyPlan{}, err
	}
	service, err := collab.payments.ComputeServiceFee(nativecommon.OpBuy, req.PaymentToken == (common.Address{}))
	if err != nil {
		return buyPlan{}, err
	}
	sellerBps, buyerBps, err := collab.payments.MembershipRates(collab.membership, sale.Seller, req.Wallet)
	if err != nil {
		return buyPlan{}, err
	}
	trade, err := collab.payments.ComputeTransactionFees(sale.Price, sellerBps, buyerBps)
	if err != nil {
		return buyPlan{}, err
	}
	return buyPlan{req: req, collab: collab, sale: sale, service: service, trade: trade}, nil
}

func (l *Ledger) commitBuy(plan buyPlan) (buyCommitted, error) {
	sale := *plan.sale.Clone()
	sale.Active = false
	if err := l.state.KVPut(saleKey(sale.ID), &sale); err != nil {
		return buyCommitted{}, err
	}
	if err := l.unindexSale(&sale); err != nil {
		return buyCommitted{}, err
	}
	return buyCommitted{plan: plan, sale: sale}, nil
}

func (l *Ledger) settleBuy(c buyCommitted) (*BuyResult, error) {
	trade := c.plan.trade
	payment, err := c.plan.collab.payments.ExecuteTransfer(fees.TransferRequest{
		Token:   c.plan.req.PaymentToken,
		Payer:   c.plan.req.Wallet,
		Payee:   c.sale.Seller,
		Amount:  c.sale.Price,
		Trade:   &trade,
		Service: c.plan.service,
	})
	if err != nil {
		return nil, err
	}
	if err := c.plan.collab.assets.MarketplaceTransfer(l.custodian, l.custodian, c.plan.req.Wallet, c.sale.WrapperID); err != nil {
		return nil, marketerr.External(err, "release asset %d", c.sale.WrapperID)
	}
	l.emit(saleEvent(events.TypeSaleBought, &c.sale, c.plan.req.Wallet, l.now(), c.plan.service, &trade, payment))
	return &BuyResult{
		Sale:    *c.sale.Clone(),
		Buyer:   c.plan.req.Wallet,
		Service: c.plan.service,
		Trade:   trade,
		Payment: payment,
	}, nil
}
