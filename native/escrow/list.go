package escrow

import (
	"github.com/ethereum/go-ethereum/common"

	marketerr "luxmarket/core/errors"
	"luxmarket/core/events"
	nativecommon "luxmarket/native/common"
	"luxmarket/native/fees"
)

// listPlan is produced by validateList and consumed by commitList.
type listPlan struct {
	req        ListRequest
	collab     *collaborators
	collection uint64
	start      uint64
	end        uint64
	service    fees.ServiceFee
}

// listCommitted is produced by commitList and consumed by settleList.
type listCommitted struct {
	plan listPlan
	sale Sale
}

// List escrows the seller's asset and opens a sale starting at the next
// scheduled activation.
func (l *Ledger) List(req ListRequest) (*ListResult, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	release, err := l.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	plan, err := l.validateList(req)
	if err != nil {
		return nil, err
	}
	committed, err := l.commitList(plan)
	if err != nil {
		return nil, err
	}
	return l.settleList(committed)
}

func (l *Ledger) validateList(req ListRequest) (listPlan, error) {
	if req.Price == nil || req.Price.Sign() <= 0 {
		return listPlan{}, marketerr.Validation(ErrZeroPrice, "%v", req.Price)
	}
	duration, ok, err := l.schedule.Duration(req.DurationID)
	if err != nil {
		return listPlan{}, err
	}
	if !ok {
		return listPlan{}, marketerr.Validation(ErrUnknownDuration, "%d", req.DurationID)
	}
	collab, err := l.resolve()
	if err != nil {
		return listPlan{}, err
	}
	if err := requireWhitelisted(collab.whitelist, req.Seller); err != nil {
		return listPlan{}, err
	}
	owner, err := collab.assets.OwnerOf(req.WrapperID)
	if err != nil {
		return listPlan{}, marketerr.External(err, "owner of %d", req.WrapperID)
	}
	if owner != req.Seller {
		return listPlan{}, marketerr.Authorization(ErrNotCustodian, "asset %d held by %s", req.WrapperID, owner.Hex())
	}
	data, err := collab.assets.AssetData(req.WrapperID)
	if err != nil {
		return listPlan{}, marketerr.External(err, "asset data %d", req.WrapperID)
	}
	start, err := l.schedule.NextScheduleTime(l.now())
	if err != nil {
		return listPlan{}, err
	}
	service, err := collab.payments.ComputeServiceFee(nativecommon.OpList, req.PaymentToken == (common.Address{}))
	if err != nil {
		return listPlan{}, err
	}
	return listPlan{
		req:        req,
		collab:     collab,
		collection: data.Collection,
		start:      start,
		end:        start + duration,
		service:    service,
	}, nil
}

func (l *Ledger) commitList(plan listPlan) (listCommitted, error) {
	id, err := l.NextSaleID()
	if err != nil {
		return listCommitted{}, err
	}
	sale := Sale{
		ID:         id,
		WrapperID:  plan.req.WrapperID,
		Collection: plan.collection,
		Seller:     plan.req.Seller,
		Price:      cloneAmount(plan.req.Price),
		Start:      plan.start,
		End:        plan.end,
		Active:     true,
	}
	if err := l.state.KVPut(nextIDKey, id+1); err != nil {
		return listCommitted{}, err
	}
	if err := l.state.KVPut(saleKey(id), &sale); err != nil {
		return listCommitted{}, err
	}
	if err := l.indexSale(&sale); err != nil {
		return listCommitted{}, err
	}
	return listCommitted{plan: plan, sale: sale}, nil
}

func (l *Ledger) settleList(c listCommitted) (*ListResult, error) {
	payment, err := c.plan.collab.payments.ExecuteTransfer(fees.TransferRequest{
		Token:   c.plan.req.PaymentToken,
		Payer:   c.plan.req.Seller,
		Service: c.plan.service,
	})
	if err != nil {
		return nil, err
	}
	if err := c.plan.collab.assets.MarketplaceTransfer(l.custodian, c.sale.Seller, l.custodian, c.sale.WrapperID); err != nil {
		return nil, marketerr.External(err, "escrow asset %d", c.sale.WrapperID)
	}
	l.emit(saleEvent(events.TypeSaleListed, &c.sale, common.Address{}, l.now(), c.plan.service, nil, payment))
	return &ListResult{
		Sale:         *c.sale.Clone(),
		DurationID:   c.plan.req.DurationID,
		PaymentToken: c.plan.req.PaymentToken,
		Service:      c.plan.service,
		Payment:      payment,
	}, nil
}
