package escrow

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"luxmarket/core/events"
	"luxmarket/native/fees"
)

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func saleEvent(eventType string, sale *Sale, buyer common.Address, now uint64, service fees.ServiceFee, trade *fees.TransactionFees, payment fees.TransferResult) events.SaleEvent {
	evt := events.SaleEvent{
		Type:          eventType,
		SaleID:        sale.ID,
		WrapperID:     sale.WrapperID,
		Collection:    sale.Collection,
		Seller:        sale.Seller,
		Buyer:         buyer,
		Price:         cloneAmount(sale.Price),
		Start:         sale.Start,
		End:           sale.End,
		PaymentToken:  payment.Token,
		Fiat:          payment.Fiat,
		ServiceFee:    cloneAmount(service.Flat),
		FiatSurcharge: cloneAmount(service.FiatSurcharge),
		Timestamp:     now,
	}
	if trade != nil {
		evt.SellerFee = cloneAmount(trade.SellerFee)
		evt.BuyerFee = cloneAmount(trade.BuyerFee)
		evt.PayeeAmount = cloneAmount(payment.PayeeAmount)
		evt.Payouts = make([]events.FeePayout, 0, len(payment.Payouts))
		for _, p := range payment.Payouts {
			evt.Payouts = append(evt.Payouts, events.FeePayout{Name: p.Name, Wallet: p.Wallet, Amount: cloneAmount(p.Amount)})
		}
	}
	return evt
}
