package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type recorder struct{ got []string }

func (r *recorder) Emit(evt Event) { r.got = append(r.got, evt.EventType()) }

func TestBufferFlushesInOrder(t *testing.T) {
	var buf Buffer
	buf.Emit(SaleEvent{Type: TypeSaleListed})
	buf.Emit(SaleEvent{Type: TypeSaleBought})
	buf.Emit(nil)

	first, second := &recorder{}, &recorder{}
	buf.Flush(Multi{first, nil, second})
	for _, r := range []*recorder{first, second} {
		if len(r.got) != 2 || r.got[0] != TypeSaleListed || r.got[1] != TypeSaleBought {
			t.Fatalf("unexpected flush order %v", r.got)
		}
	}
	if len(buf.Events()) != 0 {
		t.Fatalf("buffer not emptied after flush")
	}
	buf.Emit(SaleEvent{Type: TypeSaleRenewed})
	buf.Reset()
	buf.Flush(first)
	if len(first.got) != 2 {
		t.Fatalf("reset buffer must not flush")
	}
}

func TestSaleEventAttributes(t *testing.T) {
	evt := SaleEvent{
		Type:      TypeSaleBought,
		SaleID:    7,
		Seller:    common.HexToAddress("0x01"),
		Buyer:     common.HexToAddress("0x02"),
		Price:     big.NewInt(100_000),
		SellerFee: big.NewInt(6_000),
		Payouts: []FeePayout{
			{Name: "royalty", Wallet: common.HexToAddress("0xa1"), Amount: big.NewInt(5_600)},
		},
	}
	out := evt.Event()
	if out.Type != TypeSaleBought {
		t.Fatalf("type = %s", out.Type)
	}
	if out.Attributes["saleId"] != "7" || out.Attributes["price"] != "100000" || out.Attributes["sellerFee"] != "6000" {
		t.Fatalf("unexpected attributes %v", out.Attributes)
	}
	if out.Attributes["buyer"] != common.HexToAddress("0x02").Hex() {
		t.Fatalf("buyer attribute = %s", out.Attributes["buyer"])
	}
	want := "royalty:" + common.HexToAddress("0xa1").Hex() + ":5600"
	if out.Attributes["payouts"] != want {
		t.Fatalf("payouts = %s, want %s", out.Attributes["payouts"], want)
	}
	if _, ok := out.Attributes["buyerFee"]; ok {
		t.Fatalf("nil amounts must be omitted")
	}
}
