package whitelist

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"luxmarket/core/state"
	"luxmarket/storage"
)

func TestSetAndCheck(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Discard()
	list := NewList(state.NewManager(tx))

	addr := common.HexToAddress("0xabc")
	if ok, _ := list.IsWhitelisted(addr); ok {
		t.Fatalf("unexpected whitelisted address")
	}
	if err := list.Set(addr, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ok, err := list.IsWhitelisted(addr); err != nil || !ok {
		t.Fatalf("expected whitelisted, ok=%v err=%v", ok, err)
	}
	if err := list.Set(addr, false); err != nil {
		t.Fatalf("unset: %v", err)
	}
	if ok, _ := list.IsWhitelisted(addr); ok {
		t.Fatalf("address should be removed")
	}
	if ok, _ := list.IsWhitelisted(common.Address{}); ok {
		t.Fatalf("zero address must never be whitelisted")
	}
}
