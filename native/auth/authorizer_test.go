package auth

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	marketerr "luxmarket/core/errors"
	"luxmarket/core/state"
	nativecommon "luxmarket/native/common"
	"luxmarket/storage"
)

var salesContract = common.HexToAddress("0x5a1e5")

func salesDomain() Domain {
	return Domain{Name: DomainSales, Version: DefaultVersion, ChainID: big.NewInt(31337), VerifyingContract: salesContract}
}

func newTestAuthorizer(t *testing.T, domain Domain, now int64) *Authorizer {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() { db.Close() })
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	t.Cleanup(tx.Discard)
	a := NewAuthorizer(state.NewManager(tx), domain)
	a.SetNowFunc(func() int64 { return now })
	return a
}

func newTestSigner(t *testing.T, domain Domain) *Signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return NewSigner(key, domain)
}

func signedBuy(t *testing.T, s *Signer, nonce uint64) Authorization {
	t.Helper()
	auth, err := s.Sign(Authorization{
		Operation: nativecommon.OpBuy,
		Nonce:     nonce,
		Expiry:    2_000,
		Params:    SaleParams(1, common.HexToAddress("0x70")),
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return auth
}

func TestVerifyConsumesNonceAndRejectsReplay(t *testing.T) {
	a := newTestAuthorizer(t, salesDomain(), 1_000)
	s := newTestSigner(t, salesDomain())
	auth := signedBuy(t, s, 0)

	if err := a.Verify(auth); err != nil {
		t.Fatalf("verify: %v", err)
	}
	nonce, err := a.Nonce(s.Address())
	if err != nil || nonce != 1 {
		t.Fatalf("nonce = %d err=%v, want 1", nonce, err)
	}
	err = a.Verify(auth)
	if !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("expected replay to fail with ErrNonceMismatch, got %v", err)
	}
	if marketerr.KindOf(err) != marketerr.KindAuthorization {
		t.Fatalf("replay should be an authorization error, got %s", marketerr.KindOf(err))
	}
	if err := a.Verify(signedBuy(t, s, 1)); err != nil {
		t.Fatalf("next nonce should verify: %v", err)
	}
}

func TestVerifyRejectsNonceGap(t *testing.T) {
	a := newTestAuthorizer(t, salesDomain(), 1_000)
	s := newTestSigner(t, salesDomain())
	if err := a.Verify(signedBuy(t, s, 1)); !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("expected ErrNonceMismatch, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	a := newTestAuthorizer(t, salesDomain(), 2_001)
	s := newTestSigner(t, salesDomain())
	if err := a.Verify(signedBuy(t, s, 0)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if nonce, _ := a.Nonce(s.Address()); nonce != 0 {
		t.Fatalf("expired signature consumed nonce")
	}
	atExpiry := newTestAuthorizer(t, salesDomain(), 2_000)
	if err := atExpiry.Verify(signedBuy(t, s, 0)); err != nil {
		t.Fatalf("signature valid through its expiry second: %v", err)
	}
}

func TestVerifyRejectsCrossOperation(t *testing.T) {
	a := newTestAuthorizer(t, salesDomain(), 1_000)
	s := newTestSigner(t, salesDomain())
	auth := signedBuy(t, s, 0)
	auth.Operation = nativecommon.OpWithdraw
	if err := a.Verify(auth); !errors.Is(err, ErrSignerMismatch) {
		t.Fatalf("expected ErrSignerMismatch for cross-operation reuse, got %v", err)
	}
}

func TestVerifyRejectsChangedParams(t *testing.T) {
	a := newTestAuthorizer(t, salesDomain(), 1_000)
	s := newTestSigner(t, salesDomain())
	auth := signedBuy(t, s, 0)
	auth.Params = SaleParams(2, common.HexToAddress("0x70"))
	if err := a.Verify(auth); !errors.Is(err, ErrSignerMismatch) {
		t.Fatalf("expected ErrSignerMismatch for altered params, got %v", err)
	}
}

func TestVerifyRejectsCrossDomain(t *testing.T) {
	payments := salesDomain()
	payments.Name = DomainPayments
	a := newTestAuthorizer(t, payments, 1_000)
	s := newTestSigner(t, salesDomain())
	if err := a.Verify(signedBuy(t, s, 0)); !errors.Is(err, ErrSignerMismatch) {
		t.Fatalf("expected ErrSignerMismatch across domains, got %v", err)
	}
}

func TestVerifyRejectsWrongWallet(t *testing.T) {
	a := newTestAuthorizer(t, salesDomain(), 1_000)
	s := newTestSigner(t, salesDomain())
	auth := signedBuy(t, s, 0)
	auth.Wallet = common.HexToAddress("0xdead")
	if err := a.Verify(auth); !errors.Is(err, ErrSignerMismatch) {
		t.Fatalf("expected ErrSignerMismatch, got %v", err)
	}
	auth.Signature = auth.Signature[:64]
	if err := a.Verify(auth); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestOperationTypeHashesDistinct(t *testing.T) {
	seen := make(map[common.Hash]nativecommon.Operation)
	for _, op := range nativecommon.Operations {
		hash, ok := OperationTypeHash(op)
		if !ok {
			t.Fatalf("missing type hash for %s", op)
		}
		if prev, dup := seen[hash]; dup {
			t.Fatalf("%s shares a type hash with %s", op, prev)
		}
		seen[hash] = op
	}
	if _, ok := OperationTypeHash(nativecommon.Operation(9)); ok {
		t.Fatalf("unexpected type hash for unknown operation")
	}
}

func TestDomainSeparatorVariesByField(t *testing.T) {
	base, err := salesDomain().Separator()
	if err != nil {
		t.Fatalf("separator: %v", err)
	}
	variants := []Domain{salesDomain(), salesDomain(), salesDomain()}
	variants[0].Name = DomainWrapper
	variants[1].ChainID = big.NewInt(1)
	variants[2].VerifyingContract = common.HexToAddress("0x01")
	for i, d := range variants {
		sep, err := d.Separator()
		if err != nil {
			t.Fatalf("separator %d: %v", i, err)
		}
		if sep == base {
			t.Fatalf("variant %d shares the base separator", i)
		}
	}
}

func TestLegacyHashSingleUse(t *testing.T) {
	a := newTestAuthorizer(t, salesDomain(), 1_000)
	a.SetAllowLegacy(true)
	s := newTestSigner(t, salesDomain())
	legacy, err := s.SignLegacy(LegacyAuthorization{
		Operation: nativecommon.OpList,
		Expiry:    1_500,
		Params:    ListParams(3, big.NewInt(100), 0, common.HexToAddress("0x70")),
		Salt:      common.HexToHash("0x01"),
	})
	if err != nil {
		t.Fatalf("sign legacy: %v", err)
	}
	if err := a.VerifyLegacy(legacy); err != nil {
		t.Fatalf("verify legacy: %v", err)
	}
	used, err := a.IsHashUsed(legacy.Digest())
	if err != nil || !used {
		t.Fatalf("hash should be marked used, used=%v err=%v", used, err)
	}
	if err := a.VerifyLegacy(legacy); !errors.Is(err, ErrHashUsed) {
		t.Fatalf("expected ErrHashUsed, got %v", err)
	}
	if nonce, _ := a.Nonce(s.Address()); nonce != 0 {
		t.Fatalf("legacy path must not touch the nonce")
	}
}

func TestLegacyDisabled(t *testing.T) {
	a := newTestAuthorizer(t, salesDomain(), 1_000)
	s := newTestSigner(t, salesDomain())
	legacy, err := s.SignLegacy(LegacyAuthorization{Operation: nativecommon.OpBuy, Expiry: 1_500})
	if err != nil {
		t.Fatalf("sign legacy: %v", err)
	}
	if err := a.VerifyLegacy(legacy); !errors.Is(err, ErrLegacyDisabled) {
		t.Fatalf("expected ErrLegacyDisabled, got %v", err)
	}
}
