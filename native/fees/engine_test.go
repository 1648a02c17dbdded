package fees

import (
	"errors"
	"math/big"
	"sort"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	marketerr "luxmarket/core/errors"
	"luxmarket/core/state"
	"luxmarket/native/bank"
	nativecommon "luxmarket/native/common"
	"luxmarket/native/roles"
	"luxmarket/storage"
)

var (
	treasuryWallet = common.HexToAddress("0x7ea5")
	royaltyWallet  = common.HexToAddress("0xa1")
	brandWallet    = common.HexToAddress("0xb2")
	paymentsAddr   = common.HexToAddress("0x9a9")
	usdToken       = common.HexToAddress("0x05d")
	fiatToken      = common.HexToAddress("0xf1a7")
	fiatDesk       = common.HexToAddress("0xde5c")
	buyer          = common.HexToAddress("0xb1")
	seller         = common.HexToAddress("0x5e")
)

type testEnv struct {
	engine *Engine
	ledger *bank.Ledger
	roles  *roles.Registry
}

type fixedTiers map[common.Address]uint64

func (f fixedTiers) GetMembershipTiers(addrs []common.Address) ([]uint64, error) {
	out := make([]uint64, len(addrs))
	for i, addr := range addrs {
		out[i] = f[addr]
	}
	return out, nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() { db.Close() })
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	t.Cleanup(tx.Discard)
	mgr := state.NewManager(tx)
	env := &testEnv{
		engine: NewEngine(),
		ledger: bank.NewLedger(mgr),
		roles:  roles.NewRegistry(mgr),
	}
	env.engine.SetState(mgr)
	env.engine.SetTokens(env.ledger)
	env.engine.SetRoles(env.roles)
	env.engine.SetSpender(paymentsAddr)
	if err := env.engine.AddFee(TreasuryFeeName, BasisPoints, treasuryWallet); err != nil {
		t.Fatalf("seed treasury: %v", err)
	}
	if err := env.roles.GrantRole(roles.RolePayment, usdToken); err != nil {
		t.Fatalf("grant payment: %v", err)
	}
	return env
}

// configureScenario installs the two-fee table with 600/100 bps tier rates.
func configureScenario(t *testing.T, env *testEnv) {
	t.Helper()
	if err := env.engine.UpdateFee(TreasuryFeeName, 0, treasuryWallet); err != nil {
		t.Fatalf("update treasury: %v", err)
	}
	if err := env.engine.AddFee("royalty", 400, royaltyWallet); err != nil {
		t.Fatalf("add royalty: %v", err)
	}
	if err := env.engine.AddFee("brand", 100, brandWallet); err != nil {
		t.Fatalf("add brand: %v", err)
	}
	if err := env.engine.SetMembershipFeePercentage(0, false, 600); err != nil {
		t.Fatalf("seller tier: %v", err)
	}
	if err := env.engine.SetMembershipFeePercentage(0, true, 100); err != nil {
		t.Fatalf("buyer tier: %v", err)
	}
}

func fund(t *testing.T, env *testEnv, token, owner common.Address, amount int64) {
	t.Helper()
	if err := env.ledger.Mint(token, owner, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.ledger.Approve(token, owner, paymentsAddr, big.NewInt(amount)); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func balance(t *testing.T, env *testEnv, token, owner common.Address) int64 {
	t.Helper()
	bal, err := env.ledger.BalanceOf(token, owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func TestTradeFeeScenario(t *testing.T) {
	env := newTestEnv(t)
	configureScenario(t, env)

	sellerBps, buyerBps, err := env.engine.MembershipRates(fixedTiers{}, seller, buyer)
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	if sellerBps != 600 || buyerBps != 100 {
		t.Fatalf("rates = %d/%d, want 600/100", sellerBps, buyerBps)
	}
	trade, err := env.engine.ComputeTransactionFees(big.NewInt(100_000), sellerBps, buyerBps)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if trade.SellerFee.Int64() != 6_000 || trade.BuyerFee.Int64() != 1_000 {
		t.Fatalf("seller/buyer fee = %s/%s", trade.SellerFee, trade.BuyerFee)
	}
	if len(trade.Fees) != 3 {
		t.Fatalf("snapshot has %d fees, want 3", len(trade.Fees))
	}

	fund(t, env, usdToken, buyer, 200_000)
	result, err := env.engine.ExecuteTransfer(TransferRequest{
		Token:  usdToken,
		Payer:  buyer,
		Payee:  seller,
		Amount: big.NewInt(100_000),
		Trade:  &trade,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.PayeeAmount.Int64() != 99_000 {
		t.Fatalf("payee amount = %s, want 99000", result.PayeeAmount)
	}
	if got := balance(t, env, usdToken, seller); got != 99_000 {
		t.Fatalf("seller balance = %d, want 99000", got)
	}
	if got := balance(t, env, usdToken, royaltyWallet); got != 5_600 {
		t.Fatalf("royalty payout = %d, want 5600", got)
	}
	if got := balance(t, env, usdToken, brandWallet); got != 1_400 {
		t.Fatalf("brand payout = %d, want 1400", got)
	}
	if got := balance(t, env, usdToken, treasuryWallet); got != 0 {
		t.Fatalf("treasury payout = %d, want 0", got)
	}
	if got := balance(t, env, usdToken, buyer); got != 200_000-99_000-7_000 {
		t.Fatalf("buyer balance = %d", got)
	}
}

func TestServiceFeeRoutesToTreasuryWithFiatSurcharge(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.SetServiceFee(nativecommon.OpList, big.NewInt(1_000)); err != nil {
		t.Fatalf("service fee: %v", err)
	}
	if err := env.engine.SetFiatFeePercentage(250); err != nil {
		t.Fatalf("fiat bps: %v", err)
	}
	fee, err := env.engine.ComputeServiceFee(nativecommon.OpList, true)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if fee.Flat.Int64() != 1_000 || fee.FiatSurcharge.Int64() != 25 {
		t.Fatalf("service fee = %s + %s", fee.Flat, fee.FiatSurcharge)
	}
	plain, _ := env.engine.ComputeServiceFee(nativecommon.OpList, false)
	if plain.FiatSurcharge.Sign() != 0 {
		t.Fatalf("non-fiat payment must not carry a surcharge")
	}

	if err := env.roles.SetDefaultFiatPayment(fiatToken); err != nil {
		t.Fatalf("fiat token: %v", err)
	}
	if err := env.roles.GrantRole(roles.RolePayment, fiatToken); err != nil {
		t.Fatalf("grant fiat: %v", err)
	}
	if err := env.roles.SetRoleAddress(roles.AddressFiatSettlement, fiatDesk); err != nil {
		t.Fatalf("fiat desk: %v", err)
	}
	fund(t, env, fiatToken, fiatDesk, 5_000)
	result, err := env.engine.ExecuteTransfer(TransferRequest{Payer: seller, Service: fee})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Fiat || result.Payer != fiatDesk || result.Token != fiatToken {
		t.Fatalf("fiat substitution not applied: %+v", result)
	}
	if got := balance(t, env, fiatToken, treasuryWallet); got != 1_025 {
		t.Fatalf("treasury = %d, want 1025", got)
	}
	if got := balance(t, env, fiatToken, fiatDesk); got != 5_000-1_025 {
		t.Fatalf("fiat desk = %d", got)
	}
}

func TestUnconfiguredTokenRejectedBeforeTransfers(t *testing.T) {
	env := newTestEnv(t)
	rogue := common.HexToAddress("0xbad")
	fund(t, env, rogue, buyer, 1_000)
	_, err := env.engine.ExecuteTransfer(TransferRequest{
		Token:   rogue,
		Payer:   buyer,
		Service: ServiceFee{Flat: big.NewInt(10)},
	})
	if !errors.Is(err, ErrTokenNotAllowed) {
		t.Fatalf("expected ErrTokenNotAllowed, got %v", err)
	}
	if marketerr.KindOf(err) != marketerr.KindValidation {
		t.Fatalf("kind = %s, want validation", marketerr.KindOf(err))
	}
	if got := balance(t, env, rogue, buyer); got != 1_000 {
		t.Fatalf("funds moved: %d", got)
	}
	if _, err := env.engine.ExecuteTransfer(TransferRequest{Payer: buyer}); !errors.Is(err, ErrFiatUnconfigured) {
		t.Fatalf("expected ErrFiatUnconfigured, got %v", err)
	}
}

func TestInsufficientAllowanceIsExternal(t *testing.T) {
	env := newTestEnv(t)
	if err := env.ledger.Mint(usdToken, buyer, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	_, err := env.engine.ExecuteTransfer(TransferRequest{Token: usdToken, Payer: buyer, Service: ServiceFee{Flat: big.NewInt(10)}})
	if !errors.Is(err, bank.ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if marketerr.KindOf(err) != marketerr.KindExternal {
		t.Fatalf("kind = %s, want external", marketerr.KindOf(err))
	}
}

func TestFeeTotalNeverExceedsScale(t *testing.T) {
	env := newTestEnv(t)
	before, _ := env.engine.Fees()
	if err := env.engine.AddFee("royalty", 1, royaltyWallet); !errors.Is(err, ErrTotalExceeded) {
		t.Fatalf("expected ErrTotalExceeded, got %v", err)
	}
	if err := env.engine.UpdateFee(TreasuryFeeName, 9_000, treasuryWallet); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := env.engine.AddFee("royalty", 1_000, royaltyWallet); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := env.engine.UpdateFee("royalty", 1_001, royaltyWallet); !errors.Is(err, ErrTotalExceeded) {
		t.Fatalf("expected ErrTotalExceeded on update, got %v", err)
	}
	total, _ := env.engine.TotalBps()
	if total != BasisPoints {
		t.Fatalf("total = %d, want %d", total, BasisPoints)
	}
	fee, ok, _ := env.engine.Fee("royalty")
	if !ok || fee.PercentageBps != 1_000 {
		t.Fatalf("rejected update changed the table: %+v", fee)
	}
	if len(before) != 1 {
		t.Fatalf("unexpected seeded table %+v", before)
	}
}

func TestAddFeeValidation(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.UpdateFee(TreasuryFeeName, 0, treasuryWallet); err != nil {
		t.Fatalf("update: %v", err)
	}
	cases := []struct {
		name   string
		bps    uint32
		wallet common.Address
		want   error
	}{
		{"", 10, royaltyWallet, ErrFeeNameRequired},
		{"royalty", 10, common.Address{}, ErrZeroWallet},
		{"royalty", 10_001, royaltyWallet, ErrInvalidBps},
		{TreasuryFeeName, 10, royaltyWallet, ErrFeeExists},
	}
	for _, tc := range cases {
		if err := env.engine.AddFee(tc.name, tc.bps, tc.wallet); !errors.Is(err, tc.want) {
			t.Fatalf("AddFee(%q) error = %v, want %v", tc.name, err, tc.want)
		}
	}
	if err := env.engine.UpdateFee("missing", 1, royaltyWallet); !errors.Is(err, ErrFeeNotFound) {
		t.Fatalf("expected ErrFeeNotFound, got %v", err)
	}
	if err := env.engine.RemoveFee("missing"); !errors.Is(err, ErrFeeNotFound) {
		t.Fatalf("expected ErrFeeNotFound, got %v", err)
	}
	if err := env.engine.RemoveFee(TreasuryFeeName); !errors.Is(err, ErrTreasuryProtected) {
		t.Fatalf("expected ErrTreasuryProtected, got %v", err)
	}
}

func feeSet(t *testing.T, e *Engine) []Fee {
	t.Helper()
	fees, err := e.Fees()
	if err != nil {
		t.Fatalf("fees: %v", err)
	}
	sort.Slice(fees, func(i, j int) bool { return fees[i].Name < fees[j].Name })
	return fees
}

func TestRemoveThenAddRestoresSet(t *testing.T) {
	env := newTestEnv(t)
	configureScenario(t, env)
	if err := env.engine.AddFee("curator", 50, common.HexToAddress("0xc0")); err != nil {
		t.Fatalf("add curator: %v", err)
	}
	before := feeSet(t, env.engine)

	if err := env.engine.RemoveFee("royalty"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := env.engine.Fee("royalty"); ok {
		t.Fatalf("removed fee still resolvable")
	}
	moved, ok, err := env.engine.Fee("curator")
	if err != nil || !ok || moved.PercentageBps != 50 {
		t.Fatalf("moved fee lost after swap: %+v ok=%v err=%v", moved, ok, err)
	}
	if err := env.engine.AddFee("royalty", 400, royaltyWallet); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	after := feeSet(t, env.engine)
	if len(after) != len(before) {
		t.Fatalf("set size %d != %d", len(after), len(before))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("fee %d differs: %+v vs %+v", i, before[i], after[i])
		}
	}
}

func TestSplitPoolFloorsAndKeepsRemainder(t *testing.T) {
	fees := []Fee{{Name: "a", PercentageBps: 1}, {Name: "b", PercentageBps: 2}}
	payouts, err := SplitPool(big.NewInt(100), fees)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if payouts[0].Amount.Int64() != 33 || payouts[1].Amount.Int64() != 66 {
		t.Fatalf("payouts = %s/%s, want 33/66", payouts[0].Amount, payouts[1].Amount)
	}
	empty, err := SplitPool(big.NewInt(100), []Fee{{Name: "zero"}})
	if err != nil || empty[0].Amount.Sign() != 0 {
		t.Fatalf("zero total should distribute nothing: %+v err=%v", empty, err)
	}
}

func TestMembershipFeeBounds(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.SetMembershipFeePercentage(BuyerTierOffset, false, 10); !errors.Is(err, ErrInvalidTier) {
		t.Fatalf("expected ErrInvalidTier, got %v", err)
	}
	if err := env.engine.SetMembershipFeePercentage(1, true, 10_001); !errors.Is(err, ErrInvalidBps) {
		t.Fatalf("expected ErrInvalidBps, got %v", err)
	}
	if err := env.engine.SetMembershipFeePercentage(2, true, 75); err != nil {
		t.Fatalf("set: %v", err)
	}
	sellerBps, buyerBps, err := env.engine.MembershipRates(fixedTiers{buyer: 2, seller: 2}, seller, buyer)
	if err != nil || sellerBps != 0 || buyerBps != 75 {
		t.Fatalf("rates = %d/%d err=%v", sellerBps, buyerBps, err)
	}
	if err := env.engine.SetFiatFeePercentage(10_001); !errors.Is(err, ErrInvalidBps) {
		t.Fatalf("expected ErrInvalidBps for fiat, got %v", err)
	}
	if err := env.engine.SetServiceFee(nativecommon.OpBuy, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
