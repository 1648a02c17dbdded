package core

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"log/slog"
	"math/big"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	marketerr "luxmarket/core/errors"
	"luxmarket/core/events"
	"luxmarket/core/genesis"
	"luxmarket/native/auth"
	"luxmarket/native/bank"
	nativecommon "luxmarket/native/common"
	"luxmarket/native/escrow"
	"luxmarket/native/fees"
	"luxmarket/native/roles"
	"luxmarket/native/schedule"
	"luxmarket/native/wrapper"
	"luxmarket/storage"
)

const (
	// Wednesday 2024-01-03 10:00:00 UTC.
	wednesday10am = int64(1704276000)
	// Saturday 2024-01-06 15:30:00 UTC.
	saturday1530 = uint64(1704555000)
	assetID      = uint64(1)
	collectionID = uint64(42)
	spareAssetID = uint64(2)
)

var (
	salesAddr      = common.HexToAddress("0x5a1e5")
	paymentsAddr   = common.HexToAddress("0x9a9")
	fiatSettlement = common.HexToAddress("0xf1a7")
	usdToken       = common.HexToAddress("0x05d")
	fiatToken      = common.HexToAddress("0xf05d")
	treasuryWallet = common.HexToAddress("0x7ea5")
	royaltyWallet  = common.HexToAddress("0xa1")
	brandWallet    = common.HexToAddress("0xb2")
	adminAddr      = common.HexToAddress("0xad")
	relayerAddr    = common.HexToAddress("0x4e1a")
	strangerAddr   = common.HexToAddress("0x0dd")
)

type testEnv struct {
	t       *testing.T
	node    *Node
	now     int64
	emitted *events.Buffer

	sellerKey *ecdsa.PrivateKey
	buyerKey  *ecdsa.PrivateKey
	poorKey   *ecdsa.PrivateKey
	seller    common.Address
	buyer     common.Address
	poor      common.Address
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func newTestEnv(t *testing.T, legacy bool) *testEnv {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() { db.Close() })
	node, err := NewNode(db, Config{ChainID: big.NewInt(7), AllowLegacySignatures: legacy})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	env := &testEnv{
		t:         t,
		node:      node,
		now:       wednesday10am,
		emitted:   &events.Buffer{},
		sellerKey: mustKey(t),
		buyerKey:  mustKey(t),
		poorKey:   mustKey(t),
	}
	env.seller = gethcrypto.PubkeyToAddress(env.sellerKey.PublicKey)
	env.buyer = gethcrypto.PubkeyToAddress(env.buyerKey.PublicKey)
	env.poor = gethcrypto.PubkeyToAddress(env.poorKey.PublicKey)
	node.SetNowFunc(func() int64 { return env.now })
	node.SetEmitter(env.emitted)

	if err := node.InitGenesis(context.Background(), env.genesis()); err != nil {
		t.Fatalf("init genesis: %v", err)
	}
	return env
}

func (e *testEnv) genesis() *genesis.State {
	g := &genesis.State{
		ChainID:    7,
		HasChainID: true,
		Roles: []genesis.RoleGrant{
			{Role: roles.RoleAdmin, Address: adminAddr},
			{Role: roles.RoleRelayer, Address: relayerAddr},
		},
		Directory: []genesis.DirectoryEntry{
			{Name: roles.AddressFiatSettlement, Address: fiatSettlement},
			{Name: roles.AddressPayments, Address: paymentsAddr},
			{Name: roles.AddressSales, Address: salesAddr},
		},
		PaymentTokens:    []common.Address{usdToken},
		DefaultFiatToken: fiatToken,
		Durations:        []genesis.Duration{{ID: schedule.DefaultDurationID, Seconds: schedule.DefaultDuration}},
		Schedules:        []genesis.ScheduleSpec{{ID: 0, DayOfWeek: 6, Hour: 15, Minute: 30}},
		ListingDelay:     3600,
		Fees: []fees.Fee{
			{Name: fees.TreasuryFeeName, PercentageBps: 0, Wallet: treasuryWallet},
			{Name: "royalty", PercentageBps: 400, Wallet: royaltyWallet},
			{Name: "brand", PercentageBps: 100, Wallet: brandWallet},
		},
		ServiceFees: []genesis.ServiceFee{
			{Operation: nativecommon.OpList, Amount: big.NewInt(10)},
			{Operation: nativecommon.OpBuy, Amount: big.NewInt(20)},
			{Operation: nativecommon.OpWithdraw, Amount: big.NewInt(5)},
			{Operation: nativecommon.OpRenew, Amount: big.NewInt(7)},
		},
		MembershipFees: []genesis.MembershipFeeSpec{
			{Tier: 0, BuyerSide: false, Bps: 600},
			{Tier: 0, BuyerSide: true, Bps: 100},
		},
		Whitelist: []common.Address{e.seller, e.buyer, e.poor},
		Assets: []genesis.Asset{
			{ID: assetID, Owner: e.seller, Data: wrapper.AssetData{Collection: collectionID}},
			{ID: spareAssetID, Owner: e.seller, Data: wrapper.AssetData{Collection: collectionID}},
		},
	}
	for _, who := range []common.Address{e.seller, e.buyer, e.poor} {
		allowance := big.NewInt(200_000)
		if who == e.poor {
			// Covers the payee leg of a 100000 purchase but not the pool.
			allowance = big.NewInt(100_000)
		}
		g.Balances = append(g.Balances, genesis.Balance{Token: usdToken, Owner: who, Amount: big.NewInt(200_000)})
		g.Allowances = append(g.Allowances, genesis.Allowance{Token: usdToken, Owner: who, Spender: paymentsAddr, Amount: allowance})
	}
	return g
}

func (e *testEnv) sign(key *ecdsa.PrivateKey, op nativecommon.Operation, params common.Hash) Signature {
	e.t.Helper()
	domain, err := e.node.Domain()
	if err != nil {
		e.t.Fatalf("domain: %v", err)
	}
	signer := auth.NewSigner(key, domain)
	nonce, err := e.node.Nonce(signer.Address())
	if err != nil {
		e.t.Fatalf("nonce: %v", err)
	}
	expiry := uint64(e.now) + 3600
	signed, err := signer.Sign(auth.Authorization{Operation: op, Nonce: nonce, Expiry: expiry, Params: params})
	if err != nil {
		e.t.Fatalf("sign: %v", err)
	}
	return Signature{Nonce: nonce, Expiry: expiry, Value: signed.Signature}
}

func (e *testEnv) signLegacy(key *ecdsa.PrivateKey, op nativecommon.Operation, params common.Hash, salt common.Hash) Signature {
	e.t.Helper()
	domain, err := e.node.Domain()
	if err != nil {
		e.t.Fatalf("domain: %v", err)
	}
	expiry := uint64(e.now) + 3600
	signed, err := auth.NewSigner(key, domain).SignLegacy(auth.LegacyAuthorization{Operation: op, Expiry: expiry, Params: params, Salt: salt})
	if err != nil {
		e.t.Fatalf("sign legacy: %v", err)
	}
	return Signature{Legacy: true, Expiry: expiry, Salt: salt, Value: signed.Signature}
}

func (e *testEnv) listRequest(id uint64) escrow.ListRequest {
	return escrow.ListRequest{
		Seller:       e.seller,
		WrapperID:    id,
		Price:        big.NewInt(100_000),
		DurationID:   schedule.DefaultDurationID,
		PaymentToken: usdToken,
	}
}

func (e *testEnv) list(id uint64) *escrow.ListResult {
	e.t.Helper()
	req := e.listRequest(id)
	sig := e.sign(e.sellerKey, nativecommon.OpList, auth.ListParams(req.WrapperID, req.Price, req.DurationID, req.PaymentToken))
	res, err := e.node.List(context.Background(), e.seller, req, sig)
	if err != nil {
		e.t.Fatalf("list: %v", err)
	}
	return res
}

func (e *testEnv) saleRequest(wallet common.Address, id uint64) escrow.SaleRequest {
	return escrow.SaleRequest{Wallet: wallet, SaleID: id, PaymentToken: usdToken}
}

func (e *testEnv) balance(owner common.Address) int64 {
	e.t.Helper()
	bal, err := e.node.BalanceOf(usdToken, owner)
	if err != nil {
		e.t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func (e *testEnv) nonce(wallet common.Address) uint64 {
	e.t.Helper()
	nonce, err := e.node.Nonce(wallet)
	if err != nil {
		e.t.Fatalf("nonce: %v", err)
	}
	return nonce
}

func TestNodeListAndBuy(t *testing.T) {
	env := newTestEnv(t, false)

	listed := env.list(assetID)
	if listed.Sale.ID != 1 {
		t.Fatalf("sale id = %d, want 1", listed.Sale.ID)
	}
	if listed.Sale.Start != saturday1530 {
		t.Fatalf("start = %d, want %d", listed.Sale.Start, saturday1530)
	}
	if listed.Sale.End != saturday1530+schedule.DefaultDuration {
		t.Fatalf("end = %d, want %d", listed.Sale.End, saturday1530+schedule.DefaultDuration)
	}
	if owner, _ := env.node.OwnerOf(assetID); owner != salesAddr {
		t.Fatalf("custody owner = %s, want sales", owner.Hex())
	}
	if got := env.nonce(env.seller); got != 1 {
		t.Fatalf("seller nonce = %d, want 1", got)
	}
	ids, err := env.node.SalesBySeller(env.seller)
	if err != nil || len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("sales by seller = %v, %v", ids, err)
	}

	env.now = int64(saturday1530) + 60
	req := env.saleRequest(env.buyer, listed.Sale.ID)
	sig := env.sign(env.buyerKey, nativecommon.OpBuy, auth.SaleParams(req.SaleID, req.PaymentToken))
	bought, err := env.node.Buy(context.Background(), env.buyer, req, sig)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if bought.Payment.PayeeAmount.Int64() != 99_000 {
		t.Fatalf("payee amount = %s, want 99000", bought.Payment.PayeeAmount)
	}

	if got := env.balance(env.seller); got != 200_000-10+99_000 {
		t.Fatalf("seller balance = %d", got)
	}
	if got := env.balance(env.buyer); got != 93_980 {
		t.Fatalf("buyer balance = %d, want 93980", got)
	}
	if got := env.balance(royaltyWallet); got != 5_600 {
		t.Fatalf("royalty balance = %d, want 5600", got)
	}
	if got := env.balance(brandWallet); got != 1_400 {
		t.Fatalf("brand balance = %d, want 1400", got)
	}
	if got := env.balance(treasuryWallet); got != 30 {
		t.Fatalf("treasury balance = %d, want 30", got)
	}
	if owner, _ := env.node.OwnerOf(assetID); owner != env.buyer {
		t.Fatalf("asset owner = %s, want buyer", owner.Hex())
	}
	sale, err := env.node.GetSale(listed.Sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if sale.Active {
		t.Fatalf("sale still active after purchase")
	}

	var types []string
	for _, evt := range env.emitted.Events() {
		types = append(types, evt.EventType())
	}
	if len(types) != 2 || types[0] != events.TypeSaleListed || types[1] != events.TypeSaleBought {
		t.Fatalf("events = %v", types)
	}
}

func TestNodeReplayRejected(t *testing.T) {
	env := newTestEnv(t, false)
	req := env.listRequest(assetID)
	sig := env.sign(env.sellerKey, nativecommon.OpList, auth.ListParams(req.WrapperID, req.Price, req.DurationID, req.PaymentToken))
	if _, err := env.node.List(context.Background(), env.seller, req, sig); err != nil {
		t.Fatalf("list: %v", err)
	}
	req.WrapperID = spareAssetID
	_, err := env.node.List(context.Background(), env.seller, req, sig)
	if !errors.Is(err, auth.ErrNonceMismatch) {
		t.Fatalf("expected nonce mismatch, got %v", err)
	}
	if marketerr.KindOf(err) != marketerr.KindAuthorization {
		t.Fatalf("kind = %s, want authorization", marketerr.KindOf(err))
	}
}

func TestNodeSignatureBoundToOperation(t *testing.T) {
	env := newTestEnv(t, false)
	listed := env.list(assetID)

	req := env.saleRequest(env.seller, listed.Sale.ID)
	// A renew consent must not authorise a withdrawal of the same sale.
	sig := env.sign(env.sellerKey, nativecommon.OpRenew, auth.SaleParams(req.SaleID, req.PaymentToken))
	if _, err := env.node.Withdraw(context.Background(), env.seller, req, sig); !errors.Is(err, auth.ErrSignerMismatch) && !errors.Is(err, auth.ErrInvalidSignature) {
		t.Fatalf("expected signature rejection, got %v", err)
	}
	if got := env.nonce(env.seller); got != 1 {
		t.Fatalf("nonce = %d, want 1", got)
	}
}

func TestNodeBusinessFailureBurnsNonce(t *testing.T) {
	env := newTestEnv(t, false)
	listed := env.list(assetID)

	// Still Wednesday: the sale window has not opened.
	req := env.saleRequest(env.buyer, listed.Sale.ID)
	sig := env.sign(env.buyerKey, nativecommon.OpBuy, auth.SaleParams(req.SaleID, req.PaymentToken))
	_, err := env.node.Buy(context.Background(), env.buyer, req, sig)
	if !errors.Is(err, escrow.ErrOutsideWindow) {
		t.Fatalf("expected outside window, got %v", err)
	}
	if got := env.nonce(env.buyer); got != 1 {
		t.Fatalf("buyer nonce = %d, want 1", got)
	}
	if got := env.balance(env.buyer); got != 200_000 {
		t.Fatalf("buyer balance = %d, want unchanged", got)
	}
	sale, err := env.node.GetSale(listed.Sale.ID)
	if err != nil || !sale.Active {
		t.Fatalf("sale = %+v, %v; want active", sale, err)
	}

	// The consumed nonce cannot be reused once the window opens.
	env.now = int64(saturday1530) + 60
	if _, err := env.node.Buy(context.Background(), env.buyer, req, sig); !errors.Is(err, auth.ErrNonceMismatch) {
		t.Fatalf("expected nonce mismatch on replay, got %v", err)
	}
}

func TestNodeTransferFailureRollsBack(t *testing.T) {
	env := newTestEnv(t, false)
	listed := env.list(assetID)
	env.now = int64(saturday1530) + 60
	sellerBefore := env.balance(env.seller)

	req := env.saleRequest(env.poor, listed.Sale.ID)
	sig := env.sign(env.poorKey, nativecommon.OpBuy, auth.SaleParams(req.SaleID, req.PaymentToken))
	_, err := env.node.Buy(context.Background(), env.poor, req, sig)
	if !errors.Is(err, bank.ErrInsufficientAllowance) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}
	if marketerr.KindOf(err) != marketerr.KindExternal {
		t.Fatalf("kind = %s, want external", marketerr.KindOf(err))
	}
	if got := env.balance(env.seller); got != sellerBefore {
		t.Fatalf("seller balance = %d, want %d after rollback", got, sellerBefore)
	}
	if got := env.balance(env.poor); got != 200_000 {
		t.Fatalf("payer balance = %d, want unchanged", got)
	}
	if owner, _ := env.node.OwnerOf(assetID); owner != salesAddr {
		t.Fatalf("asset left custody: %s", owner.Hex())
	}
	if got := env.nonce(env.poor); got != 1 {
		t.Fatalf("nonce = %d, want 1", got)
	}
	if n := len(env.emitted.Events()); n != 1 {
		t.Fatalf("events after failed buy = %d, want 1", n)
	}
}

func TestNodePauseRejectsBeforeSignature(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	if err := env.node.SetPaused(ctx, strangerAddr, "market", true); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected not admin, got %v", err)
	}
	if err := env.node.SetPaused(ctx, adminAddr, " Market ", true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused, _ := env.node.IsPaused("MARKET"); !paused {
		t.Fatalf("market not paused")
	}

	req := env.listRequest(assetID)
	sig := env.sign(env.sellerKey, nativecommon.OpList, auth.ListParams(req.WrapperID, req.Price, req.DurationID, req.PaymentToken))
	if _, err := env.node.List(ctx, env.seller, req, sig); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	if got := env.nonce(env.seller); got != 0 {
		t.Fatalf("nonce = %d, want 0 while paused", got)
	}

	if err := env.node.SetPaused(ctx, adminAddr, "market", false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := env.node.List(ctx, env.seller, req, sig); err != nil {
		t.Fatalf("list after unpause: %v", err)
	}
}

func TestNodeRelayerGating(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	req := env.listRequest(assetID)
	sig := env.sign(env.sellerKey, nativecommon.OpList, auth.ListParams(req.WrapperID, req.Price, req.DurationID, req.PaymentToken))

	_, err := env.node.List(ctx, strangerAddr, req, sig)
	if !errors.Is(err, ErrNotRelayer) {
		t.Fatalf("expected not relayer, got %v", err)
	}
	if got := env.nonce(env.seller); got != 0 {
		t.Fatalf("nonce = %d, want 0", got)
	}
	if _, err := env.node.List(ctx, relayerAddr, req, sig); err != nil {
		t.Fatalf("relayed list: %v", err)
	}
}

func TestNodeLegacySignatures(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	req := env.listRequest(assetID)
	params := auth.ListParams(req.WrapperID, req.Price, req.DurationID, req.PaymentToken)
	salt := common.HexToHash("0x5a17")
	sig := env.signLegacy(env.sellerKey, nativecommon.OpList, params, salt)

	if _, err := env.node.List(ctx, env.seller, req, sig); err != nil {
		t.Fatalf("legacy list: %v", err)
	}
	if got := env.nonce(env.seller); got != 0 {
		t.Fatalf("legacy path consumed nonce: %d", got)
	}
	digest := auth.LegacyDigest(nativecommon.OpList, env.seller, params, sig.Expiry, salt)
	if used, _ := env.node.LegacyHashUsed(digest); !used {
		t.Fatalf("legacy hash not recorded")
	}

	req.WrapperID = spareAssetID
	if _, err := env.node.List(ctx, env.seller, req, sig); err == nil {
		t.Fatalf("expected reused legacy signature to fail")
	}
	replay := env.signLegacy(env.sellerKey, nativecommon.OpList, params, salt)
	if _, err := env.node.List(ctx, env.seller, env.listRequest(assetID), replay); !errors.Is(err, auth.ErrHashUsed) {
		t.Fatalf("expected hash used, got %v", err)
	}
}

func TestNodeLegacyDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	req := env.listRequest(assetID)
	params := auth.ListParams(req.WrapperID, req.Price, req.DurationID, req.PaymentToken)
	sig := env.signLegacy(env.sellerKey, nativecommon.OpList, params, common.HexToHash("0x01"))
	if _, err := env.node.List(context.Background(), env.seller, req, sig); !errors.Is(err, auth.ErrLegacyDisabled) {
		t.Fatalf("expected legacy disabled, got %v", err)
	}
}

func TestNodeFeeRegistryAdmin(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()
	marketing := common.HexToAddress("0xc3")

	if err := env.node.AddFee(ctx, strangerAddr, "marketing", 50, marketing); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected not admin, got %v", err)
	}
	if err := env.node.AddFee(ctx, adminAddr, "Marketing", 50, marketing); err != nil {
		t.Fatalf("add fee: %v", err)
	}
	if err := env.node.UpdateFee(ctx, adminAddr, "marketing", 75, marketing); err != nil {
		t.Fatalf("update fee: %v", err)
	}
	if err := env.node.RemoveFee(ctx, adminAddr, fees.TreasuryFeeName); err == nil {
		t.Fatalf("expected treasury removal to fail")
	}
	if err := env.node.RemoveFee(ctx, adminAddr, "marketing"); err != nil {
		t.Fatalf("remove fee: %v", err)
	}

	var actions []string
	for _, evt := range env.emitted.Events() {
		changed, ok := evt.(events.FeeRegistryChanged)
		if !ok {
			continue
		}
		if changed.Name != "marketing" {
			t.Fatalf("fee event name = %q", changed.Name)
		}
		actions = append(actions, changed.Action)
	}
	if len(actions) != 3 || actions[0] != "added" || actions[1] != "updated" || actions[2] != "removed" {
		t.Fatalf("fee actions = %v", actions)
	}
	registry, err := env.node.Fees()
	if err != nil || len(registry) != 3 {
		t.Fatalf("registry = %v, %v", registry, err)
	}
}

func TestNodeQuotes(t *testing.T) {
	env := newTestEnv(t, false)
	quote, err := env.node.QuoteTransactionFees(env.seller, env.buyer, big.NewInt(100_000))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.SellerFee.Int64() != 6_000 || quote.BuyerFee.Int64() != 1_000 {
		t.Fatalf("quote = %s/%s, want 6000/1000", quote.SellerFee, quote.BuyerFee)
	}
	service, err := env.node.QuoteServiceFee(nativecommon.OpBuy, false)
	if err != nil {
		t.Fatalf("service quote: %v", err)
	}
	if service.Total().Int64() != 20 {
		t.Fatalf("buy service fee = %s, want 20", service.Total())
	}
	next, err := env.node.NextScheduleTime()
	if err != nil || next != saturday1530 {
		t.Fatalf("next schedule = %d, %v", next, err)
	}
}

func TestNodeGenesisOnce(t *testing.T) {
	env := newTestEnv(t, false)
	applied, err := env.node.GenesisApplied()
	if err != nil || !applied {
		t.Fatalf("genesis applied = %v, %v", applied, err)
	}
	err = env.node.InitGenesis(context.Background(), env.genesis())
	if !errors.Is(err, ErrGenesisApplied) {
		t.Fatalf("expected genesis applied, got %v", err)
	}

	db := storage.NewMemDB()
	defer db.Close()
	other, err := NewNode(db, Config{ChainID: big.NewInt(8)})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	if err := other.InitGenesis(context.Background(), env.genesis()); !errors.Is(err, ErrChainMismatch) {
		t.Fatalf("expected chain mismatch, got %v", err)
	}
}

func TestNodeEventStream(t *testing.T) {
	env := newTestEnv(t, false)
	env.list(assetID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, unsubscribe, backlog, err := env.node.SubscribeEvents(ctx, "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()
	if len(backlog) != 1 || backlog[0].Type != events.TypeSaleListed {
		t.Fatalf("backlog = %+v", backlog)
	}
	if len(backlog[0].Attributes) == 0 {
		t.Fatalf("backlog missing attributes")
	}

	env.list(spareAssetID)
	update := <-updates
	if update.Type != events.TypeSaleListed || update.Sequence != backlog[0].Sequence+1 {
		t.Fatalf("update = %+v", update)
	}

	_, stop, rest, err := env.node.SubscribeEvents(ctx, backlog[0].Cursor)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	defer stop()
	if len(rest) != 1 || rest[0].Cursor != update.Cursor {
		t.Fatalf("resumed backlog = %+v", rest)
	}
	if _, _, _, err := env.node.SubscribeEvents(ctx, "not-a-cursor"); err == nil {
		t.Fatalf("expected invalid cursor error")
	}
}

func TestEventSubscriptionRelease(t *testing.T) {
	env := newTestEnv(t, false)
	baseline := runtime.NumGoroutine()

	for i := 0; i < 16; i++ {
		updates, release, _, err := env.node.SubscribeEvents(context.Background(), "")
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		release()
		release()
		if _, open := <-updates; open {
			t.Fatalf("channel still open after release")
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > baseline {
		if time.Now().After(deadline) {
			t.Fatalf("watchers outlived release: %d goroutines, baseline %d", runtime.NumGoroutine(), baseline)
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	updates, _, _, err := env.node.SubscribeEvents(ctx, "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	select {
	case _, open := <-updates:
		if open {
			t.Fatalf("unexpected update after context cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("context cancel did not release the subscriber")
	}
	env.node.streamMu.Lock()
	remaining := len(env.node.streamSubs)
	env.node.streamMu.Unlock()
	if remaining != 0 {
		t.Fatalf("%d subscribers still registered", remaining)
	}
}

func TestNodeSetLoggerDuringOperations(t *testing.T) {
	env := newTestEnv(t, false)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	stranger := common.HexToAddress("0x0bad")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			env.node.SetLogger(logger)
		}
	}()
	for i := 0; i < 50; i++ {
		if err := env.node.SetListingDelay(context.Background(), stranger, 60); !errors.Is(err, ErrNotAdmin) {
			t.Fatalf("expected ErrNotAdmin, got %v", err)
		}
	}
	wg.Wait()

	buf.Reset()
	if err := env.node.SetListingDelay(context.Background(), stranger, 60); err == nil {
		t.Fatalf("expected rejection")
	}
	if !strings.Contains(buf.String(), "market operation rejected") {
		t.Fatalf("rejection not logged through the configured logger: %q", buf.String())
	}
}
