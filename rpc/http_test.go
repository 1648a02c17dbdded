package rpc

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	jwt "github.com/golang-jwt/jwt/v5"
	"nhooyr.io/websocket"

	"luxmarket/core"
	"luxmarket/core/events"
	"luxmarket/core/genesis"
	"luxmarket/native/auth"
	nativecommon "luxmarket/native/common"
	"luxmarket/native/fees"
	"luxmarket/native/roles"
	"luxmarket/native/schedule"
	"luxmarket/native/wrapper"
	"luxmarket/storage"
)

const (
	testSecret = "rpc-test-secret"
	// Wednesday 2024-01-03 10:00:00 UTC.
	wednesday10am = int64(1704276000)
	assetID       = uint64(1)
)

var (
	salesAddr    = common.HexToAddress("0x5a1e5")
	paymentsAddr = common.HexToAddress("0x9a9")
	usdToken     = common.HexToAddress("0x05d")
	adminAddr    = common.HexToAddress("0xad")
	relayerAddr  = common.HexToAddress("0x4e1a")
	strangerAddr = common.HexToAddress("0x0dd")
	treasury     = common.HexToAddress("0x7ea5")
)

type rpcEnv struct {
	t         *testing.T
	node      *core.Node
	server    *Server
	sellerKey *ecdsa.PrivateKey
	seller    common.Address
}

func newRPCEnv(t *testing.T, cfg ServerConfig) *rpcEnv {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() { db.Close() })
	node, err := core.NewNode(db, core.Config{ChainID: big.NewInt(7)})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	node.SetNowFunc(func() int64 { return wednesday10am })
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	seller := gethcrypto.PubkeyToAddress(key.PublicKey)
	g := &genesis.State{
		ChainID:    7,
		HasChainID: true,
		Roles: []genesis.RoleGrant{
			{Role: roles.RoleAdmin, Address: adminAddr},
			{Role: roles.RoleRelayer, Address: relayerAddr},
		},
		Directory: []genesis.DirectoryEntry{
			{Name: roles.AddressPayments, Address: paymentsAddr},
			{Name: roles.AddressSales, Address: salesAddr},
		},
		PaymentTokens: []common.Address{usdToken},
		Durations:     []genesis.Duration{{ID: schedule.DefaultDurationID, Seconds: schedule.DefaultDuration}},
		Schedules:     []genesis.ScheduleSpec{{ID: 0, DayOfWeek: 6, Hour: 15, Minute: 30}},
		Fees:          []fees.Fee{{Name: fees.TreasuryFeeName, Wallet: treasury}},
		Whitelist:     []common.Address{seller},
		Assets:        []genesis.Asset{{ID: assetID, Owner: seller, Data: wrapper.AssetData{Collection: 42}}},
		Balances:      []genesis.Balance{{Token: usdToken, Owner: seller, Amount: big.NewInt(1000)}},
		Allowances:    []genesis.Allowance{{Token: usdToken, Owner: seller, Spender: paymentsAddr, Amount: big.NewInt(1000)}},
	}
	if err := node.InitGenesis(context.Background(), g); err != nil {
		t.Fatalf("init genesis: %v", err)
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = testSecret
	}
	return &rpcEnv{
		t:         t,
		node:      node,
		server:    NewServer(node, nil, cfg),
		sellerKey: key,
		seller:    seller,
	}
}

func token(t *testing.T, subject common.Address) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject.Hex(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (e *rpcEnv) call(method string, params interface{}, bearer string) (*httptest.ResponseRecorder, RPCResponse) {
	e.t.Helper()
	payload := map[string]interface{}{"jsonrpc": jsonRPCVersion, "id": 1, "method": method}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		e.t.Fatalf("marshal: %v", err)
	}
	return e.post(body, bearer)
}

func (e *rpcEnv) post(body []byte, bearer string) (*httptest.ResponseRecorder, RPCResponse) {
	e.t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.RemoteAddr = "192.0.2.1:4000"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	var resp RPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		e.t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, resp
}

func (e *rpcEnv) listParams(caller string) map[string]interface{} {
	e.t.Helper()
	domain, err := e.node.Domain()
	if err != nil {
		e.t.Fatalf("domain: %v", err)
	}
	nonce, err := e.node.Nonce(e.seller)
	if err != nil {
		e.t.Fatalf("nonce: %v", err)
	}
	expiry := uint64(wednesday10am) + 3600
	price := big.NewInt(500)
	signed, err := auth.NewSigner(e.sellerKey, domain).Sign(auth.Authorization{
		Operation: nativecommon.OpList,
		Nonce:     nonce,
		Expiry:    expiry,
		Params:    auth.ListParams(assetID, price, schedule.DefaultDurationID, usdToken),
	})
	if err != nil {
		e.t.Fatalf("sign: %v", err)
	}
	params := map[string]interface{}{
		"seller":       e.seller.Hex(),
		"wrapperId":    assetID,
		"price":        price.String(),
		"durationId":   schedule.DefaultDurationID,
		"paymentToken": usdToken.Hex(),
		"signature": map[string]interface{}{
			"nonce":  nonce,
			"expiry": expiry,
			"value":  hexutil.Encode(signed.Signature),
		},
	}
	if caller != "" {
		params["caller"] = caller
	}
	return params
}

func TestHandleRejectsMalformedRequests(t *testing.T) {
	env := newRPCEnv(t, ServerConfig{})

	rec, resp := env.post([]byte(`{"jsonrpc":`), "")
	if rec.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("parse error: status %d, %+v", rec.Code, resp.Error)
	}
	rec, resp = env.post([]byte(`{"jsonrpc":"1.0","method":"fees_list","id":1}`), "")
	if rec.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("bad version: status %d, %+v", rec.Code, resp.Error)
	}
	rec, resp = env.call("market_unknown", nil, "")
	if rec.Code != http.StatusNotFound || resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("unknown method: status %d, %+v", rec.Code, resp.Error)
	}
	rec, resp = env.call("market_getSale", nil, "")
	if rec.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("missing params: status %d, %+v", rec.Code, resp.Error)
	}
	rec, resp = env.call("market_nonce", map[string]string{"wallet": "not-an-address"}, "")
	if rec.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("bad address: status %d, %+v", rec.Code, resp.Error)
	}
	if id := rec.Header().Get(requestIDHeader); id == "" {
		t.Fatalf("missing request id header")
	}
}

func TestMarketListAndQuery(t *testing.T) {
	env := newRPCEnv(t, ServerConfig{})

	rec, resp := env.call("market_list", env.listParams(""), "")
	if rec.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("list: status %d, %+v", rec.Code, resp.Error)
	}

	_, resp = env.call("market_getSale", map[string]uint64{"saleId": 1}, "")
	if resp.Error != nil {
		t.Fatalf("get sale: %+v", resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var sale SaleResult
	if err := json.Unmarshal(raw, &sale); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if sale.Seller != env.seller.Hex() || sale.Price != "500" || !sale.Active {
		t.Fatalf("unexpected sale %+v", sale)
	}

	_, resp = env.call("market_nonce", map[string]string{"wallet": env.seller.Hex()}, "")
	if resp.Error != nil || resp.Result != float64(1) {
		t.Fatalf("nonce = %v, %+v", resp.Result, resp.Error)
	}

	rec, resp = env.call("market_getSale", map[string]uint64{"saleId": 99}, "")
	if resp.Error == nil || rec.Code == http.StatusOK {
		t.Fatalf("expected missing sale error")
	}
}

func TestRelayedCallRequiresToken(t *testing.T) {
	env := newRPCEnv(t, ServerConfig{})

	rec, resp := env.call("market_list", env.listParams(relayerAddr.Hex()), "")
	if rec.Code != http.StatusUnauthorized || resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("relay without token: status %d, %+v", rec.Code, resp.Error)
	}

	rec, resp = env.call("market_list", env.listParams(relayerAddr.Hex()), token(t, strangerAddr))
	if rec.Code != http.StatusUnauthorized || resp.Error == nil {
		t.Fatalf("relay with mismatched token: status %d, %+v", rec.Code, resp.Error)
	}

	rec, resp = env.call("market_list", env.listParams(relayerAddr.Hex()), token(t, relayerAddr))
	if rec.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("relay with token: status %d, %+v", rec.Code, resp.Error)
	}
}

func TestAdminMethodsRequireAdmin(t *testing.T) {
	env := newRPCEnv(t, ServerConfig{})
	params := map[string]interface{}{"name": "royalty", "percentageBps": 250, "wallet": common.HexToAddress("0xa1").Hex()}

	rec, resp := env.call("admin_addFee", params, "")
	if rec.Code != http.StatusUnauthorized || resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("no token: status %d, %+v", rec.Code, resp.Error)
	}
	rec, resp = env.call("admin_addFee", params, token(t, strangerAddr))
	if rec.Code != http.StatusForbidden || resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("non-admin token: status %d, %+v", rec.Code, resp.Error)
	}
	rec, resp = env.call("admin_addFee", params, token(t, adminAddr))
	if rec.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("admin token: status %d, %+v", rec.Code, resp.Error)
	}

	_, resp = env.call("fees_list", nil, "")
	if resp.Error != nil {
		t.Fatalf("fees list: %+v", resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var listed []FeeResult
	if err := json.Unmarshal(raw, &listed); err != nil {
		t.Fatalf("decode fees: %v", err)
	}
	found := false
	for _, fee := range listed {
		if fee.Name == "royalty" && fee.PercentageBps == 250 {
			found = true
		}
	}
	if !found {
		t.Fatalf("royalty fee missing from %+v", listed)
	}

	rec, resp = env.call("admin_addFee", params, token(t, adminAddr))
	if rec.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("duplicate fee: status %d, %+v", rec.Code, resp.Error)
	}
}

func TestAdminScheduleGapIsInvalidParams(t *testing.T) {
	env := newRPCEnv(t, ServerConfig{})
	gap := map[string]interface{}{"id": uint64(1) << 40, "dayOfWeek": 6, "hour": 15, "minute": 30}
	rec, resp := env.call("admin_setSchedule", gap, token(t, adminAddr))
	if rec.Code != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("schedule gap: status %d, %+v", rec.Code, resp.Error)
	}
	rec, resp = env.call("market_nextScheduleTime", nil, "")
	if rec.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("next schedule time after rejected gap: status %d, %+v", rec.Code, resp.Error)
	}
	next := map[string]interface{}{"id": 1, "dayOfWeek": 2, "hour": 9, "minute": 0}
	if rec, resp = env.call("admin_setSchedule", next, token(t, adminAddr)); rec.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("next dense id: status %d, %+v", rec.Code, resp.Error)
	}
}

func TestPausedMarketMapsToServiceUnavailable(t *testing.T) {
	env := newRPCEnv(t, ServerConfig{})
	rec, resp := env.call("admin_setPaused", map[string]interface{}{"paused": true}, token(t, adminAddr))
	if rec.Code != http.StatusOK || resp.Error != nil {
		t.Fatalf("pause: status %d, %+v", rec.Code, resp.Error)
	}
	_, resp = env.call("market_isPaused", map[string]string{}, "")
	if resp.Error != nil || resp.Result != true {
		t.Fatalf("isPaused = %v, %+v", resp.Result, resp.Error)
	}
	rec, resp = env.call("market_list", env.listParams(""), "")
	if rec.Code != http.StatusServiceUnavailable || resp.Error == nil || resp.Error.Code != codeModulePaused {
		t.Fatalf("paused list: status %d, %+v", rec.Code, resp.Error)
	}
}

func TestRateLimit(t *testing.T) {
	env := newRPCEnv(t, ServerConfig{RateLimitPerSecond: 0.001, RateLimitBurst: 1})
	rec, _ := env.call("fees_list", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("first call status %d", rec.Code)
	}
	rec, resp := env.call("fees_list", nil, "")
	if rec.Code != http.StatusTooManyRequests || resp.Error == nil || resp.Error.Code != codeRateLimited {
		t.Fatalf("second call: status %d, %+v", rec.Code, resp.Error)
	}
}

func TestClientSource(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "192.0.2.7:5000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	direct := &Server{}
	if got := direct.clientSource(req); got != "192.0.2.7" {
		t.Fatalf("untrusted source = %s", got)
	}
	proxied := &Server{cfg: ServerConfig{TrustProxyHeaders: true}}
	if got := proxied.clientSource(req); got != "203.0.113.9" {
		t.Fatalf("proxied source = %s", got)
	}
}

func TestEventsWebsocket(t *testing.T) {
	env := newRPCEnv(t, ServerConfig{})
	if _, resp := env.call("market_list", env.listParams(""), ""); resp.Error != nil {
		t.Fatalf("list: %+v", resp.Error)
	}

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var update eventUpdatePayload
	if err := json.Unmarshal(data, &update); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if update.Type != events.TypeSaleListed || update.Cursor == "" {
		t.Fatalf("unexpected update %+v", update)
	}
}
