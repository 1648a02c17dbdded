package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"luxmarket/crypto"
	"luxmarket/native/auth"
	nativecommon "luxmarket/native/common"
)

var signNow = time.Now

// authFlags are the inputs shared by sign and digest.
type authFlags struct {
	op         string
	chainID    uint64
	sales      string
	version    string
	nonce      uint64
	expiry     string
	wrapperID  uint64
	price      string
	durationID uint64
	saleID     uint64
	token      string
	legacy     bool
	salt       string
}

func (f *authFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.op, "op", "", "operation: list, buy, withdraw or renew")
	fs.Uint64Var(&f.chainID, "chain-id", 0, "chain id of the signing domain")
	fs.StringVar(&f.sales, "sales", "", "address of the sales contract (verifying contract)")
	fs.StringVar(&f.version, "domain-version", auth.DefaultVersion, "signing domain version")
	fs.Uint64Var(&f.nonce, "nonce", 0, "wallet nonce (structured signatures)")
	fs.StringVar(&f.expiry, "expiry", "+1h", "expiry as unix seconds or +duration")
	fs.Uint64Var(&f.wrapperID, "wrapper-id", 0, "asset id (list)")
	fs.StringVar(&f.price, "price", "", "sale price (list)")
	fs.Uint64Var(&f.durationID, "duration-id", 0, "duration id (list)")
	fs.Uint64Var(&f.saleID, "sale-id", 0, "sale id (buy, withdraw, renew)")
	fs.StringVar(&f.token, "token", "", "payment token; empty selects fiat")
	fs.BoolVar(&f.legacy, "legacy", false, "produce a legacy salted EIP-191 signature")
	fs.StringVar(&f.salt, "salt", "", "32-byte hex salt for legacy signatures (random when empty)")
}

type resolvedAuth struct {
	op     nativecommon.Operation
	domain auth.Domain
	params common.Hash
	expiry uint64
	salt   common.Hash
}

func (f *authFlags) resolve() (resolvedAuth, error) {
	op, err := nativecommon.ParseOperation(f.op)
	if err != nil {
		return resolvedAuth{}, err
	}
	expiry, err := parseExpiry(f.expiry, signNow())
	if err != nil {
		return resolvedAuth{}, err
	}
	token := common.Address{}
	if strings.TrimSpace(f.token) != "" {
		if token, err = crypto.ParseAddress(f.token); err != nil {
			return resolvedAuth{}, fmt.Errorf("--token: %w", err)
		}
	}
	out := resolvedAuth{op: op, expiry: expiry}
	switch op {
	case nativecommon.OpList:
		price, ok := new(big.Int).SetString(strings.TrimSpace(f.price), 0)
		if !ok || price.Sign() < 0 {
			return resolvedAuth{}, fmt.Errorf("--price must be a non-negative integer")
		}
		out.params = auth.ListParams(f.wrapperID, price, f.durationID, token)
	default:
		out.params = auth.SaleParams(f.saleID, token)
	}
	if f.legacy {
		if out.salt, err = parseSalt(f.salt); err != nil {
			return resolvedAuth{}, err
		}
		return out, nil
	}
	if f.chainID == 0 {
		return resolvedAuth{}, fmt.Errorf("--chain-id is required")
	}
	sales, err := crypto.ParseAddress(f.sales)
	if err != nil {
		return resolvedAuth{}, fmt.Errorf("--sales: %w", err)
	}
	out.domain = auth.Domain{
		Name:              auth.DomainSales,
		Version:           f.version,
		ChainID:           new(big.Int).SetUint64(f.chainID),
		VerifyingContract: sales,
	}
	return out, nil
}

func parseExpiry(raw string, now time.Time) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "+") {
		d, err := time.ParseDuration(trimmed[1:])
		if err != nil || d <= 0 {
			return 0, fmt.Errorf("invalid --expiry %q", raw)
		}
		return uint64(now.Add(d).Unix()), nil
	}
	v, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid --expiry %q", raw)
	}
	return v, nil
}

func parseSalt(raw string) (common.Hash, error) {
	if strings.TrimSpace(raw) == "" {
		var salt common.Hash
		if _, err := rand.Read(salt[:]); err != nil {
			return common.Hash{}, err
		}
		return salt, nil
	}
	b, err := hexutil.Decode(strings.TrimSpace(raw))
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("--salt must be 32 bytes of 0x-prefixed hex")
	}
	return common.BytesToHash(b), nil
}

// signatureOutput matches the signature object accepted by the JSON-RPC
// trading methods.
type signatureOutput struct {
	Wallet    string `json:"wallet"`
	Operation string `json:"operation"`
	Nonce     uint64 `json:"nonce"`
	Expiry    uint64 `json:"expiry"`
	Legacy    bool   `json:"legacy,omitempty"`
	Salt      string `json:"salt,omitempty"`
	Digest    string `json:"digest"`
	Value     string `json:"value,omitempty"`
}

func runSign(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("sign", stderr)
	keystore := fs.String("keystore", "", "keystore of the signing wallet")
	var flags authFlags
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*keystore) == "" {
		return printError(stderr, "--keystore is required")
	}
	resolved, err := flags.resolve()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := openKeystore(*keystore)
	if err != nil {
		return printError(stderr, err.Error())
	}
	signer := auth.NewSigner(key.PrivateKey, resolved.domain)

	out := signatureOutput{Operation: resolved.op.String(), Expiry: resolved.expiry}
	if flags.legacy {
		signed, err := signer.SignLegacy(auth.LegacyAuthorization{
			Operation: resolved.op,
			Expiry:    resolved.expiry,
			Params:    resolved.params,
			Salt:      resolved.salt,
		})
		if err != nil {
			return printError(stderr, err.Error())
		}
		out.Wallet = signed.Wallet.Hex()
		out.Legacy = true
		out.Salt = resolved.salt.Hex()
		out.Digest = signed.Digest().Hex()
		out.Value = hexutil.Encode(signed.Signature)
		return writeJSON(stdout, stderr, out)
	}
	signed, err := signer.Sign(auth.Authorization{
		Operation: resolved.op,
		Nonce:     flags.nonce,
		Expiry:    resolved.expiry,
		Params:    resolved.params,
	})
	if err != nil {
		return printError(stderr, err.Error())
	}
	digest, err := auth.TypedDataHash(resolved.domain, resolved.op, signed.Wallet, signed.Nonce, signed.Expiry, signed.Params)
	if err != nil {
		return printError(stderr, err.Error())
	}
	out.Wallet = signed.Wallet.Hex()
	out.Nonce = signed.Nonce
	out.Digest = digest.Hex()
	out.Value = hexutil.Encode(signed.Signature)
	return writeJSON(stdout, stderr, out)
}

func runDigest(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("digest", stderr)
	rawWallet := fs.String("wallet", "", "wallet the authorization is for")
	var flags authFlags
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	wallet, err := crypto.ParseAddress(*rawWallet)
	if err != nil {
		return printError(stderr, fmt.Sprintf("--wallet: %v", err))
	}
	resolved, err := flags.resolve()
	if err != nil {
		return printError(stderr, err.Error())
	}
	out := signatureOutput{Wallet: wallet.Hex(), Operation: resolved.op.String(), Expiry: resolved.expiry}
	if flags.legacy {
		out.Legacy = true
		out.Salt = resolved.salt.Hex()
		out.Digest = auth.LegacyDigest(resolved.op, wallet, resolved.params, resolved.expiry, resolved.salt).Hex()
		return writeJSON(stdout, stderr, out)
	}
	digest, err := auth.TypedDataHash(resolved.domain, resolved.op, wallet, flags.nonce, resolved.expiry, resolved.params)
	if err != nil {
		return printError(stderr, err.Error())
	}
	out.Nonce = flags.nonce
	out.Digest = digest.Hex()
	return writeJSON(stdout, stderr, out)
}
