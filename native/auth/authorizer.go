package auth

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	marketerr "luxmarket/core/errors"
	nativecommon "luxmarket/native/common"
)

var (
	errNilState = errors.New("auth: state not configured")

	ErrUnknownOperation = errors.New("auth: unknown operation")
	ErrExpired          = errors.New("auth: signature expired")
	ErrNonceMismatch    = errors.New("auth: nonce mismatch")
	ErrInvalidSignature = errors.New("auth: invalid signature")
	ErrSignerMismatch   = errors.New("auth: signer does not match wallet")
	ErrHashUsed         = errors.New("auth: message hash already used")
	ErrLegacyDisabled   = errors.New("auth: legacy signatures disabled")
)

var (
	noncePrefix    = []byte("auth/nonce/")
	usedHashPrefix = []byte("auth/used/")
)

type authState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Authorization is a wallet's signed consent to run one operation with one
// parameter set.
type Authorization struct {
	Operation nativecommon.Operation
	Wallet    common.Address
	Nonce     uint64
	Expiry    uint64
	Params    common.Hash
	Signature []byte
}

// LegacyAuthorization is the plain-hash variant kept for older clients. It has
// no nonce; the salt makes the signed hash unique.
type LegacyAuthorization struct {
	Operation nativecommon.Operation
	Wallet    common.Address
	Expiry    uint64
	Params    common.Hash
	Salt      common.Hash
	Signature []byte
}

// Digest returns the hash the wallet signs on the legacy path.
func (l LegacyAuthorization) Digest() common.Hash {
	return LegacyDigest(l.Operation, l.Wallet, l.Params, l.Expiry, l.Salt)
}

// Authorizer verifies signed authorizations for a single domain and keeps the
// per-wallet nonces and the legacy used-hash set of that domain.
type Authorizer struct {
	state       authState
	domain      Domain
	allowLegacy bool
	nowFn       func() int64
}

// NewAuthorizer binds an authorizer to state and a signing domain.
func NewAuthorizer(state authState, domain Domain) *Authorizer {
	return &Authorizer{
		state:  state,
		domain: domain,
		nowFn:  func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the clock. Primarily intended for tests.
func (a *Authorizer) SetNowFunc(now func() int64) {
	if now == nil {
		a.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	a.nowFn = now
}

// SetAllowLegacy toggles the plain-hash signature path.
func (a *Authorizer) SetAllowLegacy(allow bool) { a.allowLegacy = allow }

// Domain returns the signing domain.
func (a *Authorizer) Domain() Domain { return a.domain }

func (a *Authorizer) now() uint64 {
	if a == nil || a.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	ts := a.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (a *Authorizer) nonceKey(wallet common.Address) []byte {
	key := append([]byte(nil), noncePrefix...)
	key = append(key, a.domain.Name...)
	key = append(key, '/')
	return append(key, wallet.Bytes()...)
}

func (a *Authorizer) usedKey(hash common.Hash) []byte {
	key := append([]byte(nil), usedHashPrefix...)
	key = append(key, a.domain.Name...)
	key = append(key, '/')
	return append(key, hash.Bytes()...)
}

// Nonce returns the nonce the wallet's next authorization must carry.
func (a *Authorizer) Nonce(wallet common.Address) (uint64, error) {
	if a == nil || a.state == nil {
		return 0, errNilState
	}
	var nonce uint64
	if _, err := a.state.KVGet(a.nonceKey(wallet), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// Digest returns the EIP-712 hash the wallet signs for auth.
func (a *Authorizer) Digest(auth Authorization) (common.Hash, error) {
	return TypedDataHash(a.domain, auth.Operation, auth.Wallet, auth.Nonce, auth.Expiry, auth.Params)
}

// Verify checks expiry, nonce and signer, then consumes the nonce.
func (a *Authorizer) Verify(auth Authorization) error {
	if a == nil || a.state == nil {
		return errNilState
	}
	if !auth.Operation.Valid() {
		return marketerr.Validation(ErrUnknownOperation, "%d", uint8(auth.Operation))
	}
	if now := a.now(); now > auth.Expiry {
		return marketerr.Authorization(ErrExpired, "expiry %d < now %d", auth.Expiry, now)
	}
	current, err := a.Nonce(auth.Wallet)
	if err != nil {
		return err
	}
	if auth.Nonce != current {
		return marketerr.Authorization(ErrNonceMismatch, "got %d want %d", auth.Nonce, current)
	}
	digest, err := a.Digest(auth)
	if err != nil {
		return err
	}
	if err := checkSigner(digest, auth.Signature, auth.Wallet); err != nil {
		return err
	}
	return a.state.KVPut(a.nonceKey(auth.Wallet), current+1)
}

// VerifyLegacy checks a legacy authorization and marks its hash consumed.
func (a *Authorizer) VerifyLegacy(auth LegacyAuthorization) error {
	if !auth.Operation.Valid() {
		return marketerr.Validation(ErrUnknownOperation, "%d", uint8(auth.Operation))
	}
	if now := a.now(); now > auth.Expiry {
		return marketerr.Authorization(ErrExpired, "expiry %d < now %d", auth.Expiry, now)
	}
	return a.VerifyHash(auth.Wallet, auth.Digest(), auth.Signature)
}

// VerifyHash checks an EIP-191 personal signature over hash and records the
// hash as used forever.
func (a *Authorizer) VerifyHash(wallet common.Address, hash common.Hash, sig []byte) error {
	if a == nil || a.state == nil {
		return errNilState
	}
	if !a.allowLegacy {
		return marketerr.Authorization(ErrLegacyDisabled, "")
	}
	used, err := a.IsHashUsed(hash)
	if err != nil {
		return err
	}
	if used {
		return marketerr.Authorization(ErrHashUsed, "%s", hash.Hex())
	}
	if err := checkSigner(common.BytesToHash(accounts.TextHash(hash.Bytes())), sig, wallet); err != nil {
		return err
	}
	return a.state.KVPut(a.usedKey(hash), true)
}

// IsHashUsed reports whether a legacy hash was already consumed.
func (a *Authorizer) IsHashUsed(hash common.Hash) (bool, error) {
	if a == nil || a.state == nil {
		return false, errNilState
	}
	return a.state.KVGet(a.usedKey(hash), nil)
}

// RecoverSigner recovers the address that produced a 65-byte [R||S||V]
// signature over digest. V may be 0/1 or 27/28.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, marketerr.Authorization(ErrInvalidSignature, "length %d", len(sig))
	}
	normalized := append([]byte(nil), sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !crypto.ValidateSignatureValues(normalized[64], r, s, true) {
		return common.Address{}, marketerr.Authorization(ErrInvalidSignature, "malformed r/s/v")
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, marketerr.Authorization(ErrInvalidSignature, "%v", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func checkSigner(digest common.Hash, sig []byte, wallet common.Address) error {
	signer, err := RecoverSigner(digest, sig)
	if err != nil {
		return err
	}
	if signer != wallet {
		return marketerr.Authorization(ErrSignerMismatch, "recovered %s", signer.Hex())
	}
	return nil
}
