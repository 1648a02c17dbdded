package auth

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces authorizations on behalf of a wallet key.
type Signer struct {
	key    *ecdsa.PrivateKey
	domain Domain
}

// NewSigner binds a private key to a signing domain.
func NewSigner(key *ecdsa.PrivateKey, domain Domain) *Signer {
	return &Signer{key: key, domain: domain}
}

// Address returns the wallet address of the key.
func (s *Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// Sign fills in the wallet and signature of auth. V is encoded as 27/28.
func (s *Signer) Sign(auth Authorization) (Authorization, error) {
	if s == nil || s.key == nil {
		return Authorization{}, fmt.Errorf("auth: signer key required")
	}
	auth.Wallet = s.Address()
	digest, err := TypedDataHash(s.domain, auth.Operation, auth.Wallet, auth.Nonce, auth.Expiry, auth.Params)
	if err != nil {
		return Authorization{}, err
	}
	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return Authorization{}, fmt.Errorf("auth: sign: %w", err)
	}
	sig[64] += 27
	auth.Signature = sig
	return auth, nil
}

// SignLegacy fills in the wallet and an EIP-191 signature over the legacy
// digest of auth.
func (s *Signer) SignLegacy(auth LegacyAuthorization) (LegacyAuthorization, error) {
	if s == nil || s.key == nil {
		return LegacyAuthorization{}, fmt.Errorf("auth: signer key required")
	}
	auth.Wallet = s.Address()
	digest := auth.Digest()
	sig, err := crypto.Sign(accounts.TextHash(digest.Bytes()), s.key)
	if err != nil {
		return LegacyAuthorization{}, fmt.Errorf("auth: sign legacy: %w", err)
	}
	sig[64] += 27
	auth.Signature = sig
	return auth, nil
}
