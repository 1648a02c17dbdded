package auth

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	nativecommon "luxmarket/native/common"
)

// Domain names, one per logical contract, so a message signed for one
// subsystem never verifies on another.
const (
	DomainSales      = "LuxSales"
	DomainPayments   = "LuxPayments"
	DomainWrapper    = "LuxWrapper"
	DomainBrand      = "LuxBrand"
	DomainWhitelist  = "LuxWhitelist"
	DomainMembership = "LuxMembership"

	DefaultVersion = "1"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	EIP712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))

	operationTypes = map[nativecommon.Operation]string{
		nativecommon.OpList:     "List(address wallet,uint256 nonce,uint256 expiry,bytes32 params)",
		nativecommon.OpBuy:      "Buy(address wallet,uint256 nonce,uint256 expiry,bytes32 params)",
		nativecommon.OpWithdraw: "Withdraw(address wallet,uint256 nonce,uint256 expiry,bytes32 params)",
		nativecommon.OpRenew:    "Renew(address wallet,uint256 nonce,uint256 expiry,bytes32 params)",
	}
	operationTypeHashes = func() map[nativecommon.Operation]common.Hash {
		out := make(map[nativecommon.Operation]common.Hash, len(operationTypes))
		for op, typ := range operationTypes {
			out[op] = crypto.Keccak256Hash([]byte(typ))
		}
		return out
	}()
)

var (
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	addressType, _ = abi.NewType("address", "", nil)
)

// Domain is the EIP-712 domain a signature is scoped to.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Separator computes the EIP-712 domain separator.
func (d Domain) Separator() (common.Hash, error) {
	chainID := d.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	arguments := abi.Arguments{
		{Type: bytes32Type}, // typeHash
		{Type: bytes32Type}, // nameHash
		{Type: bytes32Type}, // versionHash
		{Type: uint256Type}, // chainId
		{Type: addressType}, // verifyingContract
	}
	encoded, err := arguments.Pack(
		EIP712DomainTypeHash,
		crypto.Keccak256Hash([]byte(d.Name)),
		crypto.Keccak256Hash([]byte(d.Version)),
		chainID,
		d.VerifyingContract,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("auth: encode domain: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// OperationTypeHash returns the struct type hash signed for op.
func OperationTypeHash(op nativecommon.Operation) (common.Hash, bool) {
	hash, ok := operationTypeHashes[op]
	return hash, ok
}

// StructHash hashes the typed authorization struct for op.
func StructHash(op nativecommon.Operation, wallet common.Address, nonce, expiry uint64, params common.Hash) (common.Hash, error) {
	typeHash, ok := OperationTypeHash(op)
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}
	arguments := abi.Arguments{
		{Type: bytes32Type}, // typeHash
		{Type: addressType}, // wallet
		{Type: uint256Type}, // nonce
		{Type: uint256Type}, // expiry
		{Type: bytes32Type}, // params
	}
	encoded, err := arguments.Pack(
		typeHash,
		wallet,
		new(big.Int).SetUint64(nonce),
		new(big.Int).SetUint64(expiry),
		params,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("auth: encode %s struct: %w", op, err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// TypedDataHash returns keccak256("\x19\x01" ++ domainSeparator ++ structHash).
func TypedDataHash(domain Domain, op nativecommon.Operation, wallet common.Address, nonce, expiry uint64, params common.Hash) (common.Hash, error) {
	separator, err := domain.Separator()
	if err != nil {
		return common.Hash{}, err
	}
	structHash, err := StructHash(op, wallet, nonce, expiry, params)
	if err != nil {
		return common.Hash{}, err
	}
	data := make([]byte, 0, 2+32+32)
	data = append(data, 0x19, 0x01)
	data = append(data, separator.Bytes()...)
	data = append(data, structHash.Bytes()...)
	return crypto.Keccak256Hash(data), nil
}

// ListParams digests the parameters of a listing.
func ListParams(wrapperID uint64, price *big.Int, durationID uint64, paymentToken common.Address) common.Hash {
	if price == nil {
		price = new(big.Int)
	}
	arguments := abi.Arguments{{Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type}, {Type: addressType}}
	encoded, err := arguments.Pack(new(big.Int).SetUint64(wrapperID), price, new(big.Int).SetUint64(durationID), paymentToken)
	if err != nil {
		// only negative prices fail to pack
		return common.Hash{}
	}
	return crypto.Keccak256Hash(encoded)
}

// SaleParams digests the parameters shared by buy, withdraw and renew.
func SaleParams(saleID uint64, paymentToken common.Address) common.Hash {
	arguments := abi.Arguments{{Type: uint256Type}, {Type: addressType}}
	encoded, err := arguments.Pack(new(big.Int).SetUint64(saleID), paymentToken)
	if err != nil {
		return common.Hash{}
	}
	return crypto.Keccak256Hash(encoded)
}

// LegacyDigest builds the plain hash signed on the legacy path. The salt keeps
// otherwise identical requests distinct in the used-hash set.
func LegacyDigest(op nativecommon.Operation, wallet common.Address, params common.Hash, expiry uint64, salt common.Hash) common.Hash {
	arguments := abi.Arguments{{Type: uint256Type}, {Type: addressType}, {Type: bytes32Type}, {Type: uint256Type}, {Type: bytes32Type}}
	encoded, err := arguments.Pack(new(big.Int).SetUint64(uint64(op)), wallet, params, new(big.Int).SetUint64(expiry), salt)
	if err != nil {
		return common.Hash{}
	}
	return crypto.Keccak256Hash(encoded)
}
