package wrapper

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errNilState = errors.New("wrapper: state not configured")

	// ErrAssetNotFound is returned for unknown wrapper ids.
	ErrAssetNotFound = errors.New("wrapper: asset not found")
	// ErrAssetExists is returned when registering an id twice.
	ErrAssetExists = errors.New("wrapper: asset already registered")
	// ErrNotDelegate is returned when a custody move is attempted by a caller
	// without the delegate role.
	ErrNotDelegate = errors.New("wrapper: caller is not a delegate")
	// ErrNotOwner is returned when the from address does not hold the asset.
	ErrNotOwner = errors.New("wrapper: from is not the owner")
)

var assetPrefix = []byte("wrapper/asset/")

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// DelegateChecker answers whether an address may move custody of wrapped
// assets on behalf of their owners.
type DelegateChecker interface {
	HasDelegateRole(addr common.Address) (bool, error)
}

// AssetData is the registry metadata attached to a wrapped asset.
type AssetData struct {
	Collection uint64
	Brand      common.Address
}

type assetRecord struct {
	Owner common.Address
	Data  AssetData
}

// Registry tracks ownership and metadata of wrapped luxury assets.
type Registry struct {
	state     registryState
	delegates DelegateChecker
}

// NewRegistry binds the registry to state and the delegate role lookup.
func NewRegistry(state registryState, delegates DelegateChecker) *Registry {
	return &Registry{state: state, delegates: delegates}
}

func assetKey(id uint64) []byte {
	return strconv.AppendUint(append([]byte(nil), assetPrefix...), id, 10)
}

func (r *Registry) load(id uint64) (*assetRecord, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	rec := new(assetRecord)
	ok, err := r.state.KVGet(assetKey(id), rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrAssetNotFound, id)
	}
	return rec, nil
}

// Register records a new wrapped asset owned by owner.
func (r *Registry) Register(id uint64, owner common.Address, data AssetData) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if owner == (common.Address{}) {
		return fmt.Errorf("wrapper: owner required")
	}
	exists, err := r.state.KVGet(assetKey(id), nil)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %d", ErrAssetExists, id)
	}
	return r.state.KVPut(assetKey(id), &assetRecord{Owner: owner, Data: data})
}

// OwnerOf returns the current holder of the asset.
func (r *Registry) OwnerOf(id uint64) (common.Address, error) {
	rec, err := r.load(id)
	if err != nil {
		return common.Address{}, err
	}
	return rec.Owner, nil
}

// AssetData returns the metadata stored for the asset.
func (r *Registry) AssetData(id uint64) (AssetData, error) {
	rec, err := r.load(id)
	if err != nil {
		return AssetData{}, err
	}
	return rec.Data, nil
}

// MarketplaceTransfer moves custody of an asset. Only delegates may call it.
func (r *Registry) MarketplaceTransfer(caller, from, to common.Address, id uint64) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if r.delegates == nil {
		return ErrNotDelegate
	}
	ok, err := r.delegates.HasDelegateRole(caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotDelegate, caller.Hex())
	}
	if to == (common.Address{}) {
		return fmt.Errorf("wrapper: recipient required")
	}
	rec, err := r.load(id)
	if err != nil {
		return err
	}
	if rec.Owner != from {
		return fmt.Errorf("%w: asset %d held by %s", ErrNotOwner, id, rec.Owner.Hex())
	}
	rec.Owner = to
	return r.state.KVPut(assetKey(id), rec)
}
