package membership

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var errNilState = errors.New("membership: state not configured")

var tierPrefix = []byte("membership/tier/")

type tierState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Directory maps addresses to membership tiers. Addresses without an explicit
// tier belong to tier 0.
type Directory struct {
	state tierState
}

// NewDirectory binds the directory to the supplied state backend.
func NewDirectory(state tierState) *Directory {
	return &Directory{state: state}
}

func tierKey(addr common.Address) []byte {
	return append(append([]byte(nil), tierPrefix...), addr.Bytes()...)
}

// SetTier assigns a tier. Tier 0 clears the entry.
func (d *Directory) SetTier(addr common.Address, tier uint64) error {
	if d == nil || d.state == nil {
		return errNilState
	}
	if tier == 0 {
		return d.state.KVDelete(tierKey(addr))
	}
	return d.state.KVPut(tierKey(addr), tier)
}

// GetMembershipTiers resolves the tier of every address in one call. The
// result is aligned with the input slice.
func (d *Directory) GetMembershipTiers(addrs []common.Address) ([]uint64, error) {
	if d == nil || d.state == nil {
		return nil, errNilState
	}
	tiers := make([]uint64, len(addrs))
	for i, addr := range addrs {
		var tier uint64
		if _, err := d.state.KVGet(tierKey(addr), &tier); err != nil {
			return nil, err
		}
		tiers[i] = tier
	}
	return tiers, nil
}
