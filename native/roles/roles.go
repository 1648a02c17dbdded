package roles

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Capability roles granted to addresses.
const (
	RoleAdmin    = "ADMIN"
	RoleRelayer  = "RELAYER"
	RoleDelegate = "DELEGATE"
	RolePayment  = "PAYMENT"
)

// Directory names resolving well-known contract addresses.
const (
	AddressSales          = "SALES"
	AddressPayments       = "PAYMENTS"
	AddressWrapper        = "WRAPPER"
	AddressMembership     = "MEMBERSHIP"
	AddressWhitelist      = "WHITELIST"
	AddressFiatSettlement = "FIAT_SETTLEMENT"
)

var (
	rolePrefix       = []byte("roles/member/")
	directoryPrefix  = []byte("roles/directory/")
	defaultFiatKey   = []byte("roles/default-fiat")
	errNilState      = errors.New("roles: state not configured")
	errZeroAddress   = errors.New("roles: address required")
	errRoleRequired  = errors.New("roles: role name required")
	ErrRoleAddrUnset = errors.New("roles: directory address not configured")
)

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Registry stores role membership, the contract address directory and the
// default fiat payment token.
type Registry struct {
	state registryState
}

// NewRegistry binds a registry to the supplied state backend.
func NewRegistry(state registryState) *Registry {
	return &Registry{state: state}
}

func normalizeRole(role string) string {
	return strings.ToUpper(strings.TrimSpace(role))
}

func memberKey(role string, addr common.Address) []byte {
	key := append([]byte(nil), rolePrefix...)
	key = append(key, role...)
	key = append(key, '/')
	return append(key, addr.Bytes()...)
}

func directoryKey(name string) []byte {
	return append(append([]byte(nil), directoryPrefix...), name...)
}

// GrantRole adds addr to role.
func (r *Registry) GrantRole(role string, addr common.Address) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	role = normalizeRole(role)
	if role == "" {
		return errRoleRequired
	}
	if addr == (common.Address{}) {
		return errZeroAddress
	}
	return r.state.KVPut(memberKey(role, addr), true)
}

// RevokeRole removes addr from role.
func (r *Registry) RevokeRole(role string, addr common.Address) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	role = normalizeRole(role)
	if role == "" {
		return errRoleRequired
	}
	return r.state.KVDelete(memberKey(role, addr))
}

// HasRole reports whether addr holds role.
func (r *Registry) HasRole(role string, addr common.Address) (bool, error) {
	if r == nil || r.state == nil {
		return false, errNilState
	}
	role = normalizeRole(role)
	if role == "" || addr == (common.Address{}) {
		return false, nil
	}
	var member bool
	ok, err := r.state.KVGet(memberKey(role, addr), &member)
	if err != nil {
		return false, err
	}
	return ok && member, nil
}

// HasDelegateRole reports whether addr may move custody on behalf of owners.
func (r *Registry) HasDelegateRole(addr common.Address) (bool, error) {
	return r.HasRole(RoleDelegate, addr)
}

// HasPaymentRole reports whether token is an accepted payment token.
func (r *Registry) HasPaymentRole(token common.Address) (bool, error) {
	return r.HasRole(RolePayment, token)
}

// SetRoleAddress records the address registered under a directory name.
func (r *Registry) SetRoleAddress(name string, addr common.Address) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	name = normalizeRole(name)
	if name == "" {
		return errRoleRequired
	}
	if addr == (common.Address{}) {
		return r.state.KVDelete(directoryKey(name))
	}
	return r.state.KVPut(directoryKey(name), addr)
}

// GetRoleAddress resolves a directory name. The zero address is returned when
// nothing is registered.
func (r *Registry) GetRoleAddress(name string) (common.Address, error) {
	if r == nil || r.state == nil {
		return common.Address{}, errNilState
	}
	var addr common.Address
	if _, err := r.state.KVGet(directoryKey(normalizeRole(name)), &addr); err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

// MustRoleAddress resolves a directory name and fails when it is unset.
func (r *Registry) MustRoleAddress(name string) (common.Address, error) {
	addr, err := r.GetRoleAddress(name)
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s", ErrRoleAddrUnset, normalizeRole(name))
	}
	return addr, nil
}

// SetDefaultFiatPayment configures the token substituted for fiat payments.
func (r *Registry) SetDefaultFiatPayment(token common.Address) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if token == (common.Address{}) {
		return errZeroAddress
	}
	return r.state.KVPut(defaultFiatKey, token)
}

// GetDefaultFiatPayment returns the configured fiat payment token, or the zero
// address when unset.
func (r *Registry) GetDefaultFiatPayment() (common.Address, error) {
	if r == nil || r.state == nil {
		return common.Address{}, errNilState
	}
	var token common.Address
	if _, err := r.state.KVGet(defaultFiatKey, &token); err != nil {
		return common.Address{}, err
	}
	return token, nil
}
