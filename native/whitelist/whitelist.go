package whitelist

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var errNilState = errors.New("whitelist: state not configured")

var entryPrefix = []byte("whitelist/entry/")

type listState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// List is the set of addresses allowed to trade.
type List struct {
	state listState
}

func NewList(state listState) *List {
	return &List{state: state}
}

func entryKey(addr common.Address) []byte {
	return append(append([]byte(nil), entryPrefix...), addr.Bytes()...)
}

// Set adds or removes addr.
func (l *List) Set(addr common.Address, allowed bool) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if !allowed {
		return l.state.KVDelete(entryKey(addr))
	}
	return l.state.KVPut(entryKey(addr), true)
}

func (l *List) IsWhitelisted(addr common.Address) (bool, error) {
	if l == nil || l.state == nil {
		return false, errNilState
	}
	if addr == (common.Address{}) {
		return false, nil
	}
	var allowed bool
	ok, err := l.state.KVGet(entryKey(addr), &allowed)
	if err != nil {
		return false, err
	}
	return ok && allowed, nil
}
