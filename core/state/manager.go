package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/rlp"

	"luxmarket/storage"
)

// Manager provides typed, RLP-encoded access to a key-value store. A manager
// is bound to a single storage transaction (or read-only view) so every write
// it performs is committed or discarded together with that transaction.
type Manager struct {
	kv storage.KV
}

// NewManager creates a state manager operating on the provided store.
func NewManager(kv storage.KV) *Manager {
	return &Manager{kv: kv}
}

// KVPut encodes the value with RLP and stores it under the supplied key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	if m == nil || m.kv == nil {
		return fmt.Errorf("kv: store not configured")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return m.kv.Put(key, encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	if m == nil || m.kv == nil {
		return false, fmt.Errorf("kv: store not configured")
	}
	data, err := m.kv.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return true, nil
}

// KVDelete removes the supplied key. Deleting a missing key is not an error.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	if m == nil || m.kv == nil {
		return fmt.Errorf("kv: store not configured")
	}
	return m.kv.Delete(key)
}

// KVKeys returns every key stored under the prefix in ascending byte order.
func (m *Manager) KVKeys(prefix []byte) ([][]byte, error) {
	if len(prefix) == 0 {
		return nil, fmt.Errorf("kv: prefix must not be empty")
	}
	if m == nil || m.kv == nil {
		return nil, fmt.Errorf("kv: store not configured")
	}
	keys := make([][]byte, 0)
	err := m.kv.Iterate(prefix, func(key, _ []byte) bool {
		keys = append(keys, key)
		return true
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// KVGetList decodes the RLP list stored under key into out, which must be a
// pointer to a slice. Missing keys yield an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	ok, err := m.KVGet(key, out)
	if err != nil {
		return err
	}
	if !ok {
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	}
	return nil
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	var list [][]byte
	if err := m.KVGetList(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}
