package state

import (
	"errors"
	"fmt"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"collarfi/storage"
)

// Manager is a journaled key/value view over a storage backend. Writes are
// held in memory until Commit flushes them; Discard drops them. Reads always
// observe pending writes first so code running inside a transaction sees its
// own effects.
type Manager struct {
	db      storage.Database
	pending map[string]pendingEntry
}

type pendingEntry struct {
	value   []byte
	deleted bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, pending: make(map[string]pendingEntry)}
}

// Key derives the storage key for a record. The prefix names the record
// family; parts identify the record within it.
func Key(prefix string, parts ...[]byte) []byte {
	buf := make([]byte, 0, len(prefix)+1+32*len(parts))
	buf = append(buf, prefix...)
	for _, part := range parts {
		buf = append(buf, ':')
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

// Uint64Bytes renders v as an 8-byte big-endian key part.
func Uint64Bytes(v uint64) []byte {
	return []byte{byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32), byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// GetRaw returns the bytes stored under key.
func (m *Manager) GetRaw(key []byte) ([]byte, bool, error) {
	if entry, ok := m.pending[string(key)]; ok {
		if entry.deleted {
			return nil, false, nil
		}
		return append([]byte(nil), entry.value...), true, nil
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// PutRaw stages value under key.
func (m *Manager) PutRaw(key, value []byte) {
	m.pending[string(key)] = pendingEntry{value: append([]byte(nil), value...)}
}

// Load decodes the RLP record stored under key into out. The boolean reports
// whether the record exists.
func (m *Manager) Load(key []byte, out interface{}) (bool, error) {
	raw, ok, err := m.GetRaw(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode record: %w", err)
	}
	return true, nil
}

// Store RLP encodes value and stages it under key.
func (m *Manager) Store(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode record: %w", err)
	}
	m.PutRaw(key, encoded)
	return nil
}

// Remove stages a deletion of key.
func (m *Manager) Remove(key []byte) error {
	m.pending[string(key)] = pendingEntry{deleted: true}
	return nil
}

// Dirty reports the number of staged writes.
func (m *Manager) Dirty() int { return len(m.pending) }

// Commit flushes staged writes to the backend. Backends implementing
// storage.Batcher receive the whole set in one call.
func (m *Manager) Commit() error {
	if len(m.pending) == 0 {
		return nil
	}
	puts := make(map[string][]byte, len(m.pending))
	deletes := make([]string, 0)
	for key, entry := range m.pending {
		if entry.deleted {
			deletes = append(deletes, key)
			continue
		}
		puts[key] = entry.value
	}
	sort.Strings(deletes)
	if batcher, ok := m.db.(storage.Batcher); ok {
		if err := batcher.WriteBatch(puts, deletes); err != nil {
			return fmt.Errorf("state: commit: %w", err)
		}
	} else {
		for key, value := range puts {
			if err := m.db.Put([]byte(key), value); err != nil {
				return fmt.Errorf("state: commit: %w", err)
			}
		}
		for _, key := range deletes {
			if err := m.db.Delete([]byte(key)); err != nil {
				return fmt.Errorf("state: commit: %w", err)
			}
		}
	}
	m.pending = make(map[string]pendingEntry)
	return nil
}

// Discard drops every staged write.
func (m *Manager) Discard() {
	m.pending = make(map[string]pendingEntry)
}
