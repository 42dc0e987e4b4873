package keystore

import "fmt"

// MemoryStore is an in-memory KeyStore. Keys are provisioned once at boot and
// held for the lifetime of the process. The store itself is not locked; wrap
// it in Shared before handing it to more than one worker.
type MemoryStore struct {
	keys map[KeyID]memoryEntry
}

type memoryEntry struct {
	info     KeyInfo
	material []byte
}

// NewMemoryStore creates an empty in-memory key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[KeyID]memoryEntry)}
}

// Put provisions a key. The material length must match the key type's size
// and the identifier must be unused.
func (s *MemoryStore) Put(info KeyInfo, material []byte) error {
	size, ok := info.Type.SymmetricKeySize()
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidKeyType, info.Type)
	}
	if len(material) != size {
		return fmt.Errorf("key %d: material is %d bytes, %s requires %d", info.ID, len(material), info.Type, size)
	}
	if _, exists := s.keys[info.ID]; exists {
		return fmt.Errorf("key %d already provisioned", info.ID)
	}

	// Keep a private copy so the caller can zeroize its slice.
	m := make([]byte, len(material))
	copy(m, material)
	s.keys[info.ID] = memoryEntry{info: info, material: m}
	return nil
}

// Export writes the raw key bytes for id into out and returns the written
// prefix of out.
func (s *MemoryStore) Export(id KeyID, out []byte) ([]byte, error) {
	entry, ok := s.keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrKeyNotFound, id)
	}
	if !entry.info.Exportable {
		return nil, fmt.Errorf("%w: id %d", ErrKeyNotExportable, id)
	}
	if len(out) < len(entry.material) {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, len(entry.material), len(out))
	}
	n := copy(out, entry.material)
	return out[:n], nil
}

// GetKeyInfo returns metadata for id.
func (s *MemoryStore) GetKeyInfo(id KeyID) (KeyInfo, error) {
	entry, ok := s.keys[id]
	if !ok {
		return KeyInfo{}, fmt.Errorf("%w: id %d", ErrKeyNotFound, id)
	}
	return entry.info, nil
}

// Size returns the number of provisioned keys.
func (s *MemoryStore) Size() int {
	return len(s.keys)
}
