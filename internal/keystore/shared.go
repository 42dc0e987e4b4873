package keystore

import "sync"

// Shared wraps a KeyStore in a mutual-exclusion guard so several workers can
// reference one store. The guard is held only across the export/metadata
// calls themselves and is always released before any cipher transform runs,
// so cryptographic latency never extends lock hold time.
type Shared struct {
	mu    sync.Mutex
	store KeyStore
}

// NewShared wraps store in a guard.
func NewShared(store KeyStore) *Shared {
	return &Shared{store: store}
}

// Export exports the key bytes for id into out under the guard.
func (s *Shared) Export(id KeyID, out []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Export(id, out)
}

// ExportWithInfo exports the key bytes for id into out and fetches the key's
// metadata under a single lock acquisition, avoiding two lock round trips
// per request.
func (s *Shared) ExportWithInfo(id KeyID, out []byte) ([]byte, KeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.store.Export(id, out)
	if err != nil {
		return nil, KeyInfo{}, err
	}
	info, err := s.store.GetKeyInfo(id)
	if err != nil {
		return nil, KeyInfo{}, err
	}
	return key, info, nil
}

// GetKeyInfo fetches metadata for id under the guard.
func (s *Shared) GetKeyInfo(id KeyID) (KeyInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.GetKeyInfo(id)
}
