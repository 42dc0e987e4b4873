package keystore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func material(size int) []byte {
	m := make([]byte, size)
	for i := range m {
		m[i] = byte(i + 1)
	}
	return m
}

func TestKeyTypeSymmetricKeySize(t *testing.T) {
	tests := []struct {
		keyType KeyType
		size    int
		ok      bool
	}{
		{Symmetric128Bits, 16, true},
		{Symmetric192Bits, 24, true},
		{Symmetric256Bits, 32, true},
		{Asymmetric256Bits, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.keyType.String(), func(t *testing.T) {
			size, ok := tc.keyType.SymmetricKeySize()
			assert.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.size, size)
			}
		})
	}
}

func TestParseKeyType(t *testing.T) {
	for _, want := range []KeyType{Symmetric128Bits, Symmetric192Bits, Symmetric256Bits, Asymmetric256Bits} {
		got, err := ParseKeyType(want.String())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseKeyType("symmetric-512")
	assert.ErrorIs(t, err, ErrInvalidKeyType)
}

func TestMemoryStorePut(t *testing.T) {
	t.Run("provisions and counts", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Put(KeyInfo{ID: 1, Type: Symmetric128Bits, Exportable: true}, material(16)))
		require.NoError(t, store.Put(KeyInfo{ID: 2, Type: Symmetric256Bits, Exportable: true}, material(32)))
		assert.Equal(t, 2, store.Size())
	})

	t.Run("rejects size mismatch", func(t *testing.T) {
		store := NewMemoryStore()
		err := store.Put(KeyInfo{ID: 1, Type: Symmetric256Bits, Exportable: true}, material(16))
		assert.Error(t, err)
	})

	t.Run("rejects non-symmetric type", func(t *testing.T) {
		store := NewMemoryStore()
		err := store.Put(KeyInfo{ID: 1, Type: Asymmetric256Bits, Exportable: true}, material(32))
		assert.ErrorIs(t, err, ErrInvalidKeyType)
	})

	t.Run("rejects duplicate id", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Put(KeyInfo{ID: 1, Type: Symmetric128Bits, Exportable: true}, material(16)))
		err := store.Put(KeyInfo{ID: 1, Type: Symmetric128Bits, Exportable: true}, material(16))
		assert.Error(t, err)
	})

	t.Run("copies caller material", func(t *testing.T) {
		store := NewMemoryStore()
		m := material(16)
		require.NoError(t, store.Put(KeyInfo{ID: 1, Type: Symmetric128Bits, Exportable: true}, m))
		for i := range m {
			m[i] = 0
		}

		out := make([]byte, 16)
		exported, err := store.Export(1, out)
		require.NoError(t, err)
		assert.Equal(t, material(16), exported)
	})
}

func TestMemoryStoreExport(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(KeyInfo{ID: 1, Type: Symmetric256Bits, Exportable: true}, material(32)))
	require.NoError(t, store.Put(KeyInfo{ID: 2, Type: Symmetric256Bits, Exportable: false}, material(32)))

	t.Run("exports into caller buffer", func(t *testing.T) {
		out := make([]byte, MaxSymmetricKeySize)
		exported, err := store.Export(1, out)
		require.NoError(t, err)
		assert.Len(t, exported, 32)
		assert.Same(t, &out[0], &exported[0])
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := store.Export(99, make([]byte, MaxSymmetricKeySize))
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("non-exportable key", func(t *testing.T) {
		_, err := store.Export(2, make([]byte, MaxSymmetricKeySize))
		assert.ErrorIs(t, err, ErrKeyNotExportable)
	})

	t.Run("buffer too small", func(t *testing.T) {
		_, err := store.Export(1, make([]byte, 16))
		assert.ErrorIs(t, err, ErrBufferTooSmall)
	})
}

func TestMemoryStoreGetKeyInfo(t *testing.T) {
	store := NewMemoryStore()
	info := KeyInfo{ID: 7, Type: Symmetric192Bits, Exportable: true}
	require.NoError(t, store.Put(info, material(24)))

	got, err := store.GetKeyInfo(7)
	require.NoError(t, err)
	assert.Equal(t, info, got)

	_, err = store.GetKeyInfo(8)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestSharedExportWithInfo(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(KeyInfo{ID: 1, Type: Symmetric128Bits, Exportable: true}, material(16)))
	shared := NewShared(store)

	key, info, err := shared.ExportWithInfo(1, make([]byte, MaxSymmetricKeySize))
	require.NoError(t, err)
	assert.Equal(t, material(16), key)
	assert.Equal(t, Symmetric128Bits, info.Type)

	_, _, err = shared.ExportWithInfo(2, make([]byte, MaxSymmetricKeySize))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestSharedConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(KeyInfo{ID: 1, Type: Symmetric256Bits, Exportable: true}, material(32)))
	shared := NewShared(store)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := make([]byte, MaxSymmetricKeySize)
			for j := 0; j < 100; j++ {
				key, _, err := shared.ExportWithInfo(1, out)
				assert.NoError(t, err)
				assert.Len(t, key, 32)
			}
		}()
	}
	wg.Wait()
}
