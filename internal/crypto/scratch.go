package crypto

import "sync"

// Go's cipher.AEAD produces ciphertext and tag as one combined output, so the
// detached-tag transforms stage through a scratch buffer before copying back
// into the caller's payload and tag buffers. Scratches are pooled to keep the
// per-job allocation profile flat and are zeroized before release because
// they transiently hold plaintext.

var scratchPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 4096)
		return &b
	},
}

// getScratch returns a zero-length scratch slice with at least n capacity.
func getScratch(n int) *[]byte {
	p := scratchPool.Get().(*[]byte)
	if cap(*p) < n {
		b := make([]byte, 0, n)
		*p = b
	}
	*p = (*p)[:0]
	return p
}

// putScratch zeroizes the used portion of the scratch and returns it to the
// pool.
func putScratch(p *[]byte) {
	Zeroize((*p)[:cap(*p)])
	*p = (*p)[:0]
	scratchPool.Put(p)
}

// Zeroize overwrites b with zeros. Used for scratches and exported key
// copies on every exit path.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
