package cipherstream

import "encoding/binary"

// ghash accumulates the GCM authentication hash over the ciphertext. The
// standard library's GCM is one-shot, so the hash is computed incrementally
// here; the interop test pins the result against cipher.NewGCM.
type ghash struct {
	h0, h1 uint64 // hash subkey H = E(K, 0^128)
	y0, y1 uint64 // running state
	buf    [16]byte
	n      int
	ctLen  uint64 // ciphertext bytes absorbed
}

func newGHASH(h *[16]byte) *ghash {
	return &ghash{
		h0: binary.BigEndian.Uint64(h[0:8]),
		h1: binary.BigEndian.Uint64(h[8:16]),
	}
}

func (g *ghash) update(p []byte) {
	g.ctLen += uint64(len(p))

	if g.n > 0 {
		k := copy(g.buf[g.n:], p)
		g.n += k
		p = p[k:]
		if g.n < 16 {
			return
		}
		g.absorb(g.buf[:])
		g.n = 0
	}

	for len(p) >= 16 {
		g.absorb(p[:16])
		p = p[16:]
	}

	if len(p) > 0 {
		g.n = copy(g.buf[:], p)
	}
}

// finish pads the final partial block, absorbs the length block, and returns
// the untruncated hash. No associated data is used, so its length is zero.
func (g *ghash) finish() [16]byte {
	if g.n > 0 {
		for i := g.n; i < 16; i++ {
			g.buf[i] = 0
		}
		g.absorb(g.buf[:])
		g.n = 0
	}

	var lengths [16]byte
	binary.BigEndian.PutUint64(lengths[8:16], g.ctLen*8)
	g.absorb(lengths[:])

	var out [16]byte
	binary.BigEndian.PutUint64(out[0:8], g.y0)
	binary.BigEndian.PutUint64(out[8:16], g.y1)
	return out
}

func (g *ghash) absorb(block []byte) {
	g.y0 ^= binary.BigEndian.Uint64(block[0:8])
	g.y1 ^= binary.BigEndian.Uint64(block[8:16])
	g.mul()
}

// mul multiplies the state by H in GF(2^128) using the right-shift algorithm
// from NIST SP 800-38D. Bit 0 is the most significant bit of the first byte,
// per the GCM bit ordering; R is 0xe1 followed by 120 zero bits.
func (g *ghash) mul() {
	const r = uint64(0xe1) << 56

	var z0, z1 uint64
	v0, v1 := g.h0, g.h1

	for _, x := range [2]uint64{g.y0, g.y1} {
		for i := 0; i < 64; i++ {
			if x&(1<<uint(63-i)) != 0 {
				z0 ^= v0
				z1 ^= v1
			}
			carry := v1 & 1
			v1 = v1>>1 | v0<<63
			v0 >>= 1
			if carry != 0 {
				v0 ^= r
			}
		}
	}

	g.y0, g.y1 = z0, z1
}
