// Package checksum computes the per-message integrity hash the non-blocking
// SPSC ring stores alongside a slot's payload.
package checksum

import (
	"encoding/binary"
	"math/bits"
)

// Seed is the XXH64 seed the spec fixes for ring checksums.
const Seed uint64 = 7

const (
	prime1 uint64 = 0x9E3779B185EBCA87
	prime2 uint64 = 0xC2B2AE3D27D4EB4F
	prime3 uint64 = 0x165667B19E3779F9
	prime4 uint64 = 0x85EBCA77C2B2AE63
	prime5 uint64 = 0x27D4EB2F165667C5
)

// xxh64 is a from-scratch, seed-capable XXH64 accumulator. cespare/xxhash/v2
// (the only xxhash package anywhere in the pack) hardcodes seed 0 and offers
// no seeded constructor, so it cannot produce the spec's XXH64(data, seed=7)
// value; this reimplements the public XXH64 algorithm directly against its
// seeded-initialization step.
type xxh64 struct {
	v1, v2, v3, v4 uint64
	total          uint64
	mem            [32]byte
	n              int
}

func newXXH64(seed uint64) *xxh64 {
	h := &xxh64{}
	h.v1 = seed + prime1 + prime2
	h.v2 = seed + prime2
	h.v3 = seed
	h.v4 = seed - prime1
	return h
}

func round(acc, input uint64) uint64 {
	acc += input * prime2
	acc = bits.RotateLeft64(acc, 31)
	acc *= prime1
	return acc
}

func mergeRound(acc, val uint64) uint64 {
	val = round(0, val)
	acc ^= val
	acc = acc*prime1 + prime4
	return acc
}

func (h *xxh64) write(b []byte) {
	h.total += uint64(len(b))

	if h.n+len(b) < 32 {
		copy(h.mem[h.n:], b)
		h.n += len(b)
		return
	}

	i := 0
	if h.n > 0 {
		r := 32 - h.n
		copy(h.mem[h.n:], b[:r])
		h.v1 = round(h.v1, binary.LittleEndian.Uint64(h.mem[0:8]))
		h.v2 = round(h.v2, binary.LittleEndian.Uint64(h.mem[8:16]))
		h.v3 = round(h.v3, binary.LittleEndian.Uint64(h.mem[16:24]))
		h.v4 = round(h.v4, binary.LittleEndian.Uint64(h.mem[24:32]))
		i = r
		h.n = 0
	}

	for ; i+32 <= len(b); i += 32 {
		h.v1 = round(h.v1, binary.LittleEndian.Uint64(b[i:i+8]))
		h.v2 = round(h.v2, binary.LittleEndian.Uint64(b[i+8:i+16]))
		h.v3 = round(h.v3, binary.LittleEndian.Uint64(b[i+16:i+24]))
		h.v4 = round(h.v4, binary.LittleEndian.Uint64(b[i+24:i+32]))
	}

	if i < len(b) {
		h.n = copy(h.mem[:], b[i:])
	}
}

func (h *xxh64) sum64() uint64 {
	var acc uint64
	if h.total >= 32 {
		acc = bits.RotateLeft64(h.v1, 1) + bits.RotateLeft64(h.v2, 7) +
			bits.RotateLeft64(h.v3, 12) + bits.RotateLeft64(h.v4, 18)
		acc = mergeRound(acc, h.v1)
		acc = mergeRound(acc, h.v2)
		acc = mergeRound(acc, h.v3)
		acc = mergeRound(acc, h.v4)
	} else {
		acc = h.v3 + prime5
	}

	acc += h.total

	i := 0
	for ; i+8 <= h.n; i += 8 {
		k1 := round(0, binary.LittleEndian.Uint64(h.mem[i:i+8]))
		acc ^= k1
		acc = bits.RotateLeft64(acc, 27)*prime1 + prime4
	}
	if i+4 <= h.n {
		acc ^= uint64(binary.LittleEndian.Uint32(h.mem[i:i+4])) * prime1
		acc = bits.RotateLeft64(acc, 23)*prime2 + prime3
		i += 4
	}
	for ; i < h.n; i++ {
		acc ^= uint64(h.mem[i]) * prime5
		acc = bits.RotateLeft64(acc, 11) * prime1
	}

	acc ^= acc >> 33
	acc *= prime2
	acc ^= acc >> 29
	acc *= prime3
	acc ^= acc >> 32
	return acc
}

// Sum64 computes XXH64(sequence_be8 || payload, seed=Seed), the spec's
// canonical checksum form.
func Sum64(seq uint64, payload []byte) uint64 {
	h := newXXH64(Seed)
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	h.write(seqBuf[:])
	h.write(payload)
	return h.sum64()
}

// Sum32Truncated returns the lower 32 bits of Sum64, zero-extended to
// 64 bits. The spec names this as an acceptable alternative finalization;
// production code always calls Sum64, this exists for interop tests.
func Sum32Truncated(seq uint64, payload []byte) uint64 {
	return Sum64(seq, payload) & 0xFFFFFFFF
}
