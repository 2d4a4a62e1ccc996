// Package ringfile describes the on-disk/in-memory layout shared by all
// three ring variants: the padded sequence cell, the per-variant header
// sizes, and the slot index arithmetic.
package ringfile

import (
	"math"

	"github.com/AlephTX/aleph-ring/ringerr"
	"github.com/AlephTX/aleph-ring/shm"
)

// CellSize is the size in bytes of one cache-line-aligned sequence cell.
const CellSize = 64

// SeqOffsetInCell is the byte offset of the 8-byte sequence value within
// its cell: 24 bytes of leading padding, then the value, then 32 trailing.
const SeqOffsetInCell = 24

// DisabledSequence is the sentinel a broadcast consumer stores in its cell
// to be excluded from the producer's gating computation.
const DisabledSequence = uint64(math.MaxInt64)

// ProducerCellOffset is the offset of the producer's sequence cell, the
// same in every variant.
const ProducerCellOffset = int64(0)

// Capacity captures a ring's slot count and the index-arithmetic strategy
// that count implies: a bitmask when capacity is a power of two, modulo
// otherwise.
type Capacity struct {
	n    uint64
	mask uint64
	pow2 bool
}

// NewCapacity validates and wraps a slot count.
func NewCapacity(n int) (Capacity, error) {
	if n <= 0 {
		return Capacity{}, ringerr.New(ringerr.InvalidArgument, "ringfile: capacity must be positive, got %d", n)
	}
	c := Capacity{n: uint64(n)}
	if IsPowerOfTwo(n) {
		c.pow2 = true
		c.mask = uint64(n - 1)
	}
	return c, nil
}

// Value returns the slot count.
func (c Capacity) Value() int { return int(c.n) }

// IndexOf returns the slot index for logical sequence seq (seq >= 1).
func (c Capacity) IndexOf(seq uint64) uint64 {
	z := seq - 1
	if c.pow2 {
		return z & c.mask
	}
	return z % c.n
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// NextPowerOfTwo returns the smallest power of two >= n.
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// SlotSize returns the per-slot byte size for a given max message size and
// whether the slot carries a leading 8-byte checksum.
func SlotSize(maxMessageSize int, withChecksum bool) int64 {
	if withChecksum {
		return int64(maxMessageSize) + 8
	}
	return int64(maxMessageSize)
}

// RequiredSize returns the total region size for a header of headerSize
// bytes followed by capacity slots of slotSize bytes.
func RequiredSize(headerSize int64, capacity int, slotSize int64) int64 {
	return headerSize + int64(capacity)*slotSize
}

// discoveryHeaderSize is the size in bytes of the persisted
// (capacity, max_message_size) pair.
const discoveryHeaderSize = int64(8)

// BlockingSPSCConsumerCellOffset is the single consumer cell's offset in a
// blocking SPSC header.
const BlockingSPSCConsumerCellOffset = int64(CellSize)

// BlockingSPSCDiscoveryOffset is where the persisted capacity/max-size pair
// lives in a blocking SPSC header.
const BlockingSPSCDiscoveryOffset = int64(2 * CellSize)

// BlockingSPSCHeaderSize is the total header size for a blocking SPSC ring:
// two cells plus the persisted discovery pair.
const BlockingSPSCHeaderSize = int64(2*CellSize) + discoveryHeaderSize

// NonBlockingDiscoveryOffset is where the persisted capacity/max-size pair
// lives in a non-blocking SPSC header (which has no consumer cell).
const NonBlockingDiscoveryOffset = int64(CellSize)

// NonBlockingHeaderSize is the total header size for a non-blocking SPSC
// ring: one producer cell plus the persisted discovery pair.
const NonBlockingHeaderSize = int64(CellSize) + discoveryHeaderSize

// BroadcastConsumerCellOffset returns the offset of consumer i's cell
// (i in [0, numConsumers)) in a broadcast header.
func BroadcastConsumerCellOffset(i int) int64 {
	return int64(CellSize) * int64(i+1)
}

// BroadcastDiscoveryOffset returns where the persisted capacity/max-size
// pair lives for a broadcast ring with numConsumers consumers.
func BroadcastDiscoveryOffset(numConsumers int) int64 {
	return int64(CellSize) * int64(numConsumers+1)
}

// BroadcastHeaderSize returns the total header size for a broadcast ring
// with numConsumers consumers: one producer cell, one cell per consumer,
// plus the persisted discovery pair.
func BroadcastHeaderSize(numConsumers int) int64 {
	return BroadcastDiscoveryOffset(numConsumers) + discoveryHeaderSize
}

// ReadSeqAcquire acquire-loads the sequence value stored in the cell at
// cellOffset.
func ReadSeqAcquire(r *shm.Region, cellOffset int64) uint64 {
	return r.LoadUint64Acquire(cellOffset + SeqOffsetInCell)
}

// WriteSeqRelease release-stores seq into the cell at cellOffset.
func WriteSeqRelease(r *shm.Region, cellOffset int64, seq uint64) {
	r.StoreUint64Release(cellOffset+SeqOffsetInCell, seq)
}

// WriteDiscoveryHeader persists the (capacity, max_message_size) pair at
// offset, as two little-endian int32 values.
func WriteDiscoveryHeader(r *shm.Region, offset int64, capacity, maxMessageSize int32) {
	r.PutUint32(offset, uint32(capacity))
	r.PutUint32(offset+4, uint32(maxMessageSize))
}

// ReadDiscoveryHeader reads back a persisted (capacity, max_message_size)
// pair. Zero values mean nothing was ever persisted there.
func ReadDiscoveryHeader(r *shm.Region, offset int64) (capacity, maxMessageSize int32) {
	return int32(r.GetUint32(offset)), int32(r.GetUint32(offset + 4))
}
