// Package spmc implements the blocking single-producer multi-consumer
// broadcast ring: one producer, N independent consumers, identical total
// order observed by every active consumer.
package spmc

import (
	"math"

	"github.com/AlephTX/aleph-ring/message"
	"github.com/AlephTX/aleph-ring/pool"
	"github.com/AlephTX/aleph-ring/ringerr"
	"github.com/AlephTX/aleph-ring/ringfile"
	"github.com/AlephTX/aleph-ring/shm"
)

// Config describes how to open a broadcast ring. At least one of Capacity
// and NumConsumers must be supplied (>0); the other may be inferred from
// an existing file's length.
type Config struct {
	Path           string
	Capacity       int
	MaxMessageSize int
	NumConsumers   int
	DeleteOnClose  bool
}

func resolveBroadcast(path string, capacity, maxMessageSize, numConsumers int) (rc, rm, rn int, existed bool, err error) {
	if maxMessageSize <= 0 {
		return 0, 0, 0, false, ringerr.New(ringerr.InvalidArgument, "spmc: max_message_size must be supplied")
	}
	if capacity <= 0 && numConsumers <= 0 {
		return 0, 0, 0, false, ringerr.New(ringerr.InvalidArgument,
			"spmc: at least one of capacity and number_of_consumers must be supplied")
	}
	slotSize := ringfile.SlotSize(maxMessageSize, false)

	size, existed, err := shm.FileSize(path)
	if err != nil {
		return 0, 0, 0, false, err
	}
	if !existed {
		if capacity <= 0 || numConsumers <= 0 {
			return 0, 0, 0, false, ringerr.New(ringerr.FileNotFound,
				"spmc: %s does not exist, capacity and number_of_consumers must both be supplied", path)
		}
		return capacity, maxMessageSize, numConsumers, false, nil
	}

	switch {
	case capacity > 0 && numConsumers > 0:
		want := ringfile.RequiredSize(ringfile.BroadcastHeaderSize(numConsumers), capacity, slotSize)
		if want != size {
			return 0, 0, 0, false, ringerr.New(ringerr.ConfigurationMismatch,
				"spmc: %s is %d bytes, expected %d", path, size, want)
		}
		return capacity, maxMessageSize, numConsumers, true, nil

	case numConsumers > 0:
		h := ringfile.BroadcastHeaderSize(numConsumers)
		avail := size - h
		if avail <= 0 || avail%slotSize != 0 {
			return 0, 0, 0, false, ringerr.New(ringerr.ConfigurationMismatch,
				"spmc: cannot infer capacity from %s (length %d)", path, size)
		}
		return int(avail / slotSize), maxMessageSize, numConsumers, true, nil

	default: // capacity > 0, numConsumers <= 0
		rem := size - 8 - int64(capacity)*slotSize
		if rem <= 0 || rem%ringfile.CellSize != 0 {
			return 0, 0, 0, false, ringerr.New(ringerr.ConfigurationMismatch,
				"spmc: cannot infer number_of_consumers from %s (length %d)", path, size)
		}
		n := int(rem/ringfile.CellSize) - 1
		if n < 1 {
			return 0, 0, 0, false, ringerr.New(ringerr.ConfigurationMismatch,
				"spmc: inferred number_of_consumers %d is invalid", n)
		}
		return capacity, maxMessageSize, n, true, nil
	}
}

func openBroadcastRegion(cfg Config) (*shm.Region, ringfile.Capacity, int64, int, error) {
	capacity, maxMessageSize, numConsumers, existed, err := resolveBroadcast(cfg.Path, cfg.Capacity, cfg.MaxMessageSize, cfg.NumConsumers)
	if err != nil {
		return nil, ringfile.Capacity{}, 0, 0, err
	}
	cap, err := ringfile.NewCapacity(capacity)
	if err != nil {
		return nil, ringfile.Capacity{}, 0, 0, err
	}
	slotSize := ringfile.SlotSize(maxMessageSize, false)
	headerSize := ringfile.BroadcastHeaderSize(numConsumers)
	required := ringfile.RequiredSize(headerSize, capacity, slotSize)

	region, err := shm.Open(cfg.Path, required)
	if err != nil {
		return nil, ringfile.Capacity{}, 0, 0, err
	}
	if !existed {
		ringfile.WriteDiscoveryHeader(region, ringfile.BroadcastDiscoveryOffset(numConsumers), int32(capacity), int32(maxMessageSize))
	}
	return region, cap, slotSize, numConsumers, nil
}

type pendingItem struct {
	idx int
	seq uint64
}

// Producer is the single writer of a broadcast ring. It is gated by the
// slowest active (non-disabled) consumer.
type Producer struct {
	region           *shm.Region
	cap              ringfile.Capacity
	slotSize         int64
	numConsumers     int
	pool             *pool.Pool[message.Message]
	pending          []pendingItem
	lastOffered      uint64
	maxSeqBeforeWrap uint64
	deleteOnClose    bool
}

// OpenProducer opens or creates a broadcast ring for writing.
func OpenProducer(cfg Config, newMsg message.Factory) (*Producer, error) {
	region, cap, slotSize, numConsumers, err := openBroadcastRegion(cfg)
	if err != nil {
		return nil, err
	}
	return &Producer{
		region:        region,
		cap:           cap,
		slotSize:      slotSize,
		numConsumers:  numConsumers,
		pool:          pool.New(cap.Value(), newMsg),
		deleteOnClose: cfg.DeleteOnClose,
	}, nil
}

// NumConsumers returns the consumer slot count this ring was opened with.
func (p *Producer) NumConsumers() int { return p.numConsumers }

func (p *Producer) minActiveFetchSequence() uint64 {
	min := uint64(math.MaxUint64)
	any := false
	for i := 0; i < p.numConsumers; i++ {
		seq := ringfile.ReadSeqAcquire(p.region, ringfile.BroadcastConsumerCellOffset(i))
		if seq == ringfile.DisabledSequence {
			continue
		}
		any = true
		if seq < min {
			min = seq
		}
	}
	if !any {
		return p.lastOffered
	}
	return min
}

// NextToDispatch claims the next message instance to populate. It returns
// ok=false if the slowest active consumer has not kept up.
func (p *Producer) NextToDispatch() (msg message.Message, ok bool) {
	candidate := p.lastOffered + 1
	if candidate > p.maxSeqBeforeWrap {
		min := p.minActiveFetchSequence()
		p.maxSeqBeforeWrap = min + uint64(p.cap.Value())
		if candidate > p.maxSeqBeforeWrap {
			return nil, false
		}
	}
	idx, m, ok := p.pool.Get()
	if !ok {
		return nil, false
	}
	p.lastOffered = candidate
	p.pending = append(p.pending, pendingItem{idx: idx, seq: candidate})
	return m, true
}

// Flush serializes every pending message into its slot, in order, then
// publishes the new producer sequence with release semantics so every
// consumer observes the identical order. On a serialization error, the
// failing item's pool slot is released and dropped from the pending
// batch along with everything flushed ahead of it; items queued after
// the failure remain pending for a later Flush. The failed item's
// sequence number is never published, leaving a permanent gap in the
// offered stream up to the next successful Flush.
func (p *Producer) Flush() error {
	headerSize := ringfile.BroadcastHeaderSize(p.numConsumers)
	for i, item := range p.pending {
		m := p.pool.At(item.idx)
		off := headerSize + int64(p.cap.IndexOf(item.seq))*p.slotSize
		if _, err := m.WriteTo(p.region.Bytes()[off : off+p.slotSize]); err != nil {
			p.pool.Put(item.idx)
			p.pending = p.pending[i+1:]
			return ringerr.Wrap(ringerr.InvalidArgument, err, "spmc: serialize message")
		}
		p.pool.Put(item.idx)
	}
	if len(p.pending) > 0 {
		ringfile.WriteSeqRelease(p.region, ringfile.ProducerCellOffset, p.lastOffered)
		p.pending = p.pending[:0]
	}
	return nil
}

// Close releases the region, optionally deleting the backing file.
func (p *Producer) Close(deleteFile bool) error {
	return p.region.Close(deleteFile || p.deleteOnClose)
}

// Consumer is one of a broadcast ring's N independent readers.
type Consumer struct {
	region      *shm.Region
	cap         ringfile.Capacity
	slotSize    int64
	headerSize  int64
	index       int
	msg         message.Message
	lastFetched uint64
	fetchCount  uint64
}

// OpenConsumer opens or creates a broadcast ring for reading as consumer
// index (in [0, NumConsumers)).
func OpenConsumer(cfg Config, index int, newMsg message.Factory) (*Consumer, error) {
	region, cap, slotSize, numConsumers, err := openBroadcastRegion(cfg)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= numConsumers {
		region.Close(false)
		return nil, ringerr.New(ringerr.InvalidArgument, "spmc: consumer index %d out of range [0,%d)", index, numConsumers)
	}
	return &Consumer{
		region:     region,
		cap:        cap,
		slotSize:   slotSize,
		headerSize: ringfile.BroadcastHeaderSize(numConsumers),
		index:      index,
		msg:        newMsg(),
	}, nil
}

// Index returns this consumer's slot index.
func (c *Consumer) Index() int { return c.index }

func (c *Consumer) cellOffset() int64 {
	return ringfile.BroadcastConsumerCellOffset(c.index)
}

// AvailableToFetch returns how many published messages have not yet been
// fetched by this consumer.
func (c *Consumer) AvailableToFetch() uint64 {
	offer := ringfile.ReadSeqAcquire(c.region, ringfile.ProducerCellOffset)
	return offer - c.lastFetched
}

// Fetch decodes the next message into this consumer's owned instance.
func (c *Consumer) Fetch(remove bool) (msg message.Message, ok bool) {
	if c.AvailableToFetch() == 0 {
		return nil, false
	}
	seq := c.lastFetched + 1
	off := c.headerSize + int64(c.cap.IndexOf(seq))*c.slotSize
	if _, err := c.msg.ReadFrom(c.region.Bytes()[off : off+c.slotSize]); err != nil {
		return nil, false
	}
	if remove {
		c.lastFetched = seq
		c.fetchCount++
	}
	return c.msg, true
}

// DoneFetching publishes this consumer's fetch sequence with release
// semantics and resets the in-flight fetch count.
func (c *Consumer) DoneFetching() {
	ringfile.WriteSeqRelease(c.region, c.cellOffset(), c.lastFetched)
	c.fetchCount = 0
}

// RollBack unwinds the last n fetches, which must not exceed the number of
// fetches since the last DoneFetching.
func (c *Consumer) RollBack(n uint64) error {
	if n > c.fetchCount {
		return ringerr.New(ringerr.InvalidArgument,
			"spmc: rollback %d exceeds in-flight fetch count %d", n, c.fetchCount)
	}
	c.lastFetched -= n
	c.fetchCount -= n
	return nil
}

// Disable excuses this consumer from the producer's gating computation,
// the escape hatch for a consumer that will never catch up.
func (c *Consumer) Disable() {
	ringfile.WriteSeqRelease(c.region, c.cellOffset(), ringfile.DisabledSequence)
}

// Enable re-admits a disabled consumer at its last acknowledged sequence.
func (c *Consumer) Enable() {
	ringfile.WriteSeqRelease(c.region, c.cellOffset(), c.lastFetched)
}

// Close releases the region, optionally deleting the backing file.
func (c *Consumer) Close(deleteFile bool) error {
	return c.region.Close(deleteFile)
}
