package spsc

import (
	"math"

	"github.com/AlephTX/aleph-ring/checksum"
	"github.com/AlephTX/aleph-ring/message"
	"github.com/AlephTX/aleph-ring/pool"
	"github.com/AlephTX/aleph-ring/ringerr"
	"github.com/AlephTX/aleph-ring/ringfile"
	"github.com/AlephTX/aleph-ring/shm"
)

// NonBlockingConfig describes how to open a non-blocking SPSC ring.
// Capacity may be -1 to infer from the file's length; MaxMessageSize must
// always be supplied since it determines slot size alongside Checksum.
type NonBlockingConfig struct {
	Path           string
	Capacity       int
	MaxMessageSize int
	Checksum       bool
	// FallBehindTolerance restricts the consumer's allowed lag to
	// tolerance * capacity. Must be in (0, 1]; zero means 1.0 (no margin).
	FallBehindTolerance float64
	DeleteOnClose       bool
}

func resolveNonBlocking(path string, capacity, maxMessageSize int, withChecksum bool) (rc, rm int, existed bool, err error) {
	if maxMessageSize <= 0 {
		return 0, 0, false, ringerr.New(ringerr.InvalidArgument,
			"spsc: max_message_size must be supplied for non-blocking rings")
	}
	slotSize := ringfile.SlotSize(maxMessageSize, withChecksum)

	size, existed, err := shm.FileSize(path)
	if err != nil {
		return 0, 0, false, err
	}
	if !existed {
		if capacity <= 0 {
			return 0, 0, false, ringerr.New(ringerr.FileNotFound,
				"spsc: %s does not exist, capacity must be supplied", path)
		}
		return capacity, maxMessageSize, false, nil
	}

	if capacity <= 0 {
		avail := size - ringfile.NonBlockingHeaderSize
		if avail <= 0 || avail%slotSize != 0 {
			return 0, 0, false, ringerr.New(ringerr.ConfigurationMismatch,
				"spsc: cannot infer capacity from %s (length %d)", path, size)
		}
		capacity = int(avail / slotSize)
	}
	return capacity, maxMessageSize, true, nil
}

func openNonBlockingRegion(cfg NonBlockingConfig) (*shm.Region, ringfile.Capacity, int64, error) {
	capacity, maxMessageSize, existed, err := resolveNonBlocking(cfg.Path, cfg.Capacity, cfg.MaxMessageSize, cfg.Checksum)
	if err != nil {
		return nil, ringfile.Capacity{}, 0, err
	}
	cap, err := ringfile.NewCapacity(capacity)
	if err != nil {
		return nil, ringfile.Capacity{}, 0, err
	}
	slotSize := ringfile.SlotSize(maxMessageSize, cfg.Checksum)
	required := ringfile.RequiredSize(ringfile.NonBlockingHeaderSize, capacity, slotSize)

	region, err := shm.Open(cfg.Path, required)
	if err != nil {
		return nil, ringfile.Capacity{}, 0, err
	}
	if !existed {
		ringfile.WriteDiscoveryHeader(region, ringfile.NonBlockingDiscoveryOffset, int32(capacity), int32(maxMessageSize))
	}
	return region, cap, slotSize, nil
}

func effectiveFallBehindCapacity(capacity int, tolerance float64, withChecksum bool) uint64 {
	if withChecksum || tolerance <= 0 || tolerance >= 1.0 {
		return uint64(capacity)
	}
	v := int(math.Round(float64(capacity) * tolerance))
	if v < 1 {
		v = 1
	}
	return uint64(v)
}

// NonBlockingProducer is the overwriting single writer of a non-blocking
// SPSC ring. NextToDispatch never fails.
type NonBlockingProducer struct {
	region        *shm.Region
	cap           ringfile.Capacity
	slotSize      int64
	withChecksum  bool
	pool          *pool.Pool[message.Message]
	pending       []pendingItem
	lastOffered   uint64
	deleteOnClose bool
}

// OpenNonBlockingProducer opens or creates a non-blocking SPSC ring for
// writing.
func OpenNonBlockingProducer(cfg NonBlockingConfig, newMsg message.Factory) (*NonBlockingProducer, error) {
	region, cap, slotSize, err := openNonBlockingRegion(cfg)
	if err != nil {
		return nil, err
	}
	return &NonBlockingProducer{
		region:        region,
		cap:           cap,
		slotSize:      slotSize,
		withChecksum:  cfg.Checksum,
		pool:          pool.New(cap.Value(), newMsg),
		deleteOnClose: cfg.DeleteOnClose,
	}, nil
}

// NextToDispatch claims the next message instance to populate. It always
// succeeds; if the pending pool is exhausted because the caller hasn't
// flushed, it flushes eagerly first.
func (p *NonBlockingProducer) NextToDispatch() message.Message {
	idx, m, ok := p.pool.Get()
	if !ok {
		p.Flush()
		idx, m, ok = p.pool.Get()
		if !ok {
			// Every instance is pending within a single unflushed batch
			// larger than capacity; nothing left to reclaim.
			return m
		}
	}
	seq := p.lastOffered + 1
	p.lastOffered = seq
	p.pending = append(p.pending, pendingItem{idx: idx, seq: seq})
	return m
}

// Flush serializes every pending message into its slot, computing and
// storing a checksum when enabled, then publishes the new producer
// sequence with release semantics. On a serialization error, the failing
// item's pool slot is released and dropped from the pending batch along
// with everything flushed ahead of it; items queued after the failure
// remain pending for a later Flush. The failed item's sequence number is
// never published, leaving a permanent gap in the offered stream up to
// the next successful Flush.
func (p *NonBlockingProducer) Flush() error {
	for i, item := range p.pending {
		m := p.pool.At(item.idx)
		slotOff := ringfile.NonBlockingHeaderSize + int64(p.cap.IndexOf(item.seq))*p.slotSize
		payloadOff := slotOff
		if p.withChecksum {
			payloadOff += 8
		}
		n, err := m.WriteTo(p.region.Bytes()[payloadOff : payloadOff+int64(m.MaxSize())])
		if err != nil {
			p.pool.Put(item.idx)
			p.pending = p.pending[i+1:]
			return ringerr.Wrap(ringerr.InvalidArgument, err, "spsc: serialize message")
		}
		if p.withChecksum {
			sum := checksum.Sum64(item.seq, p.region.Bytes()[payloadOff:payloadOff+int64(n)])
			p.region.PutUint64(slotOff, sum)
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
func (p *NonBlockingProducer) Close(deleteFile bool) error {
	return p.region.Close(deleteFile || p.deleteOnClose)
}

// NonBlockingConsumer is a reader of a non-blocking SPSC ring. It may be
// overtaken by the producer; AvailableToFetch surfaces that as -1.
type NonBlockingConsumer struct {
	region        *shm.Region
	cap           ringfile.Capacity
	slotSize      int64
	withChecksum  bool
	effectiveFall uint64
	msg           message.Message
	lastFetched   uint64
	fetchCount    uint64
}

// OpenNonBlockingConsumer opens or creates a non-blocking SPSC ring for
// reading.
func OpenNonBlockingConsumer(cfg NonBlockingConfig, newMsg message.Factory) (*NonBlockingConsumer, error) {
	region, cap, slotSize, err := openNonBlockingRegion(cfg)
	if err != nil {
		return nil, err
	}
	tolerance := cfg.FallBehindTolerance
	if tolerance == 0 {
		tolerance = 1.0
	} else if !(tolerance > 0 && tolerance <= 1.0) {
		return nil, ringerr.New(ringerr.InvalidArgument,
			"spsc: fall_behind_tolerance %.3f outside (0, 1]", tolerance)
	}
	return &NonBlockingConsumer{
		region:        region,
		cap:           cap,
		slotSize:      slotSize,
		withChecksum:  cfg.Checksum,
		effectiveFall: effectiveFallBehindCapacity(cap.Value(), tolerance, cfg.Checksum),
		msg:           newMsg(),
	}, nil
}

// AvailableToFetch returns the number of unfetched published messages, or
// -1 if the producer has wrapped past this consumer (LagOvertake).
func (c *NonBlockingConsumer) AvailableToFetch() int64 {
	offer := ringfile.ReadSeqAcquire(c.region, ringfile.ProducerCellOffset)
	avail := offer - c.lastFetched
	if avail > c.effectiveFall {
		return -1
	}
	return int64(avail)
}

// Fetch decodes the next message. ok is false if there is nothing to fetch,
// the consumer has been overtaken, or (checksum mode) the stored checksum
// does not match the payload — in the last case the consumer's position is
// left unchanged so a later retry can observe coherent data, whether or not
// remove was requested.
func (c *NonBlockingConsumer) Fetch(remove bool) (msg message.Message, ok bool) {
	avail := c.AvailableToFetch()
	if avail <= 0 {
		return nil, false
	}
	seq := c.lastFetched + 1
	slotOff := ringfile.NonBlockingHeaderSize + int64(c.cap.IndexOf(seq))*c.slotSize
	payloadOff := slotOff
	payloadLen := c.slotSize
	if c.withChecksum {
		payloadOff += 8
		payloadLen -= 8
	}
	n, err := c.msg.ReadFrom(c.region.Bytes()[payloadOff : payloadOff+payloadLen])
	if err != nil {
		return nil, false
	}
	if c.withChecksum {
		stored := c.region.GetUint64(slotOff)
		sum := checksum.Sum64(seq, c.region.Bytes()[payloadOff:payloadOff+int64(n)])
		if sum != stored {
			return nil, false
		}
	}
	if remove {
		c.lastFetched = seq
		c.fetchCount++
	}
	return c.msg, true
}

// DoneFetching resets the in-flight fetch count. Non-blocking consumers
// have no sequence cell of their own to publish.
func (c *NonBlockingConsumer) DoneFetching() {
	c.fetchCount = 0
}

// RollBack unwinds the last n fetches, which must not exceed the number of
// fetches since the last DoneFetching.
func (c *NonBlockingConsumer) RollBack(n uint64) error {
	if n > c.fetchCount {
		return ringerr.New(ringerr.InvalidArgument,
			"spsc: rollback %d exceeds in-flight fetch count %d", n, c.fetchCount)
	}
	c.lastFetched -= n
	c.fetchCount -= n
	return nil
}

// Close releases the region, optionally deleting the backing file.
func (c *NonBlockingConsumer) Close(deleteFile bool) error {
	return c.region.Close(deleteFile)
}
