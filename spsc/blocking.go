// Package spsc implements the blocking and non-blocking single-producer
// single-consumer ring variants.
package spsc

import (
	"encoding/binary"
	"os"

	"github.com/AlephTX/aleph-ring/message"
	"github.com/AlephTX/aleph-ring/pool"
	"github.com/AlephTX/aleph-ring/ringerr"
	"github.com/AlephTX/aleph-ring/ringfile"
	"github.com/AlephTX/aleph-ring/shm"
)

// BlockingConfig describes how to open a blocking SPSC ring. Capacity and
// MaxMessageSize may be -1 to request inference from the file's persisted
// discovery header; at least one participant must supply both explicitly
// when the file does not yet exist.
type BlockingConfig struct {
	Path           string
	Capacity       int
	MaxMessageSize int
	DeleteOnClose  bool
}

func resolveBlocking(path string, capacity, maxMessageSize int) (rc, rm int, existed bool, err error) {
	size, existed, err := shm.FileSize(path)
	if err != nil {
		return 0, 0, false, err
	}
	if !existed {
		if capacity < 0 || maxMessageSize < 0 {
			return 0, 0, false, ringerr.New(ringerr.FileNotFound,
				"spsc: %s does not exist, capacity and max_message_size must be supplied", path)
		}
		return capacity, maxMessageSize, false, nil
	}

	var discCap, discMax int32
	if size >= ringfile.BlockingSPSCHeaderSize {
		f, err := os.Open(path)
		if err != nil {
			return 0, 0, false, ringerr.Wrap(ringerr.ResourceAcquisition, err, "spsc: open "+path)
		}
		buf := make([]byte, 8)
		_, err = f.ReadAt(buf, ringfile.BlockingSPSCDiscoveryOffset)
		f.Close()
		if err != nil {
			return 0, 0, false, ringerr.Wrap(ringerr.ResourceAcquisition, err, "spsc: read discovery header")
		}
		discCap = int32(binary.LittleEndian.Uint32(buf[0:4]))
		discMax = int32(binary.LittleEndian.Uint32(buf[4:8]))
	}

	if capacity < 0 {
		if discCap == 0 {
			return 0, 0, false, ringerr.New(ringerr.ConfigurationMismatch,
				"spsc: %s has no persisted capacity to infer", path)
		}
		capacity = int(discCap)
	} else if discCap != 0 && int32(capacity) != discCap {
		return 0, 0, false, ringerr.New(ringerr.ConfigurationMismatch,
			"spsc: supplied capacity %d does not match persisted %d", capacity, discCap)
	}

	if maxMessageSize < 0 {
		if discMax == 0 {
			return 0, 0, false, ringerr.New(ringerr.ConfigurationMismatch,
				"spsc: %s has no persisted max_message_size to infer", path)
		}
		maxMessageSize = int(discMax)
	} else if discMax != 0 && int32(maxMessageSize) != discMax {
		return 0, 0, false, ringerr.New(ringerr.ConfigurationMismatch,
			"spsc: supplied max_message_size %d does not match persisted %d", maxMessageSize, discMax)
	}

	return capacity, maxMessageSize, true, nil
}

func openBlockingRegion(cfg BlockingConfig) (*shm.Region, ringfile.Capacity, int64, bool, error) {
	capacity, maxMessageSize, existed, err := resolveBlocking(cfg.Path, cfg.Capacity, cfg.MaxMessageSize)
	if err != nil {
		return nil, ringfile.Capacity{}, 0, false, err
	}
	cap, err := ringfile.NewCapacity(capacity)
	if err != nil {
		return nil, ringfile.Capacity{}, 0, false, err
	}
	slotSize := ringfile.SlotSize(maxMessageSize, false)
	required := ringfile.RequiredSize(ringfile.BlockingSPSCHeaderSize, capacity, slotSize)

	region, err := shm.Open(cfg.Path, required)
	if err != nil {
		return nil, ringfile.Capacity{}, 0, false, err
	}
	if !existed {
		ringfile.WriteDiscoveryHeader(region, ringfile.BlockingSPSCDiscoveryOffset, int32(capacity), int32(maxMessageSize))
	}
	return region, cap, slotSize, existed, nil
}

type pendingItem struct {
	idx int
	seq uint64
}

// BlockingProducer is the single writer of a blocking SPSC ring. It never
// blocks: NextToDispatch returns ok=false when the ring is full.
type BlockingProducer struct {
	region           *shm.Region
	cap              ringfile.Capacity
	slotSize         int64
	pool             *pool.Pool[message.Message]
	pending          []pendingItem
	lastOffered      uint64
	maxSeqBeforeWrap uint64
	deleteOnClose    bool
}

// OpenBlockingProducer opens or creates a blocking SPSC ring for writing.
func OpenBlockingProducer(cfg BlockingConfig, newMsg message.Factory) (*BlockingProducer, error) {
	region, cap, slotSize, _, err := openBlockingRegion(cfg)
	if err != nil {
		return nil, err
	}
	return &BlockingProducer{
		region:        region,
		cap:           cap,
		slotSize:      slotSize,
		pool:          pool.New(cap.Value(), newMsg),
		deleteOnClose: cfg.DeleteOnClose,
	}, nil
}

// NextToDispatch claims the next message instance to populate. It returns
// ok=false if the ring is full (the consumer has not kept up).
func (p *BlockingProducer) NextToDispatch() (msg message.Message, ok bool) {
	candidate := p.lastOffered + 1
	if candidate > p.maxSeqBeforeWrap {
		fetchSeq := ringfile.ReadSeqAcquire(p.region, ringfile.BlockingSPSCConsumerCellOffset)
		p.maxSeqBeforeWrap = fetchSeq + uint64(p.cap.Value())
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
// publishes the new producer sequence with release semantics. On a
// serialization error, the failing item's pool slot is released and
// dropped from the pending batch along with everything flushed ahead of
// it; items queued after the failure remain pending for a later Flush.
// The failed item's sequence number is never published, leaving a
// permanent gap in the offered stream up to the next successful Flush.
func (p *BlockingProducer) Flush() error {
	for i, item := range p.pending {
		m := p.pool.At(item.idx)
		off := ringfile.BlockingSPSCHeaderSize + int64(p.cap.IndexOf(item.seq))*p.slotSize
		if _, err := m.WriteTo(p.region.Bytes()[off : off+p.slotSize]); err != nil {
			p.pool.Put(item.idx)
			p.pending = p.pending[i+1:]
			return ringerr.Wrap(ringerr.InvalidArgument, err, "spsc: serialize message")
		}
		p.pool.Put(item.idx)
	}
	if len(p.pending) > 0 {
		ringfile.WriteSeqRelease(p.region, ringfile.ProducerCellOffset, p.lastOffered)
		p.pending = p.pending[:0]
	}
	return nil
}

// Close releases the region, deleting the backing file if requested at
// construction or by the deleteFile argument.
func (p *BlockingProducer) Close(deleteFile bool) error {
	return p.region.Close(deleteFile || p.deleteOnClose)
}

// BlockingConsumer is the single reader of a blocking SPSC ring.
type BlockingConsumer struct {
	region      *shm.Region
	cap         ringfile.Capacity
	slotSize    int64
	msg         message.Message
	lastFetched uint64
	fetchCount  uint64
}

// OpenBlockingConsumer opens or creates a blocking SPSC ring for reading.
func OpenBlockingConsumer(cfg BlockingConfig, newMsg message.Factory) (*BlockingConsumer, error) {
	region, cap, slotSize, _, err := openBlockingRegion(cfg)
	if err != nil {
		return nil, err
	}
	return &BlockingConsumer{
		region:   region,
		cap:      cap,
		slotSize: slotSize,
		msg:      newMsg(),
	}, nil
}

// AvailableToFetch returns how many published messages have not yet been
// fetched.
func (c *BlockingConsumer) AvailableToFetch() uint64 {
	offer := ringfile.ReadSeqAcquire(c.region, ringfile.ProducerCellOffset)
	return offer - c.lastFetched
}

// Fetch decodes the next message into the consumer's owned instance. If
// remove is true, the consumer's position advances; otherwise this is a
// peek. ok is false if there is nothing new to fetch.
func (c *BlockingConsumer) Fetch(remove bool) (msg message.Message, ok bool) {
	if c.AvailableToFetch() == 0 {
		return nil, false
	}
	seq := c.lastFetched + 1
	off := ringfile.BlockingSPSCHeaderSize + int64(c.cap.IndexOf(seq))*c.slotSize
	if _, err := c.msg.ReadFrom(c.region.Bytes()[off : off+c.slotSize]); err != nil {
		return nil, false
	}
	if remove {
		c.lastFetched = seq
		c.fetchCount++
	}
	return c.msg, true
}

// DoneFetching publishes the consumer's fetch sequence with release
// semantics, giving the producer permission to reclaim those slots, and
// resets the in-flight fetch count. A no-op call (no new fetches since the
// last DoneFetching) is safe and has no observable effect.
func (c *BlockingConsumer) DoneFetching() {
	ringfile.WriteSeqRelease(c.region, ringfile.BlockingSPSCConsumerCellOffset, c.lastFetched)
	c.fetchCount = 0
}

// RollBack unwinds the last n fetches, which must not exceed the number of
// fetches since the last DoneFetching.
func (c *BlockingConsumer) RollBack(n uint64) error {
	if n > c.fetchCount {
		return ringerr.New(ringerr.InvalidArgument,
			"spsc: rollback %d exceeds in-flight fetch count %d", n, c.fetchCount)
	}
	c.lastFetched -= n
	c.fetchCount -= n
	return nil
}

// Close releases the region, optionally deleting the backing file.
func (c *BlockingConsumer) Close(deleteFile bool) error {
	return c.region.Close(deleteFile)
}
