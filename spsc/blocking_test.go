package spsc

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AlephTX/aleph-ring/message"
	"github.com/AlephTX/aleph-ring/ringtest"
)

var errTestWrite = errors.New("flaky write failure")

func TestBlocking_OrderAndNoDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocking.ring")
	cfg := BlockingConfig{Path: path, Capacity: 64, MaxMessageSize: ringtest.TickerSize}

	p, err := OpenBlockingProducer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	defer p.Close(true)

	c, err := OpenBlockingConsumer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	defer c.Close(false)

	const total = 5000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			m, ok := p.NextToDispatch()
			for !ok {
				require.NoError(t, p.Flush())
				m, ok = p.NextToDispatch()
			}
			m.(*ringtest.Ticker).ID = uint64(i)
			if i%16 == 0 {
				require.NoError(t, p.Flush())
			}
		}
		require.NoError(t, p.Flush())
	}()

	seen := make([]uint64, 0, total)
	for len(seen) < total {
		m, ok := c.Fetch(true)
		if !ok {
			continue
		}
		seen = append(seen, m.(*ringtest.Ticker).ID)
		if len(seen)%32 == 0 {
			c.DoneFetching()
		}
	}
	c.DoneFetching()
	wg.Wait()

	for i, id := range seen {
		require.Equal(t, uint64(i), id, "message out of order at position %d", i)
	}
}

func TestBlocking_ProducerBacksOffWhenConsumerAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "full.ring")
	cfg := BlockingConfig{Path: path, Capacity: 8, MaxMessageSize: ringtest.TickerSize}

	p, err := OpenBlockingProducer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	defer p.Close(true)

	for i := 0; i < 8; i++ {
		_, ok := p.NextToDispatch()
		require.True(t, ok, "slot %d should be claimable", i)
	}
	require.NoError(t, p.Flush())

	_, ok := p.NextToDispatch()
	require.False(t, ok, "ring is full, producer must back off")
}

func TestBlocking_DoneFetchingNoOpIsSafe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noop.ring")
	cfg := BlockingConfig{Path: path, Capacity: 16, MaxMessageSize: ringtest.TickerSize}

	p, err := OpenBlockingProducer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	defer p.Close(true)
	c, err := OpenBlockingConsumer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	defer c.Close(false)

	c.DoneFetching()
	c.DoneFetching()

	_, ok := p.NextToDispatch()
	require.True(t, ok)
	require.NoError(t, p.Flush())
	require.Equal(t, uint64(1), c.AvailableToFetch())
}

func TestBlocking_RollBackReplaysSameSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollback.ring")
	cfg := BlockingConfig{Path: path, Capacity: 16, MaxMessageSize: ringtest.TickerSize}

	p, err := OpenBlockingProducer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	defer p.Close(true)
	c, err := OpenBlockingConsumer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	defer c.Close(false)

	for i := 0; i < 4; i++ {
		m, ok := p.NextToDispatch()
		require.True(t, ok)
		m.(*ringtest.Ticker).ID = uint64(i)
	}
	require.NoError(t, p.Flush())

	var first []uint64
	for i := 0; i < 4; i++ {
		m, ok := c.Fetch(true)
		require.True(t, ok)
		first = append(first, m.(*ringtest.Ticker).ID)
	}
	require.NoError(t, c.RollBack(4))

	var second []uint64
	for i := 0; i < 4; i++ {
		m, ok := c.Fetch(true)
		require.True(t, ok)
		second = append(second, m.(*ringtest.Ticker).ID)
	}

	require.Equal(t, first, second)
}

func TestBlocking_RollBackRejectsExcessiveCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollback-bad.ring")
	cfg := BlockingConfig{Path: path, Capacity: 8, MaxMessageSize: ringtest.TickerSize}

	c, err := OpenBlockingConsumer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	defer c.Close(true)

	require.Error(t, c.RollBack(1))
}

func TestBlocking_CapacityDiscoveryFromPersistedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "discover.ring")
	cfg := BlockingConfig{Path: path, Capacity: 32, MaxMessageSize: ringtest.TickerSize}

	p, err := OpenBlockingProducer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	require.NoError(t, p.Close(false))

	inferred := BlockingConfig{Path: path, Capacity: -1, MaxMessageSize: -1}
	c, err := OpenBlockingConsumer(inferred, ringtest.NewFactory())
	require.NoError(t, err)
	defer c.Close(true)
}

type flakyMessage struct {
	failOn bool
}

func (m *flakyMessage) MaxSize() int { return 8 }

func (m *flakyMessage) WriteTo(dst []byte) (int, error) {
	if m.failOn {
		return 0, errTestWrite
	}
	return copy(dst, "flakyflk"), nil
}

func (m *flakyMessage) ReadFrom(src []byte) (int, error) { return 8, nil }

func TestBlocking_FlushErrorDoesNotDoubleFreePoolSlots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flush-error.ring")
	cfg := BlockingConfig{Path: path, Capacity: 4, MaxMessageSize: 8}

	p, err := OpenBlockingProducer(cfg, func() message.Message { return &flakyMessage{} })
	require.NoError(t, err)
	defer p.Close(true)

	_, ok := p.NextToDispatch()
	require.True(t, ok)
	failing, ok := p.NextToDispatch()
	require.True(t, ok)
	failing.(*flakyMessage).failOn = true
	_, ok = p.NextToDispatch()
	require.True(t, ok)

	require.Error(t, p.Flush())
	require.Len(t, p.pending, 1, "items queued after the failure stay pending")

	require.NoError(t, p.Flush())
	require.Empty(t, p.pending)

	seen := make(map[int]bool)
	for i := 0; i < 4; i++ {
		idx, _, ok := p.pool.Get()
		require.True(t, ok, "slot %d should still be claimable", i)
		require.False(t, seen[idx], "pool index %d handed out twice", idx)
		seen[idx] = true
	}
	_, _, ok = p.pool.Get()
	require.False(t, ok, "pool must not have manufactured extra slots")
}

func TestBlocking_MismatchedCapacityIsConfigurationError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mismatch.ring")
	cfg := BlockingConfig{Path: path, Capacity: 32, MaxMessageSize: ringtest.TickerSize}
	p, err := OpenBlockingProducer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	require.NoError(t, p.Close(false))

	bad := cfg
	bad.Capacity = 64
	_, err = OpenBlockingConsumer(bad, ringtest.NewFactory())
	require.Error(t, err)
}
