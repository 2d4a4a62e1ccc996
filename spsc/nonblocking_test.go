package spsc

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AlephTX/aleph-ring/ringfile"
	"github.com/AlephTX/aleph-ring/ringtest"
)

func TestNonBlocking_NoWrapPreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nb-nowrap.ring")
	cfg := NonBlockingConfig{Path: path, Capacity: 64, MaxMessageSize: ringtest.TickerSize}

	p, err := OpenNonBlockingProducer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	defer p.Close(true)
	c, err := OpenNonBlockingConsumer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	defer c.Close(false)

	for i := 0; i < 32; i++ {
		m := p.NextToDispatch()
		m.(*ringtest.Ticker).ID = uint64(i)
	}
	require.NoError(t, p.Flush())

	for i := 0; i < 32; i++ {
		avail := c.AvailableToFetch()
		require.NotEqual(t, int64(-1), avail)
		m, ok := c.Fetch(true)
		require.True(t, ok)
		require.Equal(t, uint64(i), m.(*ringtest.Ticker).ID)
	}
}

func TestNonBlocking_NextToDispatchAlwaysSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nb-always.ring")
	cfg := NonBlockingConfig{Path: path, Capacity: 8, MaxMessageSize: ringtest.TickerSize}

	p, err := OpenNonBlockingProducer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	defer p.Close(true)

	for i := 0; i < 200; i++ {
		m := p.NextToDispatch()
		require.NotNil(t, m)
	}
}

func TestNonBlocking_WrapDetectedWhenConsumerAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nb-wrap.ring")
	cfg := NonBlockingConfig{Path: path, Capacity: 8, MaxMessageSize: ringtest.TickerSize}

	p, err := OpenNonBlockingProducer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	defer p.Close(true)
	c, err := OpenNonBlockingConsumer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	defer c.Close(false)

	for i := 0; i < 100; i++ {
		m := p.NextToDispatch()
		m.(*ringtest.Ticker).ID = uint64(i)
		if i%8 == 0 {
			require.NoError(t, p.Flush())
		}
	}
	require.NoError(t, p.Flush())

	require.Equal(t, int64(-1), c.AvailableToFetch())
	_, ok := c.Fetch(true)
	require.False(t, ok)
}

func TestNonBlocking_FallBehindToleranceBoundary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nb-tolerance.ring")
	cfg := NonBlockingConfig{
		Path: path, Capacity: 1024, MaxMessageSize: ringtest.TickerSize,
		FallBehindTolerance: 0.5,
	}

	p, err := OpenNonBlockingProducer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	defer p.Close(true)
	c, err := OpenNonBlockingConsumer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	defer c.Close(false)

	for i := 0; i < 512; i++ {
		p.NextToDispatch()
	}
	require.NoError(t, p.Flush())
	require.Equal(t, int64(512), c.AvailableToFetch())

	m := p.NextToDispatch()
	_ = m
	require.NoError(t, p.Flush())
	require.Equal(t, int64(-1), c.AvailableToFetch())
}

func TestNonBlocking_ChecksumMismatchLeavesPositionUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nb-checksum.ring")
	cfg := NonBlockingConfig{Path: path, Capacity: 16, MaxMessageSize: ringtest.TickerSize, Checksum: true}

	p, err := OpenNonBlockingProducer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	defer p.Close(true)
	c, err := OpenNonBlockingConsumer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	defer c.Close(false)

	m := p.NextToDispatch()
	m.(*ringtest.Ticker).ID = 1
	require.NoError(t, p.Flush())

	slotOff := ringfile.NonBlockingHeaderSize
	region := p.region
	region.PutUint64(slotOff, region.GetUint64(slotOff)^0xFFFFFFFF)

	_, ok := c.Fetch(true)
	require.False(t, ok)
	require.Equal(t, uint64(0), c.lastFetched)

	_, ok = c.Fetch(false)
	require.False(t, ok)
	require.Equal(t, uint64(0), c.lastFetched)
}

func TestNonBlocking_RollBackReplaysSameSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nb-rollback.ring")
	cfg := NonBlockingConfig{Path: path, Capacity: 16, MaxMessageSize: ringtest.TickerSize}

	p, err := OpenNonBlockingProducer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	defer p.Close(true)
	c, err := OpenNonBlockingConsumer(cfg, ringtest.NewFactory())
	require.NoError(t, err)
	defer c.Close(false)

	for i := 0; i < 4; i++ {
		p.NextToDispatch().(*ringtest.Ticker).ID = uint64(i)
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

