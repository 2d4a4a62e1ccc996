package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPool_GetPutRoundTrip(t *testing.T) {
	p := New(4, func() int { return 0 })
	require.Equal(t, 4, p.Cap())
	require.Equal(t, 4, p.Available())

	idx, v, ok := p.Get()
	require.True(t, ok)
	require.Equal(t, 0, v)
	require.Equal(t, 3, p.Available())

	p.Put(idx)
	require.Equal(t, 4, p.Available())
}

func TestPool_ExhaustionReturnsFalse(t *testing.T) {
	p := New(2, func() int { return 0 })
	_, _, ok1 := p.Get()
	_, _, ok2 := p.Get()
	_, _, ok3 := p.Get()
	require.True(t, ok1)
	require.True(t, ok2)
	require.False(t, ok3)
}

func TestPool_AtDoesNotClaim(t *testing.T) {
	p := New(1, func() int { return 99 })
	idx, v, ok := p.Get()
	require.True(t, ok)
	require.Equal(t, 99, v)
	require.Equal(t, v, p.At(idx))
	require.Equal(t, 0, p.Available())
	require.Equal(t, v, p.At(idx))
}

func TestPool_NoInstanceAllocatedAfterNew(t *testing.T) {
	calls := 0
	p := New(5, func() int { calls++; return calls })
	require.Equal(t, 5, calls)
	for i := 0; i < 5; i++ {
		p.Get()
	}
	require.Equal(t, 5, calls)
}
