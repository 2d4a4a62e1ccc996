package ringtest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTicker_WriteReadRoundTrip(t *testing.T) {
	src := &Ticker{
		ID:         12345,
		ExchangeID: 3,
		SymbolID:   17,
		TimestampN: 1700000000000,
		BidPrice:   100.125,
		AskPrice:   100.250,
	}
	buf := make([]byte, TickerSize)
	n, err := src.WriteTo(buf)
	require.NoError(t, err)
	require.Equal(t, 35, n)

	dst := NewTicker()
	n, err = dst.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, 35, n)
	require.Equal(t, src, dst)
}

func TestTicker_WriteTo_RejectsShortBuffer(t *testing.T) {
	src := NewTicker()
	_, err := src.WriteTo(make([]byte, TickerSize-1))
	require.Error(t, err)
}

func TestTicker_ReadFrom_RejectsShortBuffer(t *testing.T) {
	dst := NewTicker()
	_, err := dst.ReadFrom(make([]byte, TickerSize-1))
	require.Error(t, err)
}

func TestTicker_MaxSize(t *testing.T) {
	require.Equal(t, TickerSize, NewTicker().MaxSize())
}
