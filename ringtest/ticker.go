// Package ringtest provides a fixed-layout demo message and a factory for
// it, shared by the package tests and the cmd/ringtool demonstrator.
// It is not part of the ring transport's core: it plays the role of the
// user-supplied message layout the spec treats as an external collaborator.
package ringtest

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/AlephTX/aleph-ring/message"
)

// TickerSize is the wire size of a Ticker message, rounded up from its
// 35 packed bytes to a tidier slot size.
const TickerSize = 40

// Ticker is a small fixed-layout quote update, grounded on the teacher's
// ShmBboMessage fields but trimmed to what a generic demo/test message
// needs: an identifying sequence number plus a handful of price fields.
type Ticker struct {
	ID         uint64
	ExchangeID uint8
	SymbolID   uint16
	TimestampN uint64
	BidPrice   float64
	AskPrice   float64
}

// NewTicker returns a fresh Ticker.
func NewTicker() *Ticker { return &Ticker{} }

// NewFactory returns a message.Factory producing fresh Ticker instances,
// for use as the newMsg argument of any producer/consumer opener.
func NewFactory() message.Factory {
	return func() message.Message { return NewTicker() }
}

// MaxSize implements message.Message.
func (t *Ticker) MaxSize() int { return TickerSize }

// WriteTo implements message.Message.
func (t *Ticker) WriteTo(dst []byte) (int, error) {
	if len(dst) < TickerSize {
		return 0, errors.New("ringtest: destination too small for Ticker")
	}
	binary.LittleEndian.PutUint64(dst[0:8], t.ID)
	dst[8] = t.ExchangeID
	binary.LittleEndian.PutUint16(dst[9:11], t.SymbolID)
	binary.LittleEndian.PutUint64(dst[11:19], t.TimestampN)
	binary.LittleEndian.PutUint64(dst[19:27], math.Float64bits(t.BidPrice))
	binary.LittleEndian.PutUint64(dst[27:35], math.Float64bits(t.AskPrice))
	return 35, nil
}

// ReadFrom implements message.Message.
func (t *Ticker) ReadFrom(src []byte) (int, error) {
	if len(src) < TickerSize {
		return 0, errors.New("ringtest: source too small for Ticker")
	}
	t.ID = binary.LittleEndian.Uint64(src[0:8])
	t.ExchangeID = src[8]
	t.SymbolID = binary.LittleEndian.Uint16(src[9:11])
	t.TimestampN = binary.LittleEndian.Uint64(src[11:19])
	t.BidPrice = math.Float64frombits(binary.LittleEndian.Uint64(src[19:27]))
	t.AskPrice = math.Float64frombits(binary.LittleEndian.Uint64(src[27:35]))
	return 35, nil
}
