// Package message defines the serialization contract a ring's payload type
// implements. The ring itself never interprets message bytes; it only
// moves them between a slot address and the caller's instance.
package message

// Message is implemented by the fixed-layout payload type a ring carries.
// Encoding and decoding are plain memory operations: ordering against the
// ring's sequence-number publication is the ring's responsibility, not the
// message's.
type Message interface {
	// MaxSize is the largest number of bytes WriteTo will ever write. It
	// must be constant for the lifetime of a ring.
	MaxSize() int

	// WriteTo encodes the message into dst, which is at least MaxSize()
	// bytes, and returns the number of bytes written.
	WriteTo(dst []byte) (int, error)

	// ReadFrom decodes the message from src, which is at least MaxSize()
	// bytes, and returns the number of bytes consumed.
	ReadFrom(src []byte) (int, error)
}

// Factory builds a fresh, zero-value Message instance for pool seeding.
type Factory func() Message
