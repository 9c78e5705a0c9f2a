// Package chunkbuf reassembles a length-prefixed chunk stream from
// arbitrarily sliced payload deliveries for a single direction.
package chunkbuf

import (
	"encoding/binary"

	"github.com/valyala/bytebufferpool"
)

// lengthPrefixSize is the width of the big-endian length field that opens
// every chunk.
const lengthPrefixSize = 2

// Buffer accumulates bytes for one direction and slices out complete
// chunks as they become available. It never fails on malformed input: it
// simply withholds a chunk until enough bytes have arrived. The counter is
// owned by the Buffer and increments exactly once per emitted chunk,
// including via Cleanup.
type Buffer struct {
	acc     bytebufferpool.ByteBuffer
	counter uint64
}

// HandleData appends payload bytes to the internal accumulator in arrival
// order.
func (b *Buffer) HandleData(payload []byte) {
	b.acc.Write(payload)
}

// Remaining returns the number of buffered bytes not yet consumed into an
// emitted chunk.
func (b *Buffer) Remaining() int {
	return len(b.acc.B)
}

// HaveChunk reports, without consuming, whether a complete first chunk is
// already buffered, returning a view of its bytes (length prefix
// included).
func (b *Buffer) HaveChunk() ([]byte, bool) {
	total, ok := b.chunkSize()
	if !ok {
		return nil, false
	}
	return b.acc.B[:total], true
}

// chunkSize returns the total on-wire size (length prefix + payload) of
// the next chunk if it is fully buffered.
func (b *Buffer) chunkSize() (int, bool) {
	if len(b.acc.B) < lengthPrefixSize {
		return 0, false
	}
	payloadLen := int(binary.BigEndian.Uint16(b.acc.B[:lengthPrefixSize]))
	total := lengthPrefixSize + payloadLen
	if len(b.acc.B) < total {
		return 0, false
	}
	return total, true
}

// Next destructively removes the next complete chunk, if buffered,
// returning its counter and raw bytes (length prefix included) and
// incrementing the counter.
func (b *Buffer) Next() (counter uint64, raw []byte, ok bool) {
	total, has := b.chunkSize()
	if !has {
		return 0, nil, false
	}
	raw = make([]byte, total)
	copy(raw, b.acc.B[:total])
	b.consume(total)
	counter = b.counter
	b.counter++
	return counter, raw, true
}

// Cleanup emits whatever bytes are currently buffered as a synthetic
// chunk, used when a direction is abandoned mid-chunk. Calling it with an
// empty buffer is a no-op: it emits nothing and does not advance the
// counter.
func (b *Buffer) Cleanup() (counter uint64, raw []byte, ok bool) {
	if len(b.acc.B) == 0 {
		return 0, nil, false
	}
	raw = make([]byte, len(b.acc.B))
	copy(raw, b.acc.B)
	b.consume(len(b.acc.B))
	counter = b.counter
	b.counter++
	return counter, raw, true
}

func (b *Buffer) consume(n int) {
	remaining := len(b.acc.B) - n
	copy(b.acc.B, b.acc.B[n:])
	b.acc.B = b.acc.B[:remaining]
}
