// Package parser implements the per-direction chunk-parser state machine:
// Initial -> HaveCm -> {HaveKey, HaveNotKey}, HaveKey <-> HaveData (the
// drain loop lives inside HandleData), HaveKey -> CannotDecrypt on a
// decrypt failure, Initial/HaveCm -> Uncertain when trust in the stream
// is lost before a key is ever derived, and Initial/HaveCm/HaveKey ->
// Uncertain on Close. See spec.md §4.C.
package parser

import (
	"github.com/rs/zerolog/log"

	"github.com/gosuda/netrecorder/internal/chunkbuf"
	"github.com/gosuda/netrecorder/internal/handshake"
	"github.com/gosuda/netrecorder/internal/recorder"
)

// PreHandshakeOverflow is the default defensive bound on buffered-but-
// unconsumed bytes while waiting at HaveCm for the rendezvous. Exceeding
// it forces the direction to Uncertain.
const PreHandshakeOverflow = 0x20000 // 128 KiB

// Half is one direction's chunk-parser state machine. A Coordinator owns
// exactly two Halves (local, remote) and is the only code that reaches
// into either of them.
type Half struct {
	dir      recorder.Direction
	connKey  recorder.Key
	buf      chunkbuf.Buffer
	kind     Kind
	key      handshake.Key
	overflow int
}

// NewHalf creates a fresh Half in the Initial state, using the default
// pre-handshake overflow bound.
func NewHalf(dir recorder.Direction, connKey recorder.Key) *Half {
	return NewHalfWithOverflow(dir, connKey, PreHandshakeOverflow)
}

// NewHalfWithOverflow creates a fresh Half in the Initial state with a
// caller-supplied pre-handshake overflow bound, letting internal/config
// override the default per spec.md §4.C's overflow guard.
func NewHalfWithOverflow(dir recorder.Direction, connKey recorder.Key, overflow int) *Half {
	return &Half{
		dir:      dir,
		connKey:  connKey,
		kind:     KindInitial,
		overflow: overflow,
	}
}

// Kind reports the half's current state tag.
func (h *Half) Kind() Kind { return h.kind }

func (h *Half) chunk(counter uint64, raw, plain []byte) recorder.Chunk {
	return recorder.Chunk{
		ConnKey:   h.connKey,
		Direction: h.dir,
		Counter:   counter,
		Raw:       raw,
		Plaintext: plain,
	}
}

// HaveBufferedCM reports whether a complete connection-message chunk is
// buffered and not yet consumed — the signal the coordinator polls to
// decide whether both halves are ready for the rendezvous.
func (h *Half) HaveBufferedCM() ([]byte, bool) {
	if h.kind != KindHaveCm {
		return nil, false
	}
	return h.buf.HaveChunk()
}

// HandleData feeds one payload delivery into the half's current state.
// It returns every chunk this call emits, whether the half just
// transitioned into Uncertain, and — if a decrypt failure just fired —
// the failing chunk's counter, so the coordinator can stamp the
// connection's comment.
func (h *Half) HandleData(payload []byte) (chunks []recorder.Chunk, becameUncertain bool, decryptFailCounter *uint64) {
	switch h.kind {
	case KindInitial:
		h.buf.HandleData(payload)
		if _, ok := h.buf.HaveChunk(); ok {
			h.kind = KindHaveCm
		}
		return nil, false, nil

	case KindHaveCm:
		h.buf.HandleData(payload)
		if h.buf.Remaining() > h.overflow {
			c, ok := h.forceUncertain()
			return wrap(c, ok), true, nil
		}
		return nil, false, nil

	case KindUncertain, KindHaveNotKey, KindCannotDecrypt:
		// No framing can be trusted once the stream has reached any of
		// these states: every subsequent payload is buffered and
		// immediately flushed as a synthetic chunk with empty plaintext.
		h.buf.HandleData(payload)
		counter, raw, ok := h.buf.Cleanup()
		if !ok {
			return nil, false, nil
		}
		return []recorder.Chunk{h.chunk(counter, raw, nil)}, false, nil

	case KindHaveKey:
		h.buf.HandleData(payload)
		out, failCounter := h.drain()
		return out, false, failCounter

	default:
		return nil, false, nil
	}
}

// drain iterates every complete chunk currently buffered, decrypting each
// with the half's session key. On the first decrypt failure it records
// the failing counter, emits that chunk with empty plaintext, and
// transitions to CannotDecrypt, returning the failing counter so the
// caller can stamp the connection's comment; all complete chunks before
// the failure are still returned with their plaintext intact. The half
// returns to (stays in) HaveKey once the buffer is drained without error.
func (h *Half) drain() (chunks []recorder.Chunk, decryptFailCounter *uint64) {
	var out []recorder.Chunk
	for {
		counter, raw, ok := h.buf.Next()
		if !ok {
			return out, nil
		}
		plain, err := h.key.Decrypt(raw)
		if err != nil {
			log.Warn().
				Str("conn", h.connKey.String()).
				Str("direction", h.dir.String()).
				Uint64("counter", counter).
				Msg("cannot decrypt chunk, direction lost")
			out = append(out, h.chunk(counter, raw, nil))
			h.kind = KindCannotDecrypt
			failed := counter
			return out, &failed
		}
		out = append(out, h.chunk(counter, raw, plain))
	}
}

// FinalizeWithKey consumes the buffered connection-message chunk,
// emitting it with plaintext equal to raw[2:], and transitions to
// HaveKey carrying the derived session key.
func (h *Half) FinalizeWithKey(key handshake.Key) recorder.Chunk {
	counter, raw, ok := h.buf.Next()
	if !ok {
		panic("parser: FinalizeWithKey called without a buffered connection message")
	}
	if remaining := h.buf.Remaining(); remaining > 0 {
		log.Warn().
			Str("conn", h.connKey.String()).
			Str("direction", h.dir.String()).
			Int("residual_bytes", remaining).
			Msg("have bytes after connection message received, but before got key")
	}
	h.key = key
	h.kind = KindHaveKey
	return h.chunk(counter, raw, append([]byte(nil), raw[2:]...))
}

// FinalizeWithoutKey flushes the buffered connection-message chunk via
// cleanup (raw only, no plaintext) and transitions to HaveNotKey.
func (h *Half) FinalizeWithoutKey() (recorder.Chunk, bool) {
	counter, raw, ok := h.buf.Cleanup()
	h.kind = KindHaveNotKey
	if !ok {
		return recorder.Chunk{}, false
	}
	return h.chunk(counter, raw, nil), true
}

// forceUncertain flushes the current buffer and transitions to
// Uncertain. Used both by the pre-handshake overflow guard and by
// Close() for any half abandoned mid-handshake.
func (h *Half) forceUncertain() (recorder.Chunk, bool) {
	counter, raw, ok := h.buf.Cleanup()
	h.kind = KindUncertain
	if !ok {
		return recorder.Chunk{}, false
	}
	return h.chunk(counter, raw, nil), true
}

// Close converts the half to Uncertain if it has not already reached a
// terminal-emit state, flushing any buffered bytes. It is a no-op for
// halves already in Uncertain, HaveNotKey, or CannotDecrypt.
func (h *Half) Close() (recorder.Chunk, bool) {
	switch h.kind {
	case KindUncertain, KindHaveNotKey, KindCannotDecrypt:
		return recorder.Chunk{}, false
	default:
		return h.forceUncertain()
	}
}

func wrap(c recorder.Chunk, ok bool) []recorder.Chunk {
	if !ok {
		return nil
	}
	return []recorder.Chunk{c}
}
