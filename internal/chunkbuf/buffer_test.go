package chunkbuf

import (
	"bytes"
	"testing"
)

func chunkBytes(payload []byte) []byte {
	out := make([]byte, 2+len(payload))
	out[0] = byte(len(payload) >> 8)
	out[1] = byte(len(payload))
	copy(out[2:], payload)
	return out
}

func TestBufferSingleChunkWholeDelivery(t *testing.T) {
	var b Buffer
	chunk := chunkBytes([]byte("hello"))
	b.HandleData(chunk)

	view, ok := b.HaveChunk()
	if !ok {
		t.Fatalf("expected a complete chunk to be visible")
	}
	if !bytes.Equal(view, chunk) {
		t.Fatalf("view mismatch: got %x want %x", view, chunk)
	}

	counter, raw, ok := b.Next()
	if !ok || counter != 0 {
		t.Fatalf("expected counter 0, got %d ok=%v", counter, ok)
	}
	if !bytes.Equal(raw, chunk) {
		t.Fatalf("raw mismatch: got %x want %x", raw, chunk)
	}
	if b.Remaining() != 0 {
		t.Fatalf("expected empty buffer, got %d remaining", b.Remaining())
	}
}

func TestBufferSlicingIndependence(t *testing.T) {
	chunk1 := chunkBytes([]byte("aaaa"))
	chunk2 := chunkBytes([]byte("bbbbbbbb"))
	stream := append(append([]byte{}, chunk1...), chunk2...)

	slicings := [][][]byte{
		{stream},
		{stream[:1], stream[1:]},
		{stream[:3], stream[3:7], stream[7:]},
		splitEvery(stream, 1),
	}

	var results [][]uint64
	for _, slicing := range slicings {
		var b Buffer
		var counters []uint64
		for _, part := range slicing {
			b.HandleData(part)
			for {
				counter, _, ok := b.Next()
				if !ok {
					break
				}
				counters = append(counters, counter)
			}
		}
		results = append(results, counters)
	}

	for i := 1; i < len(results); i++ {
		if len(results[i]) != len(results[0]) {
			t.Fatalf("slicing %d produced %d chunks, want %d", i, len(results[i]), len(results[0]))
		}
		for j := range results[0] {
			if results[i][j] != results[0][j] {
				t.Fatalf("slicing %d counter[%d] = %d, want %d", i, j, results[i][j], results[0][j])
			}
		}
	}
}

func splitEvery(b []byte, n int) [][]byte {
	var out [][]byte
	for i := 0; i < len(b); i += n {
		end := min(i+n, len(b))
		out = append(out, b[i:end])
	}
	return out
}

func TestBufferCounterMonotonic(t *testing.T) {
	var b Buffer
	for i := range 5 {
		b.HandleData(chunkBytes([]byte{byte(i)}))
	}
	for want := uint64(0); want < 5; want++ {
		counter, _, ok := b.Next()
		if !ok || counter != want {
			t.Fatalf("expected counter %d, got %d ok=%v", want, counter, ok)
		}
	}
}

func TestBufferEmptyChunk(t *testing.T) {
	var b Buffer
	b.HandleData([]byte{0x00, 0x00})
	counter, raw, ok := b.Next()
	if !ok || counter != 0 {
		t.Fatalf("expected counter 0, got %d ok=%v", counter, ok)
	}
	if len(raw) != 2 {
		t.Fatalf("expected 2-byte raw, got %d", len(raw))
	}
}

func TestBufferCleanupIdempotentOnEmpty(t *testing.T) {
	var b Buffer
	_, _, ok := b.Cleanup()
	if ok {
		t.Fatalf("cleanup on empty buffer should report ok=false")
	}
	if b.counter != 0 {
		t.Fatalf("cleanup on empty buffer must not advance the counter")
	}
}

func TestBufferCleanupFlushesResidual(t *testing.T) {
	var b Buffer
	b.HandleData([]byte{0x00, 0x05, 'a', 'b'}) // incomplete: declares 5, has 2
	counter, raw, ok := b.Cleanup()
	if !ok || counter != 0 {
		t.Fatalf("expected cleanup to flush residual at counter 0")
	}
	if !bytes.Equal(raw, []byte{0x00, 0x05, 'a', 'b'}) {
		t.Fatalf("cleanup raw mismatch: got %x", raw)
	}
	if b.Remaining() != 0 {
		t.Fatalf("buffer should be empty after cleanup")
	}

	// A subsequent cleanup with nothing buffered is a no-op and does not
	// advance the counter further.
	_, _, ok = b.Cleanup()
	if ok {
		t.Fatalf("second cleanup should be a no-op")
	}
	if b.counter != 1 {
		t.Fatalf("counter should remain at 1 after no-op cleanup, got %d", b.counter)
	}
}

func TestBufferMaxChunkSize(t *testing.T) {
	var b Buffer
	payload := make([]byte, 65535)
	b.HandleData(chunkBytes(payload))
	_, raw, ok := b.Next()
	if !ok {
		t.Fatalf("expected max-size chunk to be emitted")
	}
	if len(raw) != 65537 {
		t.Fatalf("expected 65537-byte raw, got %d", len(raw))
	}
}
