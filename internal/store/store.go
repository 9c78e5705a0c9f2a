// Package store persists recorder output: one row per emitted chunk and
// one row per connection, keyed so a forensic reader can page through a
// single connection's chunks in order. See spec.md §6.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/netrecorder/internal/recorder"
)

// ChunkSink persists emitted chunks. Writes are idempotent: replaying the
// same (connection, direction, counter) overwrites the prior record rather
// than duplicating it, since pebble keys are unique by construction.
type ChunkSink interface {
	PutChunk(c recorder.Chunk) error
}

// ConnectionSink persists Connection records, including their evolving
// Comment, each time the coordinator mutates one.
type ConnectionSink interface {
	PutConnection(c *recorder.Connection) error
}

// Store is the default pebble-backed ChunkSink and ConnectionSink.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if absent) a pebble database at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// chunkKey lays out connection/direction/counter so an ordered scan over a
// single connection's chunks naturally yields arrival order: the
// connection key's string form, a 0x00 separator (never legal in the uuid-
// suffixed key string), a one-byte direction tag, and the big-endian
// counter.
func chunkKey(c recorder.Chunk) []byte {
	prefix := c.ConnKey.String()
	key := make([]byte, 0, len(prefix)+1+1+8)
	key = append(key, 'c', 0x00)
	key = append(key, prefix...)
	key = append(key, 0x00, byte(c.Direction))
	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], c.Counter)
	return append(key, counter[:]...)
}

func connectionKey(k recorder.Key) []byte {
	return append([]byte{'n', 0x00}, k.String()...)
}

// storedChunk is the on-disk JSON form of a Chunk; Raw and Plaintext are
// stored as-is, nil Plaintext round-trips as a JSON null so a reader can
// tell "no plaintext" apart from "decrypted to zero bytes".
type storedChunk struct {
	ConnKey   string `json:"conn_key"`
	Direction uint8  `json:"direction"`
	Counter   uint64 `json:"counter"`
	Raw       []byte `json:"raw"`
	Plaintext []byte `json:"plaintext"`
}

// PutChunk writes a chunk record, synced so a crash immediately after
// return cannot lose it.
func (s *Store) PutChunk(c recorder.Chunk) error {
	val, err := json.Marshal(storedChunk{
		ConnKey:   c.ConnKey.String(),
		Direction: uint8(c.Direction),
		Counter:   c.Counter,
		Raw:       c.Raw,
		Plaintext: c.Plaintext,
	})
	if err != nil {
		return err
	}
	if err := s.db.Set(chunkKey(c), val, pebble.Sync); err != nil {
		return fmt.Errorf("store: put chunk: %w", err)
	}
	return nil
}

// PutConnection writes the current snapshot of a Connection record,
// overwriting any prior snapshot for the same key.
func (s *Store) PutConnection(c *recorder.Connection) error {
	val, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := s.db.Set(connectionKey(c.Key), val, pebble.Sync); err != nil {
		return fmt.Errorf("store: put connection: %w", err)
	}
	return nil
}

// GetConnection reads back a previously stored Connection snapshot. Used
// by forensic tooling and tests, not by the recording hot path.
func (s *Store) GetConnection(key recorder.Key) (*recorder.Connection, error) {
	val, closer, err := s.db.Get(connectionKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer closer.Close()

	var conn recorder.Connection
	if err := json.Unmarshal(val, &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

// ChunksForConnection scans every stored chunk for one connection, in
// (direction, counter) order, and calls fn for each. Scanning stops and
// returns fn's error if it returns one.
func (s *Store) ChunksForConnection(key recorder.Key, fn func(recorder.Chunk) error) error {
	prefix := append([]byte{'c', 0x00}, key.String()...)
	prefix = append(prefix, 0x00)
	upper := append(append([]byte{}, prefix...), 0xff)

	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := it.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("store: close iterator")
		}
	}()

	for it.First(); it.Valid(); it.Next() {
		var sc storedChunk
		if err := json.Unmarshal(it.Value(), &sc); err != nil {
			return err
		}
		if err := fn(recorder.Chunk{
			ConnKey:   key,
			Direction: recorder.Direction(sc.Direction),
			Counter:   sc.Counter,
			Raw:       sc.Raw,
			Plaintext: sc.Plaintext,
		}); err != nil {
			return err
		}
	}
	return it.Error()
}
