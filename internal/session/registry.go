// Package session owns the set of live connections a recorder process is
// watching: it creates a coordinator.Coordinator on first sight of a new
// connection key, routes payloads to it, and persists every emitted
// chunk and connection snapshot through a store.
package session

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/netrecorder/internal/coordinator"
	"github.com/gosuda/netrecorder/internal/identity"
	"github.com/gosuda/netrecorder/internal/recorder"
)

// Sink is the pair of persistence operations a Registry writes through
// after every payload: store.Store satisfies it directly.
type Sink interface {
	PutChunk(c recorder.Chunk) error
	PutConnection(c *recorder.Connection) error
}

// Registry holds one coordinator per live connection in a mutex-guarded
// map keyed by connection key.
type Registry struct {
	id        *identity.Identity
	powTarget float64
	overflow  int
	sink      Sink

	mu    sync.Mutex
	conns map[recorder.Key]*coordinator.Coordinator
}

// New creates an empty Registry. overflow is the pre-handshake buffered-
// byte bound threaded to every coordinator it creates.
func New(id *identity.Identity, powTarget float64, overflow int, sink Sink) *Registry {
	return &Registry{
		id:        id,
		powTarget: powTarget,
		overflow:  overflow,
		sink:      sink,
		conns:     make(map[recorder.Key]*coordinator.Coordinator),
	}
}

// Open registers a newly observed connection and returns its key. The
// caller learned of the connection out of band (e.g. from the capture
// layer's own accept/connect event); this recorder never initiates one.
func (r *Registry) Open(localAddr, remoteAddr string, initiator bool) recorder.Key {
	key := recorder.NewKey(localAddr, remoteAddr)
	r.mu.Lock()
	r.conns[key] = coordinator.NewWithOverflow(r.id, r.powTarget, key, initiator, r.overflow)
	r.mu.Unlock()
	return key
}

// Payload routes an observed payload to the connection's coordinator and
// persists everything it emits. It is a no-op, logged, if key is unknown
// (the capture layer delivered data for a connection never opened).
func (r *Registry) Payload(key recorder.Key, dir recorder.Direction, payload []byte) {
	c := r.lookup(key)
	if c == nil {
		log.Warn().Str("conn", key.String()).Msg("payload for unknown connection")
		return
	}
	for _, chunk := range c.OnPayload(dir, payload) {
		if err := r.sink.PutChunk(chunk); err != nil {
			log.Error().Err(err).Str("conn", key.String()).Msg("persist chunk")
		}
	}
	if err := r.sink.PutConnection(c.Connection()); err != nil {
		log.Error().Err(err).Str("conn", key.String()).Msg("persist connection")
	}
}

// Close flushes any buffered bytes for a connection and removes it from
// the registry.
func (r *Registry) Close(key recorder.Key) {
	c := r.lookup(key)
	if c == nil {
		return
	}
	for _, chunk := range c.OnClose() {
		if err := r.sink.PutChunk(chunk); err != nil {
			log.Error().Err(err).Str("conn", key.String()).Msg("persist chunk on close")
		}
	}
	if err := r.sink.PutConnection(c.Connection()); err != nil {
		log.Error().Err(err).Str("conn", key.String()).Msg("persist connection on close")
	}

	r.mu.Lock()
	delete(r.conns, key)
	r.mu.Unlock()
}

func (r *Registry) lookup(key recorder.Key) *coordinator.Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[key]
}
