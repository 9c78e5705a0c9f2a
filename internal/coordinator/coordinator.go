// Package coordinator owns the paired local/remote chunk-parser state
// machines for one connection and performs the single cross-direction
// rendezvous that derives session keys. See spec.md §4.D.
package coordinator

import (
	"github.com/rs/zerolog/log"

	"github.com/gosuda/netrecorder/internal/handshake"
	"github.com/gosuda/netrecorder/internal/identity"
	"github.com/gosuda/netrecorder/internal/parser"
	"github.com/gosuda/netrecorder/internal/recorder"
)

// PowTarget is the proof-of-work difficulty target soft checks run
// against. Overridable at construction time via internal/config.
type PowTarget = float64

// Coordinator owns one connection's local and remote halves plus its
// Connection record. It is the only mutator of the Connection during the
// run; the two halves never reference each other directly.
type Coordinator struct {
	id         *identity.Identity
	powTarget  float64
	conn       *recorder.Connection
	local      *parser.Half
	remote     *parser.Half
	rendezvous bool
}

// New creates a Coordinator for a freshly observed connection using the
// default pre-handshake overflow bound.
func New(id *identity.Identity, powTarget float64, key recorder.Key, initiator bool) *Coordinator {
	return NewWithOverflow(id, powTarget, key, initiator, parser.PreHandshakeOverflow)
}

// NewWithOverflow creates a Coordinator with a caller-supplied
// pre-handshake overflow bound, the knob internal/config exposes as
// -overflow-bound.
func NewWithOverflow(id *identity.Identity, powTarget float64, key recorder.Key, initiator bool, overflow int) *Coordinator {
	conn := recorder.NewConnection(key, initiator)
	return &Coordinator{
		id:        id,
		powTarget: powTarget,
		conn:      conn,
		local:     parser.NewHalfWithOverflow(recorder.Local, key, overflow),
		remote:    parser.NewHalfWithOverflow(recorder.Remote, key, overflow),
	}
}

// Connection returns the current, coordinator-owned Connection record.
func (c *Coordinator) Connection() *recorder.Connection { return c.conn }

// OnPayload routes an inbound payload to the direction's half. If both
// halves now hold a buffered connection message and the rendezvous has
// not yet run, it runs key derivation once, advances each half, emits
// both connection-message chunks, and stamps any soft-check comments on
// the Connection.
func (c *Coordinator) OnPayload(dir recorder.Direction, payload []byte) []recorder.Chunk {
	var half *parser.Half
	if dir == recorder.Local {
		half = c.local
	} else {
		half = c.remote
	}

	chunks, becameUncertain, decryptFailCounter := half.HandleData(payload)
	if becameUncertain {
		c.conn.Comment.SetUncertain(dir)
	}
	if decryptFailCounter != nil {
		c.conn.Comment.SetCannotDecrypt(dir, *decryptFailCounter)
	}

	if !c.rendezvous {
		if _, ok := c.local.HaveBufferedCM(); ok {
			if _, ok := c.remote.HaveBufferedCM(); ok {
				chunks = append(chunks, c.rendezvousOnce()...)
			}
		}
	}

	return chunks
}

// OnClose converts any half not already in a terminal-emit state to
// Uncertain, flushing its buffered bytes.
func (c *Coordinator) OnClose() []recorder.Chunk {
	var out []recorder.Chunk
	if chunk, ok := c.local.Close(); ok {
		out = append(out, chunk)
		c.conn.Comment.SetUncertain(recorder.Local)
	}
	if chunk, ok := c.remote.Close(); ok {
		out = append(out, chunk)
		c.conn.Comment.SetUncertain(recorder.Remote)
	}
	c.conn.Close()
	return out
}

// rendezvousOnce runs key derivation exactly once for this connection: it
// is only ever invoked from OnPayload, guarded by c.rendezvous.
func (c *Coordinator) rendezvousOnce() []recorder.Chunk {
	c.rendezvous = true

	localRaw, _ := c.local.HaveBufferedCM()
	remoteRaw, _ := c.remote.HaveBufferedCM()
	localCM := append([]byte(nil), localRaw...)
	remoteCM := append([]byte(nil), remoteRaw...)

	c.applySoftCheck(recorder.Local, localCM)
	c.applySoftCheck(recorder.Remote, remoteCM)

	keys, err := handshake.Derive(c.id.SecretKey, localCM, remoteCM, c.conn.Initiator)
	if err != nil {
		log.Warn().
			Str("conn", c.conn.Key.String()).
			Msg("key derivation failed, both directions falling back to raw recording")
		c.conn.Comment.SetWrongPk()

		var out []recorder.Chunk
		if chunk, ok := c.local.FinalizeWithoutKey(); ok {
			out = append(out, chunk)
		}
		if chunk, ok := c.remote.FinalizeWithoutKey(); ok {
			out = append(out, chunk)
		}
		return out
	}

	localChunk := c.local.FinalizeWithKey(keys.Local)
	remoteChunk := c.remote.FinalizeWithKey(keys.Remote)
	return []recorder.Chunk{localChunk, remoteChunk}
}

// applySoftCheck runs the independent §4.B soft check on one direction's
// connection message and stamps the resulting comment (if any) and
// learned peer public key onto the Connection. Soft-check failures never
// abort key derivation.
func (c *Coordinator) applySoftCheck(dir recorder.Direction, raw []byte) {
	result := handshake.SoftCheck(raw, c.powTarget)
	switch result.Err {
	case handshake.ErrTooShort:
		c.conn.Comment.SetTooShort(dir, result.ObservedLen)
	case handshake.ErrWrongPow:
		c.conn.Comment.SetWrongPow(dir, result.Target)
	}
	if result.HasPeerPubKey && dir == recorder.Remote {
		c.conn.SetPeerPubKey(result.PeerPubKey)
	}
}
