package recorder

import (
	"fmt"

	"github.com/google/uuid"
)

// Status is a Connection's lifecycle state.
type Status uint8

const (
	StatusOpen Status = iota
	StatusClosed
)

// Key identifies one observed TCP connection: a five-tuple plus a
// disambiguator so that restarts or address reuse never collide.
type Key struct {
	LocalAddr  string
	RemoteAddr string
	Disambig   uuid.UUID
}

// NewKey builds a Key for a newly observed stream.
func NewKey(localAddr, remoteAddr string) Key {
	return Key{
		LocalAddr:  localAddr,
		RemoteAddr: remoteAddr,
		Disambig:   uuid.New(),
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s<->%s#%s", k.LocalAddr, k.RemoteAddr, k.Disambig)
}

// Connection is the per-stream record the coordinator owns and mutates.
// It is created when the connection is opened, before its first payload,
// and persists for the connection's lifetime.
type Connection struct {
	Key         Key
	Initiator   bool
	PeerPubKey  *[32]byte
	Comment     Comment
	Status      Status
}

// NewConnection creates an open Connection record for a freshly observed
// stream.
func NewConnection(key Key, initiator bool) *Connection {
	return &Connection{
		Key:       key,
		Initiator: initiator,
		Status:    StatusOpen,
	}
}

// SetPeerPubKey records the peer's public key once learned from its
// connection message. Only ever set once.
func (c *Connection) SetPeerPubKey(pk [32]byte) {
	if c.PeerPubKey != nil {
		return
	}
	c.PeerPubKey = &pk
}

// Close marks the connection closed. Idempotent.
func (c *Connection) Close() {
	c.Status = StatusClosed
}
