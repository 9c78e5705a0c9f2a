package parser

// Kind tags the current state of a per-direction chunk-parser state
// machine. The coordinator is the sole owner of a Half; transitions
// replace the Kind (and any state-specific payload) in place rather than
// allocating a new wrapper type, which keeps the common context — buffer,
// direction, connection key — in one struct instead of duplicated across
// per-state types.
type Kind uint8

const (
	// KindInitial buffers bytes until the first complete chunk (the
	// peer's connection message) is present.
	KindInitial Kind = iota
	// KindHaveCm holds the buffered connection-message chunk, waiting
	// for the coordinator's cross-direction rendezvous.
	KindHaveCm
	// KindUncertain: framing abandoned, either before the handshake
	// reached HaveKey or because Close was called on a half still in
	// Initial, HaveCm, or HaveKey.
	KindUncertain
	// KindHaveKey: idle with a session key, waiting for payload.
	KindHaveKey
	// KindHaveNotKey: handshake ran but key derivation failed.
	KindHaveNotKey
	// KindCannotDecrypt: stream-level auth lost after a successful
	// handshake.
	KindCannotDecrypt
)

func (k Kind) String() string {
	switch k {
	case KindInitial:
		return "initial"
	case KindHaveCm:
		return "have_cm"
	case KindUncertain:
		return "uncertain"
	case KindHaveKey:
		return "have_key"
	case KindHaveNotKey:
		return "have_not_key"
	case KindCannotDecrypt:
		return "cannot_decrypt"
	default:
		return "unknown"
	}
}
