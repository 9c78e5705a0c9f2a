package recorder

// Comment is an append-only set of soft-failure annotations attached to a
// Connection. Every field is optional; once set, a field is never
// overwritten back to nil — downstream forensic value depends on every
// soft fault surviving for the life of the connection.
type Comment struct {
	OutgoingTooShort *int `json:"outgoing_too_short,omitempty"`
	IncomingTooShort *int `json:"incoming_too_short,omitempty"`

	OutgoingWrongPow *float64 `json:"outgoing_wrong_pow,omitempty"`
	IncomingWrongPow *float64 `json:"incoming_wrong_pow,omitempty"`

	OutgoingWrongPk bool `json:"outgoing_wrong_pk,omitempty"`

	OutgoingCannotDecrypt *uint64 `json:"outgoing_cannot_decrypt,omitempty"`
	IncomingCannotDecrypt *uint64 `json:"incoming_cannot_decrypt,omitempty"`

	OutgoingUncertain bool `json:"outgoing_uncertain,omitempty"`
	IncomingUncertain bool `json:"incoming_uncertain,omitempty"`
}

func intPtr(v int) *int { return &v }

func f64Ptr(v float64) *float64 { return &v }

func u64Ptr(v uint64) *uint64 { return &v }

// SetTooShort records a too-short connection message for the given direction.
// Never overwrites an already-set field.
func (c *Comment) SetTooShort(dir Direction, length int) {
	if dir == Local {
		if c.OutgoingTooShort == nil {
			c.OutgoingTooShort = intPtr(length)
		}
		return
	}
	if c.IncomingTooShort == nil {
		c.IncomingTooShort = intPtr(length)
	}
}

// SetWrongPow records a failed proof-of-work check for the given direction.
func (c *Comment) SetWrongPow(dir Direction, target float64) {
	if dir == Local {
		if c.OutgoingWrongPow == nil {
			c.OutgoingWrongPow = f64Ptr(target)
		}
		return
	}
	if c.IncomingWrongPow == nil {
		c.IncomingWrongPow = f64Ptr(target)
	}
}

// SetWrongPk records that key derivation itself failed. Always local-only
// per spec: the hard failure is reported once on the connection, not
// per-direction.
func (c *Comment) SetWrongPk() {
	c.OutgoingWrongPk = true
}

// SetCannotDecrypt records the first chunk counter at which authenticated
// decryption failed on the given direction.
func (c *Comment) SetCannotDecrypt(dir Direction, counter uint64) {
	if dir == Local {
		if c.OutgoingCannotDecrypt == nil {
			c.OutgoingCannotDecrypt = u64Ptr(counter)
		}
		return
	}
	if c.IncomingCannotDecrypt == nil {
		c.IncomingCannotDecrypt = u64Ptr(counter)
	}
}

// SetUncertain records that the given direction was flushed raw as
// Uncertain: its handshake was abandoned before reaching HaveKey, or it
// still held buffered bytes when the connection closed.
func (c *Comment) SetUncertain(dir Direction) {
	if dir == Local {
		c.OutgoingUncertain = true
		return
	}
	c.IncomingUncertain = true
}
