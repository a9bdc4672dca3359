package edit

import "github.com/google/uuid"

// SessionIDGenerator produces editing-session identifiers.
type SessionIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 session ids, so sessions
// opened later sort after earlier ones in logs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithSessionIDGenerator sets the generator used for the session id.
func WithSessionIDGenerator(g SessionIDGenerator) Option {
	return func(b *Buffer) {
		b.idGen = g
	}
}
