package domain

import "time"

// SessionDocument is a persisted session record keyed by its resume code.
// Payload holds the JSON-encoded session fields.
type SessionDocument struct {
	Code      string
	Subject   string
	Payload   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}
