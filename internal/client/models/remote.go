package models

import (
	"encoding/json"
	"time"
)

// RemoteSnapshot is the authoritative remote copy of a record as returned
// with a conflict or by a fetch.
type RemoteSnapshot struct {
	Payload   json.RawMessage
	UpdatedAt time.Time
	Version   int64
	// Deleted marks a remote tombstone.
	Deleted bool
}
