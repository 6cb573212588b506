package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

// TransferRecord is one concluded transfer. Peers and enums are kept as
// plain strings so the history survives schema-free across releases.
type TransferRecord struct {
	ID          string
	Direction   string
	ContentType string
	Source      string
	Destination string
	FinalState  string
	ItemCount   int
	CreatedAt   time.Time
	ConcludedAt time.Time
}

func (r TransferRecord) validate() error {
	if r.ID == "" {
		return errors.New("transfer_id is required")
	}
	if r.Direction == "" {
		return errors.New("direction is required")
	}
	if r.FinalState == "" {
		return errors.New("final_state is required")
	}
	return nil
}
