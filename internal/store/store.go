package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Provisioning record
	SaveProvisioning(p *Provisioning) error
	GetProvisioning() (*Provisioning, error)
	ClearProvisioning() error

	// Join journal, oldest first
	AppendHistory(e *HistoryEntry) error
	ListHistory(limit int) ([]*HistoryEntry, error)

	// Close the store
	Close() error
}
