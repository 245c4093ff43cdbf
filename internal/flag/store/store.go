// Package store owns the source-of-truth read/write path for flags and their
// audit history. Stores are interface-driven so the in-memory and PostgreSQL
// implementations stay swappable and the service layer stays testable.
package store

import (
	"context"
	"errors"
	"time"

	"flaggate/internal/flag"
)

// Sentinel errors for infrastructure facts. Services translate these into
// coded domain errors; stores never speak HTTP.
var (
	ErrNotFound = errors.New("flag not found")
	ErrConflict = errors.New("flag key already exists")
)

// FlagStore is CRUD over flag records. Key uniqueness is the one invariant
// enforced here; everything else is validated before a payload arrives.
type FlagStore interface {
	// Create persists a new flag and fills in ID and timestamps.
	// Returns ErrConflict when the key is already live.
	Create(ctx context.Context, f *flag.Flag) error

	// GetByKey returns the flag for a key or ErrNotFound.
	GetByKey(ctx context.Context, key string) (*flag.Flag, error)

	// List returns flags in creation order with skip/limit pagination.
	List(ctx context.Context, skip, limit int) ([]flag.Flag, error)

	// Update applies a partial update: only non-nil fields change.
	// UpdatedAt moves to now. Returns the updated flag or ErrNotFound.
	Update(ctx context.Context, key string, upd flag.Update, now time.Time) (*flag.Flag, error)

	// Delete removes the flag and cascades to its audit history.
	Delete(ctx context.Context, key string) error
}

// AuditStore is the append-only history of flag mutations.
type AuditStore interface {
	Append(ctx context.Context, entry *flag.AuditEntry) error

	// ListByFlag returns entries for one flag, newest first, capped at limit.
	ListByFlag(ctx context.Context, flagID int64, limit int) ([]flag.AuditEntry, error)

	// ListRecent returns entries across all flags, newest first.
	ListRecent(ctx context.Context, limit int) ([]flag.AuditEntry, error)
}

// Store bundles both facades; implementations back them with one medium.
type Store interface {
	FlagStore
	AuditStore

	// Health reports whether the backing medium is reachable.
	Health(ctx context.Context) error
}
