package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"flaggate/internal/flag"
)

// InMemoryStore keeps flags and audit entries in maps guarded by a RWMutex.
// It backs development, demos, and unit tests; durability comes from the
// PostgreSQL implementation.
type InMemoryStore struct {
	mu         sync.RWMutex
	flags      map[string]flag.Flag
	audits     []flag.AuditEntry
	nextFlagID int64
	nextAudit  int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{flags: make(map[string]flag.Flag)}
}

func (s *InMemoryStore) Create(_ context.Context, f *flag.Flag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.flags[f.Key]; exists {
		return ErrConflict
	}
	s.nextFlagID++
	f.ID = s.nextFlagID
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = f.CreatedAt
	}
	s.flags[f.Key] = *f
	return nil
}

func (s *InMemoryStore) GetByKey(_ context.Context, key string) (*flag.Flag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flags[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := f
	return &out, nil
}

func (s *InMemoryStore) List(_ context.Context, skip, limit int) ([]flag.Flag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]flag.Flag, 0, len(s.flags))
	for _, f := range s.flags {
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	if skip >= len(all) {
		return []flag.Flag{}, nil
	}
	all = all[skip:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *InMemoryStore) Update(_ context.Context, key string, upd flag.Update, now time.Time) (*flag.Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flags[key]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		f.Name = *upd.Name
	}
	if upd.Description != nil {
		f.Description = *upd.Description
	}
	if upd.Enabled != nil {
		f.Enabled = *upd.Enabled
	}
	if upd.RolloutPercentage != nil {
		f.RolloutPercentage = *upd.RolloutPercentage
	}
	// UpdatedAt is monotonic non-decreasing even if the caller's clock lags.
	if now.After(f.UpdatedAt) {
		f.UpdatedAt = now
	}
	s.flags[key] = f
	out := f
	return &out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flags[key]
	if !ok {
		return ErrNotFound
	}
	delete(s.flags, key)
	// Cascade: drop the flag's audit history with it.
	kept := s.audits[:0]
	for _, entry := range s.audits {
		if entry.FlagID != f.ID {
			kept = append(kept, entry)
		}
	}
	s.audits = kept
	return nil
}

func (s *InMemoryStore) Append(_ context.Context, entry *flag.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAudit++
	entry.ID = s.nextAudit
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	s.audits = append(s.audits, *entry)
	return nil
}

func (s *InMemoryStore) ListByFlag(_ context.Context, flagID int64, limit int) ([]flag.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(limit, func(e flag.AuditEntry) bool { return e.FlagID == flagID }), nil
}

func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]flag.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(limit, func(flag.AuditEntry) bool { return true }), nil
}

// collect walks entries newest-first. Callers hold the read lock.
func (s *InMemoryStore) collect(limit int, match func(flag.AuditEntry) bool) []flag.AuditEntry {
	out := []flag.AuditEntry{}
	for i := len(s.audits) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if match(s.audits[i]) {
			out = append(out, s.audits[i])
		}
	}
	return out
}

func (s *InMemoryStore) Health(context.Context) error { return nil }
