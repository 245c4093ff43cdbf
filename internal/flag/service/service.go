// Package service orchestrates the flag lifecycle: validation, the
// source-of-truth store, the advisory cache, the audit trail, and the
// optional event stream. Handlers call this layer and nothing below it.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"flaggate/internal/audit"
	"flaggate/internal/flag"
	"flaggate/internal/flag/cache"
	"flaggate/internal/flag/metrics"
	"flaggate/internal/flag/store"
	dErrors "flaggate/pkg/domainerrors"
	"flaggate/pkg/requestcontext"
)

// Service wires the flag store, cache, audit stream, and metrics together.
// The cache is advisory throughout: it can vanish mid-request and every
// operation still completes against the store.
type Service struct {
	store   store.Store
	cache   *cache.Cache
	stream  *audit.Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New constructs a Service. stream may be nil when no event fan-out is
// configured; metrics may be nil in tests.
func New(st store.Store, c *cache.Cache, stream *audit.Publisher, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = cache.New(nil, 0, logger, m)
	}
	return &Service{
		store:   st,
		cache:   c,
		stream:  stream,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Create validates and persists a new flag, warms the cache, and records the
// mutation. The write ordering matters: the store commits first, the cache
// warm is best-effort, and the audit entry follows the durable write.
func (s *Service) Create(ctx context.Context, f *flag.Flag) (*flag.Flag, error) {
	f.Key = flag.NormalizeKey(f.Key)
	if err := flag.ValidateKey(f.Key); err != nil {
		return nil, err
	}
	if err := validateName(f.Name); err != nil {
		return nil, err
	}
	f.RolloutPercentage = flag.ClampPercentage(f.RolloutPercentage)

	if err := s.store.Create(ctx, f); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, dErrors.Newf(dErrors.CodeConflict, "flag with key %q already exists", f.Key)
		}
		return nil, fmt.Errorf("create flag: %w", err)
	}

	s.cache.SetFlag(ctx, f, 0)
	s.recordMutation(ctx, f, flag.ActionCreated, "", snapshot(f))

	s.logger.InfoContext(ctx, "flag created",
		"flag_key", f.Key,
		"enabled", f.Enabled,
		"rollout_percentage", f.RolloutPercentage,
	)
	return f, nil
}

// Get returns a flag by key, reading through the cache.
func (s *Service) Get(ctx context.Context, key string) (*flag.Flag, error) {
	return s.getFlag(ctx, flag.NormalizeKey(key))
}

// List returns flags in creation order. Listing always hits the store: the
// cache holds single-key entries, not collections.
func (s *Service) List(ctx context.Context, skip, limit int) ([]flag.Flag, error) {
	flags, err := s.store.List(ctx, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	return flags, nil
}

// Update applies a partial mutation. Cached state derived from the flag is
// invalidated, never repopulated here: a concurrent reader filling the cache
// from the committed row is correct, this writer refilling from its own view
// could resurrect a lost race.
func (s *Service) Update(ctx context.Context, key string, upd flag.Update) (*flag.Flag, error) {
	key = flag.NormalizeKey(key)

	old, err := s.store.GetByKey(ctx, key)
	if err != nil {
		return nil, s.translateLookup(key, err)
	}
	if upd.Empty() {
		return old, nil
	}
	if upd.Name != nil {
		if err := validateName(*upd.Name); err != nil {
			return nil, err
		}
	}
	if upd.RolloutPercentage != nil {
		clamped := flag.ClampPercentage(*upd.RolloutPercentage)
		upd.RolloutPercentage = &clamped
	}

	updated, err := s.store.Update(ctx, key, upd, s.now().UTC())
	if err != nil {
		return nil, s.translateLookup(key, err)
	}

	s.cache.InvalidateFlag(ctx, key)
	s.recordMutation(ctx, updated, flag.ActionUpdated, snapshot(old), snapshot(updated))

	s.logger.InfoContext(ctx, "flag updated",
		"flag_key", key,
		"enabled", updated.Enabled,
		"rollout_percentage", updated.RolloutPercentage,
	)
	return updated, nil
}

// Delete removes a flag. The audit entry is written before the row goes away
// because the store cascades history on delete; the event stream keeps the
// record for consumers that outlive the cascade.
func (s *Service) Delete(ctx context.Context, key string) error {
	key = flag.NormalizeKey(key)

	old, err := s.store.GetByKey(ctx, key)
	if err != nil {
		return s.translateLookup(key, err)
	}

	s.recordMutation(ctx, old, flag.ActionDeleted, snapshot(old), "")
	s.cache.InvalidateFlag(ctx, key)

	if err := s.store.Delete(ctx, key); err != nil {
		return s.translateLookup(key, err)
	}

	s.logger.InfoContext(ctx, "flag deleted", "flag_key", key)
	return nil
}

// Evaluate decides whether key is on for userID, serving from the evaluation
// cache when possible. Negative results (flag missing) are cached too, so a
// hot loop asking about a deleted flag does not hammer the store.
func (s *Service) Evaluate(ctx context.Context, key, userID string) (*flag.Evaluation, error) {
	start := s.now()
	defer func() { s.metrics.ObserveEvaluateLatency(s.now().Sub(start)) }()

	key = flag.NormalizeKey(key)

	if cached, ok := s.cache.GetEvaluation(ctx, key, userID); ok {
		if cached.Reason == flag.ReasonNotFound {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "flag %q not found", key)
		}
		s.metrics.RecordEvaluation(cached.Enabled)
		return &cached, nil
	}

	f, err := s.getFlag(ctx, key)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeNotFound {
			s.cache.SetEvaluation(ctx, key, userID, false, flag.ReasonNotFound, 0)
		}
		return nil, err
	}

	enabled, reason := flag.Evaluate(f, userID)
	s.cache.SetEvaluation(ctx, key, userID, enabled, reason, 0)
	s.metrics.RecordEvaluation(enabled)

	return &flag.Evaluation{Key: key, Enabled: enabled, Reason: reason}, nil
}

// Audit returns the newest-first mutation history of one flag.
func (s *Service) Audit(ctx context.Context, key string, limit int) ([]flag.AuditEntry, error) {
	f, err := s.getFlag(ctx, flag.NormalizeKey(key))
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListByFlag(ctx, f.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

// RecentAudit returns the newest-first mutation history across all flags.
func (s *Service) RecentAudit(ctx context.Context, limit int) ([]flag.AuditEntry, error) {
	entries, err := s.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent audit entries: %w", err)
	}
	return entries, nil
}

// CacheStats exposes the cache for the admin surface.
func (s *Service) CacheStats(ctx context.Context) cache.Stats {
	return s.cache.Stats(ctx)
}

// ClearCache wipes every cached entry. Returns whether a wipe happened.
func (s *Service) ClearCache(ctx context.Context) bool {
	cleared := s.cache.ClearAll(ctx)
	if cleared {
		s.logger.InfoContext(ctx, "cache cleared", "actor", requestcontext.Actor(ctx))
	}
	return cleared
}

// Health reports per-dependency status. The cache being down degrades the
// service, it does not fail it; the store being down does.
func (s *Service) Health(ctx context.Context) (map[string]string, bool) {
	status := map[string]string{"store": "ok", "cache": "ok"}
	healthy := true

	if err := s.store.Health(ctx); err != nil {
		status["store"] = "unavailable"
		healthy = false
	}
	if !s.cache.Enabled() {
		status["cache"] = "disabled"
	} else if err := s.cache.Health(ctx); err != nil {
		status["cache"] = "unavailable"
	}
	return status, healthy
}

// getFlag is the shared read-through path: cache, then store, then populate.
func (s *Service) getFlag(ctx context.Context, key string) (*flag.Flag, error) {
	if f, ok := s.cache.GetFlag(ctx, key); ok {
		return f, nil
	}
	f, err := s.store.GetByKey(ctx, key)
	if err != nil {
		return nil, s.translateLookup(key, err)
	}
	s.cache.SetFlag(ctx, f, 0)
	return f, nil
}

func (s *Service) translateLookup(key string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return dErrors.Newf(dErrors.CodeNotFound, "flag %q not found", key)
	}
	return fmt.Errorf("flag store: %w", err)
}

// recordMutation appends the audit entry and emits the stream event. Both are
// subordinate to the already-durable store write: failures are logged, never
// propagated.
func (s *Service) recordMutation(ctx context.Context, f *flag.Flag, action flag.Action, oldValue, newValue string) {
	actor := requestcontext.Actor(ctx)
	ts := s.now().UTC()

	entry := &flag.AuditEntry{
		FlagID:    f.ID,
		Action:    action,
		Actor:     actor,
		OldValue:  oldValue,
		NewValue:  newValue,
		Timestamp: ts,
	}
	if err := s.store.Append(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "audit append failed",
			"flag_key", f.Key,
			"action", action,
			"error", err,
		)
	}

	if s.stream != nil {
		s.stream.Emit(ctx, audit.Event{
			FlagID:    f.ID,
			FlagKey:   f.Key,
			Action:    string(action),
			Actor:     actor,
			OldValue:  oldValue,
			NewValue:  newValue,
			Timestamp: ts,
		})
	}
}

const maxNameLength = 255

func validateName(name string) error {
	if name == "" {
		return dErrors.New(dErrors.CodeBadRequest, "flag name must not be empty")
	}
	if len(name) > maxNameLength {
		return dErrors.Newf(dErrors.CodeBadRequest, "flag name exceeds %d characters", maxNameLength)
	}
	return nil
}

// snapshot serializes the mutable fields of a flag for audit old/new values.
func snapshot(f *flag.Flag) string {
	raw, err := json.Marshal(map[string]any{
		"name":               f.Name,
		"description":        f.Description,
		"enabled":            f.Enabled,
		"rollout_percentage": f.RolloutPercentage,
	})
	if err != nil {
		return ""
	}
	return string(raw)
}
