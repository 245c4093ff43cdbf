// Package cache is the server-side read-through cache for flag records and
// evaluation results. It is purely advisory: every failure of the backing
// Redis is downgraded to a miss or a reported no-op, and callers always keep
// a correctness path through the store.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"flaggate/internal/flag"
	"flaggate/internal/flag/metrics"
)

// Two namespaces live under one prefix so ClearAll can sweep both:
// flag:data:{key} holds serialized flag records, flag:eval:{key} and
// flag:eval:{key}:{userhash} hold evaluation results.
const (
	keyPrefix  = "flag:"
	dataPrefix = keyPrefix + "data:"
	evalPrefix = keyPrefix + "eval:"

	// User identifiers never appear in cache keys in plaintext; a short
	// digest prefix bounds key length and keeps PII out of Redis.
	userHashLen = 16

	// DefaultTTL is the backstop for entries that invalidation misses.
	DefaultTTL = 300 * time.Second

	schemaVersion = 1
)

// Cache wraps a Redis client. A nil client means caching is disabled: every
// read is a miss and every write reports failure.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New constructs a cache. client may be nil (disabled); ttl <= 0 selects
// DefaultTTL.
func New(client *redis.Client, ttl time.Duration, logger *slog.Logger, m *metrics.Metrics) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger, metrics: m}
}

// Enabled reports whether a backing store is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// TTL returns the default entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// flagRecord is the versioned wire form of a cached flag. Unknown versions
// and corrupt payloads read as misses.
type flagRecord struct {
	SchemaVersion     int     `json:"schema_version"`
	ID                int64   `json:"id"`
	Key               string  `json:"key"`
	Name              string  `json:"name"`
	Description       string  `json:"description"`
	Enabled           bool    `json:"enabled"`
	RolloutPercentage float64 `json:"rollout_percentage"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

type evalRecord struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason"`
}

// GetFlag returns the cached flag for key. The second return collapses
// "absent", "expired", "backend down", and "corrupt entry" into one miss:
// callers cannot and must not tell them apart.
func (c *Cache) GetFlag(ctx context.Context, key string) (*flag.Flag, bool) {
	if !c.Enabled() {
		return nil, false
	}
	raw, err := c.client.Get(ctx, dataKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.fail(ctx, "get_flag", err)
		}
		c.metrics.RecordCacheMiss("data")
		return nil, false
	}

	var rec flagRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec.SchemaVersion != schemaVersion {
		// Corrupt or foreign-version entry: treat as a miss, the next
		// read-through will overwrite it.
		c.metrics.RecordCacheMiss("data")
		return nil, false
	}
	f, err := rec.toFlag()
	if err != nil {
		c.metrics.RecordCacheMiss("data")
		return nil, false
	}
	c.metrics.RecordCacheHit("data")
	return f, true
}

// SetFlag caches a flag record. ttl <= 0 selects the default. Returns false
// when the write did not happen; callers treat that as advisory.
func (c *Cache) SetFlag(ctx context.Context, f *flag.Flag, ttl time.Duration) bool {
	if !c.Enabled() || f == nil {
		return false
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	raw, err := json.Marshal(recordFrom(f))
	if err != nil {
		c.fail(ctx, "set_flag", err)
		return false
	}
	if err := c.client.Set(ctx, dataKey(f.Key), raw, ttl).Err(); err != nil {
		c.fail(ctx, "set_flag", err)
		return false
	}
	return true
}

// GetEvaluation returns a cached evaluation result for (flagKey, userID).
// An empty userID addresses the unscoped entry.
func (c *Cache) GetEvaluation(ctx context.Context, flagKey, userID string) (flag.Evaluation, bool) {
	if !c.Enabled() {
		return flag.Evaluation{}, false
	}
	raw, err := c.client.Get(ctx, evalKey(flagKey, userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.fail(ctx, "get_evaluation", err)
		}
		c.metrics.RecordCacheMiss("eval")
		return flag.Evaluation{}, false
	}
	var rec evalRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.metrics.RecordCacheMiss("eval")
		return flag.Evaluation{}, false
	}
	c.metrics.RecordCacheHit("eval")
	return flag.Evaluation{Key: flagKey, Enabled: rec.Enabled, Reason: rec.Reason}, true
}

// SetEvaluation caches an evaluation result, negative outcomes included.
func (c *Cache) SetEvaluation(ctx context.Context, flagKey, userID string, enabled bool, reason string, ttl time.Duration) bool {
	if !c.Enabled() {
		return false
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	raw, err := json.Marshal(evalRecord{Enabled: enabled, Reason: reason})
	if err != nil {
		c.fail(ctx, "set_evaluation", err)
		return false
	}
	if err := c.client.Set(ctx, evalKey(flagKey, userID), raw, ttl).Err(); err != nil {
		c.fail(ctx, "set_evaluation", err)
		return false
	}
	return true
}

// InvalidateFlag removes the flag-data entry and every evaluation entry
// derived from flagKey. The scan matches eval:{key} exactly plus
// eval:{key}:*, never eval entries of flags that merely share a prefix.
func (c *Cache) InvalidateFlag(ctx context.Context, flagKey string) bool {
	if !c.Enabled() {
		return false
	}
	keys := []string{dataKey(flagKey), evalKey(flagKey, "")}

	scanned, err := c.scanKeys(ctx, evalPrefix+flagKey+":*")
	if err != nil {
		c.fail(ctx, "invalidate_flag", err)
		return false
	}
	keys = append(keys, scanned...)

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.fail(ctx, "invalidate_flag", err)
		return false
	}
	c.metrics.RecordInvalidation()
	return true
}

// ClearAll removes every entry under the shared prefix. Administrative and
// destructive; gated behind the admin credential at the transport layer.
func (c *Cache) ClearAll(ctx context.Context) bool {
	if !c.Enabled() {
		return false
	}
	keys, err := c.scanKeys(ctx, keyPrefix+"*")
	if err != nil {
		c.fail(ctx, "clear_all", err)
		return false
	}
	if len(keys) == 0 {
		return true
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.fail(ctx, "clear_all", err)
		return false
	}
	return true
}

// Stats describes the cache for the admin surface.
type Stats struct {
	Enabled bool   `json:"enabled"`
	Keys    int64  `json:"keys"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Error   string `json:"error,omitempty"`
}

// Stats counts entries under the prefix and, when the backend exposes them,
// reports keyspace hit/miss counters.
func (c *Cache) Stats(ctx context.Context) Stats {
	if !c.Enabled() {
		return Stats{Enabled: false}
	}
	stats := Stats{Enabled: true}

	keys, err := c.scanKeys(ctx, keyPrefix+"*")
	if err != nil {
		c.fail(ctx, "stats", err)
		stats.Error = "cache backend unavailable"
		return stats
	}
	stats.Keys = int64(len(keys))

	// INFO is best-effort: some backends (and test fakes) do not serve it.
	if info, err := c.client.Info(ctx, "stats").Result(); err == nil {
		stats.Hits = parseInfoCounter(info, "keyspace_hits")
		stats.Misses = parseInfoCounter(info, "keyspace_misses")
	}
	return stats
}

// Health reports backend reachability for the health endpoint.
func (c *Cache) Health(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

func (c *Cache) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (c *Cache) fail(ctx context.Context, operation string, err error) {
	c.metrics.RecordCacheFailure(operation)
	c.logger.WarnContext(ctx, "cache operation failed, degrading",
		"operation", operation,
		"error", err,
	)
}

func dataKey(flagKey string) string {
	return dataPrefix + flagKey
}

func evalKey(flagKey, userID string) string {
	if userID == "" {
		return evalPrefix + flagKey
	}
	return evalPrefix + flagKey + ":" + hashUserID(userID)
}

func hashUserID(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])[:userHashLen]
}

func recordFrom(f *flag.Flag) flagRecord {
	return flagRecord{
		SchemaVersion:     schemaVersion,
		ID:                f.ID,
		Key:               f.Key,
		Name:              f.Name,
		Description:       f.Description,
		Enabled:           f.Enabled,
		RolloutPercentage: f.RolloutPercentage,
		CreatedAt:         f.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:         f.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// toFlag rebuilds a read-only flag view from a cache record. The result is a
// fresh value that never aliases store state.
func (r flagRecord) toFlag() (*flag.Flag, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &flag.Flag{
		ID:                r.ID,
		Key:               r.Key,
		Name:              r.Name,
		Description:       r.Description,
		Enabled:           r.Enabled,
		RolloutPercentage: r.RolloutPercentage,
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
	}, nil
}

func parseInfoCounter(info, field string) int64 {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if value, ok := strings.CutPrefix(line, field+":"); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err == nil {
				return n
			}
		}
	}
	return 0
}
