package flag

import (
	"math"
	"regexp"
	"strings"

	dErrors "flaggate/pkg/domainerrors"
)

var keyPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// reservedKeys collide with routes or operational namespaces and can never
// name a flag.
var reservedKeys = map[string]struct{}{
	"health":   {},
	"admin":    {},
	"api":      {},
	"cache":    {},
	"stats":    {},
	"system":   {},
	"internal": {},
	"test":     {},
	"debug":    {},
}

const maxKeyLength = 255

// NormalizeKey lowercases and trims a candidate flag key. Normalization runs
// before validation so "Checkout_V2" and "checkout_v2" are the same flag.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// ValidateKey enforces the key grammar on an already-normalized key.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return dErrors.New(dErrors.CodeBadRequest, "flag key is required")
	case len(key) > maxKeyLength:
		return dErrors.Newf(dErrors.CodeBadRequest, "flag key exceeds %d characters", maxKeyLength)
	case strings.HasPrefix(key, "_"):
		return dErrors.New(dErrors.CodeBadRequest, "flag key must not start with underscore")
	case !keyPattern.MatchString(key):
		return dErrors.New(dErrors.CodeBadRequest, "flag key may only contain lowercase letters, digits, underscores and hyphens")
	}
	if _, reserved := reservedKeys[key]; reserved {
		return dErrors.Newf(dErrors.CodeBadRequest, "flag key %q is reserved", key)
	}
	return nil
}

// ClampPercentage bounds a rollout percentage to [0, 100] and rounds to two
// decimals, the resolution the rollout contract promises.
func ClampPercentage(p float64) float64 {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return math.Round(p*100) / 100
}
