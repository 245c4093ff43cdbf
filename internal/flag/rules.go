package flag

import (
	"crypto/sha256"
	"math/big"
	"strconv"
)

// Evaluation reasons. The reason strings are part of the public API surface:
// clients display them and tests assert on them, so they never change shape.
const (
	ReasonNotFound    = "Flag not found"
	ReasonDisabled    = "Flag is disabled"
	ReasonAllUsers    = "Flag enabled for all users"
	ReasonZeroRollout = "Flag rollout is 0%"
	ReasonNoTargeting = "Flag enabled (no user targeting)"
)

var hundred = big.NewInt(100)

// Evaluate decides whether f is on for userID. Pure: no I/O, no clock, no
// state. An empty userID means "no user targeting". Rule order is fixed;
// earlier rules win.
func Evaluate(f *Flag, userID string) (bool, string) {
	if f == nil {
		return false, ReasonNotFound
	}
	if !f.Enabled {
		return false, ReasonDisabled
	}
	if f.RolloutPercentage >= 100 {
		return true, ReasonAllUsers
	}
	if f.RolloutPercentage <= 0 {
		return false, ReasonZeroRollout
	}
	if userID == "" {
		return f.Enabled, ReasonNoTargeting
	}

	enabled := float64(Bucket(f.Key, userID)) < f.RolloutPercentage
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return enabled, "User in " + state + " rollout bucket (" + formatPercentage(f.RolloutPercentage) + "%)"
}

// Bucket maps (flagKey, userID) to a stable value in [0, 100). SHA-256 over
// "key:user", digest taken as a big-endian unsigned integer, mod 100. The
// digest is the cross-language contract: any SDK that hashes the same way
// lands every user in the same bucket forever.
func Bucket(flagKey, userID string) int {
	sum := sha256.Sum256([]byte(flagKey + ":" + userID))
	n := new(big.Int).SetBytes(sum[:])
	return int(n.Mod(n, hundred).Int64())
}

func formatPercentage(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
