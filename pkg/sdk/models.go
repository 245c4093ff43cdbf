package sdk

import "time"

// Flag mirrors the service's flag resource.
type Flag struct {
	ID                int64     `json:"id"`
	Key               string    `json:"key"`
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	Enabled           bool      `json:"enabled"`
	RolloutPercentage float64   `json:"rollout_percentage"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// EvaluationResult is the outcome of evaluating one flag for one user.
type EvaluationResult struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason"`
}

// CreateFlagParams is the payload for CreateFlag. A zero RolloutPercentage
// with Enabled false is a safe dormant flag; the server defaults rollout to
// 100 only when the field is omitted, so the SDK always sends it explicitly.
type CreateFlagParams struct {
	Key               string  `json:"key"`
	Name              string  `json:"name"`
	Description       string  `json:"description,omitempty"`
	Enabled           bool    `json:"enabled"`
	RolloutPercentage float64 `json:"rollout_percentage"`
}

// FlagUpdate is a partial update: nil fields are left unchanged.
type FlagUpdate struct {
	Name              *string  `json:"name,omitempty"`
	Description       *string  `json:"description,omitempty"`
	Enabled           *bool    `json:"enabled,omitempty"`
	RolloutPercentage *float64 `json:"rollout_percentage,omitempty"`
}

// CacheStats describes the client-side cache.
type CacheStats struct {
	Enabled        bool `json:"enabled"`
	Size           int  `json:"size"`
	ExpiredCleaned int  `json:"expired_cleaned"`
}
