package flag

import "time"

// Flag is a named boolean-with-percentage feature toggle. Key is the
// immutable identity; everything else is mutable through partial updates.
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

// Update is a partial mutation: nil fields keep their prior values.
type Update struct {
	Name              *string
	Description       *string
	Enabled           *bool
	RolloutPercentage *float64
}

// Empty reports whether the update would change nothing.
func (u Update) Empty() bool {
	return u.Name == nil && u.Description == nil && u.Enabled == nil && u.RolloutPercentage == nil
}

// Action classifies audit entries. One entry is appended per mutation.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// AuditEntry records a single mutation of a flag. Entries are append-only
// and owned by their flag: deleting the flag cascades to its history.
type AuditEntry struct {
	ID        int64     `json:"id"`
	FlagID    int64     `json:"flag_id"`
	Action    Action    `json:"action"`
	Actor     string    `json:"actor,omitempty"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Evaluation is the derived outcome of evaluating a flag for a user. It is
// never persisted as first-class state, only cached transiently.
type Evaluation struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason"`
}
