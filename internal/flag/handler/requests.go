package handler

import "flaggate/internal/flag"

// createFlagRequest is the POST /flags payload. Enabled defaults to off and
// rollout to 100% so a newly created flag is a no-op until switched on, and
// switching on means "everyone" unless a percentage was chosen.
type createFlagRequest struct {
	Key               string   `json:"key"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	Enabled           bool     `json:"enabled"`
	RolloutPercentage *float64 `json:"rollout_percentage"`
}

func (r createFlagRequest) toFlag() *flag.Flag {
	rollout := 100.0
	if r.RolloutPercentage != nil {
		rollout = *r.RolloutPercentage
	}
	return &flag.Flag{
		Key:               r.Key,
		Name:              r.Name,
		Description:       r.Description,
		Enabled:           r.Enabled,
		RolloutPercentage: rollout,
	}
}

// updateFlagRequest is the PUT /flags/{key} payload. Absent fields keep
// their stored values.
type updateFlagRequest struct {
	Name              *string  `json:"name"`
	Description       *string  `json:"description"`
	Enabled           *bool    `json:"enabled"`
	RolloutPercentage *float64 `json:"rollout_percentage"`
}

func (r updateFlagRequest) toUpdate() flag.Update {
	return flag.Update{
		Name:              r.Name,
		Description:       r.Description,
		Enabled:           r.Enabled,
		RolloutPercentage: r.RolloutPercentage,
	}
}
