package model

import "time"

// StateChange is one entry of an entity's state history.
type StateChange struct {
	State     string    `json:"state"`
	ChangedAt time.Time `json:"changed_at"`
}
