// Package audit keeps a persistent trail of cache lifecycle changes:
// installs, activations, evictions and manual purges.
package audit

import "time"

// Action describes what happened.
type Action string

const (
	ActionInstalled      Action = "installed"
	ActionInstallFailed  Action = "install_failed"
	ActionActivated      Action = "activated"
	ActionActivateFailed Action = "activate_failed"
	ActionEvicted        Action = "evicted"
	ActionPurged         Action = "purged"
)

// Entry is a single audit trail record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventID   string    `json:"event_id,omitempty"`
	Event     string    `json:"event"`
	Action    Action    `json:"action"`
	State     string    `json:"state,omitempty"`
	Cache     string    `json:"cache,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}
