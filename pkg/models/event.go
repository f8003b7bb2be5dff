package models

import "time"

// EventKind names a lifecycle transition.
type EventKind string

const (
	EventActivated   EventKind = "Activated"
	EventDeactivated EventKind = "Deactivated"
	EventRemoved     EventKind = "Removed"
	EventUpdating    EventKind = "Updating"
	EventUpdated     EventKind = "Updated"
)

// EventRemovedPlugin is the legacy name subscribers may still match on.
const EventRemovedPlugin = EventRemoved

// LifecycleEvent is published after each transition. Delivery is fire-and-forget.
type LifecycleEvent struct {
	ID         string    `json:"id"`
	Kind       EventKind `json:"kind"`
	PluginID   string    `json:"plugin_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
