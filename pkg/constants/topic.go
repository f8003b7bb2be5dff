package constants

// Lifecycle event topics. Every event is also published on LifecycleTopic.
const (
	LifecycleTopic   = "plugin.lifecycle"
	ActivatedTopic   = "plugin.activated"
	DeactivatedTopic = "plugin.deactivated"
	RemovedTopic     = "plugin.removed"
	UpdatingTopic    = "plugin.updating"
	UpdatedTopic     = "plugin.updated"
)
