package sync

// EventType classifies sync lifecycle notifications.
type EventType string

const (
	EventStarted      EventType = "started"
	EventPhaseChanged EventType = "phase_changed"
	EventProgress     EventType = "progress"
	EventCompleted    EventType = "completed"
	EventFailed       EventType = "failed"
)

// Event is a sync lifecycle notification delivered to collaborators
// (view models, daemons). Progress counters advance monotonically
// within one cycle.
type Event struct {
	Type      EventType
	Phase     Phase
	Message   string
	Completed int
	Total     int
}

// EventHandler receives sync events. Delivery is asynchronous; handlers
// must not assume they run on the sync goroutine.
type EventHandler interface {
	OnSyncEvent(event Event)
}
