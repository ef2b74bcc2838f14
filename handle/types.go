package handle

// Handle is an opaque reference to a value in a table.
// Handle 0 is reserved and always invalid, so a zeroed slot reads as null.
type Handle uint32

// Kind tags what a handle refers to (function slot, opaque value, ...).
type Kind uint32

// EventType is a handle lifecycle notification.
type EventType uint8

const (
	EventInserted EventType = iota
	EventAcquired
	EventReleased
	EventRemoved
)

// Event represents a handle lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	Kind   Kind
	Type   EventType
}

// Observer receives notifications about handle lifecycle events.
type Observer interface {
	OnHandleEvent(Event)
}

// Releaser is optionally implemented by values that need cleanup when
// their last reference is dropped.
type Releaser interface {
	Release()
}
