package meta

// InstanceEventType is an instance lifecycle notification.
type InstanceEventType uint8

const (
	EventInstanceCreated InstanceEventType = iota
	EventInstanceDestroying
	EventClassSwizzled
)

func (t InstanceEventType) String() string {
	switch t {
	case EventInstanceCreated:
		return "created"
	case EventInstanceDestroying:
		return "destroying"
	case EventClassSwizzled:
		return "swizzled"
	default:
		return "unknown"
	}
}

// InstanceEvent describes an instance lifecycle change.
type InstanceEvent struct {
	Instance *Instance
	Type     InstanceEventType
}

// Observer receives instance lifecycle events. Callbacks run synchronously
// on the goroutine that caused the event.
type Observer interface {
	OnInstanceEvent(InstanceEvent)
}

// Subscribe adds an observer.
func (r *Registry) Subscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, o)
}

// Unsubscribe removes an observer.
func (r *Registry) Unsubscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	for i, obs := range r.observers {
		if obs == o {
			r.observers = append(r.observers[:i:i], r.observers[i+1:]...)
			return
		}
	}
}

func (r *Registry) notify(ev InstanceEvent) {
	r.obsMu.RLock()
	obs := r.observers
	r.obsMu.RUnlock()
	for _, o := range obs {
		o.OnInstanceEvent(ev)
	}
}
