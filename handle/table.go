package handle

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("handle table closed")

// Table is an in-memory handle table with reference counts and observers.
type Table struct {
	entries   []entry
	freeList  []Handle
	observers []Observer
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

type entry struct {
	value any
	kind  Kind
	refs  uint32
	valid bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		entries:  make([]entry, 0, 64),
		freeList: make([]Handle, 0, 16),
	}
}

// Insert stores a value with one reference and returns its handle.
// It returns 0 once the table is closed.
func (t *Table) Insert(kind Kind, value any) Handle {
	h, err := t.create(kind, value)
	if err != nil {
		return 0
	}
	t.notify(Event{Type: EventInserted, Handle: h, Kind: kind, Value: value})
	return h
}

func (t *Table) create(kind Kind, value any) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, ErrClosed
	}

	e := entry{kind: kind, value: value, refs: 1, valid: true}

	if len(t.freeList) > 0 {
		h := t.freeList[len(t.freeList)-1]
		t.freeList = t.freeList[:len(t.freeList)-1]
		t.entries[h-1] = e
		return h, nil
	}

	t.entries = append(t.entries, e)
	return Handle(len(t.entries)), nil
}

// lookup returns the live entry for h. Callers hold t.mu.
func (t *Table) lookup(h Handle) *entry {
	if h == 0 {
		return nil
	}
	idx := int(h - 1)
	if idx >= len(t.entries) || !t.entries[idx].valid {
		return nil
	}
	return &t.entries[idx]
}

// GetTyped retrieves a value only if it was inserted with kind.
func (t *Table) GetTyped(h Handle, kind Kind) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e := t.lookup(h)
	if e == nil || e.kind != kind {
		return nil, false
	}
	return e.value, true
}

// Acquire adds a reference.
func (t *Table) Acquire(h Handle) bool {
	t.mu.Lock()
	e := t.lookup(h)
	if e == nil {
		t.mu.Unlock()
		return false
	}
	e.refs++
	kind, value := e.kind, e.value
	t.mu.Unlock()

	t.notify(Event{Type: EventAcquired, Handle: h, Kind: kind, Value: value})
	return true
}

// Release drops a reference. When the count reaches zero the entry is
// removed and (value, true) returned.
func (t *Table) Release(h Handle) (any, bool) {
	t.mu.Lock()
	e := t.lookup(h)
	if e == nil {
		t.mu.Unlock()
		return nil, false
	}
	e.refs--
	if e.refs > 0 {
		kind, value := e.kind, e.value
		t.mu.Unlock()
		t.notify(Event{Type: EventReleased, Handle: h, Kind: kind, Value: value})
		return nil, false
	}
	kind, value := t.drop(h, e)
	t.mu.Unlock()

	t.finish(h, kind, value)
	return value, true
}

// remove drops an entry regardless of outstanding references.
func (t *Table) remove(h Handle) {
	t.mu.Lock()
	e := t.lookup(h)
	if e == nil {
		t.mu.Unlock()
		return
	}
	kind, value := t.drop(h, e)
	t.mu.Unlock()

	t.finish(h, kind, value)
}

func (t *Table) drop(h Handle, e *entry) (Kind, any) {
	kind, value := e.kind, e.value
	*e = entry{}
	t.freeList = append(t.freeList, h)
	return kind, value
}

func (t *Table) finish(h Handle, kind Kind, value any) {
	if r, ok := value.(Releaser); ok {
		r.Release()
	}
	t.notify(Event{Type: EventRemoved, Handle: h, Kind: kind, Value: value})
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	count := 0
	for _, e := range t.entries {
		if e.valid {
			count++
		}
	}
	return count
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Close removes every entry and stops accepting inserts.
func (t *Table) Close() error {
	var handles []Handle
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for i, e := range t.entries {
		if e.valid {
			handles = append(handles, Handle(i+1))
		}
	}
	t.mu.Unlock()

	for _, h := range handles {
		t.remove(h)
	}
	return nil
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnHandleEvent(e)
	}
}
