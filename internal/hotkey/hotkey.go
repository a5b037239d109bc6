// Package hotkey turns a global key combo into a start/stop toggle for
// sampling, using gohook.
package hotkey

import (
	"sync"

	hook "github.com/robotn/gohook"
)

// EventType is the action requested by a key press.
type EventType int

const (
	// EventStart asks for sampling to start.
	EventStart EventType = iota
	// EventStop asks for sampling to stop.
	EventStop
)

func (t EventType) String() string {
	if t == EventStop {
		return "stop"
	}
	return "start"
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Toggle decides what each press means. The session can end on its own
// (sensor lost, write failure), so the owner reports the real state with
// SetActive and the next press always does the sensible thing.
type Toggle struct {
	mu     sync.Mutex
	active bool
}

// Press returns the event for one key press and flips the state.
func (t *Toggle) Press() Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		t.active = false
		return Event{Type: EventStop}
	}
	t.active = true
	return Event{Type: EventStart}
}

// SetActive records whether sampling is actually running.
func (t *Toggle) SetActive(active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = active
}

// Listener watches a global key combo and emits toggle events.
type Listener struct {
	Toggle

	keys []string
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// NewListener creates a Listener for keys, lowercase gohook key names
// (e.g. ["ctrl", "shift", "s"]).
func NewListener(keys []string) *Listener {
	return &Listener{
		keys: keys,
		ch:   make(chan Event, 16),
		done: make(chan struct{}),
	}
}

// Events returns the channel that receives toggle events. It is closed
// when the listener stops.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Start registers the combo and blocks until Stop is called. Run it in a
// goroutine.
func (l *Listener) Start() {
	hook.Register(hook.KeyDown, l.keys, func(hook.Event) {
		l.emit(l.Press())
	})

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

func (l *Listener) emit(ev Event) {
	select {
	case l.ch <- ev:
	default: // don't block the hook thread
	}
}

// Stop terminates the listener. It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
