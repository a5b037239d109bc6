package session

import "sync"

// Phase is the sampling engine state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseSampling
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseSampling:
		return "sampling"
	default:
		return "idle"
	}
}

// Snapshot is a consistent copy of the session state for display.
type Snapshot struct {
	SessionID string
	Sensor    string
	Phase     Phase
	Connected bool
	Scanning  bool
	Sampling  bool
	Count     int
	LastError string
	Ack       bool // a sample was just written
}

// Event is delivered to observers on every state change.
type Event struct {
	Snapshot Snapshot
}

// hub fans events out to observers without blocking the sender.
type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func (h *hub) subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]chan Event)
	}
	id := h.next
	h.next++
	ch := make(chan Event, 16)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default: // slow observer, drop
		}
	}
}
