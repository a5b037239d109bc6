package session

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Severity ranks a Notice.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Notice is a user-facing message. Duration is how long a UI should keep
// it visible.
type Notice struct {
	Severity Severity
	Message  string
	Duration time.Duration
}

// NoticeSink displays notices.
type NoticeSink interface {
	Notify(Notice)
}

// NoticeFunc adapts a function to NoticeSink.
type NoticeFunc func(Notice)

func (f NoticeFunc) Notify(n Notice) { f(n) }

// Notifier forwards notices to a sink. Error and critical notices share a
// rate limit so a storm of failing callbacks yields one message; info and
// warning notices always pass.
type Notifier struct {
	sink NoticeSink
	now  func() time.Time

	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewNotifier allows one error notice per interval. now may be nil.
func NewNotifier(sink NoticeSink, interval time.Duration, now func() time.Time) *Notifier {
	if now == nil {
		now = time.Now
	}
	if sink == nil {
		sink = NoticeFunc(func(Notice) {})
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Notifier{sink: sink, now: now, limiter: rate.NewLimiter(limit, 1)}
}

// Notify delivers n and reports whether it passed the throttle.
func (n *Notifier) Notify(no Notice) bool {
	if no.Severity >= SeverityError {
		n.mu.Lock()
		ok := n.limiter.AllowN(n.now(), 1)
		n.mu.Unlock()
		if !ok {
			slog.Debug("[SAMPLER] notice throttled", "message", no.Message)
			return false
		}
	}
	n.sink.Notify(no)
	return true
}
