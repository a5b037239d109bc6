package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/questsci/questlog/internal/ble/protocol"
	"github.com/questsci/questlog/internal/location"
	"github.com/questsci/questlog/internal/store"
)

// beginSampling moves a Starting session into Sampling: one diagnostic fix,
// then the periodic location watch that drives every write.
func (s *Session) beginSampling(ctx context.Context, gen uint64) error {
	fix, err := s.deps.Location.CurrentFix(ctx)
	if err != nil {
		s.fail(gen, SeverityError, "Could not get location: "+err.Error(), 5*time.Second)
		return fmt.Errorf("session: initial fix: %w", err)
	}
	log := s.logger()
	log.Debug("[SAMPLER] initial fix", "lat", fix.Latitude, "lon", fix.Longitude, "accuracy", fix.Accuracy)

	if err := s.deps.Guard.Acquire(); err != nil {
		s.fail(gen, SeverityError, "Sampling is running in another questlog process", 5*time.Second)
		return fmt.Errorf("%w: %v", ErrSamplingActive, err)
	}
	s.mu.Lock()
	if s.st.gen != gen {
		s.mu.Unlock()
		s.releaseGuard()
		return ErrNotConnected
	}
	s.st.guarded = true
	s.mu.Unlock()

	sampleCtx, cancel := context.WithCancel(context.Background())
	sub, err := s.deps.Location.Watch(location.WatchOptions{
		Accuracy:       location.AccuracyHigh,
		Interval:       s.opts.SampleInterval,
		DistanceFilter: 0,
	}, func(fix location.Fix) {
		s.onUpdate(sampleCtx, gen, fix)
	})
	if err != nil {
		cancel()
		s.fail(gen, SeverityError, "Could not start location updates: "+err.Error(), 5*time.Second)
		return fmt.Errorf("session: watch location: %w", err)
	}

	s.mu.Lock()
	if s.st.gen != gen || s.st.sub != nil {
		s.mu.Unlock()
		sub.Remove()
		cancel()
		return ErrNotConnected
	}
	s.st.sub = sub
	s.st.cancelSampling = cancel
	s.st.phase = PhaseSampling
	s.st.sampling = true
	s.mu.Unlock()

	log.Info("[SAMPLER] sampling started", "interval", s.opts.SampleInterval)
	s.emit()
	s.notify(SeverityInfo, "Sampling started", 2*time.Second)
	return nil
}

// teardown is the single exit from Starting or Sampling. It removes the
// location subscription, clears the sampling flags and invalidates every
// outstanding callback. It reports whether a session was active.
func (s *Session) teardown(reason string) bool {
	s.mu.Lock()
	active := s.st.phase != PhaseIdle
	sub := s.st.sub
	cancel := s.st.cancelSampling
	guarded := s.st.guarded
	log := s.st.log
	s.st.guarded = false
	s.st.sub = nil
	s.st.cancelSampling = nil
	s.st.sampling = false
	s.st.intentional = false
	s.st.phase = PhaseIdle
	if active {
		s.st.gen++
	}
	s.mu.Unlock()

	if sub != nil {
		sub.Remove()
	}
	if cancel != nil {
		cancel()
	}
	if guarded {
		s.releaseGuard()
	}
	if active {
		if log == nil {
			log = s.opts.Logger
		}
		log.Info("[SAMPLER] session ended", "reason", reason)
		s.emit()
	}
	return active
}

func (s *Session) releaseGuard() {
	if err := s.deps.Guard.Release(); err != nil {
		s.opts.Logger.Warn("[SAMPLER] release sampling guard failed", "error", err)
	}
}

// fail tears down the session identified by gen and raises a notice. A
// stale gen means the session already ended and nothing is reported.
func (s *Session) fail(gen uint64, sev Severity, msg string, d time.Duration) bool {
	if !s.current(gen) {
		return false
	}
	s.teardown(msg)
	s.notify(sev, msg, d)
	return true
}

// onUpdate handles one location event: read, decode, dedup, write.
func (s *Session) onUpdate(ctx context.Context, gen uint64, fix location.Fix) {
	defer func() {
		if r := recover(); r != nil {
			s.logger().Error("[SAMPLER] panic in location update", "panic", r)
			s.fail(gen, SeverityError, fmt.Sprintf("Sampling error: %v", r), 5*time.Second)
		}
	}()

	s.mu.Lock()
	stale := s.st.gen != gen
	link := s.st.link
	sampling := s.st.phase == PhaseSampling
	log := s.st.log
	s.mu.Unlock()
	if stale {
		return
	}
	if log == nil {
		log = s.opts.Logger
	}

	if link == nil || link.Characteristic == nil {
		s.fail(gen, SeverityError, "Device disconnected", 5*time.Second)
		return
	}
	if !sampling {
		return
	}

	readCtx, cancel := context.WithTimeout(ctx, s.opts.ReadTimeout)
	payload, err := link.Characteristic.Read(readCtx)
	cancel()
	if !s.current(gen) {
		return
	}
	if err != nil {
		log.Error("[SAMPLER] characteristic read failed", "sensor", link.Name, "error", err)
		s.fail(gen, SeverityError, "Sensor read failed", 5*time.Second)
		return
	}
	if protocol.IsEmpty(payload) {
		// Tolerated: the session keeps running.
		log.Warn("[SAMPLER] empty payload", "sensor", link.Name)
		s.notify(SeverityError, "No value from device", 3*time.Second)
		return
	}
	temp := protocol.DecodeTemperature(payload)

	s.write(ctx, gen, log, temp, fix)
}

// write performs the dedup check and insert for one decoded reading.
func (s *Session) write(ctx context.Context, gen uint64, log *slog.Logger, temp float64, fix location.Fix) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.opts.Now()

	s.mu.Lock()
	if s.st.gen != gen || s.st.phase != PhaseSampling {
		s.mu.Unlock()
		return
	}
	if !s.st.lastWrite.IsZero() && now.Sub(s.st.lastWrite) < s.opts.DedupWindow {
		s.mu.Unlock()
		log.Debug("[SAMPLER] duplicate event discarded", "since_last", now.Sub(s.st.lastWrite))
		return
	}
	// The wall clock may step backwards; the primary key must not.
	key := now.UnixMilli()
	if key <= s.st.lastKey {
		key = s.st.lastKey + 1
	}
	s.mu.Unlock()

	rec := store.NewRecord(time.UnixMilli(key), temp, fix)

	db := s.deps.Store.Current()
	if db == nil {
		s.fail(gen, SeverityError, "Database not available", 5*time.Second)
		return
	}
	if err := db.Insert(ctx, rec); err != nil {
		if !s.current(gen) {
			return
		}
		log.Error("[SAMPLER] insert failed", "timestamp", rec.Timestamp, "error", err)
		s.deps.Store.Invalidate()
		s.fail(gen, SeverityCritical, "Error saving data. Sampling stopped; restart to retry.", 15*time.Second)
		return
	}

	s.mu.Lock()
	if s.st.gen != gen {
		s.mu.Unlock()
		return
	}
	s.st.lastWrite = now
	s.st.lastKey = key
	s.st.count++
	count := s.st.count
	s.st.ack = true
	if s.st.ackTimer != nil {
		s.st.ackTimer.Stop()
	}
	s.st.ackTimer = time.AfterFunc(s.opts.AckDuration, s.clearAck)
	s.mu.Unlock()

	log.Debug("[SAMPLER] sample written", "timestamp", key, "temperature", temp, "count", count)
	s.emit()
}

func (s *Session) clearAck() {
	s.mu.Lock()
	was := s.st.ack
	s.st.ack = false
	s.st.ackTimer = nil
	s.mu.Unlock()
	if was {
		s.emit()
	}
}
