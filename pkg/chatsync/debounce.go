package chatsync

import (
	"sync"
	"time"
)

// Default debouncer windows. The outbound quiet window collapses a typing
// burst into one signal; the inbound TTL bounds how long an indicator shows
// after the last event.
const (
	DefaultTypingDebounce = 450 * time.Millisecond
	DefaultIndicatorTTL   = 2500 * time.Millisecond
)

// TypingDebouncer rate-limits outbound typing signals. Each input change
// schedules an emission after a fixed quiet window; another change before the
// window elapses cancels and reschedules it, so a burst of N changes inside
// the window yields exactly one outbound call.
type TypingDebouncer struct {
	window time.Duration
	emit   func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func NewTypingDebouncer(window time.Duration, emit func()) *TypingDebouncer {
	if window <= 0 {
		window = DefaultTypingDebounce
	}
	return &TypingDebouncer{window: window, emit: emit}
}

// Touch records one local input change.
func (d *TypingDebouncer) Touch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fire)
}

func (d *TypingDebouncer) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.emit()
}

// Stop cancels any pending emission. Further touches are ignored.
func (d *TypingDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// IndicatorSet holds named transient indicators (typing, speaking, viewing).
// A received event arms the indicator and schedules its clearing after a
// fixed TTL; a fresh event of the same kind resets the TTL instead of
// stacking a second indicator.
type IndicatorSet struct {
	ttl      time.Duration
	onChange func(kind string, active bool)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewIndicatorSet creates an indicator set. onChange fires on every
// activation edge and expiry; it may be nil.
func NewIndicatorSet(ttl time.Duration, onChange func(kind string, active bool)) *IndicatorSet {
	if ttl <= 0 {
		ttl = DefaultIndicatorTTL
	}
	return &IndicatorSet{
		ttl:      ttl,
		onChange: onChange,
		timers:   make(map[string]*time.Timer),
	}
}

// Set arms (or re-arms) the named indicator.
func (s *IndicatorSet) Set(kind string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if timer, active := s.timers[kind]; active {
		timer.Reset(s.ttl)
		s.mu.Unlock()
		return
	}
	s.timers[kind] = time.AfterFunc(s.ttl, func() { s.expire(kind) })
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(kind, true)
	}
}

func (s *IndicatorSet) expire(kind string) {
	s.mu.Lock()
	if _, active := s.timers[kind]; !active {
		s.mu.Unlock()
		return
	}
	delete(s.timers, kind)
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(kind, false)
	}
}

// Active reports whether the named indicator is currently shown.
func (s *IndicatorSet) Active(kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, active := s.timers[kind]
	return active
}

// Stop clears all indicators and cancels their timers.
func (s *IndicatorSet) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for kind, timer := range s.timers {
		timer.Stop()
		delete(s.timers, kind)
	}
}

// PresenceMap is the participant presence state: last-write-wins with no
// staleness check (level-triggered), no ordering requirement.
type PresenceMap struct {
	mu sync.RWMutex
	m  map[string]PresenceStatus
}

func NewPresenceMap() *PresenceMap {
	return &PresenceMap{m: make(map[string]PresenceStatus)}
}

// Set overwrites the participant's status.
func (p *PresenceMap) Set(participantID string, status PresenceStatus) {
	p.mu.Lock()
	p.m[participantID] = status
	p.mu.Unlock()
}

// Get returns the participant's last known status.
func (p *PresenceMap) Get(participantID string) (PresenceStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	status, ok := p.m[participantID]
	return status, ok
}

// Snapshot copies the full presence mapping.
func (p *PresenceMap) Snapshot() map[string]PresenceStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]PresenceStatus, len(p.m))
	for k, v := range p.m {
		out[k] = v
	}
	return out
}
