// Package live implements the in-session control processors that run over
// the external voice stream: acknowledgement fillers, speech-rate control,
// retroactive strikes, and the cooperative pause checkpoint.
package live

import (
	"sync"
	"time"
)

const (
	// Speech-rate multiplier bounds. Adjustments beyond these clamp silently.
	MinSpeechRate = 0.5
	MaxSpeechRate = 2.0

	// SpeechRateStep is applied per slow-down or speed-up request.
	SpeechRateStep = 0.25
)

// ControlState is the per-session mutable state the processors share. It is
// ephemeral; nothing here survives the stream.
type ControlState struct {
	mu sync.Mutex

	speechRate        float64
	lastGuestActivity time.Time
}

func NewControlState() *ControlState {
	return &ControlState{speechRate: 1.0}
}

// SpeechRate returns the current synthesis rate multiplier.
func (s *ControlState) SpeechRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speechRate
}

// AdjustSpeechRate shifts the multiplier by delta, clamped to the bounds,
// and returns the new value.
func (s *ControlState) AdjustSpeechRate(delta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speechRate += delta
	if s.speechRate < MinSpeechRate {
		s.speechRate = MinSpeechRate
	}
	if s.speechRate > MaxSpeechRate {
		s.speechRate = MaxSpeechRate
	}
	return s.speechRate
}

// TouchGuestActivity records the last time the guest was heard.
func (s *ControlState) TouchGuestActivity(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastGuestActivity = t
}

func (s *ControlState) LastGuestActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastGuestActivity
}

// PauseRegistry carries pause requests from the admin surface to the worker
// driving the session. Requests are honored cooperatively at the next safe
// checkpoint between turns, never mid-response.
type PauseRegistry struct {
	mu       sync.Mutex
	channels map[string]chan struct{} // keyed by session uid
}

func NewPauseRegistry() *PauseRegistry {
	return &PauseRegistry{channels: make(map[string]chan struct{})}
}

// Register returns the pause channel for a session, creating it if needed.
// The worker selects on it while driving the stream.
func (r *PauseRegistry) Register(sessionUID string) <-chan struct{} {
	return r.channel(sessionUID)
}

// RequestPause signals the session's worker. Returns false when the request
// was already pending.
func (r *PauseRegistry) RequestPause(sessionUID string) bool {
	ch := r.channel(sessionUID)
	select {
	case ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release drops the session's channel once its run ends.
func (r *PauseRegistry) Release(sessionUID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, sessionUID)
}

func (r *PauseRegistry) channel(sessionUID string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[sessionUID]
	if !ok {
		ch = make(chan struct{}, 1)
		r.channels[sessionUID] = ch
	}
	return ch
}
