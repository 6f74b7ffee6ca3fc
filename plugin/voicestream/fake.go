package voicestream

import (
	"context"
	"sync"
)

// FakeStream is an in-memory Stream for tests. Events are pushed by the
// test; outbound commands are recorded.
type FakeStream struct {
	events chan Event

	mu          sync.Mutex
	seeded      [][]Turn
	synthesized []SynthesizedText
	ended       bool
	closed      bool

	// SynthesizeErr, when set, is returned by Synthesize.
	SynthesizeErr error
}

// SynthesizedText is one recorded Synthesize call.
type SynthesizedText struct {
	Text string
	Rate float64
}

// NewFakeStream creates a fake stream with a buffered event channel.
func NewFakeStream() *FakeStream {
	return &FakeStream{events: make(chan Event, 64)}
}

func (f *FakeStream) Events() <-chan Event { return f.events }

func (f *FakeStream) SeedContext(_ context.Context, turns []Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make([]Turn, len(turns))
	copy(copied, turns)
	f.seeded = append(f.seeded, copied)
	return nil
}

func (f *FakeStream) Synthesize(_ context.Context, text string, rate float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SynthesizeErr != nil {
		return f.SynthesizeErr
	}
	f.synthesized = append(f.synthesized, SynthesizedText{Text: text, Rate: rate})
	return nil
}

func (f *FakeStream) EndSession(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = true
	return nil
}

func (f *FakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

// Push delivers an event to the consumer.
func (f *FakeStream) Push(e Event) { f.events <- e }

// PushGuestFinal delivers a final guest speech text event.
func (f *FakeStream) PushGuestFinal(text string) {
	f.events <- Event{Kind: EventGuestSpeechText, Text: text, IsFinal: true}
}

// PushResponse delivers a full interviewer response as first token plus done.
func (f *FakeStream) PushResponse(text string) {
	f.events <- Event{Kind: EventResponseToken, Text: text, First: true}
	f.events <- Event{Kind: EventResponseDone}
}

// Seeded returns the recorded SeedContext calls.
func (f *FakeStream) Seeded() [][]Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]Turn(nil), f.seeded...)
}

// Synthesized returns the recorded Synthesize calls.
func (f *FakeStream) Synthesized() []SynthesizedText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SynthesizedText(nil), f.synthesized...)
}

// Ended reports whether EndSession was called.
func (f *FakeStream) Ended() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ended
}

// FakeDialer returns a prepared stream per Dial call, in order. When the
// prepared streams run out it returns Err.
type FakeDialer struct {
	mu      sync.Mutex
	streams []*FakeStream
	dials   []string

	Err error
}

// NewFakeDialer creates a dialer returning the given streams in order.
func NewFakeDialer(streams ...*FakeStream) *FakeDialer {
	return &FakeDialer{streams: streams}
}

func (d *FakeDialer) Dial(_ context.Context, sessionUID string) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, sessionUID)
	if len(d.streams) == 0 {
		if d.Err != nil {
			return nil, d.Err
		}
		s := NewFakeStream()
		return s, nil
	}
	s := d.streams[0]
	d.streams = d.streams[1:]
	return s, nil
}

// Dials returns the session UIDs dialed so far.
func (d *FakeDialer) Dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dials...)
}
