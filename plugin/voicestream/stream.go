// Package voicestream is the boundary to the external conversation
// collaborator: voice transport, speech-to-text, the language model, and
// speech synthesis, treated as one bidirectional channel. The core consumes
// speech-recognition events and sends text to synthesize; everything behind
// the channel is replaceable.
package voicestream

import "context"

// Turn is one prior conversation turn, serialized into session snapshots and
// re-seeded verbatim on resume.
type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// EventKind discriminates inbound stream events.
type EventKind string

const (
	// EventGuestSpeechStarted fires when the guest begins speaking.
	EventGuestSpeechStarted EventKind = "guest_speech_started"
	// EventGuestSpeechText carries recognized guest speech, possibly partial.
	EventGuestSpeechText EventKind = "guest_speech_text"
	// EventResponseToken carries a chunk of the interviewer's generated
	// response. First marks the first token of a response.
	EventResponseToken EventKind = "response_token"
	// EventResponseDone marks the end of a generated response.
	EventResponseDone EventKind = "response_done"
	// EventGuestLeft fires when the guest disconnects or ends the session.
	EventGuestLeft EventKind = "guest_left"
	// EventStreamError reports a transport-level failure.
	EventStreamError EventKind = "stream_error"
)

// Event is one inbound event from the collaborator.
type Event struct {
	Kind    EventKind
	Text    string
	IsFinal bool
	First   bool
	Err     error
}

// Stream is one live bidirectional conversation channel.
type Stream interface {
	// Events returns the inbound event channel. The channel is closed when
	// the stream ends.
	Events() <-chan Event

	// SeedContext replays prior turns into the collaborator's conversation
	// context, verbatim, so the next generated turn has full history.
	SeedContext(ctx context.Context, turns []Turn) error

	// Synthesize sends text to be spoken at the given rate multiplier.
	// Already-enqueued audio is unaffected by later rate changes.
	Synthesize(ctx context.Context, text string, rateMultiplier float64) error

	// EndSession tells the collaborator to wind the conversation down.
	EndSession(ctx context.Context) error

	Close() error
}

// Dialer opens streams. The session state machine owns when a stream may be
// opened; implementations only know how.
type Dialer interface {
	Dial(ctx context.Context, sessionUID string) (Stream, error)
}
