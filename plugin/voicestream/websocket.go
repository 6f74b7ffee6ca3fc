package voicestream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	writeTimeout = 10 * time.Second
	dialTimeout  = 15 * time.Second
)

// WebSocketDialer connects to the voice gateway over a websocket carrying
// JSON frames.
type WebSocketDialer struct {
	// URL is the gateway endpoint; the session UID is appended as a path
	// segment.
	URL string
}

// Dial opens a stream for the session and starts its read pump.
func (d *WebSocketDialer) Dial(ctx context.Context, sessionUID string) (Stream, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, fmt.Sprintf("%s/sessions/%s", d.URL, sessionUID), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial voice gateway for session %s", sessionUID)
	}

	s := &wsStream{
		conn:   conn,
		events: make(chan Event, 64),
	}
	go s.readPump()
	return s, nil
}

// frame is the JSON wire format shared with the voice gateway.
type frame struct {
	Type    string  `json:"type"`
	Text    string  `json:"text,omitempty"`
	IsFinal bool    `json:"is_final,omitempty"`
	First   bool    `json:"first,omitempty"`
	Rate    float64 `json:"rate,omitempty"`
	Turns   []Turn  `json:"turns,omitempty"`
	Error   string  `json:"error,omitempty"`
}

type wsStream struct {
	conn   *websocket.Conn
	events chan Event

	writeMu sync.Mutex
	closed  sync.Once
}

func (s *wsStream) Events() <-chan Event {
	return s.events
}

func (s *wsStream) readPump() {
	defer close(s.events)
	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.events <- Event{Kind: EventStreamError, Err: err}
			return
		}

		switch f.Type {
		case string(EventGuestSpeechStarted):
			s.events <- Event{Kind: EventGuestSpeechStarted}
		case string(EventGuestSpeechText):
			s.events <- Event{Kind: EventGuestSpeechText, Text: f.Text, IsFinal: f.IsFinal}
		case string(EventResponseToken):
			s.events <- Event{Kind: EventResponseToken, Text: f.Text, First: f.First}
		case string(EventResponseDone):
			s.events <- Event{Kind: EventResponseDone}
		case string(EventGuestLeft):
			s.events <- Event{Kind: EventGuestLeft}
		case string(EventStreamError):
			s.events <- Event{Kind: EventStreamError, Err: errors.New(f.Error)}
		default:
			slog.Warn("unknown voice gateway frame", "type", f.Type)
		}
	}
}

func (s *wsStream) writeFrame(ctx context.Context, f frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return errors.Wrap(err, "failed to set write deadline")
	}

	payload, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "failed to marshal frame")
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

func (s *wsStream) SeedContext(ctx context.Context, turns []Turn) error {
	return s.writeFrame(ctx, frame{Type: "seed_context", Turns: turns})
}

func (s *wsStream) Synthesize(ctx context.Context, text string, rateMultiplier float64) error {
	return s.writeFrame(ctx, frame{Type: "synthesize", Text: text, Rate: rateMultiplier})
}

func (s *wsStream) EndSession(ctx context.Context) error {
	return s.writeFrame(ctx, frame{Type: "end_session"})
}

func (s *wsStream) Close() error {
	var err error
	s.closed.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}
