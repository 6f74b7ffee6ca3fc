package live

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/greenroomhq/greenroom/internal/profile"
	"github.com/greenroomhq/greenroom/plugin/voicestream"
	coreerrors "github.com/greenroomhq/greenroom/server/internal/errors"
	"github.com/greenroomhq/greenroom/server/internal/observability"
	"github.com/greenroomhq/greenroom/server/transcript"
	"github.com/greenroomhq/greenroom/store"
	"github.com/greenroomhq/greenroom/store/storetest"
)

const testAckDeadline = 50 * time.Millisecond

type pilotHarness struct {
	pilot   *Pilot
	log     *transcript.Log
	store   *store.Store
	session *store.Session
	stream  *voicestream.FakeStream
	run     *observability.RunContext
	state   *ControlState
	pauseCh chan struct{}

	resultCh chan *Result
	errCh    chan error
}

func newPilotHarness(t *testing.T) *pilotHarness {
	t.Helper()
	s := store.New(storetest.New(), &profile.Profile{})
	sess, err := s.CreateSession(context.Background(), &store.Session{
		UID:    "sess-live",
		Status: store.SessionStatusInProgress,
		Topic:  "first marathon",
	})
	require.NoError(t, err)

	log := transcript.NewLog(s, 2*time.Minute)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &pilotHarness{
		pilot:    NewPilot(log, NewRuleClassifier(), testAckDeadline, 2),
		log:      log,
		store:    s,
		session:  sess,
		stream:   voicestream.NewFakeStream(),
		run:      observability.NewRunContext(logger, sess.UID, "worker-test"),
		state:    NewControlState(),
		pauseCh:  make(chan struct{}, 1),
		resultCh: make(chan *Result, 1),
		errCh:    make(chan error, 1),
	}
}

func (h *pilotHarness) start(ctx context.Context, seed []voicestream.Turn) {
	go func() {
		result, err := h.pilot.Run(ctx, h.run, h.session, h.stream, seed, h.pauseCh, h.state)
		h.errCh <- err
		h.resultCh <- result
	}()
}

func (h *pilotHarness) wait(t *testing.T) *Result {
	t.Helper()
	select {
	case err := <-h.errCh:
		require.NoError(t, err)
		return <-h.resultCh
	case <-time.After(5 * time.Second):
		t.Fatal("pilot did not finish")
		return nil
	}
}

func TestPilotCompletesWhenGuestLeaves(t *testing.T) {
	h := newPilotHarness(t)
	h.start(context.Background(), nil)

	h.stream.PushGuestFinal("It rained the whole way.")
	h.stream.PushResponse("How did you keep going?")
	h.stream.Push(voicestream.Event{Kind: voicestream.EventGuestLeft})

	result := h.wait(t)
	require.Equal(t, OutcomeCompleted, result.Outcome)
	require.True(t, h.stream.Ended())
	require.Equal(t, []voicestream.Turn{
		{Speaker: "guest", Text: "It rained the whole way."},
		{Speaker: "interviewer", Text: "How did you keep going?"},
	}, result.Turns)

	utterances, err := h.log.Materialize(context.Background(), h.session.ID)
	require.NoError(t, err)
	require.Len(t, utterances, 2)
	require.Equal(t, store.SpeakerGuest, utterances[0].Speaker)
	require.Equal(t, store.SpeakerInterviewer, utterances[1].Speaker)
}

func TestPilotFillerAfterAckDeadline(t *testing.T) {
	h := newPilotHarness(t)
	h.start(context.Background(), nil)

	h.stream.PushGuestFinal("And then everything went quiet.")

	require.Eventually(t, func() bool {
		return len(h.stream.Synthesized()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1.0, h.stream.Synthesized()[0].Rate)

	h.stream.Push(voicestream.Event{Kind: voicestream.EventGuestLeft})
	result := h.wait(t)

	// The filler became an interviewer turn.
	require.Len(t, result.Turns, 2)
	require.Equal(t, "interviewer", result.Turns[1].Speaker)
}

func TestPilotAckCancelledByResponseToken(t *testing.T) {
	h := newPilotHarness(t)
	h.start(context.Background(), nil)

	h.stream.PushGuestFinal("Quick answer.")
	// Response arrives well inside the deadline.
	h.stream.PushResponse("Tell me more.")

	// Wait past the deadline; no filler may appear.
	time.Sleep(3 * testAckDeadline)
	require.Empty(t, h.stream.Synthesized())

	h.stream.Push(voicestream.Event{Kind: voicestream.EventGuestLeft})
	h.wait(t)
}

func TestPilotSpeechRateIntent(t *testing.T) {
	h := newPilotHarness(t)
	h.start(context.Background(), nil)

	h.stream.PushGuestFinal("Could you slow down a little?")

	// The command is consumed whole: not transcribed, and no filler fires
	// for it after the deadline.
	time.Sleep(3 * testAckDeadline)
	require.Empty(t, h.stream.Synthesized())

	// The next real utterance goes unanswered; its filler speaks at the
	// reduced rate.
	h.stream.PushGuestFinal("Anyway, the second lap felt easier.")
	require.Eventually(t, func() bool {
		return len(h.stream.Synthesized()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 0.75, h.stream.Synthesized()[0].Rate)

	h.stream.Push(voicestream.Event{Kind: voicestream.EventGuestLeft})
	result := h.wait(t)

	utterances, err := h.log.Materialize(context.Background(), h.session.ID)
	require.NoError(t, err)
	for _, u := range utterances {
		require.NotContains(t, u.Text, "slow down")
	}
	for _, turn := range result.Turns {
		require.NotContains(t, turn.Text, "slow down")
	}
}

func TestPilotStrikeIntent(t *testing.T) {
	h := newPilotHarness(t)
	h.start(context.Background(), nil)

	h.stream.PushGuestFinal("My co-founder was useless, frankly.")
	h.stream.PushResponse("That sounds tense.")
	h.stream.PushGuestFinal("Actually, scratch that.")

	require.Eventually(t, func() bool {
		for _, s := range h.stream.Synthesized() {
			if s.Text == "Of course, we'll leave that out." {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	h.stream.Push(voicestream.Event{Kind: voicestream.EventGuestLeft})
	h.wait(t)

	utterances, err := h.log.Materialize(context.Background(), h.session.ID)
	require.NoError(t, err)
	for _, u := range utterances {
		require.NotContains(t, u.Text, "co-founder")
		require.NotContains(t, u.Text, "That sounds tense.")
	}
}

func TestPilotPauseAtIdleCheckpoint(t *testing.T) {
	h := newPilotHarness(t)
	h.start(context.Background(), nil)

	h.stream.PushGuestFinal("Let me think about that.")
	h.stream.PushResponse("Take your time.")
	time.Sleep(20 * time.Millisecond)
	h.pauseCh <- struct{}{}

	result := h.wait(t)
	require.Equal(t, OutcomePaused, result.Outcome)
	require.True(t, h.stream.Ended())
	require.Len(t, result.Turns, 2)
}

func TestPilotPauseDeferredWhileResponseInFlight(t *testing.T) {
	h := newPilotHarness(t)
	h.start(context.Background(), nil)

	h.stream.PushGuestFinal("One more story.")
	h.stream.Push(voicestream.Event{Kind: voicestream.EventResponseToken, Text: "Go ", First: true})
	time.Sleep(20 * time.Millisecond)
	h.pauseCh <- struct{}{}
	time.Sleep(20 * time.Millisecond)
	h.stream.Push(voicestream.Event{Kind: voicestream.EventResponseToken, Text: "ahead."})
	h.stream.Push(voicestream.Event{Kind: voicestream.EventResponseDone})

	result := h.wait(t)
	require.Equal(t, OutcomePaused, result.Outcome)
	// The in-flight response landed before the pause was honored.
	require.Equal(t, "Go ahead.", result.Turns[len(result.Turns)-1].Text)
}

func TestPilotStreamError(t *testing.T) {
	h := newPilotHarness(t)
	h.start(context.Background(), nil)

	h.stream.Push(voicestream.Event{Kind: voicestream.EventStreamError, Err: io.ErrUnexpectedEOF})

	result := h.wait(t)
	require.Equal(t, OutcomeStreamError, result.Outcome)
	require.Equal(t, coreerrors.ErrCodeExternalStreamFailure, coreerrors.GetCodeFromError(result.Err, ""))
}

func TestPilotAbortOnContextCancel(t *testing.T) {
	h := newPilotHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx, []voicestream.Turn{{Speaker: "guest", Text: "earlier turn"}})

	cancel()
	result := h.wait(t)
	require.Equal(t, OutcomeAborted, result.Outcome)
	require.Equal(t, []voicestream.Turn{{Speaker: "guest", Text: "earlier turn"}}, result.Turns)
}
