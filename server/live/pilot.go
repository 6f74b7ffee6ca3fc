package live

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/greenroomhq/greenroom/plugin/voicestream"
	coreerrors "github.com/greenroomhq/greenroom/server/internal/errors"
	"github.com/greenroomhq/greenroom/server/internal/observability"
	"github.com/greenroomhq/greenroom/server/transcript"
	"github.com/greenroomhq/greenroom/store"
)

// Outcome reports how a live run over a stream ended.
type Outcome string

const (
	// OutcomeCompleted means the guest ended the interview normally.
	OutcomeCompleted Outcome = "completed"
	// OutcomePaused means a pause request was honored at a checkpoint.
	OutcomePaused Outcome = "paused"
	// OutcomeAborted means the run context was cancelled, typically because
	// the worker lost its lease. Nothing is persisted about the abort.
	OutcomeAborted Outcome = "aborted"
	// OutcomeStreamError means the collaborator failed mid-session.
	OutcomeStreamError Outcome = "stream_error"
)

// Result is what a finished run hands back to the worker.
type Result struct {
	Outcome Outcome

	// Turns is the conversation as the pilot heard it, seeded turns
	// included. The transcript is the durable record; strikes land there,
	// not here.
	Turns []voicestream.Turn

	// Err is set when Outcome is OutcomeStreamError.
	Err error
}

// ackFillers are spoken when the collaborator stays silent past the ack
// deadline after the guest finishes a thought.
var ackFillers = []string{
	"Mm-hm.",
	"I see.",
	"Right.",
	"Got it.",
}

// Pilot drives one session's stream: it appends recognized speech to the
// transcript, recognizes spoken control commands, fills response gaps, and
// honors pause requests at turn boundaries.
type Pilot struct {
	log        *transcript.Log
	classifier Classifier

	ackDeadline    time.Duration
	strikeLookback int

	now func() time.Time
}

func NewPilot(log *transcript.Log, classifier Classifier, ackDeadline time.Duration, strikeLookback int) *Pilot {
	if classifier == nil {
		classifier = NewRuleClassifier()
	}
	return &Pilot{
		log:            log,
		classifier:     classifier,
		ackDeadline:    ackDeadline,
		strikeLookback: strikeLookback,
		now:            time.Now,
	}
}

// Run consumes the stream until the guest leaves, a pause request lands, the
// stream fails, or ctx is cancelled. Recognized control commands are acted
// on and kept out of the transcript; everything else the guest says is
// appended as it finalizes.
func (p *Pilot) Run(ctx context.Context, run *observability.RunContext, sess *store.Session, stream voicestream.Stream, seed []voicestream.Turn, pauseCh <-chan struct{}, state *ControlState) (*Result, error) {
	turns := append([]voicestream.Turn(nil), seed...)

	// Ack timer is armed when the guest finishes a thought and disarmed by
	// the first response token. A stopped timer's channel never fires.
	ackTimer := time.NewTimer(p.ackDeadline)
	if !ackTimer.Stop() {
		<-ackTimer.C
	}
	ackArmed := false
	disarmAck := func() {
		if ackArmed && !ackTimer.Stop() {
			<-ackTimer.C
		}
		ackArmed = false
	}
	defer disarmAck()

	var responseBuf strings.Builder
	responseInFlight := false
	pausePending := false
	fillerIdx := 0

	for {
		select {
		case <-ctx.Done():
			return &Result{Outcome: OutcomeAborted, Turns: turns}, nil

		case <-pauseCh:
			if responseInFlight {
				// Not a safe checkpoint. Honor it after response_done.
				pausePending = true
				continue
			}
			return p.finishPaused(ctx, run, stream, turns)

		case <-ackTimer.C:
			ackArmed = false
			filler := ackFillers[fillerIdx%len(ackFillers)]
			fillerIdx++
			if err := stream.Synthesize(ctx, filler, state.SpeechRate()); err != nil {
				run.Warn("filler synthesis failed", slog.Any("error", err))
				continue
			}
			if _, err := p.log.Append(ctx, sess.ID, store.SpeakerInterviewer, filler); err != nil {
				return nil, err
			}
			turns = append(turns, voicestream.Turn{Speaker: string(store.SpeakerInterviewer), Text: filler})

		case ev, ok := <-stream.Events():
			if !ok {
				return &Result{
					Outcome: OutcomeStreamError,
					Turns:   turns,
					Err:     coreerrors.ExternalStreamFailure("stream closed unexpectedly", nil),
				}, nil
			}

			switch ev.Kind {
			case voicestream.EventGuestSpeechStarted:
				state.TouchGuestActivity(p.now())

			case voicestream.EventGuestSpeechText:
				state.TouchGuestActivity(p.now())
				if !ev.IsFinal {
					continue
				}
				handled, err := p.handleGuestFinal(ctx, run, sess, stream, ev.Text, state)
				if err != nil {
					return nil, err
				}
				if !handled {
					turns = append(turns, voicestream.Turn{Speaker: string(store.SpeakerGuest), Text: ev.Text})
					// Only real utterances await a response; a consumed
					// command gets no gap filler.
					disarmAck()
					ackTimer.Reset(p.ackDeadline)
					ackArmed = true
				}

			case voicestream.EventResponseToken:
				if ev.First {
					disarmAck()
					responseInFlight = true
					responseBuf.Reset()
				}
				responseBuf.WriteString(ev.Text)

			case voicestream.EventResponseDone:
				responseInFlight = false
				text := ev.Text
				if text == "" {
					text = responseBuf.String()
				}
				responseBuf.Reset()
				if text != "" {
					if _, err := p.log.Append(ctx, sess.ID, store.SpeakerInterviewer, text); err != nil {
						return nil, err
					}
					turns = append(turns, voicestream.Turn{Speaker: string(store.SpeakerInterviewer), Text: text})
				}
				if pausePending {
					return p.finishPaused(ctx, run, stream, turns)
				}

			case voicestream.EventGuestLeft:
				run.Info("guest left, winding down")
				if err := stream.EndSession(ctx); err != nil {
					run.Warn("end session failed", slog.Any("error", err))
				}
				return &Result{Outcome: OutcomeCompleted, Turns: turns}, nil

			case voicestream.EventStreamError:
				return &Result{
					Outcome: OutcomeStreamError,
					Turns:   turns,
					Err:     coreerrors.ExternalStreamFailure("stream reported failure", ev.Err),
				}, nil
			}
		}
	}
}

// handleGuestFinal recognizes control commands in a finalized guest
// utterance. Commands are acted on and never appended; ordinary speech is
// appended. Returns whether the utterance was consumed as a command.
func (p *Pilot) handleGuestFinal(ctx context.Context, run *observability.RunContext, sess *store.Session, stream voicestream.Stream, text string, state *ControlState) (bool, error) {
	intent, err := p.classifier.Classify(ctx, text)
	if err != nil {
		run.Warn("intent classification failed", slog.Any("error", err))
		intent = IntentNone
	}

	switch intent {
	case IntentSlowDown:
		rate := state.AdjustSpeechRate(-SpeechRateStep)
		run.Info("speech rate adjusted", slog.Float64("rate", rate))
		return true, nil

	case IntentSpeedUp:
		rate := state.AdjustSpeechRate(SpeechRateStep)
		run.Info("speech rate adjusted", slog.Float64("rate", rate))
		return true, nil

	case IntentStrike:
		struck, err := p.log.StrikeResolved(ctx, sess.ID, p.strikeLookback)
		if err != nil {
			if coreerrors.IsCode(err, coreerrors.ErrCodeNotFound) {
				run.Warn("strike requested with nothing to strike")
				return true, nil
			}
			return false, err
		}
		run.Info("utterances struck", slog.Any("seqs", struck))
		if err := stream.Synthesize(ctx, "Of course, we'll leave that out.", state.SpeechRate()); err != nil {
			run.Warn("strike confirmation synthesis failed", slog.Any("error", err))
		}
		return true, nil

	default:
		if _, err := p.log.Append(ctx, sess.ID, store.SpeakerGuest, text); err != nil {
			return false, err
		}
		return false, nil
	}
}

func (p *Pilot) finishPaused(ctx context.Context, run *observability.RunContext, stream voicestream.Stream, turns []voicestream.Turn) (*Result, error) {
	run.Info("pause checkpoint reached")
	if err := stream.EndSession(ctx); err != nil {
		run.Warn("end session failed", slog.Any("error", err))
	}
	return &Result{Outcome: OutcomePaused, Turns: turns}, nil
}
