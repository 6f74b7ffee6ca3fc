package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/greenroomhq/greenroom/plugin/voicestream"
	coreerrors "github.com/greenroomhq/greenroom/server/internal/errors"
	"github.com/greenroomhq/greenroom/server/internal/observability"
	"github.com/greenroomhq/greenroom/server/interview"
	"github.com/greenroomhq/greenroom/server/live"
	"github.com/greenroomhq/greenroom/store"
)

// The instructions speaker marks briefing context seeded ahead of the
// conversation turns; it never appears in the transcript.
const speakerInstructions = "instructions"

func (r *Runner) findSession(ctx context.Context, sessionUID string) (*store.Session, error) {
	sess, err := r.store.GetSession(ctx, &store.FindSession{UID: &sessionUID})
	if err != nil {
		return nil, coreerrors.StorageUnavailable(err)
	}
	if sess == nil {
		return nil, coreerrors.NotFoundf("session %s not found", sessionUID)
	}
	return sess, nil
}

// runSession drives one interview run over a freshly dialed stream. The run
// ends at guest departure, a pause checkpoint, a stream failure, or lease
// loss; only the first two resolve the job.
func (r *Runner) runSession(ctx context.Context, run *observability.RunContext, job *store.Job, workerID string) error {
	sess, err := r.findSession(ctx, job.SessionUID)
	if err != nil {
		return err
	}

	// A job enqueued against a fresh invite starts the session itself.
	if sess.Status == store.SessionStatusInvited {
		if sess, err = r.machine.Start(ctx, sess.ID); err != nil {
			return err
		}
	}

	sess, err = r.machine.Begin(ctx, sess.ID, job.ID, workerID)
	if err != nil {
		return err
	}

	seedTurns, err := r.seedTurns(ctx, sess)
	if err != nil {
		return err
	}

	stream, err := r.dialer.Dial(ctx, sess.UID)
	if err != nil {
		return coreerrors.ExternalStreamFailure("dial failed", err)
	}
	defer stream.Close()

	seed := append([]voicestream.Turn{{Speaker: speakerInstructions, Text: r.machine.Briefing(sess)}}, seedTurns...)
	if err := stream.SeedContext(ctx, seed); err != nil {
		return coreerrors.ExternalStreamFailure("seed context failed", err)
	}

	pauseCh := r.pauses.Register(sess.UID)
	defer r.pauses.Release(sess.UID)

	pilot := live.NewPilot(r.transcript, r.classifier, r.profile.AckDeadline, r.profile.StrikeLookback)
	result, err := pilot.Run(ctx, run, sess, stream, seedTurns, pauseCh, live.NewControlState())
	if err != nil {
		return err
	}

	switch result.Outcome {
	case live.OutcomeCompleted:
		if err := r.machine.Complete(ctx, sess.ID); err != nil {
			return err
		}
		if _, created, err := r.queue.EnqueueUnique(ctx, store.JobTypeGenerateAnalysis, sess.UID, ""); err != nil {
			run.Warn("analysis enqueue failed", slog.Any("error", err))
		} else if created {
			run.Info("analysis job enqueued")
		}
		return nil

	case live.OutcomePaused:
		// Snapshot from the materialized transcript, not the pilot's
		// in-memory history: struck utterances must not resurface in the
		// resume context.
		utterances, err := r.transcript.Materialize(ctx, sess.ID)
		if err != nil {
			return err
		}
		return r.machine.Pause(ctx, sess.ID, interview.TurnsFromUtterances(utterances))

	case live.OutcomeAborted:
		return coreerrors.LeaseLost("run aborted")

	default:
		return result.Err
	}
}

// seedTurns rebuilds the conversation context for the stream: the snapshot
// verbatim when one exists, otherwise the surviving transcript of an
// interrupted run. A fresh session seeds nothing.
func (r *Runner) seedTurns(ctx context.Context, sess *store.Session) ([]voicestream.Turn, error) {
	if sess.Snapshot != nil {
		return r.machine.LoadSnapshot(sess)
	}
	utterances, err := r.transcript.Materialize(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if len(utterances) == 0 {
		return nil, nil
	}
	return interview.TurnsFromUtterances(utterances), nil
}

// generateAnalysis produces the post-session analysis from the finalized
// transcript and writes it onto the session.
func (r *Runner) generateAnalysis(ctx context.Context, run *observability.RunContext, job *store.Job) error {
	sess, err := r.findSession(ctx, job.SessionUID)
	if err != nil {
		return err
	}
	if sess.Status != store.SessionStatusCompleted {
		return coreerrors.InvalidTransition(string(sess.Status), "analysis")
	}
	if r.generator == nil {
		run.Warn("no analysis generator configured, skipping")
		return nil
	}

	utterances, err := r.transcript.Materialize(ctx, sess.ID)
	if err != nil {
		return err
	}

	analysis, err := r.generator.Summarize(ctx, sess.Topic, formatTranscript(utterances))
	if err != nil {
		return err
	}

	if _, err := r.store.UpdateSession(ctx, &store.UpdateSession{
		ID:       sess.ID,
		Analysis: &analysis,
	}); err != nil {
		return coreerrors.StorageUnavailable(err)
	}
	run.Info("analysis stored", slog.Int("utterances", len(utterances)))
	return nil
}

func formatTranscript(utterances []*store.Utterance) string {
	var b strings.Builder
	for _, u := range utterances {
		fmt.Fprintf(&b, "%s: %s\n", u.Speaker, u.Text)
	}
	return b.String()
}
