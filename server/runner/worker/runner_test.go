package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/greenroomhq/greenroom/internal/profile"
	"github.com/greenroomhq/greenroom/plugin/questions"
	"github.com/greenroomhq/greenroom/plugin/voicestream"
	"github.com/greenroomhq/greenroom/server/interview"
	"github.com/greenroomhq/greenroom/server/live"
	"github.com/greenroomhq/greenroom/server/queue"
	"github.com/greenroomhq/greenroom/server/transcript"
	"github.com/greenroomhq/greenroom/store"
	"github.com/greenroomhq/greenroom/store/storetest"
)

type workerHarness struct {
	runner    *Runner
	store     *store.Store
	queue     *queue.Coordinator
	machine   *interview.Machine
	pauses    *live.PauseRegistry
	generator *questions.FakeGenerator
	dialer    *voicestream.FakeDialer
}

func newWorkerHarness(t *testing.T, streams ...*voicestream.FakeStream) *workerHarness {
	t.Helper()
	p := &profile.Profile{
		Workers:           1,
		PollInterval:      10 * time.Millisecond,
		LeaseDuration:     30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		MaxAttempts:       3,
		BackoffBase:       time.Second,
		BackoffCap:        time.Minute,
		AckDeadline:       50 * time.Millisecond,
		StrikeLookback:    2,
		FinalizeGrace:     2 * time.Minute,
	}
	s := store.New(storetest.New(), p)
	q := queue.NewCoordinator(s, p)
	m := interview.NewMachine(s, q)
	log := transcript.NewLog(s, p.FinalizeGrace)
	pauses := live.NewPauseRegistry()
	generator := questions.NewFakeGenerator()
	dialer := voicestream.NewFakeDialer(streams...)

	runner := NewRunner(Options{
		Store:      s,
		Queue:      q,
		Machine:    m,
		Transcript: log,
		Dialer:     dialer,
		Generator:  generator,
		Pauses:     pauses,
		Classifier: live.NewRuleClassifier(),
		Profile:    p,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &workerHarness{
		runner:    runner,
		store:     s,
		queue:     q,
		machine:   m,
		pauses:    pauses,
		generator: generator,
		dialer:    dialer,
	}
}

func (h *workerHarness) createSession(t *testing.T, status store.SessionStatus) *store.Session {
	t.Helper()
	sess, err := h.store.CreateSession(context.Background(), &store.Session{
		UID:    "sess-worker",
		Status: status,
		Topic:  "building the lighthouse",
	})
	require.NoError(t, err)
	return sess
}

func (h *workerHarness) enqueueAndClaim(t *testing.T, jobType, sessionUID string) *store.Job {
	t.Helper()
	ctx := context.Background()
	_, err := h.queue.Enqueue(ctx, jobType, sessionUID, "")
	require.NoError(t, err)
	job, err := h.queue.ClaimNext(ctx, "w-0", []string{jobType})
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func TestProcessRunSessionToCompletion(t *testing.T) {
	ctx := context.Background()
	stream := voicestream.NewFakeStream()
	stream.PushGuestFinal("It took four winters to finish.")
	stream.PushResponse("What kept the crew coming back?")
	stream.Push(voicestream.Event{Kind: voicestream.EventGuestLeft})

	h := newWorkerHarness(t, stream)
	sess := h.createSession(t, store.SessionStatusStarted)
	job := h.enqueueAndClaim(t, store.JobTypeRunSession, sess.UID)

	h.runner.process(ctx, "w-0", job)

	got, err := h.store.GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, store.SessionStatusCompleted, got.Status)
	require.Nil(t, got.Snapshot)

	done, err := h.store.GetJob(ctx, &store.FindJob{ID: &job.ID})
	require.NoError(t, err)
	require.Equal(t, store.JobStatusCompleted, done.Status)

	// The briefing was seeded ahead of the conversation.
	seeded := stream.Seeded()
	require.Len(t, seeded, 1)
	require.Equal(t, speakerInstructions, seeded[0][0].Speaker)

	// Completion enqueued exactly one analysis job.
	analysisType := store.JobTypeGenerateAnalysis
	jobs, err := h.store.ListJobs(ctx, &store.FindJob{Type: &analysisType})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, store.JobStatusPending, jobs[0].Status)
}

func TestProcessRunSessionPause(t *testing.T) {
	ctx := context.Background()
	stream := voicestream.NewFakeStream()

	h := newWorkerHarness(t, stream)
	sess := h.createSession(t, store.SessionStatusStarted)
	job := h.enqueueAndClaim(t, store.JobTypeRunSession, sess.UID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.runner.process(ctx, "w-0", job)
	}()

	stream.PushGuestFinal("Let's stop here for today.")
	stream.PushResponse("Of course.")

	// Wait for the exchange to land before requesting the pause, so the
	// checkpoint captures both turns.
	require.Eventually(t, func() bool {
		utterances, err := h.store.ListUtterances(ctx, &store.FindUtterance{SessionID: &sess.ID})
		return err == nil && len(utterances) == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.True(t, h.pauses.RequestPause(sess.UID))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not finish")
	}

	got, err := h.store.GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, store.SessionStatusPaused, got.Status)
	require.NotNil(t, got.Snapshot)

	turns, err := h.machine.LoadSnapshot(got)
	require.NoError(t, err)
	require.NotEmpty(t, turns)

	// Resuming reuses the snapshot verbatim.
	resumeStream := voicestream.NewFakeStream()
	resumeStream.Push(voicestream.Event{Kind: voicestream.EventGuestLeft})
	h2Dialer := voicestream.NewFakeDialer(resumeStream)
	h.runner.dialer = h2Dialer

	job2 := h.enqueueAndClaim(t, store.JobTypeRunSession, sess.UID)
	h.runner.process(ctx, "w-0", job2)

	seeded := resumeStream.Seeded()
	require.Len(t, seeded, 1)
	require.Equal(t, turns, seeded[0][1:])
}

func TestProcessPauseSnapshotExcludesStruck(t *testing.T) {
	ctx := context.Background()
	stream := voicestream.NewFakeStream()

	h := newWorkerHarness(t, stream)
	sess := h.createSession(t, store.SessionStatusStarted)
	job := h.enqueueAndClaim(t, store.JobTypeRunSession, sess.UID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.runner.process(ctx, "w-0", job)
	}()

	stream.PushGuestFinal("My co-founder was useless, frankly.")
	stream.PushResponse("That sounds tense.")
	require.Eventually(t, func() bool {
		utterances, err := h.store.ListUtterances(ctx, &store.FindUtterance{SessionID: &sess.ID})
		return err == nil && len(utterances) == 2
	}, 2*time.Second, 5*time.Millisecond)

	stream.PushGuestFinal("Actually, scratch that.")
	stream.PushGuestFinal("Let's talk about the launch instead.")
	stream.PushResponse("Gladly, where should we start?")
	require.Eventually(t, func() bool {
		utterances, err := h.store.ListUtterances(ctx, &store.FindUtterance{SessionID: &sess.ID, ExcludeStruck: true})
		// len == 2 alone is ambiguous: the two pre-strike utterances also
		// satisfy it before the strike lands. Pin the surviving texts so the
		// pause cannot fire mid-strike.
		return err == nil && len(utterances) == 2 &&
			utterances[0].Text == "Let's talk about the launch instead." &&
			utterances[1].Text == "Gladly, where should we start?"
	}, 2*time.Second, 5*time.Millisecond)
	require.True(t, h.pauses.RequestPause(sess.UID))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not finish")
	}

	got, err := h.store.GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, store.SessionStatusPaused, got.Status)
	require.NotNil(t, got.Snapshot)

	// Struck content must not resurface when the snapshot re-seeds the
	// resumed conversation.
	turns, err := h.machine.LoadSnapshot(got)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "Let's talk about the launch instead.", turns[0].Text)
	require.Equal(t, "Gladly, where should we start?", turns[1].Text)
	for _, turn := range turns {
		require.NotContains(t, turn.Text, "co-founder")
		require.NotContains(t, turn.Text, "That sounds tense.")
	}
}

func TestProcessRunSessionStreamErrorRetries(t *testing.T) {
	ctx := context.Background()
	stream := voicestream.NewFakeStream()
	stream.Push(voicestream.Event{Kind: voicestream.EventStreamError, Err: io.ErrUnexpectedEOF})

	h := newWorkerHarness(t, stream)
	sess := h.createSession(t, store.SessionStatusStarted)
	job := h.enqueueAndClaim(t, store.JobTypeRunSession, sess.UID)

	h.runner.process(ctx, "w-0", job)

	failed, err := h.store.GetJob(ctx, &store.FindJob{ID: &job.ID})
	require.NoError(t, err)
	require.Equal(t, store.JobStatusPending, failed.Status)
	require.Equal(t, int32(1), failed.Attempts)
	require.NotEmpty(t, failed.LastError)

	// The session stays in_progress; a later claim resumes from transcript.
	got, err := h.store.GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, store.SessionStatusInProgress, got.Status)
}

func TestProcessMarksSessionErrorWhenJobDies(t *testing.T) {
	ctx := context.Background()
	stream := voicestream.NewFakeStream()
	stream.Push(voicestream.Event{Kind: voicestream.EventStreamError, Err: io.ErrUnexpectedEOF})

	h := newWorkerHarness(t, stream)
	sess := h.createSession(t, store.SessionStatusStarted)

	// A job on its last permitted attempt.
	_, err := h.store.CreateJob(ctx, &store.Job{
		UID:         "job-final",
		Type:        store.JobTypeRunSession,
		SessionUID:  sess.UID,
		Payload:     "{}",
		Status:      store.JobStatusPending,
		MaxAttempts: 1,
	})
	require.NoError(t, err)
	job, err := h.queue.ClaimNext(ctx, "w-0", []string{store.JobTypeRunSession})
	require.NoError(t, err)

	h.runner.process(ctx, "w-0", job)

	dead, err := h.store.GetJob(ctx, &store.FindJob{ID: &job.ID})
	require.NoError(t, err)
	require.Equal(t, store.JobStatusDead, dead.Status)

	got, err := h.store.GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, store.SessionStatusError, got.Status)
	require.NotEmpty(t, got.LastError)
}

func TestProcessGenerateAnalysis(t *testing.T) {
	ctx := context.Background()
	h := newWorkerHarness(t)
	sess := h.createSession(t, store.SessionStatusCompleted)

	_, err := h.store.CreateUtterance(ctx, &store.Utterance{
		SessionID: sess.ID,
		Speaker:   store.SpeakerGuest,
		Text:      "The light first lit in 1911.",
	})
	require.NoError(t, err)

	job := h.enqueueAndClaim(t, store.JobTypeGenerateAnalysis, sess.UID)
	h.runner.process(ctx, "w-0", job)

	got, err := h.store.GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "stub analysis", got.Analysis)
	require.Equal(t, []string{"building the lighthouse"}, h.generator.SummarizeCalls())

	done, err := h.store.GetJob(ctx, &store.FindJob{ID: &job.ID})
	require.NoError(t, err)
	require.Equal(t, store.JobStatusCompleted, done.Status)
}

func TestGenerateAnalysisRequiresCompletedSession(t *testing.T) {
	ctx := context.Background()
	h := newWorkerHarness(t)
	sess := h.createSession(t, store.SessionStatusInProgress)

	job := h.enqueueAndClaim(t, store.JobTypeGenerateAnalysis, sess.UID)
	h.runner.process(ctx, "w-0", job)

	failed, err := h.store.GetJob(ctx, &store.FindJob{ID: &job.ID})
	require.NoError(t, err)
	require.Equal(t, store.JobStatusPending, failed.Status)
	require.Equal(t, int32(1), failed.Attempts)
}

func TestFormatTranscript(t *testing.T) {
	got := formatTranscript([]*store.Utterance{
		{Speaker: store.SpeakerGuest, Text: "Hello."},
		{Speaker: store.SpeakerInterviewer, Text: "Welcome."},
	})
	require.Equal(t, "guest: Hello.\ninterviewer: Welcome.\n", got)
}
