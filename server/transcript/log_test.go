package transcript

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/greenroomhq/greenroom/internal/profile"
	coreerrors "github.com/greenroomhq/greenroom/server/internal/errors"
	"github.com/greenroomhq/greenroom/store"
	"github.com/greenroomhq/greenroom/store/storetest"
)

func newTestLog(t *testing.T) (*Log, *store.Store, *store.Session) {
	t.Helper()
	s := store.New(storetest.New(), &profile.Profile{})
	sess, err := s.CreateSession(context.Background(), &store.Session{
		UID:    "sess-log",
		Status: store.SessionStatusInProgress,
		Topic:  "test",
	})
	require.NoError(t, err)
	return NewLog(s, 2*time.Minute), s, sess
}

func appendN(t *testing.T, l *Log, sessionID int32, texts ...string) {
	t.Helper()
	for i, text := range texts {
		speaker := store.SpeakerGuest
		if i%2 == 1 {
			speaker = store.SpeakerInterviewer
		}
		_, err := l.Append(context.Background(), sessionID, speaker, text)
		require.NoError(t, err)
	}
}

func TestAppendAssignsGaplessSeq(t *testing.T) {
	ctx := context.Background()
	l, s, sess := newTestLog(t)

	appendN(t, l, sess.ID, "one", "two", "three")

	list, err := s.ListUtterances(ctx, &store.FindUtterance{SessionID: &sess.ID})
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, u := range list {
		require.Equal(t, int32(i+1), u.Seq)
	}
}

func TestAppendConcurrentKeepsSeqGapless(t *testing.T) {
	ctx := context.Background()
	l, s, sess := newTestLog(t)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Append(ctx, sess.ID, store.SpeakerGuest, "racing")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	list, err := s.ListUtterances(ctx, &store.FindUtterance{SessionID: &sess.ID})
	require.NoError(t, err)
	require.Len(t, list, n)
	for i, u := range list {
		require.Equal(t, int32(i+1), u.Seq)
	}
}

func TestAppendSeqIsPerSession(t *testing.T) {
	ctx := context.Background()
	l, s, sess := newTestLog(t)
	other, err := s.CreateSession(ctx, &store.Session{UID: "sess-other", Status: store.SessionStatusInProgress})
	require.NoError(t, err)

	appendN(t, l, sess.ID, "a", "b")
	u, err := l.Append(ctx, other.ID, store.SpeakerGuest, "first here")
	require.NoError(t, err)
	require.Equal(t, int32(1), u.Seq)
}

func TestAppendRefusedAfterCompletion(t *testing.T) {
	ctx := context.Background()
	l, s, sess := newTestLog(t)

	status := store.SessionStatusCompleted
	_, err := s.UpdateSession(ctx, &store.UpdateSession{ID: sess.ID, Status: &status})
	require.NoError(t, err)

	_, err = l.Append(ctx, sess.ID, store.SpeakerGuest, "too late")
	require.Equal(t, coreerrors.ErrCodeSessionFinalized, coreerrors.GetCodeFromError(err, ""))
}

func TestStrikePreservesSurroundingSeqs(t *testing.T) {
	ctx := context.Background()
	l, _, sess := newTestLog(t)

	appendN(t, l, sess.ID, "one", "two", "three", "four", "five")
	require.NoError(t, l.Strike(ctx, sess.ID, 3))

	view, err := l.Materialize(ctx, sess.ID)
	require.NoError(t, err)
	seqs := make([]int32, 0, len(view))
	for _, u := range view {
		seqs = append(seqs, u.Seq)
	}
	require.Equal(t, []int32{1, 2, 4, 5}, seqs)
}

func TestStrikeTwiceFails(t *testing.T) {
	ctx := context.Background()
	l, _, sess := newTestLog(t)

	appendN(t, l, sess.ID, "one")
	require.NoError(t, l.Strike(ctx, sess.ID, 1))

	err := l.Strike(ctx, sess.ID, 1)
	require.Equal(t, coreerrors.ErrCodeAlreadyStruck, coreerrors.GetCodeFromError(err, ""))

	err = l.Strike(ctx, sess.ID, 42)
	require.Equal(t, coreerrors.ErrCodeNotFound, coreerrors.GetCodeFromError(err, ""))
}

func TestStrikeHonoredDuringGraceThenRefused(t *testing.T) {
	ctx := context.Background()
	l, s, sess := newTestLog(t)

	appendN(t, l, sess.ID, "one", "two")

	completedAt := time.Unix(1_700_000_000, 0)
	status := store.SessionStatusCompleted
	ts := completedAt.Unix()
	_, err := s.UpdateSession(ctx, &store.UpdateSession{ID: sess.ID, Status: &status, CompletedTs: &ts})
	require.NoError(t, err)

	// Inside the grace window the strike still lands.
	l.now = func() time.Time { return completedAt.Add(time.Minute) }
	require.NoError(t, l.Strike(ctx, sess.ID, 1))

	// Past it the transcript is immutable.
	l.now = func() time.Time { return completedAt.Add(3 * time.Minute) }
	err = l.Strike(ctx, sess.ID, 2)
	require.Equal(t, coreerrors.ErrCodeSessionFinalized, coreerrors.GetCodeFromError(err, ""))
}

func TestResolveStrikeTarget(t *testing.T) {
	ctx := context.Background()
	l, _, sess := newTestLog(t)

	// guest(1), interviewer(2), guest(3), interviewer(4)
	appendN(t, l, sess.ID, "g1", "i1", "g2", "i2")

	seqs, err := l.ResolveStrikeTarget(ctx, sess.ID, 2)
	require.NoError(t, err)
	require.Equal(t, []int32{3, 4}, seqs)

	// Lookback 1 strikes only the guest utterance.
	seqs, err = l.ResolveStrikeTarget(ctx, sess.ID, 1)
	require.NoError(t, err)
	require.Equal(t, []int32{3}, seqs)
}

func TestResolveStrikeTargetSkipsStruck(t *testing.T) {
	ctx := context.Background()
	l, _, sess := newTestLog(t)

	appendN(t, l, sess.ID, "g1", "i1", "g2")
	require.NoError(t, l.Strike(ctx, sess.ID, 3))

	// With the latest guest utterance gone, the previous one is the target.
	seqs, err := l.ResolveStrikeTarget(ctx, sess.ID, 2)
	require.NoError(t, err)
	require.Equal(t, []int32{1, 2}, seqs)
}

func TestResolveStrikeTargetNothingToStrike(t *testing.T) {
	ctx := context.Background()
	l, _, sess := newTestLog(t)

	_, err := l.Append(ctx, sess.ID, store.SpeakerInterviewer, "only me talking")
	require.NoError(t, err)

	_, err = l.ResolveStrikeTarget(ctx, sess.ID, 2)
	require.Equal(t, coreerrors.ErrCodeNotFound, coreerrors.GetCodeFromError(err, ""))
}

func TestStrikeResolved(t *testing.T) {
	ctx := context.Background()
	l, _, sess := newTestLog(t)

	appendN(t, l, sess.ID, "g1", "i1", "g2", "i2")
	seqs, err := l.StrikeResolved(ctx, sess.ID, 2)
	require.NoError(t, err)
	require.Equal(t, []int32{3, 4}, seqs)

	view, err := l.Materialize(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, view, 2)
	require.Equal(t, int32(1), view[0].Seq)
	require.Equal(t, int32(2), view[1].Seq)
}
