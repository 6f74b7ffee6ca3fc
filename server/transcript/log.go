// Package transcript implements the append-mostly transcript event log:
// ordered utterances with gapless per-session sequence numbers, logical
// strike, and the materialized non-struck view handed to resume and export.
package transcript

import (
	"context"
	"sync"
	"time"

	coreerrors "github.com/greenroomhq/greenroom/server/internal/errors"
	"github.com/greenroomhq/greenroom/store"
)

// Log serializes transcript mutations per session. Ordering is load-bearing
// for every downstream consumer, so append and strike on one session never
// run concurrently; different sessions are fully independent.
type Log struct {
	store *store.Store

	// finalizeGrace is how long after completion strikes are still honored.
	finalizeGrace time.Duration

	mu    sync.Mutex
	locks map[int32]*sync.Mutex

	now func() time.Time
}

// NewLog creates a transcript log.
func NewLog(s *store.Store, finalizeGrace time.Duration) *Log {
	return &Log{
		store:         s,
		finalizeGrace: finalizeGrace,
		locks:         make(map[int32]*sync.Mutex),
		now:           time.Now,
	}
}

func (l *Log) sessionLock(sessionID int32) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[sessionID] = lock
	}
	return lock
}

// Append assigns the next sequence number for the session and records the
// utterance. It refuses once the session is completed.
func (l *Log) Append(ctx context.Context, sessionID int32, speaker store.Speaker, text string) (*store.Utterance, error) {
	lock := l.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := l.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, coreerrors.StorageUnavailable(err)
	}
	if session == nil {
		return nil, coreerrors.NotFoundf("session %d not found", sessionID)
	}
	if session.Status == store.SessionStatusCompleted {
		return nil, coreerrors.SessionFinalized("cannot append to a completed session")
	}

	utterance, err := l.store.CreateUtterance(ctx, &store.Utterance{
		SessionID: sessionID,
		Speaker:   speaker,
		Text:      text,
		StartedTs: l.now().Unix(),
	})
	if err != nil {
		return nil, coreerrors.StorageUnavailable(err)
	}
	return utterance, nil
}

// Strike marks an utterance struck. This is a logical delete: the row stays
// for audit and sequence contiguity, but disappears from materialized views.
// Striking an already-struck seq fails with ALREADY_STRUCK; an unknown seq
// fails with NOT_FOUND. After a completed session's grace window the
// transcript is finalized and strike is refused.
func (l *Log) Strike(ctx context.Context, sessionID, seq int32) error {
	lock := l.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := l.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return coreerrors.StorageUnavailable(err)
	}
	if session == nil {
		return coreerrors.NotFoundf("session %d not found", sessionID)
	}
	if session.Status == store.SessionStatusCompleted && session.CompletedTs > 0 {
		if l.now().Unix() > session.CompletedTs+int64(l.finalizeGrace.Seconds()) {
			return coreerrors.SessionFinalized("transcript is finalized")
		}
	}

	affected, err := l.store.StrikeUtterance(ctx, sessionID, seq)
	if err != nil {
		return coreerrors.StorageUnavailable(err)
	}
	if affected == 0 {
		existing, err := l.store.ListUtterances(ctx, &store.FindUtterance{
			SessionID: &sessionID,
			Seq:       &seq,
		})
		if err != nil {
			return coreerrors.StorageUnavailable(err)
		}
		if len(existing) == 0 {
			return coreerrors.NotFoundf("utterance seq %d not found for session %d", seq, sessionID)
		}
		return coreerrors.AlreadyStruck(seq)
	}
	return nil
}

// Materialize returns the ordered non-struck view of the session. Original
// sequence numbers are preserved; no renumbering is performed, so audit
// trails can line up exported views with the full log.
func (l *Log) Materialize(ctx context.Context, sessionID int32) ([]*store.Utterance, error) {
	list, err := l.store.ListUtterances(ctx, &store.FindUtterance{
		SessionID:     &sessionID,
		ExcludeStruck: true,
	})
	if err != nil {
		return nil, coreerrors.StorageUnavailable(err)
	}
	return list, nil
}

// ResolveStrikeTarget resolves a "forget that" command to explicit sequence
// numbers: the most recent non-struck guest utterance plus any interviewer
// acknowledgments that followed it, bounded by lookback trailing turns.
// Returns NOT_FOUND when there is no guest utterance to strike.
func (l *Log) ResolveStrikeTarget(ctx context.Context, sessionID int32, lookback int) ([]int32, error) {
	if lookback < 1 {
		lookback = 1
	}
	list, err := l.Materialize(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	guestIdx := -1
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Speaker == store.SpeakerGuest {
			guestIdx = i
			break
		}
	}
	if guestIdx < 0 {
		return nil, coreerrors.NotFound("no guest utterance to strike")
	}

	seqs := []int32{list[guestIdx].Seq}
	// Trailing interviewer turns after the guest utterance are its
	// acknowledgments; a dangling reaction to deleted content reads worse
	// than striking it along.
	for i := guestIdx + 1; i < len(list) && len(seqs) < lookback; i++ {
		if list[i].Speaker != store.SpeakerInterviewer {
			break
		}
		seqs = append(seqs, list[i].Seq)
	}
	return seqs, nil
}

// StrikeResolved resolves and strikes in one call, returning the struck seqs.
func (l *Log) StrikeResolved(ctx context.Context, sessionID int32, lookback int) ([]int32, error) {
	seqs, err := l.ResolveStrikeTarget(ctx, sessionID, lookback)
	if err != nil {
		return nil, err
	}
	for _, seq := range seqs {
		if err := l.Strike(ctx, sessionID, seq); err != nil {
			return nil, err
		}
	}
	return seqs, nil
}
