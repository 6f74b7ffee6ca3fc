package interview

import (
	"context"
	"time"

	"github.com/greenroomhq/greenroom/plugin/voicestream"
	coreerrors "github.com/greenroomhq/greenroom/server/internal/errors"
	"github.com/greenroomhq/greenroom/server/queue"
	"github.com/greenroomhq/greenroom/store"
)

// Machine drives session lifecycle transitions. Every transition is applied
// as a single conditional update keyed on the expected current status, so
// two workers racing the same session cannot both win.
type Machine struct {
	store *store.Store
	queue *queue.Coordinator

	now func() time.Time
}

func NewMachine(s *store.Store, q *queue.Coordinator) *Machine {
	return &Machine{
		store: s,
		queue: q,
		now:   time.Now,
	}
}

func (m *Machine) getSession(ctx context.Context, id int32) (*store.Session, error) {
	sess, err := m.store.GetSessionByID(ctx, id)
	if err != nil {
		return nil, coreerrors.StorageUnavailable(err)
	}
	if sess == nil {
		return nil, coreerrors.NotFoundf("session %d not found", id)
	}
	return sess, nil
}

// Start moves an invited session to started. Starting a session that has
// already started (or progressed further) is a no-op success; starting a
// finished session is an invalid transition.
func (m *Machine) Start(ctx context.Context, sessionID int32) (*store.Session, error) {
	now := m.now().Unix()
	status := store.SessionStatusStarted
	updated, err := m.store.UpdateSession(ctx, &store.UpdateSession{
		ID:               sessionID,
		ExpectedStatuses: []store.SessionStatus{store.SessionStatusInvited},
		Status:           &status,
		StartedTs:        &now,
	})
	if err != nil {
		return nil, coreerrors.StorageUnavailable(err)
	}
	sess, err := m.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if updated {
		return sess, nil
	}
	switch sess.Status {
	case store.SessionStatusStarted, store.SessionStatusInProgress, store.SessionStatusPaused:
		return sess, nil
	default:
		return nil, coreerrors.InvalidTransition(string(sess.Status), string(store.SessionStatusStarted))
	}
}

// Begin moves a started or paused session to in_progress on behalf of the
// worker holding jobID's lease. When the session is already in_progress the
// caller must prove live ownership of the lease before it may open a voice
// stream; a stale claimant gets a lease error instead of a second stream.
func (m *Machine) Begin(ctx context.Context, sessionID int32, jobID int32, workerID string) (*store.Session, error) {
	status := store.SessionStatusInProgress
	updated, err := m.store.UpdateSession(ctx, &store.UpdateSession{
		ID:               sessionID,
		ExpectedStatuses: []store.SessionStatus{store.SessionStatusStarted, store.SessionStatusPaused},
		Status:           &status,
	})
	if err != nil {
		return nil, coreerrors.StorageUnavailable(err)
	}
	sess, err := m.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if updated {
		return sess, nil
	}
	if sess.Status == store.SessionStatusInProgress {
		if err := m.queue.Heartbeat(ctx, jobID, workerID); err != nil {
			return nil, err
		}
		return sess, nil
	}
	return nil, coreerrors.InvalidTransition(string(sess.Status), string(store.SessionStatusInProgress))
}

// Pause moves an in_progress session to paused, persisting the conversation
// snapshot in the same update. Pausing an already paused session is a no-op
// success and leaves the existing snapshot untouched.
func (m *Machine) Pause(ctx context.Context, sessionID int32, turns []voicestream.Turn) error {
	snapshot, err := EncodeSnapshot(turns)
	if err != nil {
		return err
	}
	now := m.now().Unix()
	status := store.SessionStatusPaused
	updated, err := m.store.UpdateSession(ctx, &store.UpdateSession{
		ID:               sessionID,
		ExpectedStatuses: []store.SessionStatus{store.SessionStatusInProgress},
		Status:           &status,
		Snapshot:         &snapshot,
		PausedTs:         &now,
	})
	if err != nil {
		return coreerrors.StorageUnavailable(err)
	}
	if updated {
		return nil
	}
	sess, err := m.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status == store.SessionStatusPaused {
		return nil
	}
	return coreerrors.InvalidTransition(string(sess.Status), string(store.SessionStatusPaused))
}

// LoadSnapshot returns the turns persisted by the last pause, or nil when
// the session holds none.
func (m *Machine) LoadSnapshot(sess *store.Session) ([]voicestream.Turn, error) {
	if sess.Snapshot == nil {
		return nil, nil
	}
	return DecodeSnapshot(*sess.Snapshot)
}

// Complete moves an in_progress session to completed and discards the
// snapshot. Completing an already completed session is a no-op success.
func (m *Machine) Complete(ctx context.Context, sessionID int32) error {
	now := m.now().Unix()
	status := store.SessionStatusCompleted
	updated, err := m.store.UpdateSession(ctx, &store.UpdateSession{
		ID:               sessionID,
		ExpectedStatuses: []store.SessionStatus{store.SessionStatusInProgress},
		Status:           &status,
		ClearSnapshot:    true,
		CompletedTs:      &now,
	})
	if err != nil {
		return coreerrors.StorageUnavailable(err)
	}
	if updated {
		return nil
	}
	sess, err := m.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status == store.SessionStatusCompleted {
		return nil
	}
	return coreerrors.InvalidTransition(string(sess.Status), string(store.SessionStatusCompleted))
}

// MarkError moves any unfinished session to error, recording the cause. The
// snapshot is kept so a manual re-run can still resume context.
func (m *Machine) MarkError(ctx context.Context, sessionID int32, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	status := store.SessionStatusError
	updated, err := m.store.UpdateSession(ctx, &store.UpdateSession{
		ID: sessionID,
		ExpectedStatuses: []store.SessionStatus{
			store.SessionStatusInvited,
			store.SessionStatusStarted,
			store.SessionStatusInProgress,
			store.SessionStatusPaused,
		},
		Status:    &status,
		LastError: &msg,
	})
	if err != nil {
		return coreerrors.StorageUnavailable(err)
	}
	if updated {
		return nil
	}
	sess, err := m.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status == store.SessionStatusError {
		return nil
	}
	return coreerrors.InvalidTransition(string(sess.Status), string(store.SessionStatusError))
}

// Briefing resolves the session's angle and assembles the interviewer
// instructions used to open or resume a voice stream.
func (m *Machine) Briefing(sess *store.Session) string {
	primary := ResolveAngle(sess.Angle, "")
	secondary := ResolveSecondary(primary, sess.AngleSecondary, "")
	return AssembleInstructions(primary, secondary, sess.Topic, sess.Questions, sess.ResearchSummary)
}
