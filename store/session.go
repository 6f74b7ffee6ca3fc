package store

import "context"

// SessionStatus is the lifecycle status of an interview session.
type SessionStatus string

const (
	SessionStatusInvited    SessionStatus = "invited"
	SessionStatusStarted    SessionStatus = "started"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusPaused     SessionStatus = "paused"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusError      SessionStatus = "error"
)

// Session is one interview's end-to-end lifecycle record. Mutated exclusively
// by the session state machine; destroyed only by external archival.
type Session struct {
	ID     int32
	UID    string
	Status SessionStatus

	TemplateRef     string
	Topic           string
	Questions       []string
	ResearchSummary string
	Angle           string
	AngleSecondary  string
	ContextNotes    string

	// Snapshot is the serialized prior-turn history (JSON) used to rebuild
	// the external LLM context on resume. Nil when no snapshot is held.
	Snapshot *string

	// Analysis is the post-session analysis text, written once the
	// generate_analysis job finishes.
	Analysis string

	LastError string

	CreatedTs   int64
	UpdatedTs   int64
	StartedTs   int64
	PausedTs    int64
	CompletedTs int64
}

// FindSession is the find condition for sessions.
type FindSession struct {
	ID       *int32
	UID      *string
	Statuses []SessionStatus

	Limit *int
}

// UpdateSession is the update request for a session.
//
// When ExpectedStatuses is non-empty the driver applies the update only if
// the current persisted status is one of them, in a single conditional
// statement; the boolean result reports whether a row was updated. This is
// how transition guards stay race-free across concurrent workers.
type UpdateSession struct {
	ID               int32
	ExpectedStatuses []SessionStatus

	Status          *SessionStatus
	Questions       *[]string
	ResearchSummary *string
	Angle           *string
	AngleSecondary  *string
	ContextNotes    *string
	Snapshot        *string
	ClearSnapshot   bool
	Analysis        *string
	LastError       *string
	StartedTs       *int64
	PausedTs        *int64
	CompletedTs     *int64
	UpdatedTs       *int64
}

// CreateSession creates a new session.
func (s *Store) CreateSession(ctx context.Context, create *Session) (*Session, error) {
	return s.driver.CreateSession(ctx, create)
}

// ListSessions lists sessions with filter.
func (s *Store) ListSessions(ctx context.Context, find *FindSession) ([]*Session, error) {
	return s.driver.ListSessions(ctx, find)
}

// GetSession gets a single session, or nil when none matches.
func (s *Store) GetSession(ctx context.Context, find *FindSession) (*Session, error) {
	list, err := s.driver.ListSessions(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// GetSessionByID gets a session by ID through the store cache. Any update
// issued through the store invalidates the cached row, so staleness is
// bounded by writes that bypass the store, which the core never does.
func (s *Store) GetSessionByID(ctx context.Context, id int32) (*Session, error) {
	if v, ok := s.sessionCache.Get(ctx, cacheKeySession(id)); ok {
		return v.(*Session), nil
	}
	sess, err := s.GetSession(ctx, &FindSession{ID: &id})
	if err != nil {
		return nil, err
	}
	if sess != nil {
		s.sessionCache.Set(ctx, cacheKeySession(id), sess)
	}
	return sess, nil
}

// UpdateSession applies an update; returns whether a row matched the
// expected statuses (always true when no expectation is set and the row
// exists).
func (s *Store) UpdateSession(ctx context.Context, update *UpdateSession) (bool, error) {
	updated, err := s.driver.UpdateSession(ctx, update)
	if err == nil && updated {
		s.sessionCache.Delete(cacheKeySession(update.ID))
	}
	return updated, err
}
