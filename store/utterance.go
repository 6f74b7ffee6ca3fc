package store

import "context"

// Speaker identifies who produced an utterance.
type Speaker string

const (
	SpeakerGuest       Speaker = "guest"
	SpeakerInterviewer Speaker = "interviewer"
)

// Utterance is one turn of speech. Seq is strictly increasing and gapless
// per session; rows are immutable once appended except for the struck flag.
// A struck utterance is retained for audit but excluded from materialized
// views.
type Utterance struct {
	ID        int32
	SessionID int32
	Seq       int32
	Speaker   Speaker
	Text      string
	StartedTs int64
	Struck    bool
	CreatedTs int64
}

// FindUtterance is the find condition for utterances. Results are always
// ordered by seq ascending.
type FindUtterance struct {
	SessionID     *int32
	Seq           *int32
	ExcludeStruck bool

	Limit *int
}

// CreateUtterance appends an utterance. The driver assigns
// seq = max(seq)+1 for the session inside the insert statement; callers
// serialize appends per session so the subselect cannot race.
func (s *Store) CreateUtterance(ctx context.Context, create *Utterance) (*Utterance, error) {
	return s.driver.CreateUtterance(ctx, create)
}

// ListUtterances lists utterances with filter, ordered by seq.
func (s *Store) ListUtterances(ctx context.Context, find *FindUtterance) ([]*Utterance, error) {
	return s.driver.ListUtterances(ctx, find)
}

// StrikeUtterance marks a not-yet-struck utterance struck. Returns the
// number of rows affected: 0 means the seq does not exist or is already
// struck; the caller distinguishes the two.
func (s *Store) StrikeUtterance(ctx context.Context, sessionID, seq int32) (int64, error) {
	return s.driver.StrikeUtterance(ctx, sessionID, seq)
}
