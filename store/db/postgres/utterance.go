package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/greenroomhq/greenroom/store"
)

func (d *DB) CreateUtterance(ctx context.Context, create *store.Utterance) (*store.Utterance, error) {
	// Seq is assigned inside the insert so it stays gapless; the transcript
	// log serializes appends per session, so the subselect cannot race.
	stmt := `INSERT INTO utterance (session_id, seq, speaker, text, started_ts)
		VALUES ($1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM utterance WHERE session_id = $1), $2, $3, $4)
		RETURNING id, seq, created_ts`

	if err := d.db.QueryRowContext(ctx, stmt,
		create.SessionID,
		create.Speaker,
		create.Text,
		create.StartedTs,
	).Scan(
		&create.ID,
		&create.Seq,
		&create.CreatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to create utterance: %w", err)
	}

	return create, nil
}

func (d *DB) ListUtterances(ctx context.Context, find *store.FindUtterance) ([]*store.Utterance, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.SessionID; v != nil {
		where, args = append(where, "utterance.session_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Seq; v != nil {
		where, args = append(where, "utterance.seq = "+placeholder(len(args)+1)), append(args, *v)
	}
	if find.ExcludeStruck {
		where = append(where, "utterance.struck = FALSE")
	}

	query := `SELECT id, session_id, seq, speaker, text, started_ts, struck, created_ts
		FROM utterance WHERE ` + strings.Join(where, " AND ") + ` ORDER BY seq ASC`
	if find.Limit != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query utterances: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Utterance, 0)
	for rows.Next() {
		utterance := &store.Utterance{}
		if err := rows.Scan(
			&utterance.ID,
			&utterance.SessionID,
			&utterance.Seq,
			&utterance.Speaker,
			&utterance.Text,
			&utterance.StartedTs,
			&utterance.Struck,
			&utterance.CreatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan utterance: %w", err)
		}
		list = append(list, utterance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate utterances: %w", err)
	}

	return list, nil
}

func (d *DB) StrikeUtterance(ctx context.Context, sessionID, seq int32) (int64, error) {
	stmt := `UPDATE utterance SET struck = TRUE WHERE session_id = $1 AND seq = $2 AND struck = FALSE`
	result, err := d.db.ExecContext(ctx, stmt, sessionID, seq)
	if err != nil {
		return 0, fmt.Errorf("failed to strike utterance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected, nil
}
