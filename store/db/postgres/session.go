package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/greenroomhq/greenroom/store"
)

const sessionColumns = "id, uid, status, template_ref, topic, questions, research_summary, angle, angle_secondary, context_notes, snapshot, analysis, last_error, created_ts, updated_ts, started_ts, paused_ts, completed_ts"

func (d *DB) CreateSession(ctx context.Context, create *store.Session) (*store.Session, error) {
	questions, err := json.Marshal(create.Questions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal questions: %w", err)
	}

	fields := []string{"uid", "status", "template_ref", "topic", "questions", "research_summary", "angle", "angle_secondary", "context_notes"}
	args := []any{create.UID, create.Status, create.TemplateRef, create.Topic, string(questions), create.ResearchSummary, create.Angle, create.AngleSecondary, create.ContextNotes}

	stmt := `INSERT INTO session (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id, created_ts, updated_ts`

	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&create.ID,
		&create.CreatedTs,
		&create.UpdatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return create, nil
}

func (d *DB) ListSessions(ctx context.Context, find *store.FindSession) ([]*store.Session, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "session.id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "session.uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if len(find.Statuses) > 0 {
		list := []string{}
		for _, status := range find.Statuses {
			list = append(list, placeholder(len(args)+1))
			args = append(args, status)
		}
		where = append(where, "session.status IN ("+strings.Join(list, ", ")+")")
	}

	query := `SELECT ` + sessionColumns + ` FROM session WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts DESC, id DESC`
	if find.Limit != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Session, 0)
	for rows.Next() {
		session := &store.Session{}
		var questions string
		var snapshot sql.NullString
		if err := rows.Scan(
			&session.ID,
			&session.UID,
			&session.Status,
			&session.TemplateRef,
			&session.Topic,
			&questions,
			&session.ResearchSummary,
			&session.Angle,
			&session.AngleSecondary,
			&session.ContextNotes,
			&snapshot,
			&session.Analysis,
			&session.LastError,
			&session.CreatedTs,
			&session.UpdatedTs,
			&session.StartedTs,
			&session.PausedTs,
			&session.CompletedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		if err := json.Unmarshal([]byte(questions), &session.Questions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal questions: %w", err)
		}
		if snapshot.Valid {
			session.Snapshot = &snapshot.String
		}

		list = append(list, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return list, nil
}

func (d *DB) UpdateSession(ctx context.Context, update *store.UpdateSession) (bool, error) {
	set, args := []string{}, []any{}

	if v := update.Status; v != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Questions; v != nil {
		questions, err := json.Marshal(*v)
		if err != nil {
			return false, fmt.Errorf("failed to marshal questions: %w", err)
		}
		set, args = append(set, "questions = "+placeholder(len(args)+1)), append(args, string(questions))
	}
	if v := update.ResearchSummary; v != nil {
		set, args = append(set, "research_summary = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Angle; v != nil {
		set, args = append(set, "angle = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.AngleSecondary; v != nil {
		set, args = append(set, "angle_secondary = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.ContextNotes; v != nil {
		set, args = append(set, "context_notes = "+placeholder(len(args)+1)), append(args, *v)
	}
	if update.ClearSnapshot {
		set = append(set, "snapshot = NULL")
	} else if v := update.Snapshot; v != nil {
		set, args = append(set, "snapshot = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Analysis; v != nil {
		set, args = append(set, "analysis = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.LastError; v != nil {
		set, args = append(set, "last_error = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.StartedTs; v != nil {
		set, args = append(set, "started_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.PausedTs; v != nil {
		set, args = append(set, "paused_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.CompletedTs; v != nil {
		set, args = append(set, "completed_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if len(set) == 0 {
		return false, nil
	}
	if v := update.UpdatedTs; v != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *v)
	} else {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, time.Now().Unix())
	}

	where := []string{"id = " + placeholder(len(args)+1)}
	args = append(args, update.ID)
	if len(update.ExpectedStatuses) > 0 {
		list := []string{}
		for _, status := range update.ExpectedStatuses {
			list = append(list, placeholder(len(args)+1))
			args = append(args, status)
		}
		where = append(where, "status IN ("+strings.Join(list, ", ")+")")
	}

	stmt := `UPDATE session SET ` + strings.Join(set, ", ") + ` WHERE ` + strings.Join(where, " AND ")
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}
