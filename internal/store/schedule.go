package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/saare1/aisales/internal/domain"
)

func (s *SQLiteStore) SaveMeeting(ctx context.Context, m domain.Meeting) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meetings (id, lead_id, starts_at, duration_minutes, notes, link, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.LeadID, m.StartsAt.UTC(), m.DurationMinutes, m.Notes, m.Link, m.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save meeting: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Meetings(ctx context.Context, leadID int64) ([]domain.Meeting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, starts_at, duration_minutes, notes, link, created_at
		 FROM meetings WHERE lead_id = ? ORDER BY starts_at`, leadID)
	if err != nil {
		return nil, fmt.Errorf("meetings: %w", err)
	}
	defer rows.Close()

	var out []domain.Meeting
	for rows.Next() {
		var m domain.Meeting
		if err := rows.Scan(&m.ID, &m.LeadID, &m.StartsAt, &m.DurationMinutes, &m.Notes, &m.Link, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveFollowup(ctx context.Context, f domain.Followup) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO followups (id, lead_id, channel, content, scheduled_for, executed, executed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.LeadID, string(f.Channel), f.Content, f.ScheduledFor.UTC(), boolInt(f.Executed),
		nullTime(f.ExecutedAt), f.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save followup: %w", err)
	}
	return nil
}

// DueFollowups returns unexecuted followups scheduled at or before now, oldest first.
func (s *SQLiteStore) DueFollowups(ctx context.Context, now time.Time, limit int) ([]domain.Followup, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, channel, content, scheduled_for, executed, executed_at, created_at
		 FROM followups WHERE executed = 0 AND scheduled_for <= ?
		 ORDER BY scheduled_for, id LIMIT ?`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("due followups: %w", err)
	}
	defer rows.Close()

	var out []domain.Followup
	for rows.Next() {
		var (
			f          domain.Followup
			channel    string
			executed   int
			executedAt sql.NullTime
		)
		if err := rows.Scan(&f.ID, &f.LeadID, &channel, &f.Content, &f.ScheduledFor, &executed, &executedAt, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan followup: %w", err)
		}
		f.Channel = domain.ChannelKind(channel)
		f.Executed = executed == 1
		if executedAt.Valid {
			t := executedAt.Time
			f.ExecutedAt = &t
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkFollowupExecuted(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE followups SET executed = 1, executed_at = ? WHERE id = ? AND executed = 0`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark followup %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("followup %s not found or already executed", id)
	}
	return nil
}
