package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/saare1/aisales/internal/domain"
)

func (s *SQLiteStore) SaveMessage(ctx context.Context, leadID int64, content string, fromLead bool, channel domain.ChannelKind, sentiment *float64) (int64, error) {
	var score sql.NullFloat64
	if sentiment != nil {
		score = sql.NullFloat64{Float64: *sentiment, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (lead_id, content, is_from_lead, channel, sentiment_score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		leadID, content, boolInt(fromLead), string(channel), score, s.now(),
	)
	if err != nil {
		return 0, fmt.Errorf("save message: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) History(ctx context.Context, leadID int64, limit int) ([]domain.ConversationMessage, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryMessages(ctx,
		`SELECT id, lead_id, content, is_from_lead, channel, sentiment_score, created_at
		 FROM conversations WHERE lead_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		leadID, limit,
	)
}

func (s *SQLiteStore) ScoredMessages(ctx context.Context, leadID int64, since time.Time, limit int) ([]domain.ConversationMessage, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	return s.queryMessages(ctx,
		`SELECT id, lead_id, content, is_from_lead, channel, sentiment_score, created_at
		 FROM conversations
		 WHERE lead_id = ? AND is_from_lead = 1 AND sentiment_score IS NOT NULL AND created_at >= ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		leadID, since.UTC(), limit,
	)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]domain.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []domain.ConversationMessage
	for rows.Next() {
		var (
			m        domain.ConversationMessage
			fromLead int
			channel  string
			score    sql.NullFloat64
		)
		if err := rows.Scan(&m.ID, &m.LeadID, &m.Content, &fromLead, &channel, &score, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.FromLead = fromLead == 1
		m.Channel = domain.ChannelKind(channel)
		if score.Valid {
			v := score.Float64
			m.Sentiment = &v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
