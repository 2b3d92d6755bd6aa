package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/saare1/aisales/internal/domain"
)

func (s *SQLiteStore) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	evidence, err := json.Marshal(entry.Evidence)
	if err != nil {
		return fmt.Errorf("encode evidence: %w", err)
	}
	if entry.Evidence == nil {
		evidence = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (lead_id, category, evidence, message, action_taken, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.LeadID, string(entry.Category), string(evidence), entry.Message, entry.ActionTaken, s.now(),
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// AuditLog returns the newest entries first. leadID 0 returns all leads.
func (s *SQLiteStore) AuditLog(ctx context.Context, leadID int64, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, lead_id, category, evidence, message, action_taken, created_at FROM audit_log`
	args := []any{}
	if leadID != 0 {
		query += ` WHERE lead_id = ?`
		args = append(args, leadID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e        domain.AuditEntry
			category string
			evidence string
		)
		if err := rows.Scan(&e.ID, &e.LeadID, &category, &evidence, &e.Message, &e.ActionTaken, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Category = domain.RiskCategory(category)
		if err := json.Unmarshal([]byte(evidence), &e.Evidence); err != nil {
			return nil, fmt.Errorf("decode evidence for entry %d: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateNotification(ctx context.Context, n domain.Notification) (int64, error) {
	if n.Priority == 0 {
		n.Priority = domain.NotifyPriorityNormal
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (lead_id, type, content, priority, is_read, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		n.LeadID, n.Type, n.Content, n.Priority, s.now(),
	)
	if err != nil {
		return 0, fmt.Errorf("create notification: %w", err)
	}
	return res.LastInsertId()
}

// Notifications returns the highest priority first, then newest.
func (s *SQLiteStore) Notifications(ctx context.Context, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, lead_id, type, content, priority, is_read, created_at FROM notifications`
	if unreadOnly {
		query += ` WHERE is_read = 0`
	}
	query += ` ORDER BY priority DESC, created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var read int
		if err := rows.Scan(&n.ID, &n.LeadID, &n.Type, &n.Content, &n.Priority, &read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Read = read == 1
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark notification %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %d not found", id)
	}
	return nil
}
