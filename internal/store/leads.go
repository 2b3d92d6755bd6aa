package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/saare1/aisales/internal/domain"
)

const leadColumns = `id, first_name, last_name, email, phone, company, job_title, source, status,
	notes, budget, needs, objections, preferred_channel, external_id, temperature,
	followup_count, is_active, created_at, updated_at, last_contact`

func scanLead(row rowScanner) (*domain.Lead, error) {
	var (
		l           domain.Lead
		email       sql.NullString
		status      string
		channel     string
		temperature string
		active      int
		lastContact sql.NullTime
	)
	err := row.Scan(&l.ID, &l.FirstName, &l.LastName, &email, &l.Phone, &l.Company, &l.JobTitle,
		&l.Source, &status, &l.Notes, &l.Budget, &l.Needs, &l.Objections, &channel, &l.ExternalID,
		&temperature, &l.FollowupCount, &active, &l.CreatedAt, &l.UpdatedAt, &lastContact)
	if err != nil {
		return nil, err
	}
	l.Email = email.String
	l.Status = domain.LeadStatus(status)
	l.PreferredChannel = domain.ChannelKind(channel)
	l.Temperature = domain.Temperature(temperature)
	l.Active = active == 1
	if lastContact.Valid {
		t := lastContact.Time
		l.LastContact = &t
	}
	return &l, nil
}

func (s *SQLiteStore) getLead(ctx context.Context, where string, args ...any) (*domain.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE `+where, args...)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, id int64) (*domain.Lead, error) {
	return s.getLead(ctx, "id = ?", id)
}

func (s *SQLiteStore) GetLeadByEmail(ctx context.Context, email string) (*domain.Lead, error) {
	return s.getLead(ctx, "email = ? COLLATE NOCASE", strings.TrimSpace(email))
}

func (s *SQLiteStore) GetLeadByExternal(ctx context.Context, channel domain.ChannelKind, externalID string) (*domain.Lead, error) {
	if externalID == "" {
		return nil, nil
	}
	return s.getLead(ctx, "preferred_channel = ? AND external_id = ? ORDER BY id LIMIT 1", string(channel), externalID)
}

// CreateLead inserts a new active lead. Either an email or an external id is
// required.
func (s *SQLiteStore) CreateLead(ctx context.Context, lead *domain.Lead) (int64, error) {
	if strings.TrimSpace(lead.Email) == "" && lead.ExternalID == "" {
		return 0, fmt.Errorf("%w: email or external id required", domain.ErrInvalidLead)
	}
	if lead.Status == "" {
		lead.Status = domain.StatusNew
	}
	if lead.PreferredChannel == "" {
		lead.PreferredChannel = domain.ChannelEmail
	}
	now := s.now()
	lead.CreatedAt, lead.UpdatedAt = now, now
	lead.Active = true

	res, err := s.db.ExecContext(ctx, `INSERT INTO leads (first_name, last_name, email, phone, company, job_title,
		source, status, notes, budget, needs, objections, preferred_channel, external_id, temperature,
		followup_count, is_active, created_at, updated_at, last_contact)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		lead.FirstName, lead.LastName, nullString(strings.TrimSpace(lead.Email)), lead.Phone, lead.Company,
		lead.JobTitle, lead.Source, string(lead.Status), lead.Notes, lead.Budget, lead.Needs, lead.Objections,
		string(lead.PreferredChannel), lead.ExternalID, string(lead.Temperature), lead.FollowupCount,
		now, now, nullTime(lead.LastContact),
	)
	if err != nil {
		return 0, fmt.Errorf("create lead: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create lead: %w", err)
	}
	lead.ID = id
	return id, nil
}

// UpdateLeadFields applies the non-nil fields of u and stamps updated_at.
func (s *SQLiteStore) UpdateLeadFields(ctx context.Context, id int64, u domain.LeadUpdate) error {
	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.Budget != nil {
		add("budget", *u.Budget)
	}
	if u.Needs != nil {
		add("needs", *u.Needs)
	}
	if u.Objections != nil {
		add("objections", *u.Objections)
	}
	if u.Notes != nil {
		add("notes", *u.Notes)
	}
	if u.Temperature != nil {
		add("temperature", string(*u.Temperature))
	}
	if u.FollowupCount != nil {
		add("followup_count", *u.FollowupCount)
	}
	if u.Active != nil {
		add("is_active", boolInt(*u.Active))
	}
	if u.LastContact != nil {
		add("last_contact", u.LastContact.UTC())
	}
	add("updated_at", s.now())
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE leads SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update lead %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update lead %d: %w", id, domain.ErrLeadNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, limit int) ([]domain.Lead, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+leadColumns+` FROM leads ORDER BY updated_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var out []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}
