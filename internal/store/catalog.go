package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/saare1/aisales/internal/domain"
)

func (s *SQLiteStore) Products(ctx context.Context, activeOnly bool) ([]domain.Product, error) {
	query := `SELECT id, name, description, category, price, features, is_active FROM products`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("products: %w", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	var active int
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &p.Features, &active); err != nil {
		return nil, err
	}
	p.Active = active == 1
	return &p, nil
}

func (s *SQLiteStore) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, category, price, features, is_active FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) CreateProduct(ctx context.Context, p domain.Product) (int64, error) {
	if p.Name == "" {
		return 0, fmt.Errorf("product name required")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO products (name, description, category, price, features, is_active) VALUES (?, ?, ?, ?, ?, ?)`,
		p.Name, p.Description, p.Category, p.Price, p.Features, boolInt(p.Active),
	)
	if err != nil {
		return 0, fmt.Errorf("create product: %w", err)
	}
	return res.LastInsertId()
}

// CreateRecommendation inserts a recommendation. An existing lead+product
// pair is left untouched and its id returned.
func (s *SQLiteStore) CreateRecommendation(ctx context.Context, r domain.Recommendation) (int64, error) {
	reasons, err := json.Marshal(r.Reasons)
	if err != nil {
		return 0, fmt.Errorf("encode reasons: %w", err)
	}
	if r.Reasons == nil {
		reasons = []byte("[]")
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO recommendations (lead_id, product_id, confidence, reasons, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.LeadID, r.ProductID, r.Confidence, string(reasons), s.now(),
	); err != nil {
		return 0, fmt.Errorf("create recommendation: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT id FROM recommendations WHERE lead_id = ? AND product_id = ?`, r.LeadID, r.ProductID,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("create recommendation: %w", err)
	}
	return id, nil
}

// Recommendations lists a lead's recommendations, most confident first.
func (s *SQLiteStore) Recommendations(ctx context.Context, leadID int64) ([]domain.Recommendation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.lead_id, r.product_id, COALESCE(p.name, ''), r.confidence, r.reasons, r.created_at
		 FROM recommendations r LEFT JOIN products p ON p.id = r.product_id
		 WHERE r.lead_id = ? ORDER BY r.confidence DESC, r.id`, leadID)
	if err != nil {
		return nil, fmt.Errorf("recommendations: %w", err)
	}
	defer rows.Close()

	var out []domain.Recommendation
	for rows.Next() {
		var r domain.Recommendation
		var reasons string
		if err := rows.Scan(&r.ID, &r.LeadID, &r.ProductID, &r.ProductName, &r.Confidence, &reasons, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		if err := json.Unmarshal([]byte(reasons), &r.Reasons); err != nil {
			return nil, fmt.Errorf("decode reasons for recommendation %d: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
