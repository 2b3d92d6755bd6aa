package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 3

// migration represents a single schema migration step.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of schema migrations.
// Each migration is applied exactly once, tracked in the schema_version table.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: leads, conversations, audit_log",
		SQL: `
		CREATE TABLE IF NOT EXISTS leads (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			first_name        TEXT NOT NULL DEFAULT '',
			last_name         TEXT NOT NULL DEFAULT '',
			email             TEXT UNIQUE,
			phone             TEXT DEFAULT '',
			company           TEXT DEFAULT '',
			job_title         TEXT DEFAULT '',
			source            TEXT DEFAULT '',
			status            TEXT NOT NULL DEFAULT 'new',
			notes             TEXT DEFAULT '',
			budget            TEXT DEFAULT '',
			needs             TEXT DEFAULT '',
			objections        TEXT DEFAULT '',
			preferred_channel TEXT NOT NULL DEFAULT 'email',
			external_id       TEXT DEFAULT '',
			temperature       TEXT DEFAULT '',
			followup_count    INTEGER DEFAULT 0,
			is_active         INTEGER DEFAULT 1,
			created_at        DATETIME NOT NULL,
			updated_at        DATETIME NOT NULL,
			last_contact      DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_leads_external ON leads(preferred_channel, external_id);

		CREATE TABLE IF NOT EXISTS conversations (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			lead_id         INTEGER NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
			content         TEXT NOT NULL,
			is_from_lead    INTEGER NOT NULL,
			channel         TEXT NOT NULL DEFAULT 'email',
			sentiment_score REAL,
			created_at      DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conversations_lead ON conversations(lead_id, created_at);

		CREATE TABLE IF NOT EXISTS audit_log (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			lead_id      INTEGER NOT NULL,
			category     TEXT NOT NULL,
			evidence     TEXT NOT NULL DEFAULT '[]',
			message      TEXT,
			action_taken TEXT NOT NULL,
			created_at   DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_lead ON audit_log(lead_id, created_at);
		`,
	},
	{
		Version:     2,
		Description: "v2: notifications, meetings, followups",
		SQL: `
		CREATE TABLE IF NOT EXISTS notifications (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			lead_id    INTEGER NOT NULL,
			type       TEXT NOT NULL,
			content    TEXT NOT NULL,
			priority   INTEGER NOT NULL DEFAULT 1,
			is_read    INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications(is_read, priority);

		CREATE TABLE IF NOT EXISTS meetings (
			id               TEXT PRIMARY KEY,
			lead_id          INTEGER NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
			starts_at        DATETIME NOT NULL,
			duration_minutes INTEGER NOT NULL DEFAULT 30,
			notes            TEXT DEFAULT '',
			link             TEXT DEFAULT '',
			created_at       DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_meetings_lead ON meetings(lead_id);

		CREATE TABLE IF NOT EXISTS followups (
			id            TEXT PRIMARY KEY,
			lead_id       INTEGER NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
			channel       TEXT NOT NULL,
			content       TEXT DEFAULT '',
			scheduled_for DATETIME NOT NULL,
			executed      INTEGER NOT NULL DEFAULT 0,
			executed_at   DATETIME,
			created_at    DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_followups_due ON followups(executed, scheduled_for);
		`,
	},
	{
		Version:     3,
		Description: "v3: products, recommendations",
		SQL: `
		CREATE TABLE IF NOT EXISTS products (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			name        TEXT NOT NULL,
			description TEXT DEFAULT '',
			category    TEXT DEFAULT '',
			price       REAL DEFAULT 0,
			features    TEXT DEFAULT '',
			is_active   INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS recommendations (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			lead_id    INTEGER NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
			product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			confidence REAL NOT NULL,
			reasons    TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL,
			UNIQUE(lead_id, product_id)
		);
		`,
	},
}

// RunMigrations applies all pending schema migrations.
// It uses a schema_version table to track which migrations have been applied.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		logger.Info("applying migration",
			"version", m.Version,
			"description", m.Description,
		)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			logger.Warn("migration SQL partially failed, applying statements individually",
				"version", m.Version,
				"err", err,
			)
			if err := applyMigrationStatements(db, m, logger); err != nil {
				return err
			}
		} else {
			if _, err := tx.Exec(
				"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
				m.Version, m.Description,
			); err != nil {
				tx.Rollback()
				return fmt.Errorf("record migration v%d: %w", m.Version, err)
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("commit migration v%d: %w", m.Version, err)
			}
		}

		logger.Info("migration applied", "version", m.Version)
	}

	return nil
}

// GetSchemaVersion returns the highest applied migration version.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}

// applyMigrationStatements applies each SQL statement individually, ignoring
// "duplicate column" or "already exists" errors for idempotency.
func applyMigrationStatements(db *sql.DB, m migration, logger *slog.Logger) error {
	for _, stmt := range splitSQL(m.SQL) {
		if _, err := db.Exec(stmt); err != nil {
			errStr := strings.ToLower(err.Error())
			if strings.Contains(errStr, "duplicate column") || strings.Contains(errStr, "already exists") {
				logger.Debug("migration statement skipped (already applied)", "stmt_prefix", truncate(stmt, 60))
				continue
			}
			return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", m.Version, err, truncate(stmt, 200))
		}
	}

	if _, err := db.Exec(
		"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	return nil
}

// splitSQL splits a multi-statement SQL string on semicolons.
func splitSQL(sql string) []string {
	var result []string
	for _, s := range strings.Split(sql, ";") {
		if s = strings.TrimSpace(s); s != "" {
			result = append(result, s)
		}
	}
	return result
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
