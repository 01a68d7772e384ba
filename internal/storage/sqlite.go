package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the email processing ledger and
// extracted newsletter items. It is the only component that writes the
// processed_emails table; everything else goes through its tracker methods.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "digestd.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Email state tracker ---

// Track upserts the processing state of a message. A new message_id is
// inserted with collected_at set to now; an existing one gets its status,
// processed_at and error_message updated while collected_at stays untouched.
func (s *Store) Track(messageID, sender, status, subject, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`
		INSERT INTO processed_emails (message_id, sender_email, subject, collected_at, processed_at, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			status = excluded.status,
			processed_at = excluded.processed_at,
			error_message = excluded.error_message,
			sender_email = CASE WHEN excluded.sender_email != '' THEN excluded.sender_email ELSE processed_emails.sender_email END,
			subject = CASE WHEN excluded.subject != '' THEN excluded.subject ELSE processed_emails.subject END`,
		messageID, sender, subject, now, now, status, errMsg,
	)
	if err != nil {
		return fmt.Errorf("tracking %s: %w", messageID, err)
	}
	return nil
}

// UpdateStatus changes the status of an already-tracked message.
// Returns ErrNotFound when the message_id has never been tracked.
func (s *Store) UpdateStatus(messageID, status, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.Exec(`
		UPDATE processed_emails SET status = ?, processed_at = ?, error_message = ?
		WHERE message_id = ?`,
		status, now, errMsg, messageID,
	)
	if err != nil {
		return fmt.Errorf("updating status of %s: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsProcessed reports whether the message has already been parsed.
func (s *Store) IsProcessed(messageID string) (bool, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM processed_emails WHERE message_id = ? AND status = ?",
		messageID, StatusParsed,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ProcessedIDs returns every known message_id, regardless of status, as a set.
// Pass a non-empty sender to restrict the set to that sender's messages.
// The collect phase uses this to exclude redelivered messages at the source.
func (s *Store) ProcessedIDs(sender string) (map[string]bool, error) {
	query := "SELECT message_id FROM processed_emails"
	args := []any{}
	if sender != "" {
		query += " WHERE sender_email = ?"
		args = append(args, sender)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// GetEmail returns a single tracked email by message_id.
func (s *Store) GetEmail(messageID string) (ProcessedEmail, error) {
	row := s.db.QueryRow(`
		SELECT message_id, sender_email, subject, collected_at, processed_at, status, error_message
		FROM processed_emails WHERE message_id = ?`, messageID)
	e, err := scanEmail(row)
	if err == sql.ErrNoRows {
		return ProcessedEmail{}, ErrNotFound
	}
	return e, err
}

// EmailsWithStatus returns tracked emails with the given status, oldest first.
func (s *Store) EmailsWithStatus(status string) ([]ProcessedEmail, error) {
	rows, err := s.db.Query(`
		SELECT message_id, sender_email, subject, collected_at, processed_at, status, error_message
		FROM processed_emails WHERE status = ? ORDER BY collected_at ASC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []ProcessedEmail
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

// CountByStatus returns the number of tracked emails per status.
func (s *Store) CountByStatus() (map[string]int, error) {
	rows, err := s.db.Query("SELECT status, COUNT(*) FROM processed_emails GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEmail(row scannable) (ProcessedEmail, error) {
	var e ProcessedEmail
	var collectedAt, processedAt string
	err := row.Scan(&e.MessageID, &e.SenderEmail, &e.Subject, &collectedAt, &processedAt, &e.Status, &e.ErrorMessage)
	if err != nil {
		return ProcessedEmail{}, err
	}
	if e.CollectedAt, err = time.Parse(time.RFC3339Nano, collectedAt); err != nil {
		return ProcessedEmail{}, fmt.Errorf("parsing collected_at: %w", err)
	}
	if e.ProcessedAt, err = time.Parse(time.RFC3339Nano, processedAt); err != nil {
		return ProcessedEmail{}, fmt.Errorf("parsing processed_at: %w", err)
	}
	return e, nil
}

// --- Newsletter items ---

// SaveItems persists the extracted items for one message inside a single
// transaction. Re-extraction of the same message replaces its previous rows,
// keeping the write idempotent per (message_id, item_index).
func (s *Store) SaveItems(items []NewsletterItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	for _, it := range items {
		_, err := tx.Exec(`
			INSERT INTO newsletter_items (id, message_id, item_index, date, title, summary, link, parsed_at, raw_data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_id, item_index) DO UPDATE SET
				date = excluded.date,
				title = excluded.title,
				summary = excluded.summary,
				link = excluded.link,
				parsed_at = excluded.parsed_at,
				raw_data = excluded.raw_data`,
			it.ID, it.MessageID, it.ItemIndex, it.Date, it.Title, it.Summary, it.Link,
			it.ParsedAt.UTC().Format(time.RFC3339Nano), it.RawData,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting item %d of %s: %w", it.ItemIndex, it.MessageID, err)
		}
	}

	return tx.Commit()
}

// ItemsSince returns items parsed within the last `days` days, newest first,
// capped at limit (no cap when limit <= 0).
func (s *Store) ItemsSince(days, limit int) ([]NewsletterItem, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)
	query := `
		SELECT id, message_id, item_index, date, title, summary, link, parsed_at, raw_data
		FROM newsletter_items WHERE parsed_at >= ? ORDER BY parsed_at DESC, item_index ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryItems(query, args...)
}

// SearchItems returns items whose title or summary contains the query
// (case-insensitive), newest first.
func (s *Store) SearchItems(q string, limit int) ([]NewsletterItem, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + q + "%"
	return s.queryItems(`
		SELECT id, message_id, item_index, date, title, summary, link, parsed_at, raw_data
		FROM newsletter_items
		WHERE title LIKE ? COLLATE NOCASE OR summary LIKE ? COLLATE NOCASE
		ORDER BY parsed_at DESC, item_index ASC LIMIT ?`,
		pattern, pattern, limit)
}

func (s *Store) queryItems(query string, args ...any) ([]NewsletterItem, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []NewsletterItem
	for rows.Next() {
		var it NewsletterItem
		var parsedAt string
		if err := rows.Scan(&it.ID, &it.MessageID, &it.ItemIndex, &it.Date, &it.Title, &it.Summary, &it.Link, &parsedAt, &it.RawData); err != nil {
			return nil, err
		}
		if it.ParsedAt, err = time.Parse(time.RFC3339Nano, parsedAt); err != nil {
			return nil, fmt.Errorf("parsing parsed_at: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// CountItems returns the total number of stored newsletter items.
func (s *Store) CountItems() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM newsletter_items").Scan(&n)
	return n, err
}

// --- Retention queries ---

// CountProcessed returns the number of ledger rows eligible for retention
// accounting (every row carries a processed_at, so this is the full count).
func (s *Store) CountProcessed() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM processed_emails WHERE processed_at IS NOT NULL").Scan(&n)
	return n, err
}

// OldestProcessed returns the message_ids of the n oldest rows by processed_at.
func (s *Store) OldestProcessed(n int) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT message_id FROM processed_emails WHERE processed_at IS NOT NULL ORDER BY processed_at ASC LIMIT ?", n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteItemsForMessages removes all newsletter_items rows belonging to the
// given message_ids.
func (s *Store) DeleteItemsForMessages(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args := inClause("DELETE FROM newsletter_items WHERE message_id IN", ids)
	_, err := s.db.Exec(query, args...)
	return err
}

// DeleteEmails removes ledger rows for the given message_ids.
func (s *Store) DeleteEmails(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args := inClause("DELETE FROM processed_emails WHERE message_id IN", ids)
	_, err := s.db.Exec(query, args...)
	return err
}

func inClause(prefix string, ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return prefix + " (" + strings.Join(placeholders, ", ") + ")", args
}
