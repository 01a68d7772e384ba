// Package retention caps the number of processed-message records kept across
// the database and the raw/converted artifact directories.
package retention

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// artifactExtensions are the file kinds written per message_id into the
// watched directories.
var artifactExtensions = []string{".json", ".md"}

// Store is the slice of the storage layer retention needs.
type Store interface {
	CountProcessed() (int, error)
	OldestProcessed(n int) ([]string, error)
	DeleteItemsForMessages(ids []string) error
	DeleteEmails(ids []string) error
}

// Manager evicts the oldest records once the configured limit is exceeded.
type Manager struct {
	store  Store
	logger *slog.Logger
}

// NewManager creates a Manager over the given store.
func NewManager(store Store) *Manager {
	return &Manager{store: store, logger: slog.Default()}
}

// Apply enforces the retention limit and returns how many ProcessedEmail
// records were removed. When the stored count is within the limit this is a
// no-op. Eviction order per victim set: newsletter_items rows first, then a
// best-effort sweep of {message_id}.json/.md in every watched directory
// (per-file errors are swallowed), then the processed_emails rows.
func (m *Manager) Apply(limit int, watchedDirs []string) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	count, err := m.store.CountProcessed()
	if err != nil {
		return 0, fmt.Errorf("counting processed records: %w", err)
	}
	if count <= limit {
		return 0, nil
	}

	victims, err := m.store.OldestProcessed(count - limit)
	if err != nil {
		return 0, fmt.Errorf("selecting eviction candidates: %w", err)
	}
	if len(victims) == 0 {
		return 0, nil
	}

	if err := m.store.DeleteItemsForMessages(victims); err != nil {
		return 0, fmt.Errorf("deleting newsletter items: %w", err)
	}

	for _, dir := range watchedDirs {
		for _, id := range victims {
			for _, ext := range artifactExtensions {
				path := filepath.Join(dir, id+ext)
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					// A stubborn file never blocks the row deletion.
					m.logger.Warn("could not remove artifact", "path", path, "error", err)
				}
			}
		}
	}

	if err := m.store.DeleteEmails(victims); err != nil {
		return 0, fmt.Errorf("deleting processed emails: %w", err)
	}

	m.logger.Info("retention applied", "removed", len(victims), "limit", limit)
	return len(victims), nil
}
