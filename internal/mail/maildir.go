package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func init() {
	register("maildir", func(opts map[string]string) (Source, error) {
		dir := opts["path"]
		if dir == "" {
			return nil, fmt.Errorf("maildir source requires a path option")
		}
		return &dirSource{dir: dir, logger: slog.Default()}, nil
	})
}

// dirSource reads messages from a directory of JSON files, one message per
// file. It is the local/dev implementation of Source and the fixture format
// used by tests; a dropped-in file is picked up on the next batch.
type dirSource struct {
	dir    string
	logger *slog.Logger
}

func (s *dirSource) FetchCandidates(ctx context.Context, sender string, lookbackDays int, exclude map[string]bool) ([]Message, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading maildir %s: %w", s.dir, err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -lookbackDays)

	var msgs []Message
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		// A single unreadable or malformed file never fails the fetch.
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable message file", "path", path, "error", err)
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("skipping malformed message file", "path", path, "error", err)
			continue
		}

		if msg.MessageID == "" {
			s.logger.Warn("skipping message without message_id", "path", path)
			continue
		}
		if !strings.EqualFold(msg.Sender, sender) {
			continue
		}
		if exclude[msg.MessageID] {
			continue
		}
		if lookbackDays > 0 && !msg.Date.IsZero() && msg.Date.Before(cutoff) {
			continue
		}
		msgs = append(msgs, msg)
	}

	return msgs, nil
}
