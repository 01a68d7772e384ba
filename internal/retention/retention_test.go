package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kalambet/digestd/internal/storage"
)

func seedEmails(t *testing.T, s *storage.Store, n int) []string {
	t.Helper()
	var ids []string
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("msg-%d", i)
		if err := s.Track(id, "a@b.c", storage.StatusParsed, "", ""); err != nil {
			t.Fatalf("Track: %v", err)
		}
		ids = append(ids, id)
		time.Sleep(5 * time.Millisecond) // distinct processed_at ordering
	}
	return ids
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestApply_EvictsOldestRowsAndFiles(t *testing.T) {
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ids := seedEmails(t, s, 5)

	rawDir := t.TempDir()
	convDir := t.TempDir()
	for _, id := range ids {
		touch(t, filepath.Join(rawDir, id+".json"))
		touch(t, filepath.Join(convDir, id+".md"))
	}

	s.SaveItems([]storage.NewsletterItem{
		{ID: "i0", MessageID: ids[0], ItemIndex: 0, Title: "old", ParsedAt: time.Now().UTC()},
		{ID: "i4", MessageID: ids[4], ItemIndex: 0, Title: "new", ParsedAt: time.Now().UTC()},
	})

	removed, err := NewManager(s).Apply(3, []string{rawDir, convDir})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	// The two oldest are gone: rows and files.
	for _, id := range ids[:2] {
		if _, err := s.GetEmail(id); err != storage.ErrNotFound {
			t.Errorf("GetEmail(%s) = %v, want ErrNotFound", id, err)
		}
		if _, err := os.Stat(filepath.Join(rawDir, id+".json")); !os.IsNotExist(err) {
			t.Errorf("raw artifact for %s still present", id)
		}
	}

	// The three newest remain, rows and files both.
	for _, id := range ids[2:] {
		if _, err := s.GetEmail(id); err != nil {
			t.Errorf("GetEmail(%s): %v, want kept", id, err)
		}
		if _, err := os.Stat(filepath.Join(rawDir, id+".json")); err != nil {
			t.Errorf("raw artifact for %s missing", id)
		}
	}

	// Cascaded item cleanup hit only the victims.
	items, _ := s.ItemsSince(1, 0)
	if len(items) != 1 || items[0].MessageID != ids[4] {
		t.Errorf("items after retention = %+v, want only the new one", items)
	}
}

func TestApply_NoOpWithinLimit(t *testing.T) {
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	seedEmails(t, s, 5)

	removed, err := NewManager(s).Apply(10, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
	if n, _ := s.CountProcessed(); n != 5 {
		t.Errorf("count = %d, want 5", n)
	}
}

func TestApply_ZeroLimitDisablesRetention(t *testing.T) {
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	seedEmails(t, s, 3)

	removed, err := NewManager(s).Apply(0, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0 when limit is 0", removed)
	}
}

func TestApply_MissingFilesSwallowed(t *testing.T) {
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	seedEmails(t, s, 4)

	// Directories exist but hold no artifacts; row deletion must proceed.
	removed, err := NewManager(s).Apply(2, []string{t.TempDir(), filepath.Join(t.TempDir(), "never-created")})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
}

func TestApply_EmptyStore(t *testing.T) {
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	removed, err := NewManager(s).Apply(3, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}
