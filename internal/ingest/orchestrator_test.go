package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/digestd/internal/extract"
	"github.com/kalambet/digestd/internal/mail"
	"github.com/kalambet/digestd/internal/retention"
	"github.com/kalambet/digestd/internal/storage"
)

// fakeSource serves scripted messages per sender and records exclusions.
type fakeSource struct {
	messages map[string][]mail.Message
	authErr  bool
	excluded map[string]bool
}

func (f *fakeSource) FetchCandidates(ctx context.Context, sender string, lookbackDays int, exclude map[string]bool) ([]mail.Message, error) {
	if f.authErr {
		return nil, fmt.Errorf("%w: bad credentials", mail.ErrAuth)
	}
	f.excluded = exclude
	var out []mail.Message
	for _, msg := range f.messages[sender] {
		if !exclude[msg.MessageID] {
			out = append(out, msg)
		}
	}
	return out, nil
}

// fakeLLM returns a fixed extraction per message body marker.
type fakeLLM struct {
	failFor string
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	if f.failFor != "" && strings.Contains(prompt, f.failFor) {
		return "", errors.New("simulated llm outage")
	}
	return `[{"title":"Extracted story","date":"2026-02-04","summary":"s","link":"https://x"}]`, nil
}

type testEnv struct {
	store  *storage.Store
	source *fakeSource
	orch   *Orchestrator
}

func newTestEnv(t *testing.T, source *fakeSource, client *fakeLLM, cfg Config) *testEnv {
	t.Helper()

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if cfg.RawDir == "" {
		cfg.RawDir = filepath.Join(t.TempDir(), "raw")
	}
	if cfg.ConvertedDir == "" {
		cfg.ConvertedDir = filepath.Join(t.TempDir(), "converted")
	}

	pool := extract.NewPool(store, store, client, nil, 2)
	mgr := retention.NewManager(store)
	return &testEnv{
		store:  store,
		source: source,
		orch:   New(source, store, pool, mgr, cfg),
	}
}

func newsletterMessage(id string) mail.Message {
	return mail.Message{
		MessageID: id,
		Sender:    "ai@news.dev",
		Subject:   "Weekly " + id,
		Date:      time.Now().UTC(),
		Body:      "BODY-" + id,
		BodyType:  "text",
	}
}

func TestRun_HappyPath(t *testing.T) {
	source := &fakeSource{messages: map[string][]mail.Message{
		"ai@news.dev": {newsletterMessage("m1"), newsletterMessage("m2")},
	}}
	env := newTestEnv(t, source, &fakeLLM{}, Config{Senders: []string{"ai@news.dev"}, LookbackDays: 7})

	result := env.orch.Run(context.Background())

	if !result.Success {
		t.Fatalf("batch failed: %+v", result)
	}
	if result.Collect.Count != 2 || result.Convert.Count != 2 || result.Extract.Count != 2 {
		t.Errorf("counts = %d/%d/%d, want 2/2/2", result.Collect.Count, result.Convert.Count, result.Extract.Count)
	}
	if result.RunID == "" {
		t.Error("missing run id")
	}

	for _, id := range []string{"m1", "m2"} {
		email, err := env.store.GetEmail(id)
		if err != nil {
			t.Fatalf("GetEmail(%s): %v", id, err)
		}
		if email.Status != storage.StatusParsed {
			t.Errorf("%s status = %q, want parsed", id, email.Status)
		}
	}

	items, err := env.store.ItemsSince(1, 0)
	if err != nil {
		t.Fatalf("ItemsSince: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("persisted items = %d, want 2", len(items))
	}
}

func TestRun_NoSendersIsStructuredFailure(t *testing.T) {
	env := newTestEnv(t, &fakeSource{}, &fakeLLM{}, Config{})

	result := env.orch.Run(context.Background())

	if result.Success {
		t.Error("batch should fail with no senders")
	}
	if result.FailureReason == "" {
		t.Error("missing failure reason")
	}
	if result.Convert.Success || result.Extract.Success {
		t.Error("later phases must not run after a fatal collect failure")
	}
}

func TestRun_AuthFailureAbortsBatch(t *testing.T) {
	env := newTestEnv(t, &fakeSource{authErr: true}, &fakeLLM{}, Config{Senders: []string{"ai@news.dev"}})

	result := env.orch.Run(context.Background())

	if result.Success {
		t.Error("batch should fail on auth error")
	}
	if !strings.Contains(result.FailureReason, "authentication") {
		t.Errorf("FailureReason = %q", result.FailureReason)
	}
}

func TestRun_SingleMessageFailureDoesNotAbort(t *testing.T) {
	source := &fakeSource{messages: map[string][]mail.Message{
		"ai@news.dev": {newsletterMessage("good"), newsletterMessage("bad")},
	}}
	env := newTestEnv(t, source, &fakeLLM{failFor: "BODY-bad"}, Config{Senders: []string{"ai@news.dev"}, LookbackDays: 7})

	result := env.orch.Run(context.Background())

	if !result.Success {
		t.Fatalf("batch should survive a single bad message: %+v", result)
	}
	if result.Extract.Count != 1 {
		t.Errorf("Extract.Count = %d, want 1", result.Extract.Count)
	}
	if len(result.Extract.Errors) != 1 {
		t.Errorf("Extract.Errors = %v, want 1 entry", result.Extract.Errors)
	}

	bad, _ := env.store.GetEmail("bad")
	if bad.Status != storage.StatusFailed {
		t.Errorf("bad status = %q, want failed", bad.Status)
	}
	if bad.ErrorMessage == "" {
		t.Error("bad message should carry its error text")
	}
}

func TestRun_RedeliveryExcludedOnSecondRun(t *testing.T) {
	source := &fakeSource{messages: map[string][]mail.Message{
		"ai@news.dev": {newsletterMessage("m1")},
	}}
	env := newTestEnv(t, source, &fakeLLM{}, Config{Senders: []string{"ai@news.dev"}, LookbackDays: 7})

	first := env.orch.Run(context.Background())
	if !first.Success {
		t.Fatalf("first run failed: %+v", first)
	}

	second := env.orch.Run(context.Background())
	if !source.excluded["m1"] {
		t.Error("second run should exclude the already-seen id at the source")
	}
	if second.Collect.Count != 0 || second.Extract.Count != 0 {
		t.Errorf("second run produced output: %+v", second)
	}
	if second.Success {
		t.Error("a run with no fresh output reports success=false")
	}

	// Still exactly one item row, not duplicated.
	items, _ := env.store.ItemsSince(1, 0)
	if len(items) != 1 {
		t.Errorf("items = %d, want 1", len(items))
	}
}

func TestRun_RetentionAppliedAfterExtraction(t *testing.T) {
	var msgs []mail.Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, newsletterMessage(fmt.Sprintf("m%d", i)))
	}
	source := &fakeSource{messages: map[string][]mail.Message{"ai@news.dev": msgs}}

	rawDir := filepath.Join(t.TempDir(), "raw")
	convDir := filepath.Join(t.TempDir(), "converted")
	env := newTestEnv(t, source, &fakeLLM{}, Config{
		Senders: []string{"ai@news.dev"}, LookbackDays: 7,
		RetentionLimit: 3, RawDir: rawDir, ConvertedDir: convDir,
	})

	result := env.orch.Run(context.Background())
	if !result.Success {
		t.Fatalf("run failed: %+v", result)
	}
	if result.Retained != 2 {
		t.Errorf("Retained = %d, want 2", result.Retained)
	}
	if n, _ := env.store.CountProcessed(); n != 3 {
		t.Errorf("rows after retention = %d, want 3", n)
	}

	// Evicted artifacts removed from both directories.
	left, _ := os.ReadDir(rawDir)
	if len(left) != 3 {
		t.Errorf("raw artifacts left = %d, want 3", len(left))
	}
}

func TestRun_ConvertPicksUpLeftovers(t *testing.T) {
	// A message stuck in collected (e.g. crash between phases) is converted
	// and extracted by the next run even though the source returns nothing.
	env := newTestEnv(t, &fakeSource{}, &fakeLLM{}, Config{Senders: []string{"ai@news.dev"}, LookbackDays: 7})

	msg := newsletterMessage("stuck")
	if err := env.orch.persistRaw(msg); err != nil {
		t.Fatalf("persistRaw: %v", err)
	}
	if err := env.store.Track(msg.MessageID, msg.Sender, storage.StatusCollected, msg.Subject, ""); err != nil {
		t.Fatalf("Track: %v", err)
	}

	result := env.orch.Run(context.Background())
	if result.Convert.Count != 1 || result.Extract.Count != 1 {
		t.Errorf("convert/extract = %d/%d, want 1/1", result.Convert.Count, result.Extract.Count)
	}
	if !result.Success {
		t.Error("resumed leftovers count as fresh output")
	}
}
