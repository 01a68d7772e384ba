// Package extract runs LLM extraction over converted newsletter messages
// with a bounded worker pool. One message's failure never aborts its
// siblings; every outcome lands on the email state tracker.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/digestd/internal/llm"
	"github.com/kalambet/digestd/internal/storage"
)

const defaultMaxWorkers = 5

// Tracker is the slice of the email state tracker the pool needs.
type Tracker interface {
	IsProcessed(messageID string) (bool, error)
	Track(messageID, sender, status, subject, errMsg string) error
}

// ItemStore persists extracted items.
type ItemStore interface {
	SaveItems(items []storage.NewsletterItem) error
}

// PendingMessage is one converted message awaiting extraction.
type PendingMessage struct {
	MessageID string
	Sender    string
	Subject   string
	Content   string
}

// Result is the per-message outcome, keyed back to its input by MessageID.
type Result struct {
	MessageID string
	Items     int  // items persisted for this message
	Skipped   bool // already parsed; no LLM call was made
	Err       error
}

// Pool extracts structured items from pending messages concurrently.
type Pool struct {
	tracker    Tracker
	items      ItemStore
	client     llm.Client
	overrides  map[string]string // sender -> prompt override
	maxWorkers int
	logger     *slog.Logger
}

// NewPool creates a Pool. maxWorkers <= 0 defaults to 5.
func NewPool(tracker Tracker, items ItemStore, client llm.Client, overrides map[string]string, maxWorkers int) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}
	return &Pool{
		tracker:    tracker,
		items:      items,
		client:     client,
		overrides:  overrides,
		maxWorkers: maxWorkers,
		logger:     slog.Default(),
	}
}

// Process runs extraction for every pending message and returns a
// message_id -> Result map filled in completion order. Workers never return
// an error to the group; failures are recorded on the tracker as `failed`
// and surfaced in the Result.
func (p *Pool) Process(ctx context.Context, pending []PendingMessage) map[string]Result {
	results := make(map[string]Result, len(pending))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWorkers)

	for _, msg := range pending {
		msg := msg
		g.Go(func() error {
			res := p.processOne(gCtx, msg)
			mu.Lock()
			results[msg.MessageID] = res
			mu.Unlock()
			return nil
		})
	}

	g.Wait()
	return results
}

// FreshCount returns how many messages produced at least one persisted item.
// Idempotent skips deliberately do not count; they are not fresh progress.
func FreshCount(results map[string]Result) int {
	n := 0
	for _, res := range results {
		if !res.Skipped && res.Err == nil && res.Items > 0 {
			n++
		}
	}
	return n
}

func (p *Pool) processOne(ctx context.Context, msg PendingMessage) Result {
	// Idempotency: a message parsed by an earlier, partially-completed batch
	// is skipped without spending an LLM call.
	done, err := p.tracker.IsProcessed(msg.MessageID)
	if err != nil {
		return p.fail(msg, fmt.Errorf("checking processed state: %w", err))
	}
	if done {
		p.logger.Debug("skipping already-parsed message", "message_id", msg.MessageID)
		return Result{MessageID: msg.MessageID, Skipped: true}
	}

	prompt := BuildPrompt(ResolvePrompt(p.overrides, msg.Sender), msg.Content)

	raw, err := p.client.Complete(ctx, prompt, true)
	if err != nil {
		return p.fail(msg, fmt.Errorf("llm call: %w", err))
	}

	items, err := parseItems(msg.MessageID, raw, time.Now().UTC())
	if err != nil {
		return p.fail(msg, err)
	}

	if err := p.items.SaveItems(items); err != nil {
		return p.fail(msg, fmt.Errorf("persisting items: %w", err))
	}

	if err := p.tracker.Track(msg.MessageID, msg.Sender, storage.StatusParsed, msg.Subject, ""); err != nil {
		return p.fail(msg, fmt.Errorf("updating tracker: %w", err))
	}

	p.logger.Info("extracted items", "message_id", msg.MessageID, "items", len(items))
	return Result{MessageID: msg.MessageID, Items: len(items)}
}

func (p *Pool) fail(msg PendingMessage, cause error) Result {
	p.logger.Warn("extraction failed", "message_id", msg.MessageID, "error", cause)
	if err := p.tracker.Track(msg.MessageID, msg.Sender, storage.StatusFailed, msg.Subject, cause.Error()); err != nil {
		p.logger.Error("failed to record extraction failure", "message_id", msg.MessageID, "error", err)
	}
	return Result{MessageID: msg.MessageID, Err: cause}
}
