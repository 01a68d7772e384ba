// Package ingest sequences one ingestion batch: collect candidate emails
// from the mail source, convert them to normalized text, extract structured
// items, then apply retention. Phases are independently resumable, each
// picking up whatever the previous run left behind, and single bad messages
// never abort a batch.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/digestd/internal/convert"
	"github.com/kalambet/digestd/internal/extract"
	"github.com/kalambet/digestd/internal/mail"
	"github.com/kalambet/digestd/internal/storage"
)

// Config carries the orchestrator's knobs.
type Config struct {
	Senders        []string // enabled newsletter senders
	LookbackDays   int
	RetentionLimit int // <= 0 disables retention
	RawDir         string
	ConvertedDir   string
}

// Store is the slice of the storage layer the orchestrator needs. All
// processed_emails writes go through these tracker methods.
type Store interface {
	Track(messageID, sender, status, subject, errMsg string) error
	ProcessedIDs(sender string) (map[string]bool, error)
	EmailsWithStatus(status string) ([]storage.ProcessedEmail, error)
}

// Extractor runs the parallel extraction pool.
type Extractor interface {
	Process(ctx context.Context, pending []extract.PendingMessage) map[string]extract.Result
}

// Retainer applies the retention policy after a successful extraction batch.
type Retainer interface {
	Apply(limit int, watchedDirs []string) (int, error)
}

// PhaseResult reports one phase's outcome: Success means the phase ran to
// completion, Count is its fresh output, Errors lists per-message soft
// failures that did not stop it.
type PhaseResult struct {
	Success bool     `json:"success"`
	Count   int      `json:"count"`
	Errors  []string `json:"errors,omitempty"`
}

// BatchResult aggregates one orchestrator run.
type BatchResult struct {
	RunID         string      `json:"run_id"`
	StartedAt     time.Time   `json:"started_at"`
	FinishedAt    time.Time   `json:"finished_at"`
	Success       bool        `json:"success"`
	FailureReason string      `json:"failure_reason,omitempty"`
	Collect       PhaseResult `json:"collect"`
	Convert       PhaseResult `json:"convert"`
	Extract       PhaseResult `json:"extract"`
	Retained      int         `json:"retained"`
}

// Orchestrator wires the pipeline components for batch runs.
type Orchestrator struct {
	source    mail.Source
	store     Store
	pool      Extractor
	retention Retainer
	cfg       Config
	logger    *slog.Logger
}

// New creates an Orchestrator.
func New(source mail.Source, store Store, pool Extractor, retention Retainer, cfg Config) *Orchestrator {
	return &Orchestrator{
		source:    source,
		store:     store,
		pool:      pool,
		retention: retention,
		cfg:       cfg,
		logger:    slog.Default(),
	}
}

// Run executes one batch. The batch is reported successful when at least one
// phase produced output; it is reported as a structured failure, without
// attempting later phases, only when collect cannot start at all (no
// enabled senders, or the source refuses authentication).
func (o *Orchestrator) Run(ctx context.Context) BatchResult {
	result := BatchResult{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}

	collect, fatal := o.collect(ctx)
	result.Collect = collect
	if fatal != "" {
		result.FailureReason = fatal
		result.FinishedAt = time.Now().UTC()
		o.logger.Error("batch aborted", "run_id", result.RunID, "reason", fatal)
		return result
	}

	result.Convert = o.convert(ctx)
	result.Extract, result.Retained = o.extract(ctx)

	result.Success = result.Collect.Count+result.Convert.Count+result.Extract.Count > 0
	result.FinishedAt = time.Now().UTC()
	o.logger.Info("batch finished",
		"run_id", result.RunID,
		"success", result.Success,
		"collected", result.Collect.Count,
		"converted", result.Convert.Count,
		"extracted", result.Extract.Count,
		"retained", result.Retained,
	)
	return result
}

// collect queries the source per enabled sender, persists raw messages and
// tracks them as collected. The returned string is non-empty only for the
// two conditions that abort the whole batch.
func (o *Orchestrator) collect(ctx context.Context) (PhaseResult, string) {
	var res PhaseResult

	if len(o.cfg.Senders) == 0 {
		return res, "no enabled senders configured"
	}

	for _, sender := range o.cfg.Senders {
		exclude, err := o.store.ProcessedIDs(sender)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: loading known ids: %v", sender, err))
			continue
		}

		msgs, err := o.source.FetchCandidates(ctx, sender, o.cfg.LookbackDays, exclude)
		if err != nil {
			if errors.Is(err, mail.ErrAuth) {
				return res, fmt.Sprintf("mail source authentication failed: %v", err)
			}
			res.Errors = append(res.Errors, fmt.Sprintf("%s: fetch: %v", sender, err))
			continue
		}

		for _, msg := range msgs {
			if err := o.persistRaw(msg); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: persisting raw: %v", msg.MessageID, err))
				continue
			}
			if err := o.store.Track(msg.MessageID, msg.Sender, storage.StatusCollected, msg.Subject, ""); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: tracking: %v", msg.MessageID, err))
				continue
			}
			res.Count++
		}
	}

	res.Success = true
	return res, ""
}

func (o *Orchestrator) persistRaw(msg mail.Message) error {
	if err := os.MkdirAll(o.cfg.RawDir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(o.cfg.RawDir, msg.MessageID+".json"), data, 0o644)
}

// convert renders every collected-but-not-yet-converted message to text.
func (o *Orchestrator) convert(ctx context.Context) PhaseResult {
	var res PhaseResult

	emails, err := o.store.EmailsWithStatus(storage.StatusCollected)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("listing collected messages: %v", err))
		return res
	}

	for _, email := range emails {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, ctx.Err().Error())
			return res
		}
		if err := o.convertOne(email); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", email.MessageID, err))
			continue
		}
		res.Count++
	}

	res.Success = true
	return res
}

func (o *Orchestrator) convertOne(email storage.ProcessedEmail) error {
	data, err := os.ReadFile(filepath.Join(o.cfg.RawDir, email.MessageID+".json"))
	if err != nil {
		return fmt.Errorf("reading raw message: %w", err)
	}
	var msg mail.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decoding raw message: %w", err)
	}

	text, err := convert.ToText(msg)
	if err != nil {
		return fmt.Errorf("converting: %w", err)
	}

	if err := os.MkdirAll(o.cfg.ConvertedDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(o.cfg.ConvertedDir, email.MessageID+".md"), []byte(text), 0o644); err != nil {
		return fmt.Errorf("writing converted text: %w", err)
	}

	return o.store.Track(email.MessageID, email.SenderEmail, storage.StatusConverted, email.Subject, "")
}

// extract delegates converted messages to the pool, then applies retention.
// A retention failure is logged, never failing the batch.
func (o *Orchestrator) extract(ctx context.Context) (PhaseResult, int) {
	var res PhaseResult

	emails, err := o.store.EmailsWithStatus(storage.StatusConverted)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("listing converted messages: %v", err))
		return res, 0
	}

	var pending []extract.PendingMessage
	for _, email := range emails {
		content, err := os.ReadFile(filepath.Join(o.cfg.ConvertedDir, email.MessageID+".md"))
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: reading converted text: %v", email.MessageID, err))
			if trackErr := o.store.Track(email.MessageID, email.SenderEmail, storage.StatusFailed, email.Subject, err.Error()); trackErr != nil {
				o.logger.Error("failed to record read failure", "message_id", email.MessageID, "error", trackErr)
			}
			continue
		}
		pending = append(pending, extract.PendingMessage{
			MessageID: email.MessageID,
			Sender:    email.SenderEmail,
			Subject:   email.Subject,
			Content:   string(content),
		})
	}

	results := o.pool.Process(ctx, pending)
	for _, r := range results {
		if r.Err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", r.MessageID, r.Err))
		}
	}
	res.Count = extract.FreshCount(results)
	res.Success = true

	retained := 0
	if o.cfg.RetentionLimit > 0 {
		n, err := o.retention.Apply(o.cfg.RetentionLimit, []string{o.cfg.RawDir, o.cfg.ConvertedDir})
		if err != nil {
			o.logger.Warn("retention failed", "error", err)
		} else {
			retained = n
		}
	}

	return res, retained
}
