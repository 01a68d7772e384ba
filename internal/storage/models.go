package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Processing statuses for a tracked email.
const (
	StatusCollected = "collected"
	StatusConverted = "converted"
	StatusParsed    = "parsed"
	StatusFailed    = "failed"
)

// ProcessedEmail is the per-message processing ledger row.
// CollectedAt is set on first observation and never overwritten;
// ProcessedAt moves on every status transition.
type ProcessedEmail struct {
	MessageID    string
	SenderEmail  string
	Subject      string
	CollectedAt  time.Time
	ProcessedAt  time.Time
	Status       string
	ErrorMessage string
}

// NewsletterItem is a single structured article extracted from an email.
// Rows are written once by the extraction pool and only ever removed in
// cascade with their parent ProcessedEmail during retention.
type NewsletterItem struct {
	ID        string
	MessageID string
	ItemIndex int
	Date      string
	Title     string
	Summary   string
	Link      string
	ParsedAt  time.Time
	RawData   string // original extracted record as JSON, kept for forward compatibility
}
