// Package mail defines the boundary with the external mail source and a
// registry of source implementations. The pipeline only ever sees the Source
// interface; real providers (Gmail, IMAP) plug into the same seam as the
// filesystem source used locally and in tests.
package mail

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrAuth indicates the source could not authenticate. It is the one fatal
// error a source may return; everything else is per-message and soft.
var ErrAuth = errors.New("mail source authentication failed")

// Attachment is a binary part of a message, kept for conversion (e.g. PDF
// newsletters delivered as attachments).
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Message is one candidate email from the source.
type Message struct {
	MessageID   string       `json:"message_id"`
	Sender      string       `json:"sender"`
	Subject     string       `json:"subject"`
	Date        time.Time    `json:"date"`
	Body        string       `json:"body"`
	BodyType    string       `json:"body_type"` // "html" or "text"; empty means text
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Source fetches candidate messages for one sender within a lookback window,
// excluding already-known message ids. Implementations must not fail on a
// single bad message; only authentication failures are returned as ErrAuth.
type Source interface {
	FetchCandidates(ctx context.Context, sender string, lookbackDays int, exclude map[string]bool) ([]Message, error)
}

type factory func(opts map[string]string) (Source, error)

var sources = map[string]factory{}

func register(name string, f factory) {
	sources[name] = f
}

// Open constructs the named source with implementation-specific options.
func Open(name string, opts map[string]string) (Source, error) {
	f, ok := sources[name]
	if !ok {
		return nil, fmt.Errorf("unknown mail source %q (available: %v)", name, Sources())
	}
	return f(opts)
}

// Sources returns the registered source names, sorted.
func Sources() []string {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
