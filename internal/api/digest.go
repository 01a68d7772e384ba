package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/digestd/internal/dedup"
	"github.com/kalambet/digestd/internal/stableid"
	"github.com/kalambet/digestd/internal/storage"
)

// ItemView is the wire shape of a stored newsletter item. StableID is derived
// from the normalized title and date, so the same story keeps the same id
// across messages and runs.
type ItemView struct {
	StableID  string `json:"stable_id"`
	MessageID string `json:"message_id,omitempty"`
	Date      string `json:"date,omitempty"`
	Title     string `json:"title"`
	Summary   string `json:"summary,omitempty"`
	Link      string `json:"link,omitempty"`
}

// Digest is a deduplicated view over a recent window of items.
type Digest struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Days        int          `json:"days"`
	Items       []DigestItem `json:"items"`
}

// DigestItem is one entry of a rendered digest.
type DigestItem struct {
	StableID   string `json:"stable_id"`
	Date       string `json:"date,omitempty"`
	Title      string `json:"title"`
	Summary    string `json:"summary,omitempty"`
	Link       string `json:"link,omitempty"`
	SourceType string `json:"source_type"`
}

func itemViews(items []storage.NewsletterItem) []ItemView {
	views := make([]ItemView, 0, len(items))
	for _, it := range items {
		views = append(views, ItemView{
			StableID:  stableid.Generate(it.Title, it.Date),
			MessageID: it.MessageID,
			Date:      it.Date,
			Title:     it.Title,
			Summary:   it.Summary,
			Link:      it.Link,
		})
	}
	return views
}

// BuildDigest loads the last `days` of items and collapses near-duplicates.
// A nil deduplicator yields the raw item list.
func BuildDigest(ctx context.Context, store *storage.Store, dd Deduplicator, days int) (Digest, error) {
	if days <= 0 {
		days = defaultDigestDays
	}

	stored, err := store.ItemsSince(days, 0)
	if err != nil {
		return Digest{}, fmt.Errorf("loading items: %w", err)
	}

	items := make([]dedup.Item, 0, len(stored))
	for _, it := range stored {
		items = append(items, dedup.Item{
			Date:       it.Date,
			Title:      it.Title,
			Summary:    it.Summary,
			Link:       it.Link,
			SourceType: "newsletter",
		})
	}

	if dd != nil {
		items = dd.Deduplicate(ctx, items)
	}

	digest := Digest{
		GeneratedAt: time.Now().UTC(),
		Days:        days,
		Items:       make([]DigestItem, 0, len(items)),
	}
	for _, it := range items {
		digest.Items = append(digest.Items, DigestItem{
			StableID:   stableid.Generate(it.Title, it.Date),
			Date:       it.Date,
			Title:      it.Title,
			Summary:    it.Summary,
			Link:       it.Link,
			SourceType: it.SourceType,
		})
	}
	return digest, nil
}

// RenderMarkdown formats a digest for terminal or note-taking consumption.
func RenderMarkdown(d Digest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Digest: last %d days\n\n", d.Days)
	fmt.Fprintf(&b, "_Generated %s, %d items_\n", d.GeneratedAt.Format("2006-01-02 15:04 MST"), len(d.Items))

	for _, it := range d.Items {
		b.WriteString("\n## " + it.Title + "\n\n")
		if it.Date != "" {
			fmt.Fprintf(&b, "- Date: %s\n", it.Date)
		}
		if it.Link != "" {
			fmt.Fprintf(&b, "- Link: %s\n", it.Link)
		}
		fmt.Fprintf(&b, "- ID: %s\n", it.StableID)
		if it.Summary != "" {
			b.WriteString("\n" + it.Summary + "\n")
		}
	}
	return b.String()
}
