package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/digestd/internal/storage"
)

// parseItems validates the LLM response and maps it to item rows. The
// response must be a JSON array of objects; that failing is a message-level
// error. Individual entries that are not objects or carry an empty title are
// dropped silently. item_index reflects position in the surviving list, and
// raw_data keeps each original record verbatim.
func parseItems(messageID, raw string, now time.Time) ([]storage.NewsletterItem, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &elems); err != nil {
		return nil, fmt.Errorf("response is not a JSON array: %w", err)
	}

	var items []storage.NewsletterItem
	for _, elem := range elems {
		var fields map[string]any
		if err := json.Unmarshal(elem, &fields); err != nil {
			continue
		}

		title := strings.TrimSpace(stringField(fields, "title"))
		if title == "" {
			continue
		}

		items = append(items, storage.NewsletterItem{
			ID:        uuid.New().String(),
			MessageID: messageID,
			ItemIndex: len(items),
			Date:      strings.TrimSpace(stringField(fields, "date")),
			Title:     title,
			Summary:   strings.TrimSpace(stringField(fields, "summary")),
			Link:      strings.TrimSpace(stringField(fields, "link")),
			ParsedAt:  now,
			RawData:   string(elem),
		})
	}

	return items, nil
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}
