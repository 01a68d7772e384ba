// Package convert turns raw newsletter messages into the normalized text
// representation the extraction prompt consumes.
package convert

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/digestd/internal/mail"
)

// ToText renders a message as markdown-ish plain text: a header with the
// subject, sender and date, the body stripped of HTML, and the text of any
// PDF attachments. A failed attachment conversion is logged and skipped;
// the body alone is enough to extract from.
func ToText(msg mail.Message) (string, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s\n\n", strings.TrimSpace(msg.Subject))
	fmt.Fprintf(&sb, "From: %s\n", msg.Sender)
	if !msg.Date.IsZero() {
		fmt.Fprintf(&sb, "Date: %s\n", msg.Date.UTC().Format(time.RFC3339))
	}
	sb.WriteString("\n")

	body := msg.Body
	if strings.EqualFold(msg.BodyType, "html") {
		body = htmlToText(body)
	}
	sb.WriteString(strings.TrimSpace(body))
	sb.WriteString("\n")

	for _, att := range msg.Attachments {
		if !isPDF(att) {
			continue
		}
		text, err := pdfToText(att.Data)
		if err != nil {
			slog.Warn("skipping unconvertible attachment", "message_id", msg.MessageID, "filename", att.Filename, "error", err)
			continue
		}
		fmt.Fprintf(&sb, "\n## Attachment: %s\n\n%s\n", att.Filename, strings.TrimSpace(text))
	}

	return sb.String(), nil
}

func isPDF(att mail.Attachment) bool {
	return strings.EqualFold(att.ContentType, "application/pdf") ||
		strings.HasSuffix(strings.ToLower(att.Filename), ".pdf")
}
