package convert

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// pdfToText extracts the plain text of a PDF attachment.
func pdfToText(data []byte) (text string, err error) {
	// The pdf package panics on some malformed documents; a bad attachment
	// must stay a per-attachment soft failure.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parsing panicked: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	r, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}
