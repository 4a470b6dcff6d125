package document

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// TextExtractor reads plain-text and markdown files.
type TextExtractor struct{}

// NewTextExtractor creates a plain-text extractor.
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// Extract reads the file as UTF-8 text. A readable but blank file succeeds
// with empty text; the caller decides that means zero chunks.
func (e *TextExtractor) Extract(_ context.Context, path string) (*Extraction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %q is not valid UTF-8 text", ErrNoText, path)
	}
	return &Extraction{Text: strings.TrimSpace(string(data))}, nil
}
