package document

import (
	"context"
	"fmt"

	"github.com/poiesic/indexit/core"
)

// Extraction is the output of a format extractor. Free-text formats fill
// Text, which the dispatcher runs through the chunking engine. Row-oriented
// formats (CSV, spreadsheets) fill Chunks directly, already combined into
// multi-row units; when Chunks is non-empty, Text is ignored.
type Extraction struct {
	Text   string
	Chunks []core.TextChunk
}

// Extractor turns one file format into text or pre-chunked units.
type Extractor interface {
	Extract(ctx context.Context, path string) (*Extraction, error)
}

// Registry is a total mapping from file kind to extractor.
type Registry struct {
	extractors map[FileKind]Extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[FileKind]Extractor)}
}

// Register binds an extractor to a kind, replacing any previous binding.
func (r *Registry) Register(kind FileKind, e Extractor) {
	r.extractors[kind] = e
}

// For returns the extractor for a kind.
func (r *Registry) For(kind FileKind) (Extractor, error) {
	e, ok := r.extractors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	return e, nil
}

// DefaultRegistry returns a registry covering every supported kind.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	text := NewTextExtractor()
	r.Register(KindText, text)
	r.Register(KindMarkdown, text)
	r.Register(KindCSV, NewCSVExtractor())
	r.Register(KindXLSX, NewXLSXExtractor())
	converted := NewDocconvExtractor()
	r.Register(KindDOCX, converted)
	r.Register(KindPDF, converted)
	return r
}
