// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package document

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"
)

// DocconvExtractor converts office and PDF documents to plain text.
//
// Extraction falls through an ordered list of strategies, stopping at the
// first that yields non-empty text: structured conversion, conversion with
// readability cleanup, then a raw text read. If every strategy yields empty
// text the extraction fails with ErrNoText rather than silently succeeding.
type DocconvExtractor struct {
	logger *slog.Logger
}

// NewDocconvExtractor creates a converter-backed extractor.
func NewDocconvExtractor() *DocconvExtractor {
	return &DocconvExtractor{logger: slog.Default().With("component", "docconv-extractor")}
}

func (e *DocconvExtractor) Extract(_ context.Context, path string) (*Extraction, error) {
	strategies := []struct {
		name string
		run  func(string) (string, error)
	}{
		{"structured", extractStructured},
		{"readability", extractReadability},
		{"raw-text", extractRawText},
	}

	for _, s := range strategies {
		text, err := s.run(path)
		if err != nil {
			e.logger.Debug("extraction strategy failed", "strategy", s.name, "path", path, "err", err)
			continue
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return &Extraction{Text: text}, nil
		}
	}
	return nil, fmt.Errorf("%w: all strategies exhausted for %q", ErrNoText, path)
}

func extractStructured(path string) (string, error) {
	res, err := docconv.ConvertPath(path)
	if err != nil {
		return "", err
	}
	return res.Body, nil
}

func extractReadability(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	res, err := docconv.Convert(f, docconv.MimeTypeByExtension(path), true)
	if err != nil {
		return "", err
	}
	return res.Body, nil
}

// extractRawText reads the file directly, keeping only valid UTF-8.
// Last resort for documents the converter cannot parse.
func extractRawText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	return strings.ToValidUTF8(string(data), ""), nil
}
