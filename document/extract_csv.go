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
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/poiesic/indexit/core"
)

// DefaultRowsPerChunk is how many data rows are combined into one chunk.
// One-row chunks are too granular for useful embeddings.
const DefaultRowsPerChunk = 100

// CSVExtractor turns delimited files into pre-chunked row units. The first
// record is treated as the header; each data row renders as one
// "column: value" record line, and RowsPerChunk rows are joined by newlines
// into a chunk.
type CSVExtractor struct {
	RowsPerChunk int
}

// NewCSVExtractor creates a CSV extractor with the default chunk width.
func NewCSVExtractor() *CSVExtractor {
	return &CSVExtractor{RowsPerChunk: DefaultRowsPerChunk}
}

func (e *CSVExtractor) Extract(_ context.Context, path string) (*Extraction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		reader.Comma = '\t'
	}
	reader.FieldsPerRecord = -1 // ragged rows are tolerated

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", path, err)
	}
	if len(records) == 0 {
		return &Extraction{}, nil
	}

	header := records[0]
	rows := make([]string, 0, len(records)-1)
	for _, record := range records[1:] {
		rows = append(rows, recordLine(header, record))
	}

	rowsPer := e.RowsPerChunk
	if rowsPer < 1 {
		rowsPer = DefaultRowsPerChunk
	}
	return &Extraction{Chunks: chunkRows(rows, rowsPer, "")}, nil
}

// recordLine renders one data row as "column: value" pairs on a single line.
// Missing trailing fields render against an empty value; surplus fields get
// positional names.
func recordLine(header, record []string) string {
	pairs := make([]string, 0, len(record))
	for i, value := range record {
		name := fmt.Sprintf("column_%d", i+1)
		if i < len(header) && strings.TrimSpace(header[i]) != "" {
			name = strings.TrimSpace(header[i])
		}
		pairs = append(pairs, name+": "+strings.TrimSpace(value))
	}
	return strings.Join(pairs, ", ")
}

// chunkRows joins groups of rowsPer row lines into chunks, tagging each
// chunk with its sheet name and row range.
func chunkRows(rows []string, rowsPer int, sheet string) []core.TextChunk {
	var chunks []core.TextChunk
	for start := 0; start < len(rows); start += rowsPer {
		end := start + rowsPer
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, core.TextChunk{
			Text:     strings.Join(rows[start:end], "\n"),
			Sequence: len(chunks),
			SourceRef: core.SourceRef{
				Sheet:    sheet,
				RowRange: fmt.Sprintf("%d-%d", start, end),
			},
		})
	}
	return chunks
}
