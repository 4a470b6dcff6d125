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

	"github.com/xuri/excelize/v2"
)

// Ceilings protecting memory against pathological workbooks.
const (
	MaxSheets       = 10
	MaxRowsPerSheet = 5000
	MaxCellsPerRow  = 100
)

// XLSXExtractor turns spreadsheet workbooks into pre-chunked row units.
// Processing is capped at MaxSheets sheets, MaxRowsPerSheet rows per sheet
// and MaxCellsPerRow cells per row; rows are combined RowsPerChunk at a
// time, same as CSV.
type XLSXExtractor struct {
	RowsPerChunk int
	logger       *slog.Logger
}

// NewXLSXExtractor creates a spreadsheet extractor with the default chunk
// width.
func NewXLSXExtractor() *XLSXExtractor {
	return &XLSXExtractor{
		RowsPerChunk: DefaultRowsPerChunk,
		logger:       slog.Default().With("component", "xlsx-extractor"),
	}
}

func (e *XLSXExtractor) Extract(_ context.Context, path string) (*Extraction, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook %q: %w", path, err)
	}
	defer f.Close()

	rowsPer := e.RowsPerChunk
	if rowsPer < 1 {
		rowsPer = DefaultRowsPerChunk
	}

	sheets := f.GetSheetList()
	if len(sheets) > MaxSheets {
		e.logger.Warn("workbook exceeds sheet ceiling, truncating",
			"path", path, "sheets", len(sheets), "ceiling", MaxSheets)
		sheets = sheets[:MaxSheets]
	}

	extraction := &Extraction{}
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %q of %q: %w", sheet, path, err)
		}
		if len(rows) == 0 {
			continue
		}
		if len(rows) > MaxRowsPerSheet+1 {
			e.logger.Warn("sheet exceeds row ceiling, truncating",
				"path", path, "sheet", sheet, "rows", len(rows), "ceiling", MaxRowsPerSheet)
			rows = rows[:MaxRowsPerSheet+1]
		}

		header := capCells(rows[0])
		lines := make([]string, 0, len(rows)-1)
		for _, row := range rows[1:] {
			lines = append(lines, recordLine(header, capCells(row)))
		}

		for _, chunk := range chunkRows(lines, rowsPer, sheet) {
			chunk.Sequence = len(extraction.Chunks)
			extraction.Chunks = append(extraction.Chunks, chunk)
		}
	}
	return extraction, nil
}

func capCells(row []string) []string {
	if len(row) > MaxCellsPerRow {
		return row[:MaxCellsPerRow]
	}
	return row
}
