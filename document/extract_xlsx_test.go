package document

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeWorkbook(t *testing.T, sheet string, rows int) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if sheet != "Sheet1" {
		require.NoError(t, f.SetSheetName("Sheet1", sheet))
	}
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"id", "name", "amount"}))
	for i := 0; i < rows; i++ {
		cell := fmt.Sprintf("A%d", i+2)
		require.NoError(t, f.SetSheetRow(sheet, cell, &[]any{i + 1, fmt.Sprintf("item-%d", i+1), (i + 1) * 10}))
	}

	path := filepath.Join(t.TempDir(), "data.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestXLSXExtract_FiftyRowSheetOneChunk(t *testing.T) {
	path := writeWorkbook(t, "Orders", 50)
	e := NewXLSXExtractor()

	extraction, err := e.Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, extraction.Chunks, 1, "50 rows at 100 rows per chunk is one chunk")

	chunk := extraction.Chunks[0]
	assert.Equal(t, "Orders", chunk.SourceRef.Sheet)
	assert.Len(t, strings.Split(chunk.Text, "\n"), 50)
	assert.Contains(t, chunk.Text, "id: 1, name: item-1, amount: 10")
}

func TestXLSXExtract_SequenceSpansSheets(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", "First"))
	_, err := f.NewSheet("Second")
	require.NoError(t, err)
	for _, sheet := range []string{"First", "Second"} {
		require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"id"}))
		for i := 0; i < 150; i++ {
			require.NoError(t, f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &[]any{i}))
		}
	}
	path := filepath.Join(t.TempDir(), "multi.xlsx")
	require.NoError(t, f.SaveAs(path))

	extraction, err := NewXLSXExtractor().Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, extraction.Chunks, 4, "two sheets of 150 rows at 100 per chunk")
	for i, c := range extraction.Chunks {
		assert.Equal(t, i, c.Sequence, "sequence must be global across sheets")
	}
	assert.Equal(t, "First", extraction.Chunks[0].SourceRef.Sheet)
	assert.Equal(t, "Second", extraction.Chunks[2].SourceRef.Sheet)
}

func TestXLSXExtract_EmptyWorkbook(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	path := filepath.Join(t.TempDir(), "empty.xlsx")
	require.NoError(t, f.SaveAs(path))

	extraction, err := NewXLSXExtractor().Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, extraction.Chunks)
}
