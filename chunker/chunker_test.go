package chunker

import (
	"strings"
	"testing"

	"github.com/poiesic/indexit/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_EmptyInput(t *testing.T) {
	assert.Nil(t, Chunk("", DefaultOptions()))
	assert.Nil(t, Chunk("   \n\t  ", DefaultOptions()))
}

func TestChunk_ShortInputSingleChunk(t *testing.T) {
	input := "  A short note about nothing much.  "
	chunks := Chunk(input, DefaultOptions())

	require.Len(t, chunks, 1)
	assert.Equal(t, strings.TrimSpace(input), chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Sequence)
}

func TestChunk_SequenceOrder(t *testing.T) {
	input := strings.Repeat("One sentence here. Another follows after. ", 200)
	chunks := Chunk(input, DefaultOptions())

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.Sequence)
		assert.NotEmpty(t, c.Text)
	}
}

func TestChunk_ParagraphPacking(t *testing.T) {
	paragraphs := []string{
		strings.Repeat("alpha ", 30),
		strings.Repeat("bravo ", 30),
		strings.Repeat("charlie ", 30),
		strings.Repeat("delta ", 30),
		strings.Repeat("echo ", 30),
	}
	input := strings.Join(paragraphs, "\n\n")

	opts := DefaultOptions()
	opts.TargetSize = 400
	opts.Overlap = 0
	chunks := Chunk(input, opts)

	require.Greater(t, len(chunks), 1)
	joined := strings.Join(chunkTexts(chunks), "\n\n")
	for _, p := range paragraphs {
		assert.Contains(t, joined, strings.TrimSpace(p), "every paragraph must survive packing")
	}
}

func TestChunk_OverlapCarriesWholeParagraphs(t *testing.T) {
	paragraphs := []string{
		"First paragraph with some content inside it for testing purposes.",
		"Second paragraph, also with plenty of words to fill space out nicely.",
		"Third paragraph closes out the little document we built here today.",
	}
	input := strings.Join(paragraphs, "\n\n")

	opts := DefaultOptions()
	opts.TargetSize = 80
	opts.MinSize = 10
	opts.Overlap = 40
	chunks := Chunk(input, opts)

	require.Greater(t, len(chunks), 1)
	// A carried overlap must start at a paragraph boundary, so every chunk
	// starts with the beginning of some paragraph.
	for _, c := range chunks {
		first := strings.Split(c.Text, "\n\n")[0]
		found := false
		for _, p := range paragraphs {
			if strings.HasPrefix(p, first) || p == first {
				found = true
				break
			}
		}
		assert.True(t, found, "chunk must start at a paragraph boundary: %q", first)
	}
}

func TestChunk_WindowingCoversWholeInput(t *testing.T) {
	// Low structure: one giant line, no headings or paragraphs.
	var b strings.Builder
	words := []string{"lorem", "ipsum", "dolor", "sit", "amet", "consectetur"}
	for i := 0; i < 800; i++ {
		b.WriteString(words[i%len(words)])
		b.WriteByte(' ')
	}
	input := strings.TrimSpace(b.String())

	opts := DefaultOptions()
	opts.RespectStructure = false
	chunks := Chunk(input, opts)
	require.Greater(t, len(chunks), 1)

	// Every input word must appear in the concatenation, in order; the
	// overlap means some appear twice, but none may be dropped.
	joined := strings.Join(chunkTexts(chunks), " ")
	inputWords := strings.Fields(input)
	joinedWords := strings.Fields(joined)
	assert.GreaterOrEqual(t, len(joinedWords), len(inputWords), "overlap may repeat words but never drop them")

	idx := 0
	for _, w := range joinedWords {
		if idx < len(inputWords) && w == inputWords[idx] {
			idx++
		}
	}
	assert.Equal(t, len(inputWords), idx, "input must be reconstructable in order from the chunks")
}

func TestChunk_WindowNeverSplitsMidWord(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 500; i++ {
		b.WriteString("supercalifragilistic ")
	}
	opts := DefaultOptions()
	opts.RespectStructure = false
	chunks := Chunk(strings.TrimSpace(b.String()), opts)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		for _, w := range strings.Fields(c.Text) {
			assert.Equal(t, "supercalifragilistic", w)
		}
	}
}

func TestChunk_ForwardProgressWithExcessiveOverlap(t *testing.T) {
	input := strings.Repeat("word ", 600)

	opts := DefaultOptions()
	opts.RespectStructure = false
	opts.TargetSize = 200
	opts.Overlap = 500 // overlap exceeds the window
	chunks := Chunk(input, opts)

	require.NotEmpty(t, chunks)
	assert.Less(t, len(chunks), 100, "must terminate without stalling")
}

func TestChunk_SentenceBoundaryPreferred(t *testing.T) {
	// Sentences sized so a terminator lands in the last 30% of the window.
	sentence := "The quick brown fox jumps over the lazy dog near the river bank today. "
	input := strings.Repeat(sentence, 40)

	opts := DefaultOptions()
	opts.RespectStructure = false
	opts.TargetSize = 300
	opts.Overlap = 0
	chunks := Chunk(input, opts)

	require.Greater(t, len(chunks), 2)
	boundaryEndings := 0
	for _, c := range chunks[:len(chunks)-1] {
		if strings.HasSuffix(c.Text, ".") {
			boundaryEndings++
		}
	}
	assert.Greater(t, boundaryEndings, 0, "interior windows should end at sentence boundaries")
}

func TestChunk_StructuredSplitOnHeadings(t *testing.T) {
	input := "# Introduction\n\n" + strings.Repeat("intro text here ", 40) +
		"\n\n# Methods\n\n" + strings.Repeat("methods text here ", 40) +
		"\n\nRESULTS AND DISCUSSION\n\n" + strings.Repeat("results text here ", 40)

	opts := DefaultOptions()
	opts.TargetSize = 400
	chunks := Chunk(input, opts)

	require.Greater(t, len(chunks), 1)
	joined := strings.Join(chunkTexts(chunks), "\n")
	assert.Contains(t, joined, "intro text here")
	assert.Contains(t, joined, "methods text here")
	assert.Contains(t, joined, "results text here")
}

func TestAdaptiveTarget(t *testing.T) {
	opts := DefaultOptions()

	// Short input: roughly half the input, floored at MinSize.
	short := []rune(strings.Repeat("a", 400))
	assert.Equal(t, 200, adaptiveTarget(short, opts))

	tiny := []rune(strings.Repeat("a", 150))
	assert.Equal(t, opts.MinSize, adaptiveTarget(tiny, opts))

	// Large low-structure input grows by half, capped at 2000.
	big := []rune(strings.Repeat("a", 10000))
	assert.Equal(t, 1500, adaptiveTarget(big, opts))

	// Densely broken input shrinks.
	dense := []rune(strings.Repeat("ab\ncd\nef\ngh\n", 1000))
	assert.Equal(t, opts.TargetSize/2, adaptiveTarget(dense, opts))
}

func TestChunk_MinSizeFoldsTrailingFragment(t *testing.T) {
	input := strings.Repeat("word ", 220) + "tail."

	opts := DefaultOptions()
	opts.RespectStructure = false
	opts.TargetSize = 500
	opts.Overlap = 0
	opts.MinSize = 100
	chunks := Chunk(input, opts)

	for _, c := range chunks {
		assert.GreaterOrEqual(t, len(c.Text), 5, "no dust-sized chunks")
	}
	last := chunks[len(chunks)-1]
	assert.Contains(t, last.Text, "tail.")
}

func chunkTexts(chunks []core.TextChunk) []string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return texts
}
