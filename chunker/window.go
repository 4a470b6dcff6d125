package chunker

import (
	"strings"
	"unicode"

	"github.com/poiesic/indexit/core"
)

// sentenceBoundaryZone is the tail fraction of a window in which a sentence
// boundary is preferred over a plain whitespace break.
const sentenceBoundaryZone = 0.7

// windowChunks slides a fixed-size window over the text, preferring to end
// each window at a sentence boundary falling in the window's last 30%, else
// at the last whitespace before the window end. The start pointer advances
// by windowSize - overlap, with forward progress guaranteed even when the
// overlap meets or exceeds the window.
func windowChunks(runes []rune, window int, opts Options) []core.TextChunk {
	if window <= 0 {
		window = DefaultTargetSize
	}

	var chunks []core.TextChunk
	start := 0
	for start < len(runes) {
		end := start + window
		if end > len(runes) {
			end = len(runes)
		}

		if end < len(runes) {
			if b := sentenceBoundary(runes[start:end]); b > 0 {
				end = start + b
			} else if ws := lastWhitespace(runes[start:end]); ws > 0 {
				end = start + ws
			}
		}

		segment := strings.TrimSpace(string(runes[start:end]))
		if segment != "" {
			chunks = append(chunks, core.TextChunk{
				Text:      segment,
				SourceRef: core.SourceRef{Offset: start},
			})
		}

		if end >= len(runes) {
			break
		}

		step := (end - start) - opts.Overlap
		if step < 1 {
			// Overlap >= window: advance a full window instead of stalling.
			step = end - start
		}
		if step < 1 {
			step = 1
		}
		start += step
	}

	// Fold a trailing fragment below the minimum size into its predecessor.
	if n := len(chunks); n > 1 && len([]rune(chunks[n-1].Text)) < opts.MinSize {
		chunks[n-2].Text += " " + chunks[n-1].Text
		chunks = chunks[:n-1]
	}

	return chunks
}

// sentenceBoundary returns the rune index just after the last sentence
// terminator ([.!?] followed by whitespace and a capital letter) that falls
// within the tail zone of the segment, or 0 if none does.
func sentenceBoundary(seg []rune) int {
	threshold := int(sentenceBoundaryZone * float64(len(seg)))

	for i := len(seg) - 1; i > threshold; i-- {
		if !isSentenceEnd(seg[i]) {
			continue
		}
		// Require whitespace then an uppercase letter after the terminator.
		j := i + 1
		if j >= len(seg) || !unicode.IsSpace(seg[j]) {
			continue
		}
		for j < len(seg) && unicode.IsSpace(seg[j]) {
			j++
		}
		if j < len(seg) && unicode.IsUpper(seg[j]) {
			return i + 1
		}
	}
	return 0
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// lastWhitespace returns the index of the last whitespace rune in the
// segment, or 0 if there is none.
func lastWhitespace(seg []rune) int {
	for i := len(seg) - 1; i > 0; i-- {
		if unicode.IsSpace(seg[i]) {
			return i
		}
	}
	return 0
}
