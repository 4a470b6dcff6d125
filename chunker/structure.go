package chunker

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/poiesic/indexit/core"
)

var (
	markdownHeading = regexp.MustCompile(`^#{1,6}\s+\S`)
	numberedSection = regexp.MustCompile(`^\d+(\.\d+)*[.)]\s+\S`)
)

// structuredChunks splits on heading/section markers, optionally splits each
// section into paragraphs, and greedily packs units into chunks up to the
// target size, carrying a whole-paragraph overlap tail between chunks.
// Returns nil when the text has no usable structure (a single unit), which
// signals the caller to fall back to windowing.
func structuredChunks(text string, target int, opts Options) []core.TextChunk {
	sections := splitSections(text)

	var units []unit
	for _, sec := range sections {
		if opts.PreserveParagraphs {
			units = append(units, splitParagraphs(sec)...)
		} else {
			units = append(units, sec)
		}
	}
	if len(units) <= 1 {
		return nil
	}

	return packUnits(units, target, opts)
}

// unit is one structural piece of the input: a section or a paragraph.
type unit struct {
	text    string
	offset  int    // rune offset in the original text
	section string // heading of the owning section, if any
}

// splitSections breaks text into sections at heading markers: markdown
// headings, numbered-section lines and all-caps lines. The heading line
// stays with its section body.
func splitSections(text string) []unit {
	lines := strings.Split(text, "\n")

	var sections []unit
	var buf []string
	bufOffset := 0
	heading := ""
	offset := 0

	flush := func() {
		body := strings.TrimSpace(strings.Join(buf, "\n"))
		if body != "" {
			sections = append(sections, unit{text: body, offset: bufOffset, section: heading})
		}
		buf = buf[:0]
	}

	for _, line := range lines {
		if isHeadingLine(line) && len(buf) > 0 {
			flush()
			bufOffset = offset
			heading = strings.TrimSpace(line)
		}
		buf = append(buf, line)
		offset += len([]rune(line)) + 1 // +1 for the newline
	}
	flush()

	return sections
}

func isHeadingLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if markdownHeading.MatchString(trimmed) || numberedSection.MatchString(trimmed) {
		return true
	}
	return isAllCapsLine(trimmed)
}

// isAllCapsLine reports whether a line looks like an ALL-CAPS heading:
// at least four characters, at least one letter, and no lowercase letters.
func isAllCapsLine(line string) bool {
	if len([]rune(line)) < 4 || len([]rune(line)) > 80 {
		return false
	}
	letters := 0
	for _, r := range line {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters >= 3
}

// splitParagraphs splits a section on blank-line boundaries.
func splitParagraphs(sec unit) []unit {
	parts := strings.Split(sec.text, "\n\n")

	var paragraphs []unit
	offset := sec.offset
	for _, part := range parts {
		p := strings.TrimSpace(part)
		if p != "" {
			paragraphs = append(paragraphs, unit{text: p, offset: offset, section: sec.section})
		}
		offset += len([]rune(part)) + 2
	}
	return paragraphs
}

// packUnits greedily packs units into chunks up to the target size. The
// overlap carried into the next chunk is the smallest whole-unit tail of the
// previous chunk whose length reaches the configured overlap, so the carry
// never cuts mid-word.
func packUnits(units []unit, target int, opts Options) []core.TextChunk {
	var chunks []core.TextChunk
	var buf []unit
	bufLen := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		texts := make([]string, len(buf))
		for i, u := range buf {
			texts[i] = u.text
		}
		chunks = append(chunks, core.TextChunk{
			Text: strings.Join(texts, "\n\n"),
			SourceRef: core.SourceRef{
				Offset:  buf[0].offset,
				Section: buf[0].section,
			},
		})

		// Carry a whole-unit overlap tail, but never the entire buffer:
		// that would stall progress.
		if opts.Overlap > 0 && len(buf) > 1 {
			var tail []unit
			tailLen := 0
			for i := len(buf) - 1; i > 0 && tailLen < opts.Overlap; i-- {
				tail = append([]unit{buf[i]}, tail...)
				tailLen += len([]rune(buf[i].text))
			}
			buf = tail
			bufLen = tailLen
		} else {
			buf = buf[:0]
			bufLen = 0
		}
	}

	for _, u := range units {
		uLen := len([]rune(u.text))
		if bufLen > 0 && bufLen+uLen > target {
			flush()
		}
		buf = append(buf, u)
		bufLen += uLen

		// A single oversized unit is emitted on its own; windowing inside a
		// paragraph would violate the paragraph boundary the caller asked for.
		if bufLen >= target {
			flush()
		}
	}

	// Emit the remainder unless it is purely the carried overlap tail.
	if bufLen > 0 {
		last := ""
		if len(chunks) > 0 {
			last = chunks[len(chunks)-1].Text
		}
		texts := make([]string, len(buf))
		for i, u := range buf {
			texts[i] = u.text
		}
		remainder := strings.Join(texts, "\n\n")
		if !strings.HasSuffix(last, remainder) {
			chunks = append(chunks, core.TextChunk{
				Text: remainder,
				SourceRef: core.SourceRef{
					Offset:  buf[0].offset,
					Section: buf[0].section,
				},
			})
		}
	}

	// Fold a trailing fragment below the minimum size into its predecessor.
	if n := len(chunks); n > 1 && len([]rune(chunks[n-1].Text)) < opts.MinSize {
		chunks[n-2].Text += "\n\n" + chunks[n-1].Text
		chunks = chunks[:n-1]
	}

	return chunks
}
