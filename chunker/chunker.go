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


package chunker

import (
	"log/slog"
	"strings"

	"github.com/poiesic/indexit/core"
)

const (
	// DefaultTargetSize is the default target chunk size in characters.
	DefaultTargetSize = 1000
	// DefaultOverlap is the default overlap between consecutive chunks.
	DefaultOverlap = 200
	// DefaultMinSize is the smallest chunk the engine will aim to produce.
	DefaultMinSize = 100
	// maxTargetSize caps adaptive growth for large low-structure inputs.
	maxTargetSize = 2000
)

// Options configures the chunking engine.
type Options struct {
	// TargetSize is the target chunk size in characters.
	TargetSize int
	// Overlap is the number of characters carried from the tail of one chunk
	// into the start of the next.
	Overlap int
	// MinSize is the minimum chunk size; inputs shorter than this are
	// returned as a single chunk.
	MinSize int
	// RespectStructure splits on heading/section markers before packing.
	RespectStructure bool
	// PreserveParagraphs splits sections on blank-line boundaries and packs
	// whole paragraphs, so a paragraph is never cut mid-way.
	PreserveParagraphs bool
}

// DefaultOptions returns the chunking defaults.
func DefaultOptions() Options {
	return Options{
		TargetSize:         DefaultTargetSize,
		Overlap:            DefaultOverlap,
		MinSize:            DefaultMinSize,
		RespectStructure:   true,
		PreserveParagraphs: true,
	}
}

func (o *Options) normalize() {
	if o.TargetSize <= 0 {
		o.TargetSize = DefaultTargetSize
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	if o.MinSize <= 0 {
		o.MinSize = DefaultMinSize
	}
	if o.MinSize > o.TargetSize {
		o.MinSize = o.TargetSize
	}
}

// Chunk splits text into bounded, optionally overlapping chunks.
//
// Inputs shorter than the minimum chunk size are returned as a single
// trimmed chunk. Structure-aware splitting is attempted first when enabled;
// if it cannot produce more than one unit, the engine falls back to
// fixed-size windowing. Chunking never fails: any internal error degrades to
// plain windowing instead of propagating to the caller.
func Chunk(text string, opts Options) []core.TextChunk {
	opts.normalize()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) <= opts.MinSize {
		return []core.TextChunk{{Text: trimmed, Sequence: 0}}
	}

	target := adaptiveTarget(runes, opts)

	var chunks []core.TextChunk
	if opts.RespectStructure {
		chunks = safeStructured(trimmed, target, opts)
	}
	if len(chunks) <= 1 && len(runes) > target {
		chunks = windowChunks(runes, target, opts)
	}
	if len(chunks) == 0 {
		chunks = []core.TextChunk{{Text: trimmed}}
	}

	for i := range chunks {
		chunks[i].Sequence = i
	}
	return chunks
}

// safeStructured runs structure-aware chunking, degrading to nil (which the
// caller turns into plain windowing) if anything inside panics.
func safeStructured(text string, target int, opts Options) (chunks []core.TextChunk) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Warn("structured chunking failed, falling back to windowing", "panic", r)
			chunks = nil
		}
	}()
	return structuredChunks(text, target, opts)
}

// adaptiveTarget tunes the target chunk size to the input.
//
// Very short inputs shrink the target to roughly half the input length,
// floored at the minimum chunk size. Large inputs with almost no line breaks
// (newline density below 1%) grow it by half, capped at maxTargetSize.
// Densely broken inputs (density above 5%) shrink it by half.
func adaptiveTarget(runes []rune, opts Options) int {
	n := len(runes)
	target := opts.TargetSize

	if n < target*3/2 {
		half := n / 2
		if half < opts.MinSize {
			half = opts.MinSize
		}
		return half
	}

	newlines := 0
	for _, r := range runes {
		if r == '\n' {
			newlines++
		}
	}
	density := float64(newlines) / float64(n)

	switch {
	case density < 0.01:
		grown := target * 3 / 2
		if grown > maxTargetSize {
			grown = maxTargetSize
		}
		return grown
	case density > 0.05:
		shrunk := target / 2
		if shrunk < opts.MinSize {
			shrunk = opts.MinSize
		}
		return shrunk
	default:
		return target
	}
}
