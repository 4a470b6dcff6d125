// Package chunker splits raw text into bounded, optionally overlapping
// chunks for embedding.
//
// The engine is structure-aware: when enabled it splits on heading and
// section markers (markdown headings, numbered sections, all-caps lines),
// then on paragraph boundaries, and greedily packs whole paragraphs into
// chunks near the target size with a whole-paragraph overlap carry. Inputs
// without usable structure fall back to fixed-size windowing with sentence-
// and whitespace-aware window ends.
//
// The target size adapts to the input: short inputs shrink it, large
// low-structure inputs grow it, and densely line-broken inputs shrink it.
//
// Chunking never returns an error. Internal failures degrade to plain
// windowing so a malformed document still produces usable chunks.
package chunker
