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
	"fmt"
	"path/filepath"
	"strings"
)

// FileKind identifies a supported document format. Dispatch is a total
// mapping from kind to extractor; unknown extensions are rejected at the
// boundary instead of deferring resolution.
type FileKind int

const (
	KindUnknown FileKind = iota
	KindText
	KindMarkdown
	KindCSV
	KindXLSX
	KindDOCX
	KindPDF
)

// String returns the canonical extension for the kind, without a dot.
func (k FileKind) String() string {
	switch k {
	case KindText:
		return "txt"
	case KindMarkdown:
		return "md"
	case KindCSV:
		return "csv"
	case KindXLSX:
		return "xlsx"
	case KindDOCX:
		return "docx"
	case KindPDF:
		return "pdf"
	default:
		return "unknown"
	}
}

// KindFromExtension maps a file extension to its kind. The lookup is
// case-insensitive and dot-optional.
func KindFromExtension(ext string) (FileKind, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "txt", "text", "log":
		return KindText, nil
	case "md", "markdown":
		return KindMarkdown, nil
	case "csv", "tsv":
		return KindCSV, nil
	case "xlsx", "xls":
		return KindXLSX, nil
	case "docx", "doc":
		return KindDOCX, nil
	case "pdf":
		return KindPDF, nil
	default:
		return KindUnknown, fmt.Errorf("%w: %q", ErrUnsupportedKind, ext)
	}
}

// KindFromPath maps a file path to its kind via the extension.
func KindFromPath(path string) (FileKind, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return KindUnknown, fmt.Errorf("%w: no extension on %q", ErrUnsupportedKind, path)
	}
	return KindFromExtension(ext)
}
