// Package source extracts Lumen code streams from raw `.lm` files and
// markdown-hosted `.lm.md` / `.lumen` documents, maintaining a mapping
// from code-stream offsets back to document positions.
package source

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/lumen-lang/lumen/internal/diagnostic"
)

// Mode selects how a document is interpreted.
type Mode int

const (
	// ModeRaw treats the whole input as code (`.lm` files).
	ModeRaw Mode = iota
	// ModeMarkdown extracts fenced ```lumen``` / ```lm``` blocks in
	// document order (`.lm.md`, `.lumen` files).
	ModeMarkdown
)

// Unit is a compilation unit: the concatenated code stream plus the
// offset table needed to map any position in it back to the hosting
// document, and any directives found outside code blocks.
type Unit struct {
	File       string
	Code       string
	offsets    []offsetEntry
	Directives []Directive
}

// Directive is an `@name value...` line appearing outside a code block.
type Directive struct {
	Name string
	Args []string
	Span diagnostic.Span
}

type offsetEntry struct {
	codeStart int // offset in Code where this document segment begins
	docLine   int // 1-based document line the segment starts on
}

// Position maps a code-stream offset back to a document line/column.
func (u *Unit) Position(offset int) (line, col int) {
	line = 1
	// find the segment containing offset
	seg := u.offsets[0]
	for _, e := range u.offsets {
		if e.codeStart > offset {
			break
		}
		seg = e
	}
	// count newlines within the segment up to offset
	line = seg.docLine
	col = 1
	for i := seg.codeStart; i < offset && i < len(u.Code); i++ {
		if u.Code[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

// Span builds a diagnostic.Span for a [start,end) code-stream range.
func (u *Unit) Span(start, end int) diagnostic.Span {
	line, col := u.Position(start)
	return diagnostic.Span{Start: start, End: end, Line: line, Col: col, File: u.File}
}

// Extract produces a Unit from raw document text according to mode.
func Extract(file, doc string, mode Mode, bag *diagnostic.Bag) *Unit {
	if mode == ModeRaw {
		return &Unit{
			File:    file,
			Code:    doc,
			offsets: []offsetEntry{{codeStart: 0, docLine: 1}},
		}
	}
	return extractMarkdown(file, doc, bag)
}

const (
	fenceLumen = "lumen"
	fenceLm    = "lm"
)

func extractMarkdown(file, doc string, bag *diagnostic.Bag) *Unit {
	u := &Unit{File: file}
	var code strings.Builder

	sc := bufio.NewScanner(doc2reader(doc))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	inFence := false
	fenceMarker := ""
	fenceLang := ""
	fenceStartLine := 0
	var pendingDoc strings.Builder
	_ = pendingDoc // unused: prose outside fences is not collected as doc text

	for sc.Scan() {
		lineNo++
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		if !inFence {
			if marker, lang, ok := fenceOpen(trimmed); ok {
				inFence = true
				fenceMarker = marker
				fenceLang = strings.ToLower(lang)
				fenceStartLine = lineNo + 1
				continue
			}
			if strings.HasPrefix(trimmed, "@") {
				name, args := parseDirective(trimmed[1:])
				u.Directives = append(u.Directives, Directive{
					Name: name,
					Args: args,
					Span: diagnostic.Span{Line: lineNo, Col: 1, File: file},
				})
			}
			continue
		}

		// inside a fence
		if isFenceClose(trimmed, fenceMarker) {
			inFence = false
			continue
		}
		if fenceLang == fenceLumen || fenceLang == fenceLm {
			if code.Len() == 0 {
				u.offsets = append(u.offsets, offsetEntry{codeStart: 0, docLine: fenceStartLine})
			} else {
				u.offsets = append(u.offsets, offsetEntry{codeStart: code.Len(), docLine: lineNo})
			}
			code.WriteString(line)
			code.WriteByte('\n')
		}
		// other language tags are skipped.
	}
	if err := sc.Err(); err != nil {
		bag.Warnf(diagnostic.StageExtract, "MalformedFence", diagnostic.Span{File: file}, "scanning document: %v", err)
	}
	if inFence {
		bag.Warnf(diagnostic.StageExtract, "MalformedFence", diagnostic.Span{File: file, Line: fenceStartLine},
			"unterminated fence opened near line %d", fenceStartLine)
	}

	u.Code = code.String()
	if len(u.offsets) == 0 {
		u.offsets = []offsetEntry{{codeStart: 0, docLine: 1}}
	}
	return u
}

func fenceOpen(trimmed string) (marker, lang string, ok bool) {
	for _, m := range []string{"```", "~~~"} {
		if strings.HasPrefix(trimmed, m) {
			return m, strings.TrimSpace(trimmed[len(m):]), true
		}
	}
	return "", "", false
}

func isFenceClose(trimmed, marker string) bool {
	return trimmed == marker
}

func parseDirective(rest string) (name string, args []string) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

func doc2reader(doc string) *strings.Reader {
	return strings.NewReader(doc)
}

// FormatDiagnosticKind is exposed so downstream code can build a
// consistent "Kind" string for extractor warnings.
func FormatDiagnosticKind(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
