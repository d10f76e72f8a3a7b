// Package detect classifies write payloads as Text or Binary from content
// alone. The decision is deterministic and referentially transparent; stored
// state is never consulted.
package detect

import (
	"unicode/utf8"

	"github.com/h2non/filetype"

	"github.com/tarbox/tarbox/internal/config"
	"github.com/tarbox/tarbox/pkg/types"
)

// Result is the outcome of one classification.
type Result struct {
	IsText bool

	// Text details. LineEnding is the majority ending with ties resolved to
	// LF; mixed or absent endings are stored as LF, with MixedEndings and
	// NoLineBreaks surfacing what was actually seen.
	Encoding        types.Encoding
	LineEnding      types.LineEnding
	MixedEndings    bool
	NoLineBreaks    bool
	TrailingNewline bool

	// Binary detail: a best-effort MIME label from magic bytes, advisory only.
	MIME string
}

// Detector applies the classification rules with configurable thresholds.
type Detector struct {
	maxTextSize          int64
	maxNonPrintableRatio float64
	maxLineLength        int
}

// New builds a detector from configuration.
func New(cfg config.DetectorConfig) *Detector {
	return &Detector{
		maxTextSize:          cfg.MaxTextSize,
		maxNonPrintableRatio: cfg.MaxNonPrintableRatio,
		maxLineLength:        cfg.MaxLineLength,
	}
}

// Classify decides Text or Binary for content. Rules apply in order: empty is
// text; oversized, NUL-bearing, undecodable, mostly non-printable, or
// unbroken-run content is binary; everything else is text with the strictest
// matching encoding and the majority line ending.
func (d *Detector) Classify(content []byte) Result {
	if len(content) == 0 {
		return Result{IsText: true, Encoding: types.EncodingUTF8, LineEnding: types.LineEndingLF, NoLineBreaks: true}
	}
	if int64(len(content)) > d.maxTextSize {
		return d.binary(content)
	}
	nonPrintable := 0
	hasHighBytes := false
	hasC1Controls := false
	for _, b := range content {
		if b == 0x00 {
			return d.binary(content)
		}
		if b >= 0x80 {
			hasHighBytes = true
			if b <= 0x9F {
				hasC1Controls = true
			}
		}
		if isNonPrintable(b) {
			nonPrintable++
		}
	}
	validUTF8 := utf8.Valid(content)
	validLatin1 := !hasC1Controls
	if !validUTF8 && !validLatin1 {
		return d.binary(content)
	}
	if float64(nonPrintable)/float64(len(content)) > d.maxNonPrintableRatio {
		return d.binary(content)
	}
	if d.longestRun(content) > d.maxLineLength {
		return d.binary(content)
	}

	res := Result{IsText: true}
	switch {
	case !hasHighBytes:
		res.Encoding = types.EncodingASCII
	case validUTF8:
		res.Encoding = types.EncodingUTF8
	default:
		res.Encoding = types.EncodingLatin1
	}
	res.LineEnding, res.MixedEndings, res.NoLineBreaks = majorityLineEnding(content)
	res.TrailingNewline = endsWithBreak(content)
	return res
}

func (d *Detector) binary(content []byte) Result {
	res := Result{IsText: false}
	if t, err := filetype.Match(content); err == nil && t != filetype.Unknown {
		res.MIME = t.MIME.Value
	}
	return res
}

// isNonPrintable treats control bytes other than tab, line feed, carriage
// return, and form feed as non-printable. High bytes are candidate text in
// UTF-8 or Latin-1 and do not count.
func isNonPrintable(b byte) bool {
	if b >= 0x20 && b != 0x7F {
		return false
	}
	switch b {
	case '\t', '\n', '\r', '\f':
		return false
	}
	return true
}

// longestRun returns the longest stretch of bytes without a line break.
func (d *Detector) longestRun(content []byte) int {
	longest, current := 0, 0
	for _, b := range content {
		if b == '\n' || b == '\r' {
			if current > longest {
				longest = current
			}
			current = 0
			continue
		}
		current++
	}
	if current > longest {
		longest = current
	}
	return longest
}

// majorityLineEnding counts LF, CRLF, and CR occurrences and picks the
// majority, with ties resolved to LF.
func majorityLineEnding(content []byte) (le types.LineEnding, mixed, none bool) {
	var lf, crlf, cr int
	for i := 0; i < len(content); i++ {
		switch content[i] {
		case '\n':
			lf++
		case '\r':
			if i+1 < len(content) && content[i+1] == '\n' {
				crlf++
				i++
			} else {
				cr++
			}
		}
	}
	kinds := 0
	for _, n := range []int{lf, crlf, cr} {
		if n > 0 {
			kinds++
		}
	}
	mixed = kinds > 1
	if kinds == 0 {
		return types.LineEndingLF, false, true
	}
	switch {
	case crlf > lf && crlf > cr:
		le = types.LineEndingCRLF
	case cr > lf && cr > crlf:
		le = types.LineEndingCR
	default:
		le = types.LineEndingLF
	}
	if mixed {
		// Mixed endings are surfaced as a detail but stored as LF.
		le = types.LineEndingLF
	}
	return le, mixed, false
}

func endsWithBreak(content []byte) bool {
	if len(content) == 0 {
		return false
	}
	last := content[len(content)-1]
	return last == '\n' || last == '\r'
}

// SplitLines breaks text content into logical lines without terminators,
// honoring every ending style (the storage form normalizes how lines are
// joined back, not how they are split).
func SplitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(content); i++ {
		switch content[i] {
		case '\n':
			lines = append(lines, string(content[start:i]))
			start = i + 1
		case '\r':
			lines = append(lines, string(content[start:i]))
			if i+1 < len(content) && content[i+1] == '\n' {
				i++
			}
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, string(content[start:]))
	}
	return lines
}
