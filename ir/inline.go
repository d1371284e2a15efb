package ir

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// RunType discriminates inline run variants.
type RunType uint8

const (
	RunText RunType = iota
	RunBold
	RunItalic
	RunStrike
	RunCode
	RunLink
	RunFootnoteRef
)

// MaxRunDepth bounds run nesting. Source formats never nest emphasis deeper
// than this in practice; extractors clamp anything beyond it.
const MaxRunDepth = 8

// Run is a span of inline content. RunText holds raw text in Text; the
// emphasis and link variants wrap nested runs in Kids.
type Run struct {
	Type RunType
	Text string // RunText
	Href string // RunLink
	Note int    // RunFootnoteRef: footnote id
	Kids []Run  // wrapper variants
}

// TextRun creates a plain text run.
func TextRun(s string) Run { return Run{Type: RunText, Text: s} }

// Wrap nests runs under a styled wrapper.
func Wrap(t RunType, kids ...Run) Run { return Run{Type: t, Kids: kids} }

// FlattenRuns appends the raw text of all RunText leaves to sb, in order.
func FlattenRuns(runs []Run, sb *strings.Builder) {
	for _, r := range runs {
		if r.Type == RunText {
			sb.WriteString(r.Text)
			continue
		}
		FlattenRuns(r.Kids, sb)
	}
}

// PlainText returns the concatenated leaf text of runs.
func PlainText(runs []Run) string {
	var sb strings.Builder
	FlattenRuns(runs, &sb)
	return sb.String()
}

// MergeRuns collapses adjacent runs with identical wrapping into single runs,
// so `**a**` + `**b**` becomes `**ab**` and split text leaves re-join. The
// flattened text is unchanged, which keeps word counts independent of how the
// source format split its runs.
func MergeRuns(runs []Run) []Run {
	if len(runs) < 2 {
		return runs
	}
	out := runs[:0:0]
	for _, r := range runs {
		if r.Type != RunText {
			r.Kids = MergeRuns(r.Kids)
		}
		if n := len(out); n > 0 && mergeable(out[n-1], r) {
			if r.Type == RunText {
				out[n-1].Text += r.Text
			} else {
				out[n-1].Kids = MergeRuns(append(out[n-1].Kids, r.Kids...))
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

func mergeable(a, b Run) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case RunText:
		return true
	case RunBold, RunItalic, RunStrike, RunCode:
		return true
	case RunLink:
		return a.Href == b.Href
	default:
		return false
	}
}

// NormalizeText applies Unicode NFC so visually identical extractions from
// different producers compare and count equal.
func NormalizeText(s string) string {
	return norm.NFC.String(s)
}

// CountWords counts whitespace-delimited tokens in the flattened text of runs.
func CountWords(runs []Run) int {
	return len(strings.Fields(PlainText(runs)))
}
