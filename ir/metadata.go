package ir

import "strings"

// WarnCode is a closed set of recoverable loss-of-fidelity conditions.
type WarnCode string

const (
	WarnScannedPage        WarnCode = "SCANNED_PAGE"
	WarnPasswordPartial    WarnCode = "PASSWORD_PROTECTED_PARTIAL"
	WarnUnsupportedElement WarnCode = "UNSUPPORTED_ELEMENT"
	WarnTruncatedTable     WarnCode = "TRUNCATED_TABLE"
)

// Warning is one element-scoped loss event attached to a conversion result.
type Warning struct {
	Code    WarnCode `json:"code"`
	Message string   `json:"message"`
}

// Metadata describes a completed conversion. Warnings keep insertion order.
type Metadata struct {
	SourceFormat Kind      `json:"source_format"`
	Units        int       `json:"unit_count"` // pages or slides
	WordCount    int       `json:"word_count"`
	HasImages    bool      `json:"has_images"`
	ImageCount   int       `json:"image_count"`
	Warnings     []Warning `json:"conversion_warnings,omitempty"`
}

// WordCount computes the document word count over all RunText leaves,
// including table cells, list items, and footnote bodies. Because only leaf
// text is flattened, the count does not depend on how the source split or
// styled its runs.
func WordCount(d *Document) int {
	var sb strings.Builder
	var walk func(id NodeID)
	walk = func(id NodeID) {
		b := d.Block(id)
		FlattenRuns(b.Runs, &sb)
		sb.WriteByte('\n')
		for _, row := range b.Rows {
			for _, c := range row {
				FlattenRuns(c.Runs, &sb)
				sb.WriteByte('\n')
			}
		}
		for _, kid := range b.Items {
			walk(kid)
		}
		for _, kid := range b.Nested {
			walk(kid)
		}
	}
	for _, id := range d.Top {
		walk(id)
	}
	for _, runs := range d.Footnotes {
		FlattenRuns(runs, &sb)
		sb.WriteByte('\n')
	}
	return len(strings.Fields(sb.String()))
}
