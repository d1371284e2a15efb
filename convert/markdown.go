package convert

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"github.com/hazyhaar/doc2md/ir"
)

// serializeMarkdown walks a finished IR tree and renders the output document:
// frontmatter first, then blocks in arena order, then the footnote section.
// The walk is a single append-only pass: same IR and same clock produce
// byte-identical output.
func serializeMarkdown(doc *ir.Document, meta *ir.Metadata, source string, opts Options) string {
	var sb strings.Builder

	writeFrontmatter(&sb, doc.Kind, meta, source, opts)

	s := &serializer{doc: doc, opts: opts, out: &sb}
	for _, id := range doc.Top {
		s.block(id, 0)
	}

	s.footnotes()

	return sb.String()
}

// writeFrontmatter emits the metadata block with its fixed key order:
// source, format, converted, pages|slides, word_count, warnings.
func writeFrontmatter(sb *strings.Builder, kind ir.Kind, meta *ir.Metadata, source string, opts Options) {
	sb.WriteString("---\n")
	fmt.Fprintf(sb, "source: %s\n", source)
	fmt.Fprintf(sb, "format: %s\n", kind)
	fmt.Fprintf(sb, "converted: %s\n", opts.Now().UTC().Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(sb, "%s: %d\n", kind.UnitLabel(), meta.Units)
	fmt.Fprintf(sb, "word_count: %d\n", meta.WordCount)
	if len(meta.Warnings) > 0 {
		entries := make([]string, len(meta.Warnings))
		for i, w := range meta.Warnings {
			entries[i] = fmt.Sprintf("%s: %s", w.Code, w.Message)
		}
		fmt.Fprintf(sb, "warnings: [%s]\n", strings.Join(entries, ", "))
	}
	sb.WriteString("---\n")
}

type serializer struct {
	doc  *ir.Document
	opts Options
	out  *strings.Builder
}

// block renders one node. depth is the current list nesting level; top-level
// blocks are rendered at depth 0 separated by blank lines.
func (s *serializer) block(id ir.NodeID, depth int) {
	b := s.doc.Block(id)
	switch b.Type {
	case ir.BlockHeading:
		s.out.WriteByte('\n')
		s.out.WriteString(strings.Repeat("#", b.Level))
		s.out.WriteByte(' ')
		s.runs(b.Runs)
		s.out.WriteByte('\n')

	case ir.BlockParagraph:
		s.out.WriteByte('\n')
		s.runs(b.Runs)
		s.out.WriteByte('\n')

	case ir.BlockList:
		if depth == 0 {
			s.out.WriteByte('\n')
		}
		s.list(b, depth)

	case ir.BlockTable:
		s.out.WriteByte('\n')
		s.table(b)

	case ir.BlockImage:
		s.out.WriteByte('\n')
		fmt.Fprintf(s.out, "![%s](%s)\n", escapeCell(b.Description), s.imageRef(b))

	case ir.BlockBreak:
		fmt.Fprintf(s.out, "\n---\n\n<!-- %s %d -->\n", b.Label, b.Index)

	case ir.BlockQuote:
		s.out.WriteString("\n> ")
		s.runs(b.Runs)
		s.out.WriteByte('\n')

	case ir.BlockComment:
		fmt.Fprintf(s.out, "\n<!-- %s -->\n", strings.ReplaceAll(b.Text, "--", "—"))

	case ir.BlockUnrepresentable:
		fmt.Fprintf(s.out, "\n*[unrepresentable content: %s]*\n", b.Text)
	}
}

// list renders a List node: 2-space indent per nesting level, ordered lists
// renumbered from 1 at each level regardless of source numbering.
func (s *serializer) list(b *ir.Block, depth int) {
	if depth >= s.opts.MaxListDepth {
		depth = s.opts.MaxListDepth - 1
	}
	indent := strings.Repeat("  ", depth)
	for i, itemID := range b.Items {
		item := s.doc.Block(itemID)
		s.out.WriteString(indent)
		if b.Ordered {
			fmt.Fprintf(s.out, "%d. ", i+1)
		} else {
			s.out.WriteString("- ")
		}
		s.runs(item.Runs)
		s.out.WriteByte('\n')
		for _, nestedID := range item.Nested {
			s.block(nestedID, depth+1)
		}
	}
}

// table renders rows with a header separator encoding per-column alignment.
func (s *serializer) table(b *ir.Block) {
	if len(b.Rows) == 0 {
		return
	}
	cols := 0
	for _, row := range b.Rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	if cols == 0 {
		return
	}

	writeRow := func(row []ir.Cell) {
		s.out.WriteByte('|')
		for i := 0; i < cols; i++ {
			s.out.WriteByte(' ')
			if i < len(row) {
				s.out.WriteString(escapeCell(ir.PlainText(ir.MergeRuns(row[i].Runs))))
			}
			s.out.WriteString(" |")
		}
		s.out.WriteByte('\n')
	}

	writeRow(b.Rows[0])
	s.out.WriteByte('|')
	for i := 0; i < cols; i++ {
		var al ir.Alignment
		if i < len(b.Align) {
			al = b.Align[i]
		}
		switch al {
		case ir.AlignLeft:
			s.out.WriteString(" :-- |")
		case ir.AlignCenter:
			s.out.WriteString(" :-: |")
		case ir.AlignRight:
			s.out.WriteString(" --: |")
		default:
			s.out.WriteString(" --- |")
		}
	}
	s.out.WriteByte('\n')
	for _, row := range b.Rows[1:] {
		writeRow(row)
	}
}

// footnotes appends the trailing footnote section in ascending id order.
func (s *serializer) footnotes() {
	if len(s.doc.Footnotes) == 0 {
		return
	}
	ids := make([]int, 0, len(s.doc.Footnotes))
	for id := range s.doc.Footnotes {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	s.out.WriteByte('\n')
	for _, id := range ids {
		fmt.Fprintf(s.out, "[^%d]: ", id)
		s.runs(s.doc.Footnotes[id])
		s.out.WriteByte('\n')
	}
}

// imageRef renders the placeholder reference: a sidecar file name by default,
// or a data URI when inline images are enabled and the bytes fit under the
// sidecar threshold.
func (s *serializer) imageRef(b *ir.Block) string {
	ext := b.Ext
	if ext == "" {
		ext = "png"
	}
	if s.opts.InlineImages && b.Data != nil && len(b.Data) <= s.opts.SidecarThreshold {
		return fmt.Sprintf("data:image/%s;base64,%s", ext, base64.StdEncoding.EncodeToString(b.Data))
	}
	return fmt.Sprintf("image_%d.%s", b.Placeholder, ext)
}

// runs renders inline runs with canonical emphasis markers.
func (s *serializer) runs(runs []ir.Run) {
	s.runsDepth(ir.MergeRuns(runs), 0)
}

func (s *serializer) runsDepth(runs []ir.Run, depth int) {
	for _, r := range runs {
		switch r.Type {
		case ir.RunText:
			s.out.WriteString(r.Text)
		case ir.RunBold:
			s.wrap("**", "**", r.Kids, depth)
		case ir.RunItalic:
			s.wrap("*", "*", r.Kids, depth)
		case ir.RunStrike:
			s.wrap("~~", "~~", r.Kids, depth)
		case ir.RunCode:
			s.out.WriteByte('`')
			s.out.WriteString(ir.PlainText(r.Kids)) // no nested markup inside code spans
			s.out.WriteByte('`')
		case ir.RunLink:
			s.out.WriteByte('[')
			s.runsDepth(r.Kids, depth+1)
			fmt.Fprintf(s.out, "](%s)", r.Href)
		case ir.RunFootnoteRef:
			fmt.Fprintf(s.out, "[^%d]", r.Note)
		}
	}
}

func (s *serializer) wrap(left, right string, kids []ir.Run, depth int) {
	if depth >= ir.MaxRunDepth {
		s.runsDepth(kids, depth)
		return
	}
	s.out.WriteString(left)
	s.runsDepth(kids, depth+1)
	s.out.WriteString(right)
}

// escapeCell escapes characters that would break table syntax.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
