package convert

import (
	"sort"
	"strconv"
	"strings"

	"github.com/hazyhaar/doc2md/ir"
)

// fragment is one positioned text fragment extracted from a page content
// stream: the show-text operand plus the text-matrix position and font state
// in effect when it was shown.
type fragment struct {
	text string
	x, y float64
	w    float64 // estimated advance width
	size float64 // effective font size
	bold bool
	ord  int // original extraction order, tie-breaker for determinism
}

// --- content stream parsing ---

// textWalker tracks the subset of graphics state needed to position text:
// the text matrix set by Tm/Td/TD/T*, the leading, and the active font.
type textWalker struct {
	x, y    float64
	lineX   float64 // start-of-line x, restored by T*
	nominal float64 // font size from Tf
	size    float64 // effective size (nominal scaled by the text matrix)
	leading float64
	bold    bool
	frags   []fragment
}

// parseFragments runs the show-text subset of content stream operators and
// returns the positioned fragments in extraction order. Operators outside
// that subset are skipped, operand stack reset per operator.
func parseFragments(stream []byte) []fragment {
	w := &textWalker{nominal: 12, size: 12}
	sc := newStreamScanner(stream)

	var operands []token
	for {
		tok, ok := sc.next()
		if !ok {
			break
		}
		if tok.kind != tokOperator {
			operands = append(operands, tok)
			continue
		}

		switch tok.val {
		case "BT":
			w.x, w.y, w.lineX = 0, 0, 0
		case "Tf":
			if len(operands) >= 2 {
				w.nominal = operands[len(operands)-1].num
				w.size = w.nominal
				name := operands[len(operands)-2].val
				w.bold = strings.Contains(strings.ToLower(name), "bold")
			}
		case "TL":
			if len(operands) >= 1 {
				w.leading = operands[len(operands)-1].num
			}
		case "Tm":
			if len(operands) >= 6 {
				// The matrix's vertical component scales the nominal size.
				d := operands[len(operands)-3].num
				if d < 0 {
					d = -d
				}
				if d > 0 {
					w.size = w.nominal * d
				}
				w.x = operands[len(operands)-2].num
				w.y = operands[len(operands)-1].num
				w.lineX = w.x
			}
		case "Td":
			if len(operands) >= 2 {
				w.lineX += operands[len(operands)-2].num
				w.y += operands[len(operands)-1].num
				w.x = w.lineX
			}
		case "TD":
			if len(operands) >= 2 {
				w.leading = -operands[len(operands)-1].num
				w.lineX += operands[len(operands)-2].num
				w.y += operands[len(operands)-1].num
				w.x = w.lineX
			}
		case "T*":
			w.newline()
		case "Tj":
			if len(operands) >= 1 {
				w.show(operands[len(operands)-1].val)
			}
		case "'":
			w.newline()
			if len(operands) >= 1 {
				w.show(operands[len(operands)-1].val)
			}
		case "\"":
			w.newline()
			if len(operands) >= 1 {
				w.show(operands[len(operands)-1].val)
			}
		case "TJ":
			for _, op := range operands {
				if op.kind == tokString {
					w.show(op.val)
				}
			}
		}
		operands = operands[:0]
	}
	return w.frags
}

func (w *textWalker) newline() {
	lead := w.leading
	if lead == 0 {
		lead = w.size * 1.2
	}
	w.y -= lead
	w.x = w.lineX
}

func (w *textWalker) show(s string) {
	s = ir.NormalizeText(cleanFragmentText(s))
	if s == "" {
		return
	}
	width := float64(len([]rune(s))) * w.size * 0.5
	w.frags = append(w.frags, fragment{
		text: s,
		x:    w.x,
		y:    w.y,
		w:    width,
		size: w.size,
		bold: w.bold,
		ord:  len(w.frags),
	})
	w.x += width
}

func cleanFragmentText(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r == '�' || (r >= 0xE000 && r <= 0xF8FF) || (r < 0x20 && r != '\t') {
			continue
		}
		sb.WriteRune(r)
	}
	return strings.TrimSpace(sb.String())
}

// --- tokenizer ---

type tokenKind uint8

const (
	tokNumber tokenKind = iota
	tokString
	tokName
	tokOperator
)

type token struct {
	kind tokenKind
	val  string
	num  float64
}

type streamScanner struct {
	data []byte
	pos  int
}

func newStreamScanner(data []byte) *streamScanner {
	return &streamScanner{data: data}
}

func (s *streamScanner) next() (token, bool) {
	s.skipSpace()
	if s.pos >= len(s.data) {
		return token{}, false
	}
	c := s.data[s.pos]
	switch {
	case c == '(':
		return token{kind: tokString, val: s.readString()}, true
	case c == '<' && s.pos+1 < len(s.data) && s.data[s.pos+1] != '<':
		return token{kind: tokString, val: s.readHexString()}, true
	case c == '/':
		return token{kind: tokName, val: s.readBare()}, true
	case c == '[' || c == ']' || c == '{' || c == '}':
		s.pos++
		return s.next() // array/procedure brackets carry no positioning info
	case c == '<' || c == '>':
		s.pos++ // dict delimiters << >>
		return s.next()
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		raw := s.readBare()
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return s.next()
		}
		return token{kind: tokNumber, val: raw, num: n}, true
	default:
		return token{kind: tokOperator, val: s.readBare()}, true
	}
}

func (s *streamScanner) skipSpace() {
	for s.pos < len(s.data) {
		switch s.data[s.pos] {
		case ' ', '\t', '\r', '\n', '\x00', '\f':
			s.pos++
		case '%': // comment to end of line
			for s.pos < len(s.data) && s.data[s.pos] != '\n' {
				s.pos++
			}
		default:
			return
		}
	}
}

func isDelim(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\x00', '\f', '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func (s *streamScanner) readBare() string {
	start := s.pos
	s.pos++ // first char already classified
	for s.pos < len(s.data) && !isDelim(s.data[s.pos]) {
		s.pos++
	}
	return string(s.data[start:s.pos])
}

// readString decodes a parenthesized literal string with PDF escape
// sequences, including octal escapes and balanced nested parentheses.
func (s *streamScanner) readString() string {
	s.pos++ // consume '('
	var sb strings.Builder
	depth := 1
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		switch c {
		case '\\':
			s.pos++
			if s.pos >= len(s.data) {
				return sb.String()
			}
			e := s.data[s.pos]
			switch e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b', 'f':
				// backspace/formfeed: drop
			case '(', ')', '\\':
				sb.WriteByte(e)
			default:
				if e >= '0' && e <= '7' {
					val := int(e - '0')
					for k := 0; k < 2 && s.pos+1 < len(s.data); k++ {
						nx := s.data[s.pos+1]
						if nx < '0' || nx > '7' {
							break
						}
						s.pos++
						val = val*8 + int(nx-'0')
					}
					sb.WriteByte(byte(val))
				} else {
					sb.WriteByte(e)
				}
			}
			s.pos++
		case '(':
			depth++
			sb.WriteByte(c)
			s.pos++
		case ')':
			depth--
			s.pos++
			if depth == 0 {
				return sb.String()
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
			s.pos++
		}
	}
	return sb.String()
}

func (s *streamScanner) readHexString() string {
	s.pos++ // consume '<'
	var hexDigits []byte
	for s.pos < len(s.data) && s.data[s.pos] != '>' {
		c := s.data[s.pos]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			hexDigits = append(hexDigits, c)
		}
		s.pos++
	}
	if s.pos < len(s.data) {
		s.pos++ // consume '>'
	}
	if len(hexDigits)%2 == 1 {
		hexDigits = append(hexDigits, '0')
	}
	var sb strings.Builder
	for i := 0; i+1 < len(hexDigits); i += 2 {
		hi := hexVal(hexDigits[i])
		lo := hexVal(hexDigits[i+1])
		b := byte(hi<<4 | lo)
		if b >= 0x20 && b < 0x7f {
			sb.WriteByte(b)
		}
	}
	return sb.String()
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return int(c-'A') + 10
	}
}

// --- geometric layout ---

// line is fragments sharing a vertical band, ordered left to right.
type line struct {
	frags []fragment
	y     float64
	size  float64 // dominant font size
	bold  bool    // all fragments bold
	x     float64 // left edge
}

func (l line) text() string {
	parts := make([]string, len(l.frags))
	for i, f := range l.frags {
		parts[i] = f.text
	}
	return strings.Join(parts, " ")
}

// medianBodySize computes the document-wide median fragment font size, the
// baseline against which heading candidates are judged.
func medianBodySize(frags []fragment) float64 {
	if len(frags) == 0 {
		return 12
	}
	sizes := make([]float64, len(frags))
	for i, f := range frags {
		sizes[i] = f.size
	}
	sort.Float64s(sizes)
	return sizes[len(sizes)/2]
}

// headingCandidateSizes selects sizes of fragments that qualify as heading
// candidates: strictly larger than the body size by the configured ratio.
func headingCandidateSizes(frags []fragment, body, ratio float64) []float64 {
	var out []float64
	for _, f := range frags {
		if f.size >= body*ratio {
			out = append(out, f.size)
		}
	}
	return out
}

// layoutPage reconstructs reading order for one page and appends the
// resulting blocks: columns left to right, lines top to bottom, headings
// classified against the document-wide scale, grid-aligned line groups
// rendered as tables.
func layoutPage(doc *ir.Document, col *collector, frags []fragment, body float64, scale headingScale, opts Options) {
	if len(frags) == 0 {
		return
	}

	for _, column := range splitColumns(frags) {
		lines := groupLines(column, body)
		emitLines(doc, col, lines, body, scale, opts)
	}
}

// splitColumns clusters fragments by left-edge x with a gap threshold
// proportional to the median fragment width, then orders columns left to
// right. Single-column pages come back as one cluster.
func splitColumns(frags []fragment) [][]fragment {
	widths := make([]float64, len(frags))
	for i, f := range frags {
		widths[i] = f.w
	}
	sort.Float64s(widths)
	medianW := widths[len(widths)/2]
	gap := medianW
	if gap < 40 {
		gap = 40
	}

	sorted := append([]fragment(nil), frags...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].x < sorted[j].x })

	var columns [][]fragment
	var rightmost float64
	for _, f := range sorted {
		if len(columns) == 0 || f.x > rightmost+gap {
			columns = append(columns, nil)
			rightmost = f.x + f.w
		} else if f.x+f.w > rightmost {
			rightmost = f.x + f.w
		}
		columns[len(columns)-1] = append(columns[len(columns)-1], f)
	}

	for i := range columns {
		sort.SliceStable(columns[i], func(a, b int) bool {
			fa, fb := columns[i][a], columns[i][b]
			if fa.y != fb.y {
				return fa.y > fb.y // top first (PDF origin is bottom-left)
			}
			return fa.ord < fb.ord
		})
	}
	return columns
}

// groupLines bands column fragments into lines by vertical proximity.
func groupLines(frags []fragment, body float64) []line {
	tol := body * 0.45
	if tol <= 0 {
		tol = 4
	}

	var lines []line
	for _, f := range frags {
		if n := len(lines); n > 0 && abs(lines[n-1].y-f.y) <= tol {
			lines[n-1].frags = append(lines[n-1].frags, f)
			if f.size > lines[n-1].size {
				lines[n-1].size = f.size
			}
			lines[n-1].bold = lines[n-1].bold && f.bold
			continue
		}
		lines = append(lines, line{frags: []fragment{f}, y: f.y, size: f.size, bold: f.bold, x: f.x})
	}
	for i := range lines {
		sort.SliceStable(lines[i].frags, func(a, b int) bool {
			fa, fb := lines[i].frags[a], lines[i].frags[b]
			if fa.x != fb.x {
				return fa.x < fb.x
			}
			return fa.ord < fb.ord
		})
		lines[i].x = lines[i].frags[0].x
	}
	return lines
}

// emitLines turns a column's lines into blocks: tables from grid-aligned
// regions, headings from the font scale, everything else into paragraphs with
// contiguous same-style lines merged.
func emitLines(doc *ir.Document, col *collector, lines []line, body float64, scale headingScale, opts Options) {
	i := 0
	for i < len(lines) {
		if rows := tableRows(lines[i:]); len(rows) >= 2 {
			emitFragmentTable(doc, col, lines[i:i+len(rows)])
			i += len(rows)
			continue
		}

		ln := lines[i]
		if lvl := headingLevel(ln, lines, i, body, scale, opts); lvl > 0 {
			doc.AddTop(ir.Block{
				Type:  ir.BlockHeading,
				Level: lvl,
				Runs:  []ir.Run{ir.TextRun(ln.text())},
			})
			i++
			continue
		}

		// Merge contiguous body lines of the same style into one paragraph.
		var sb strings.Builder
		sb.WriteString(ln.text())
		j := i + 1
		for j < len(lines) && sameParagraph(lines[j-1], lines[j], body, scale, opts) && len(tableRows(lines[j:])) < 2 {
			sb.WriteByte(' ')
			sb.WriteString(lines[j].text())
			j++
		}
		doc.AddTop(ir.Block{
			Type: ir.BlockParagraph,
			Runs: []ir.Run{ir.TextRun(sb.String())},
		})
		i = j
	}
}

// headingLevel classifies a line against the document scale. A line is a
// heading when its size clears the ratio threshold, or when it is bold and
// isolated (blank bands above and below).
func headingLevel(ln line, lines []line, idx int, body float64, scale headingScale, opts Options) int {
	if ln.size >= body*opts.HeadingFontRatio {
		if lvl := scale.level(ln.size); lvl > 0 {
			return lvl
		}
	}
	if ln.bold && isolated(lines, idx, body) {
		// Bold isolated lines at body size rank below every font tier.
		lvl := len(scale.tiers) + 1
		if lvl > 6 {
			lvl = 6
		}
		return lvl
	}
	return 0
}

func isolated(lines []line, idx int, body float64) bool {
	gap := body * 1.6
	if idx > 0 && abs(lines[idx-1].y-lines[idx].y) < gap {
		return false
	}
	if idx < len(lines)-1 && abs(lines[idx].y-lines[idx+1].y) < gap {
		return false
	}
	return true
}

func sameParagraph(prev, next line, body float64, scale headingScale, opts Options) bool {
	if quantizeSize(prev.size) != quantizeSize(next.size) {
		return false
	}
	if next.size >= body*opts.HeadingFontRatio && scale.level(next.size) > 0 {
		return false
	}
	return abs(prev.y-next.y) <= body*1.8
}

// tableRows detects a leading grid region: two or more consecutive lines with
// two or more fragments each whose left edges align across lines within a
// tolerance. Rows short of the first line's column count still match when
// their edges align with a prefix of its columns. It returns the matched
// lines.
func tableRows(lines []line) []line {
	if len(lines) < 2 || len(lines[0].frags) < 2 {
		return nil
	}
	cols := fragmentEdges(lines[0])
	n := 1
	for n < len(lines) {
		edges := fragmentEdges(lines[n])
		if len(edges) < 2 || len(edges) > len(cols) || !edgesAlign(cols[:len(edges)], edges) {
			break
		}
		n++
	}
	if n < 2 {
		return nil
	}
	return lines[:n]
}

func fragmentEdges(l line) []float64 {
	edges := make([]float64, len(l.frags))
	for i, f := range l.frags {
		edges[i] = f.x
	}
	return edges
}

func edgesAlign(a, b []float64) bool {
	const tol = 6.0
	for i := range a {
		if abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

func emitFragmentTable(doc *ir.Document, col *collector, lines []line) {
	cols := len(lines[0].frags)
	rows := make([][]ir.Cell, len(lines))
	truncated := false
	for i, l := range lines {
		row := make([]ir.Cell, cols)
		for j := 0; j < cols; j++ {
			if j < len(l.frags) {
				row[j] = ir.Cell{Runs: []ir.Run{ir.TextRun(l.frags[j].text)}}
			} else {
				truncated = true
			}
		}
		rows[i] = row
	}
	if truncated {
		col.warn(ir.WarnTruncatedTable, "table rows had uneven cell counts; missing cells left empty")
	}
	doc.AddTop(ir.Block{
		Type:  ir.BlockTable,
		Rows:  rows,
		Align: make([]ir.Alignment, cols),
	})
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
