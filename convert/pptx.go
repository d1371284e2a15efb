package convert

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hazyhaar/doc2md/ir"
)

// extractPPTX converts a slide deck. Slide order comes from the presentation
// part's slide id list and is never reordered; within a slide, shapes are
// walked in their placeholder/z-order.
func extractPPTX(data []byte, opts Options) (*ir.Document, *ir.Metadata, error) {
	if bytes.HasPrefix(data, oleMagic) {
		return nil, nil, newError(ErrPasswordProtected, "document is password protected")
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, wrapError(ErrCorruptFile, err, "open archive")
	}
	parts := zipIndex(zr)
	if _, ok := parts["ppt/presentation.xml"]; !ok {
		return nil, nil, newError(ErrCorruptFile, "ppt/presentation.xml not found in archive")
	}

	slides := slideOrder(parts)
	if len(slides) == 0 {
		return nil, nil, newError(ErrEmptyDocument, "presentation has no slides")
	}

	px := &pptxExtractor{
		doc:   ir.NewDocument(ir.KindPPTX),
		col:   newCollector(ir.KindPPTX),
		opts:  opts,
		parts: parts,
	}
	for i, slidePath := range slides {
		px.slide(i+1, slidePath)
		px.doc.AddTop(ir.Block{Type: ir.BlockBreak, Index: i + 1, Label: ir.KindPPTX.BreakLabel()})
	}
	return px.doc, px.col.finish(len(slides)), nil
}

var slideNrRe = regexp.MustCompile(`slide(\d+)\.xml$`)

// slideOrder resolves the authoritative slide sequence: the sldIdLst of
// ppt/presentation.xml joined against the presentation relationships. Decks
// missing either part fall back to numeric slide file order.
func slideOrder(parts map[string][]byte) []string {
	rels := parseRels(parts["ppt/_rels/presentation.xml.rels"])

	var pres struct {
		SldIDs []struct {
			RID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
		} `xml:"sldIdLst>sldId"`
	}
	if err := xml.Unmarshal(parts["ppt/presentation.xml"], &pres); err == nil && len(pres.SldIDs) > 0 {
		var out []string
		for _, s := range pres.SldIDs {
			if target, ok := rels[s.RID]; ok {
				out = append(out, "ppt/"+strings.TrimPrefix(target, "/ppt/"))
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	// Fallback: slide files in numeric order.
	var out []string
	for name := range parts {
		if strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml") {
			out = append(out, name)
		}
	}
	sort.Slice(out, func(i, j int) bool { return slideNr(out[i]) < slideNr(out[j]) })
	return out
}

func slideNr(name string) int {
	m := slideNrRe.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

type pptxExtractor struct {
	doc   *ir.Document
	col   *collector
	opts  Options
	parts map[string][]byte

	rels map[string]string // relationships of the slide being processed
}

// slide emits one slide: an H2 from the title placeholder (or a generated
// "Slide N" label), body shapes in z-order, then speaker notes as a
// blockquote.
func (px *pptxExtractor) slide(nr int, slidePath string) {
	relsPath := path.Dir(slidePath) + "/_rels/" + path.Base(slidePath) + ".rels"
	px.rels = parseRels(px.parts[relsPath])

	data, ok := px.parts[slidePath]
	if !ok {
		px.doc.AddTop(ir.Block{Type: ir.BlockUnrepresentable, Text: fmt.Sprintf("slide %d part missing", nr)})
		px.col.warn(ir.WarnUnsupportedElement, "slide %d part missing from archive", nr)
		return
	}

	shapes, err := px.parseShapes(data)
	if err != nil {
		px.doc.AddTop(ir.Block{Type: ir.BlockUnrepresentable, Text: fmt.Sprintf("slide %d could not be decoded", nr)})
		px.col.warn(ir.WarnUnsupportedElement, "slide %d could not be decoded: %v", nr, err)
		return
	}

	// Title: first title/ctrTitle placeholder with text.
	title := ""
	titleIdx := -1
	for i, sh := range shapes {
		if sh.isTitle() {
			if t := strings.TrimSpace(sh.plainText()); t != "" {
				title = t
				titleIdx = i
				break
			}
		}
	}

	label := fmt.Sprintf("Slide %d", nr)
	if title != "" {
		label = fmt.Sprintf("Slide %d: %s", nr, title)
	}
	px.doc.AddTop(ir.Block{Type: ir.BlockHeading, Level: 2, Runs: []ir.Run{ir.TextRun(label)}})

	for i, sh := range shapes {
		if i == titleIdx {
			continue
		}
		px.emitShape(sh)
	}

	px.notes(relsPath)
}

// notes appends the slide's speaker notes, when the slide relationships
// reference a notes part with text.
func (px *pptxExtractor) notes(relsPath string) {
	for _, target := range px.rels {
		if !strings.Contains(target, "notesSlide") {
			continue
		}
		notesPath := "ppt/" + strings.TrimPrefix(path.Clean("slides/"+target), "../")
		data, ok := px.parts[notesPath]
		if !ok {
			continue
		}
		shapes, err := px.parseShapes(data)
		if err != nil {
			continue
		}
		var sb strings.Builder
		for _, sh := range shapes {
			if sh.isPlaceholderType("sldNum") || sh.isPlaceholderType("ftr") || sh.isPlaceholderType("hdr") {
				continue
			}
			if t := strings.TrimSpace(sh.plainText()); t != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(t)
			}
		}
		if sb.Len() > 0 {
			px.doc.AddTop(ir.Block{
				Type: ir.BlockQuote,
				Runs: []ir.Run{
					ir.Wrap(ir.RunBold, ir.TextRun("Speaker Notes:")),
					ir.TextRun(" " + sb.String()),
				},
			})
		}
		return
	}
}

// --- slide shape model ---

// pptxPara is one a:p paragraph inside a text body.
type pptxPara struct {
	level  int
	bullet bulletKind
	runs   []ir.Run
}

type bulletKind uint8

const (
	bulletInherit bulletKind = iota // no explicit bullet properties
	bulletNone
	bulletChar
	bulletAuto // auto-numbered
)

// pptxShape is one drawable element of a slide, in z-order.
type pptxShape struct {
	kind   string // "text", "table", "picture", "chart", "group"
	phType string // placeholder type attr: title, ctrTitle, body, ...
	name   string
	descr  string
	rid    string // picture blip or chart reference
	paras  []pptxPara
	rows   [][]ir.Cell
	kids   []pptxShape // group members
}

func (s pptxShape) isTitle() bool {
	return s.phType == "title" || s.phType == "ctrTitle"
}

func (s pptxShape) isPlaceholderType(t string) bool { return s.phType == t }

func (s pptxShape) plainText() string {
	parts := make([]string, 0, len(s.paras))
	for _, p := range s.paras {
		if t := strings.TrimSpace(ir.PlainText(p.runs)); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// parseShapes walks a slide (or notes) part and returns its shapes in
// document order, which is the rendering z-order.
func (px *pptxExtractor) parseShapes(data []byte) ([]pptxShape, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var shapes []pptxShape
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return shapes, nil
		}
		if err != nil {
			return shapes, err
		}
		if t, ok := tok.(xml.StartElement); ok {
			switch t.Name.Local {
			case "sp":
				sh, err := px.parseSp(dec)
				if err != nil {
					return shapes, err
				}
				shapes = append(shapes, sh)
			case "pic":
				sh, err := px.parsePic(dec)
				if err != nil {
					return shapes, err
				}
				shapes = append(shapes, sh)
			case "graphicFrame":
				sh, err := px.parseGraphicFrame(dec)
				if err != nil {
					return shapes, err
				}
				shapes = append(shapes, sh)
			case "grpSp":
				kids, err := px.parseShapes(groupBytes(dec))
				if err == nil && len(kids) > 0 {
					shapes = append(shapes, pptxShape{kind: "group", kids: kids})
				}
			}
		}
	}
}

// groupBytes re-serializes the contents of a group shape so the member shapes
// can be parsed with the same walker.
func groupBytes(dec *xml.Decoder) []byte {
	var sb bytes.Buffer
	enc := xml.NewEncoder(&sb)
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "grpSp" {
				depth++
			}
			enc.EncodeToken(t)
		case xml.EndElement:
			if t.Name.Local == "grpSp" {
				depth--
				if depth == 0 {
					continue
				}
			}
			enc.EncodeToken(t)
		default:
			enc.EncodeToken(tok)
		}
	}
	enc.Flush()
	return sb.Bytes()
}

// parseSp parses a p:sp text shape: placeholder type plus its paragraphs.
func (px *pptxExtractor) parseSp(dec *xml.Decoder) (pptxShape, error) {
	sh := pptxShape{kind: "text"}
	for {
		tok, err := dec.Token()
		if err != nil {
			return sh, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "ph":
				for _, a := range t.Attr {
					if a.Name.Local == "type" {
						sh.phType = a.Value
					}
				}
			case "cNvPr":
				for _, a := range t.Attr {
					switch a.Name.Local {
					case "name":
						sh.name = a.Value
					case "descr":
						sh.descr = a.Value
					}
				}
			case "p":
				para, err := px.parseTextPara(dec)
				if err != nil {
					return sh, err
				}
				sh.paras = append(sh.paras, para)
			}
		case xml.EndElement:
			if t.Name.Local == "sp" {
				return sh, nil
			}
		}
	}
}

// parseTextPara parses one a:p: outline level, bullet kind, styled runs.
func (px *pptxExtractor) parseTextPara(dec *xml.Decoder) (pptxPara, error) {
	var p pptxPara
	for {
		tok, err := dec.Token()
		if err != nil {
			return p, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "pPr":
				for _, a := range t.Attr {
					if a.Name.Local == "lvl" {
						p.level, _ = strconv.Atoi(a.Value)
					}
				}
			case "buNone":
				p.bullet = bulletNone
			case "buChar":
				p.bullet = bulletChar
			case "buAutoNum":
				p.bullet = bulletAuto
			case "r":
				run, err := px.parsePPTXRun(dec)
				if err != nil {
					return p, err
				}
				if run != nil {
					p.runs = append(p.runs, *run)
				}
			case "br":
				p.runs = append(p.runs, ir.TextRun(" "))
			}
		case xml.EndElement:
			if t.Name.Local == "p" {
				p.runs = ir.MergeRuns(p.runs)
				return p, nil
			}
		}
	}
}

// parsePPTXRun parses an a:r run with its character properties.
func (px *pptxExtractor) parsePPTXRun(dec *xml.Decoder) (*ir.Run, error) {
	var props runProps
	var href string
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "rPr":
				for _, a := range t.Attr {
					on := a.Value == "1" || a.Value == "true"
					switch a.Name.Local {
					case "b":
						props.bold = on
					case "i":
						props.italic = on
					case "strike":
						if a.Value != "noStrike" && a.Value != "" {
							props.strike = true
						}
					}
				}
			case "hlinkClick":
				for _, a := range t.Attr {
					if a.Name.Local == "id" {
						if target, ok := px.rels[a.Value]; ok {
							href = target
						}
					}
				}
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err == nil {
					text.WriteString(s)
				}
			}
		case xml.EndElement:
			if t.Name.Local == "r" {
				s := ir.NormalizeText(text.String())
				if s == "" {
					return nil, nil
				}
				run := styledRun(s, props)
				if href != "" {
					run = ir.Run{Type: ir.RunLink, Href: href, Kids: []ir.Run{run}}
				}
				return &run, nil
			}
		}
	}
}

// parsePic parses a p:pic picture shape.
func (px *pptxExtractor) parsePic(dec *xml.Decoder) (pptxShape, error) {
	sh := pptxShape{kind: "picture"}
	for {
		tok, err := dec.Token()
		if err != nil {
			return sh, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "cNvPr":
				for _, a := range t.Attr {
					switch a.Name.Local {
					case "name":
						sh.name = a.Value
					case "descr":
						sh.descr = a.Value
					}
				}
			case "blip":
				for _, a := range t.Attr {
					if a.Name.Local == "embed" {
						sh.rid = a.Value
					}
				}
			}
		case xml.EndElement:
			if t.Name.Local == "pic" {
				return sh, nil
			}
		}
	}
}

// parseGraphicFrame parses a p:graphicFrame: a table, a chart, or some other
// embedded graphic.
func (px *pptxExtractor) parseGraphicFrame(dec *xml.Decoder) (pptxShape, error) {
	sh := pptxShape{kind: "chart"}
	for {
		tok, err := dec.Token()
		if err != nil {
			return sh, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "cNvPr":
				for _, a := range t.Attr {
					switch a.Name.Local {
					case "name":
						sh.name = a.Value
					case "descr":
						sh.descr = a.Value
					}
				}
			case "tbl":
				rows, err := px.parsePPTXTable(dec)
				if err != nil {
					return sh, err
				}
				sh.kind = "table"
				sh.rows = rows
			case "chart":
				for _, a := range t.Attr {
					if a.Name.Local == "id" {
						sh.rid = a.Value
					}
				}
			}
		case xml.EndElement:
			if t.Name.Local == "graphicFrame" {
				return sh, nil
			}
		}
	}
}

// parsePPTXTable parses an a:tbl into rows of cells.
func (px *pptxExtractor) parsePPTXTable(dec *xml.Decoder) ([][]ir.Cell, error) {
	var rows [][]ir.Cell
	var row []ir.Cell
	var cellRuns []ir.Run
	for {
		tok, err := dec.Token()
		if err != nil {
			return rows, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tr":
				row = nil
			case "tc":
				cellRuns = nil
			case "p":
				para, err := px.parseTextPara(dec)
				if err != nil {
					return rows, err
				}
				if len(cellRuns) > 0 && len(para.runs) > 0 {
					cellRuns = append(cellRuns, ir.TextRun(" "))
				}
				cellRuns = append(cellRuns, para.runs...)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "tc":
				row = append(row, ir.Cell{Runs: ir.MergeRuns(cellRuns)})
			case "tr":
				rows = append(rows, row)
			case "tbl":
				return rows, nil
			}
		}
	}
}

// emitShape renders one shape to blocks: text bodies as paragraphs or nested
// lists per outline level, tables structurally, pictures as image
// placeholders, charts without tabular data as described placeholders.
func (px *pptxExtractor) emitShape(sh pptxShape) {
	switch sh.kind {
	case "text":
		px.emitTextBody(sh.paras)

	case "table":
		if len(sh.rows) > 0 {
			cols := 0
			for _, r := range sh.rows {
				if len(r) > cols {
					cols = len(r)
				}
			}
			px.doc.AddTop(ir.Block{Type: ir.BlockTable, Rows: sh.rows, Align: make([]ir.Alignment, cols)})
		}

	case "picture":
		id := px.col.nextImage()
		descr := sh.descr
		if descr == "" {
			descr = sh.name
		}
		if descr == "" {
			descr = fmt.Sprintf("image %d", id)
		}
		var imgData []byte
		ext := "png"
		if target, ok := px.rels[sh.rid]; ok {
			ext = strings.TrimPrefix(path.Ext(target), ".")
			if ext == "" {
				ext = "png"
			}
			mediaPath := "ppt/" + strings.TrimPrefix(path.Clean("slides/"+target), "../")
			imgData = px.parts[mediaPath]
			if len(imgData) > px.opts.SidecarThreshold {
				imgData = nil
			}
		}
		px.doc.AddTop(ir.Block{Type: ir.BlockImage, Placeholder: id, Description: descr, Data: imgData, Ext: ext})

	case "chart":
		// Chart without extractable tabular data: placeholder labeled from
		// the frame title.
		id := px.col.nextImage()
		descr := sh.name
		if descr == "" {
			descr = "chart"
		}
		px.doc.AddTop(ir.Block{Type: ir.BlockImage, Placeholder: id, Description: "Chart: " + descr, Ext: "png"})

	case "group":
		for _, kid := range sh.kids {
			px.emitShape(kid)
		}
	}
}

// emitTextBody renders a text body's paragraphs: explicit bullets and
// indented outline levels become nested lists, level-0 unbulleted paragraphs
// stay paragraphs.
func (px *pptxExtractor) emitTextBody(paras []pptxPara) {
	var stack []listLevel

	flush := func() { stack = stack[:0] }

	for _, p := range paras {
		if len(p.runs) == 0 || strings.TrimSpace(ir.PlainText(p.runs)) == "" {
			continue
		}
		isList := p.bullet == bulletChar || p.bullet == bulletAuto ||
			(p.bullet == bulletInherit && p.level > 0)
		if !isList {
			flush()
			px.doc.AddTop(ir.Block{Type: ir.BlockParagraph, Runs: p.runs})
			continue
		}

		level := p.level
		if level >= px.opts.MaxListDepth {
			level = px.opts.MaxListDepth - 1
		}
		ordered := p.bullet == bulletAuto

		for len(stack) > 0 && stack[len(stack)-1].level > level {
			stack = stack[:len(stack)-1]
		}
		top := len(stack) - 1
		if top < 0 || stack[top].level < level || stack[top].ordered != ordered {
			if top >= 0 && stack[top].level == level && stack[top].ordered != ordered {
				// Kind flip at the same level: sibling list under the same parent.
				stack = stack[:top]
				top--
			}
			listID := px.doc.Add(ir.Block{Type: ir.BlockList, Ordered: ordered})
			if top >= 0 && stack[top].level < level {
				parent := stack[top].last
				px.doc.Block(parent).Nested = append(px.doc.Block(parent).Nested, listID)
			} else {
				px.doc.Top = append(px.doc.Top, listID)
			}
			stack = append(stack, listLevel{list: listID, level: level, ordered: ordered})
		}
		cur := &stack[len(stack)-1]
		itemID := px.doc.Add(ir.Block{Type: ir.BlockListItem, Runs: p.runs})
		px.doc.Block(cur.list).Items = append(px.doc.Block(cur.list).Items, itemID)
		cur.last = itemID
	}
}
