package convert

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/hazyhaar/doc2md/ir"
)

// oleMagic is the compound-file signature used by password-protected OOXML
// containers (the encrypted payload is not a ZIP at all).
var oleMagic = []byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1}

// extractDocx converts a word-processing document by traversing the
// paragraph/table sequence of word/document.xml in document order. No
// geometric reasoning: the object model is the single source of truth.
func extractDocx(data []byte, opts Options) (*ir.Document, *ir.Metadata, error) {
	if bytes.HasPrefix(data, oleMagic) {
		return nil, nil, newError(ErrPasswordProtected, "document is password protected")
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, wrapError(ErrCorruptFile, err, "open archive")
	}

	parts := zipIndex(zr)
	docPart, ok := parts["word/document.xml"]
	if !ok {
		return nil, nil, newError(ErrCorruptFile, "word/document.xml not found in archive")
	}

	dx := &docxExtractor{
		doc:   ir.NewDocument(ir.KindDocx),
		col:   newCollector(ir.KindDocx),
		opts:  opts,
		parts: parts,
		rels:  parseRels(parts["word/_rels/document.xml.rels"]),
	}
	dx.ordered = parseNumbering(parts["word/numbering.xml"])
	dx.comments = parseComments(parts["word/comments.xml"])
	dx.parseFootnotes(parts["word/footnotes.xml"])

	if err := dx.walkBody(docPart); err != nil {
		return nil, nil, wrapError(ErrCorruptFile, err, "parse document.xml")
	}
	dx.flushList()
	dx.flushPending()

	units := dx.sections
	if units == 0 {
		units = 1
	}
	return dx.doc, dx.col.finish(units), nil
}

func zipIndex(zr *zip.Reader) map[string][]byte {
	parts := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		parts[f.Name] = data
	}
	return parts
}

// parseRels maps relationship ids to their targets (hyperlink URLs, media
// paths). Returns an empty map when the part is absent.
func parseRels(data []byte) map[string]string {
	rels := make(map[string]string)
	if data == nil {
		return rels
	}
	var doc struct {
		Rel []struct {
			ID     string `xml:"Id,attr"`
			Target string `xml:"Target,attr"`
		} `xml:"Relationship"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return rels
	}
	for _, r := range doc.Rel {
		rels[r.ID] = r.Target
	}
	return rels
}

// parseNumbering resolves numId -> (ilvl -> ordered). Bullet formats map to
// unordered lists, everything else (decimal, roman, letters) to ordered.
func parseNumbering(data []byte) map[string]map[int]bool {
	out := make(map[string]map[int]bool)
	if data == nil {
		return out
	}
	var doc struct {
		Abstract []struct {
			ID   string `xml:"abstractNumId,attr"`
			Lvls []struct {
				Ilvl   int `xml:"ilvl,attr"`
				NumFmt struct {
					Val string `xml:"val,attr"`
				} `xml:"numFmt"`
			} `xml:"lvl"`
		} `xml:"abstractNum"`
		Nums []struct {
			ID       string `xml:"numId,attr"`
			Abstract struct {
				Val string `xml:"val,attr"`
			} `xml:"abstractNumId"`
		} `xml:"num"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return out
	}
	abstract := make(map[string]map[int]bool)
	for _, a := range doc.Abstract {
		levels := make(map[int]bool, len(a.Lvls))
		for _, l := range a.Lvls {
			levels[l.Ilvl] = l.NumFmt.Val != "bullet" && l.NumFmt.Val != "none"
		}
		abstract[a.ID] = levels
	}
	for _, n := range doc.Nums {
		if levels, ok := abstract[n.Abstract.Val]; ok {
			out[n.ID] = levels
		}
	}
	return out
}

type docxComment struct {
	author string
	text   string
}

// parseComments extracts comment id -> author/text from word/comments.xml.
func parseComments(data []byte) map[string]docxComment {
	out := make(map[string]docxComment)
	if data == nil {
		return out
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	var cur string
	var author string
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "comment":
				cur = ""
				author = ""
				sb.Reset()
				for _, a := range t.Attr {
					switch a.Name.Local {
					case "id":
						cur = a.Value
					case "author":
						author = a.Value
					}
				}
			case "t":
				var text string
				if err := dec.DecodeElement(&text, &t); err == nil {
					sb.WriteString(text)
				}
			}
		case xml.EndElement:
			if t.Name.Local == "comment" && cur != "" {
				out[cur] = docxComment{author: author, text: strings.TrimSpace(sb.String())}
			}
		}
	}
	return out
}

type docxExtractor struct {
	doc   *ir.Document
	col   *collector
	opts  Options
	parts map[string][]byte
	rels  map[string]string

	ordered  map[string]map[int]bool
	comments map[string]docxComment

	sections int

	// liststack tracks the open List node per nesting level while contiguous
	// list paragraphs are being consumed.
	listStack []listLevel

	// deferred blocks (comment anchors, images, unrepresentable objects)
	// emitted after the paragraph that referenced them.
	pending []ir.Block
}

type listLevel struct {
	list    ir.NodeID
	last    ir.NodeID // last ListItem at this level
	level   int
	ordered bool
}

// parseFootnotes fills doc.Footnotes from word/footnotes.xml. Separator
// pseudo-footnotes (non-positive ids) are skipped.
func (dx *docxExtractor) parseFootnotes(data []byte) {
	if data == nil {
		return
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	cur := 0
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "footnote":
				cur = 0
				sb.Reset()
				for _, a := range t.Attr {
					if a.Name.Local == "id" {
						cur, _ = strconv.Atoi(a.Value)
					}
				}
			case "t":
				var text string
				if err := dec.DecodeElement(&text, &t); err == nil {
					sb.WriteString(text)
				}
			}
		case xml.EndElement:
			if t.Name.Local == "footnote" && cur > 0 {
				if text := strings.TrimSpace(sb.String()); text != "" {
					dx.doc.Footnotes[cur] = []ir.Run{ir.TextRun(ir.NormalizeText(text))}
				}
			}
		}
	}
}

// walkBody streams through word/document.xml emitting blocks in document
// order: paragraphs, tables, section breaks.
func (dx *docxExtractor) walkBody(data []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "p" && depth == 1: // body-level paragraph
				if err := dx.paragraph(dec, t); err != nil {
					return err
				}
			case t.Name.Local == "tbl" && depth == 1:
				dx.flushList()
				if err := dx.table(dec, t); err != nil {
					return err
				}
			case t.Name.Local == "sectPr":
				dx.sections++
				dec.Skip()
			case t.Name.Local == "body":
				depth = 1
			default:
				if depth >= 1 {
					depth++
				}
			}
		case xml.EndElement:
			if depth > 1 {
				depth--
			} else if t.Name.Local == "body" {
				depth = 0
			}
		}
	}
}

// paraContent is the accumulated state of one parsed paragraph.
type paraContent struct {
	style  string
	numID  string
	ilvl   int
	hasNum bool
	align  ir.Alignment
	runs   []ir.Run
}

// paragraph parses one w:p element and emits the corresponding block:
// heading (via the style table), list item, or plain paragraph. Comment
// anchors, images, and unsupported objects referenced inside the paragraph
// are emitted immediately after it.
func (dx *docxExtractor) paragraph(dec *xml.Decoder, start xml.StartElement) error {
	pc, err := dx.parseParagraph(dec, start)
	if err != nil {
		return err
	}

	pc.runs = ir.MergeRuns(pc.runs)
	text := strings.TrimSpace(ir.PlainText(pc.runs))

	switch {
	case text == "":
		// Empty paragraph: paragraph break only; deferred blocks still flush.
	case pc.hasNum:
		dx.listItem(pc)
	default:
		dx.flushList()
		if lvl := styleHeadingLevel(pc.style); lvl > 0 {
			dx.doc.AddTop(ir.Block{Type: ir.BlockHeading, Level: lvl, Runs: pc.runs})
		} else {
			dx.doc.AddTop(ir.Block{Type: ir.BlockParagraph, Runs: pc.runs})
		}
	}

	dx.flushPending()
	return nil
}

func (dx *docxExtractor) flushPending() {
	for _, b := range dx.pending {
		dx.doc.AddTop(b)
	}
	dx.pending = dx.pending[:0]
}

// listItem attaches a list paragraph at its nesting level, opening or closing
// List nodes as the level moves. Levels deeper than MaxListDepth clamp.
func (dx *docxExtractor) listItem(pc paraContent) {
	level := pc.ilvl
	if level >= dx.opts.MaxListDepth {
		level = dx.opts.MaxListDepth - 1
	}
	ordered := false
	if levels, ok := dx.ordered[pc.numID]; ok {
		ordered = levels[pc.ilvl]
	}

	// Close deeper levels.
	for len(dx.listStack) > 0 && dx.listStack[len(dx.listStack)-1].level > level {
		dx.listStack = dx.listStack[:len(dx.listStack)-1]
	}

	top := len(dx.listStack) - 1
	if top < 0 || dx.listStack[top].level < level || dx.listStack[top].ordered != ordered {
		if top >= 0 && dx.listStack[top].level == level && dx.listStack[top].ordered != ordered {
			// Same level, different kind: the new list replaces this one as a
			// sibling, under the same parent.
			dx.listStack = dx.listStack[:top]
			top--
		}
		// Open a new list at this level, nested when a shallower list is open.
		listID := dx.doc.Add(ir.Block{Type: ir.BlockList, Ordered: ordered})
		if top >= 0 && dx.listStack[top].level < level {
			parentItem := dx.listStack[top].last
			dx.doc.Block(parentItem).Nested = append(dx.doc.Block(parentItem).Nested, listID)
		} else {
			dx.doc.Top = append(dx.doc.Top, listID)
		}
		dx.listStack = append(dx.listStack, listLevel{list: listID, level: level, ordered: ordered})
	}

	cur := &dx.listStack[len(dx.listStack)-1]
	itemID := dx.doc.Add(ir.Block{Type: ir.BlockListItem, Runs: pc.runs})
	dx.doc.Block(cur.list).Items = append(dx.doc.Block(cur.list).Items, itemID)
	cur.last = itemID
}

func (dx *docxExtractor) flushList() {
	dx.listStack = dx.listStack[:0]
}

// parseParagraph consumes a w:p element, preserving the document order of
// runs and hyperlinks.
func (dx *docxExtractor) parseParagraph(dec *xml.Decoder, start xml.StartElement) (paraContent, error) {
	var pc paraContent
	for {
		tok, err := dec.Token()
		if err != nil {
			return pc, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "pPr":
				dx.parsePPr(dec, &pc)
			case "r":
				runs := dx.parseRun(dec)
				pc.runs = append(pc.runs, runs...)
			case "hyperlink":
				var rid string
				for _, a := range t.Attr {
					if a.Name.Local == "id" {
						rid = a.Value
					}
				}
				kids := dx.parseHyperlinkRuns(dec)
				if href, ok := dx.rels[rid]; ok && len(kids) > 0 {
					pc.runs = append(pc.runs, ir.Run{Type: ir.RunLink, Href: href, Kids: kids})
				} else {
					pc.runs = append(pc.runs, kids...)
				}
			}
		case xml.EndElement:
			if t.Name.Local == "p" {
				return pc, nil
			}
		}
	}
}

func (dx *docxExtractor) parsePPr(dec *xml.Decoder, pc *paraContent) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "pStyle":
				for _, a := range t.Attr {
					if a.Name.Local == "val" {
						pc.style = a.Value
					}
				}
			case "numPr":
				pc.hasNum = true
			case "ilvl":
				for _, a := range t.Attr {
					if a.Name.Local == "val" {
						pc.ilvl, _ = strconv.Atoi(a.Value)
					}
				}
			case "numId":
				for _, a := range t.Attr {
					if a.Name.Local == "val" {
						pc.numID = a.Value
					}
				}
			case "jc":
				for _, a := range t.Attr {
					if a.Name.Local == "val" {
						pc.align = jcAlignment(a.Value)
					}
				}
			case "sectPr": // mid-document section break
				dx.sections++
				dec.Skip()
			}
		case xml.EndElement:
			if t.Name.Local == "pPr" {
				return
			}
		}
	}
}

// runProps is the formatting state of one run.
type runProps struct {
	bold, italic, strike, code bool
}

// parseRun consumes a w:r element and returns the resulting inline runs.
// Formatting nests in canonical order: code, strike, italic, bold outermost.
func (dx *docxExtractor) parseRun(dec *xml.Decoder) []ir.Run {
	var props runProps
	var out []ir.Run
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "rPr":
				props = dx.parseRPr(dec)
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err == nil {
					text.WriteString(s)
				}
			case "br", "cr":
				text.WriteByte(' ')
			case "tab":
				text.WriteByte('\t')
			case "footnoteReference":
				for _, a := range t.Attr {
					if a.Name.Local == "id" {
						if id, err := strconv.Atoi(a.Value); err == nil {
							if _, ok := dx.doc.Footnotes[id]; ok {
								out = append(out, ir.Run{Type: ir.RunFootnoteRef, Note: id})
							}
						}
					}
				}
			case "commentReference":
				for _, a := range t.Attr {
					if a.Name.Local == "id" {
						if c, ok := dx.comments[a.Value]; ok {
							author := c.author
							if author == "" {
								author = "Unknown"
							}
							dx.pending = append(dx.pending, ir.Block{
								Type: ir.BlockComment,
								Text: fmt.Sprintf("Comment (%s): %s", author, c.text),
							})
						}
					}
				}
			case "drawing":
				dx.drawing(dec)
			case "object":
				dec.Skip()
				dx.pending = append(dx.pending, ir.Block{
					Type: ir.BlockUnrepresentable,
					Text: "embedded OLE object",
				})
				dx.col.warn(ir.WarnUnsupportedElement, "embedded OLE object could not be converted")
			}
		case xml.EndElement:
			if t.Name.Local == "r" {
				if s := ir.NormalizeText(text.String()); s != "" {
					out = append(out, styledRun(s, props))
				}
				return out
			}
		}
	}
}

func (dx *docxExtractor) parseRPr(dec *xml.Decoder) runProps {
	var p runProps
	for {
		tok, err := dec.Token()
		if err != nil {
			return p
		}
		switch t := tok.(type) {
		case xml.StartElement:
			val := ""
			for _, a := range t.Attr {
				if a.Name.Local == "val" {
					val = a.Value
				}
			}
			on := val != "0" && val != "false" && val != "none"
			switch t.Name.Local {
			case "b":
				p.bold = on
			case "i":
				p.italic = on
			case "strike":
				p.strike = on
			case "rFonts":
				for _, a := range t.Attr {
					lower := strings.ToLower(a.Value)
					if strings.Contains(lower, "courier") || strings.Contains(lower, "consolas") || strings.Contains(lower, "mono") {
						p.code = true
					}
				}
			}
		case xml.EndElement:
			if t.Name.Local == "rPr" {
				return p
			}
		}
	}
}

// styledRun wraps text in the canonical emphasis nesting.
func styledRun(text string, p runProps) ir.Run {
	r := ir.TextRun(text)
	if p.code {
		r = ir.Wrap(ir.RunCode, r)
	}
	if p.strike {
		r = ir.Wrap(ir.RunStrike, r)
	}
	if p.italic {
		r = ir.Wrap(ir.RunItalic, r)
	}
	if p.bold {
		r = ir.Wrap(ir.RunBold, r)
	}
	return r
}

// parseHyperlinkRuns consumes the runs inside a w:hyperlink element.
func (dx *docxExtractor) parseHyperlinkRuns(dec *xml.Decoder) []ir.Run {
	var out []ir.Run
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "r" {
				out = append(out, dx.parseRun(dec)...)
			}
		case xml.EndElement:
			if t.Name.Local == "hyperlink" {
				return out
			}
		}
	}
}

// drawing parses a w:drawing element into a deferred Image block: alt text
// from wp:docPr, bytes resolved through the relationship target.
func (dx *docxExtractor) drawing(dec *xml.Decoder) {
	var descr, name, rid string
	for {
		tok, err := dec.Token()
		if err != nil {
			return
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "docPr":
				for _, a := range t.Attr {
					switch a.Name.Local {
					case "descr":
						descr = a.Value
					case "name":
						name = a.Value
					}
				}
			case "blip":
				for _, a := range t.Attr {
					if a.Name.Local == "embed" {
						rid = a.Value
					}
				}
			}
		case xml.EndElement:
			if t.Name.Local == "drawing" {
				dx.emitImage(descr, name, rid)
				return
			}
		}
	}
}

func (dx *docxExtractor) emitImage(descr, name, rid string) {
	id := dx.col.nextImage()

	description := descr
	if description == "" {
		description = name
	}
	if description == "" {
		description = fmt.Sprintf("embedded image %d", id)
	}

	var imgData []byte
	ext := "png"
	if target, ok := dx.rels[rid]; ok {
		ext = strings.TrimPrefix(path.Ext(target), ".")
		if ext == "" {
			ext = "png"
		}
		imgData = dx.parts["word/"+target]
	}
	// Sidecar reference wins for anything above the threshold; the
	// serializer makes the final inline-vs-sidecar call.
	if len(imgData) > dx.opts.SidecarThreshold {
		imgData = nil
	}

	dx.pending = append(dx.pending, ir.Block{
		Type:        ir.BlockImage,
		Placeholder: id,
		Description: description,
		Data:        imgData,
		Ext:         ext,
	})
}

// table parses a w:tbl element. Row and column structure copies 1:1; column
// alignment comes from the first row's paragraph justification, defaulting to
// left.
func (dx *docxExtractor) table(dec *xml.Decoder, start xml.StartElement) error {
	var rows [][]ir.Cell
	var aligns []ir.Alignment

	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "tr" {
				row, rowAligns, err := dx.tableRow(dec)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					aligns = rowAligns
				}
				rows = append(rows, row)
			}
		case xml.EndElement:
			if t.Name.Local == "tbl" {
				if len(rows) > 0 {
					if aligns == nil {
						aligns = make([]ir.Alignment, len(rows[0]))
					}
					for i := range aligns {
						if aligns[i] == ir.AlignNone {
							aligns[i] = ir.AlignLeft
						}
					}
					dx.doc.AddTop(ir.Block{Type: ir.BlockTable, Rows: rows, Align: aligns})
				}
				dx.flushPending()
				return nil
			}
		}
	}
}

func (dx *docxExtractor) tableRow(dec *xml.Decoder) ([]ir.Cell, []ir.Alignment, error) {
	var row []ir.Cell
	var aligns []ir.Alignment
	for {
		tok, err := dec.Token()
		if err != nil {
			return row, aligns, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "tc" {
				cell, align, err := dx.tableCell(dec)
				if err != nil {
					return row, aligns, err
				}
				row = append(row, cell)
				aligns = append(aligns, align)
			}
		case xml.EndElement:
			if t.Name.Local == "tr" {
				return row, aligns, nil
			}
		}
	}
}

func (dx *docxExtractor) tableCell(dec *xml.Decoder) (ir.Cell, ir.Alignment, error) {
	var runs []ir.Run
	align := ir.AlignNone
	for {
		tok, err := dec.Token()
		if err != nil {
			return ir.Cell{Runs: runs}, align, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "p" {
				pc, err := dx.parseParagraph(dec, t)
				if err != nil {
					return ir.Cell{Runs: runs}, align, err
				}
				if align == ir.AlignNone {
					align = pc.align
				}
				if len(runs) > 0 && len(pc.runs) > 0 {
					runs = append(runs, ir.TextRun(" "))
				}
				runs = append(runs, pc.runs...)
			}
		case xml.EndElement:
			if t.Name.Local == "tc" {
				return ir.Cell{Runs: ir.MergeRuns(runs)}, align, nil
			}
		}
	}
}

func jcAlignment(val string) ir.Alignment {
	switch val {
	case "center":
		return ir.AlignCenter
	case "right", "end":
		return ir.AlignRight
	case "left", "start":
		return ir.AlignLeft
	default:
		return ir.AlignNone
	}
}
