package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/hazyhaar/doc2md/ir"
)

func TestParseFragments_TjPositioned(t *testing.T) {
	frags := parseFragments([]byte("BT /F1 12 Tf 100 700 Td (Hello) Tj ET"))
	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}
	f := frags[0]
	if f.text != "Hello" {
		t.Errorf("text = %q, want %q", f.text, "Hello")
	}
	if f.x != 100 || f.y != 700 {
		t.Errorf("position = (%v, %v), want (100, 700)", f.x, f.y)
	}
	if f.size != 12 {
		t.Errorf("size = %v, want 12", f.size)
	}
	if f.bold {
		t.Error("fragment marked bold for non-bold font")
	}
}

func TestParseFragments_TJArrayBoldFont(t *testing.T) {
	stream := "BT /Helvetica-Bold 14 Tf 1 0 0 1 72 650 Tm [(Part) -250 (two)] TJ ET"
	frags := parseFragments([]byte(stream))
	if len(frags) != 2 {
		t.Fatalf("got %d fragments, want 2", len(frags))
	}
	if frags[0].text != "Part" || frags[1].text != "two" {
		t.Errorf("texts = %q, %q", frags[0].text, frags[1].text)
	}
	for i, f := range frags {
		if !f.bold {
			t.Errorf("fragment %d not bold", i)
		}
		if f.size != 14 {
			t.Errorf("fragment %d size = %v, want 14", i, f.size)
		}
	}
	if frags[0].x != 72 || frags[0].y != 650 {
		t.Errorf("first fragment at (%v, %v), want (72, 650)", frags[0].x, frags[0].y)
	}
	// "Part" is 4 runes at estimated half-em advance: 4 * 14 * 0.5 = 28.
	if want := 72.0 + 28.0; frags[1].x != want {
		t.Errorf("second fragment x = %v, want %v", frags[1].x, want)
	}
}

func TestParseFragments_StringEscapes(t *testing.T) {
	tests := []struct {
		stream string
		want   string
	}{
		{`BT (a\(b\)c) Tj ET`, "a(b)c"},
		{`BT (back\\slash) Tj ET`, `back\slash`},
		{`BT (\101\102\103) Tj ET`, "ABC"},
		{"BT (outer (inner) tail) Tj ET", "outer (inner) tail"},
	}
	for _, tt := range tests {
		frags := parseFragments([]byte(tt.stream))
		if len(frags) != 1 {
			t.Fatalf("%q: got %d fragments, want 1", tt.stream, len(frags))
		}
		if frags[0].text != tt.want {
			t.Errorf("%q: text = %q, want %q", tt.stream, frags[0].text, tt.want)
		}
	}
}

func TestParseFragments_HexString(t *testing.T) {
	frags := parseFragments([]byte("BT <48656C6C6F> Tj ET"))
	if len(frags) != 1 || frags[0].text != "Hello" {
		t.Fatalf("got %+v, want one fragment %q", frags, "Hello")
	}
}

func TestParseFragments_TmScalesFontSize(t *testing.T) {
	frags := parseFragments([]byte("BT /F1 10 Tf 2 0 0 2 0 700 Tm (big) Tj ET"))
	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}
	if frags[0].size != 20 {
		t.Errorf("size = %v, want 20 (nominal 10 scaled by matrix)", frags[0].size)
	}
}

func TestParseFragments_LeadingAndNewlines(t *testing.T) {
	stream := "BT /F1 12 Tf 0 700 Td (one) Tj 0 -14 TD (two) Tj T* (three) Tj ET"
	frags := parseFragments([]byte(stream))
	if len(frags) != 3 {
		t.Fatalf("got %d fragments, want 3", len(frags))
	}
	wantY := []float64{700, 686, 672}
	for i, f := range frags {
		if f.y != wantY[i] {
			t.Errorf("fragment %d y = %v, want %v", i, f.y, wantY[i])
		}
		if f.x != 0 {
			t.Errorf("fragment %d x = %v, want 0 (line start)", i, f.x)
		}
	}
}

func TestParseFragments_QuoteOperator(t *testing.T) {
	stream := "BT /F1 12 Tf 12 TL 0 700 Td (first) Tj (second) ' ET"
	frags := parseFragments([]byte(stream))
	if len(frags) != 2 {
		t.Fatalf("got %d fragments, want 2", len(frags))
	}
	if frags[1].y != 688 {
		t.Errorf("second fragment y = %v, want 688 (700 - leading 12)", frags[1].y)
	}
}

func TestParseFragments_SkipsCommentsAndDicts(t *testing.T) {
	stream := "% page header\nBT << /MC0 3 >> BDC /F1 12 Tf 0 700 Td (text) Tj EMC ET"
	frags := parseFragments([]byte(stream))
	if len(frags) != 1 || frags[0].text != "text" {
		t.Fatalf("got %+v, want one fragment %q", frags, "text")
	}
}

func TestParseFragments_DropsControlCharacters(t *testing.T) {
	frags := parseFragments([]byte("BT (\x01ab\x02c) Tj ET"))
	if len(frags) != 1 || frags[0].text != "abc" {
		t.Fatalf("got %+v, want one fragment %q", frags, "abc")
	}
}

func TestMedianBodySize(t *testing.T) {
	if got := medianBodySize(nil); got != 12 {
		t.Errorf("empty median = %v, want default 12", got)
	}
	frags := []fragment{{size: 10}, {size: 24}, {size: 12}}
	if got := medianBodySize(frags); got != 12 {
		t.Errorf("median = %v, want 12", got)
	}
}

func TestSplitColumns_TwoColumnPage(t *testing.T) {
	frags := []fragment{
		{text: "right top", x: 400, y: 700, w: 54, size: 12, ord: 0},
		{text: "left top", x: 0, y: 700, w: 48, size: 12, ord: 1},
		{text: "left bottom", x: 0, y: 680, w: 66, size: 12, ord: 2},
		{text: "right bottom", x: 400, y: 680, w: 72, size: 12, ord: 3},
	}
	cols := splitColumns(frags)
	if len(cols) != 2 {
		t.Fatalf("got %d columns, want 2", len(cols))
	}
	if cols[0][0].text != "left top" || cols[0][1].text != "left bottom" {
		t.Errorf("left column order: %q, %q", cols[0][0].text, cols[0][1].text)
	}
	if cols[1][0].text != "right top" || cols[1][1].text != "right bottom" {
		t.Errorf("right column order: %q, %q", cols[1][0].text, cols[1][1].text)
	}
}

func TestSplitColumns_SingleColumn(t *testing.T) {
	frags := []fragment{
		{text: "a", x: 0, y: 700, w: 6, size: 12},
		{text: "b", x: 10, y: 700, w: 6, size: 12},
		{text: "c", x: 0, y: 680, w: 6, size: 12},
	}
	if cols := splitColumns(frags); len(cols) != 1 {
		t.Fatalf("got %d columns, want 1", len(cols))
	}
}

func TestGroupLines_BandsByVerticalProximity(t *testing.T) {
	frags := []fragment{
		{text: "world", x: 40, y: 699.8, w: 30, size: 12, ord: 1},
		{text: "hello", x: 0, y: 700, w: 30, size: 12, ord: 0},
		{text: "next", x: 0, y: 680, w: 24, size: 12, ord: 2},
	}
	lines := groupLines(frags, 12)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if got := lines[0].text(); got != "world hello" && got != "hello world" {
		// Fragments within a band are re-sorted left to right.
		t.Errorf("first line = %q", got)
	}
	if lines[0].frags[0].text != "hello" {
		t.Errorf("first line leftmost fragment = %q, want %q", lines[0].frags[0].text, "hello")
	}
	if lines[1].text() != "next" {
		t.Errorf("second line = %q, want %q", lines[1].text(), "next")
	}
}

func TestLayoutPage_HeadingAndParagraphMerge(t *testing.T) {
	frags := []fragment{
		{text: "Quarterly Report", x: 0, y: 700, w: 192, size: 24, ord: 0},
		{text: "First sentence.", x: 0, y: 660, w: 90, size: 12, ord: 1},
		{text: "Second sentence.", x: 0, y: 644, w: 96, size: 12, ord: 2},
		{text: "Far away paragraph.", x: 0, y: 500, w: 114, size: 12, ord: 3},
	}
	opts := Options{}
	(&opts).defaults()
	body := medianBodySize(frags)
	scale := newHeadingScale(headingCandidateSizes(frags, body, opts.HeadingFontRatio))

	doc := ir.NewDocument(ir.KindPDF)
	col := newCollector(ir.KindPDF)
	layoutPage(doc, col, frags, body, scale, opts)

	if len(doc.Top) != 3 {
		t.Fatalf("got %d blocks, want 3 (heading + 2 paragraphs)", len(doc.Top))
	}
	h := doc.Block(doc.Top[0])
	if h.Type != ir.BlockHeading || h.Level != 1 {
		t.Errorf("first block = %v level %d, want heading level 1", h.Type, h.Level)
	}
	p := doc.Block(doc.Top[1])
	if p.Type != ir.BlockParagraph {
		t.Fatalf("second block = %v, want paragraph", p.Type)
	}
	if got := p.Runs[0].Text; got != "First sentence. Second sentence." {
		t.Errorf("merged paragraph = %q", got)
	}
	far := doc.Block(doc.Top[2])
	if far.Type != ir.BlockParagraph || far.Runs[0].Text != "Far away paragraph." {
		t.Errorf("third block = %v %q, want separate paragraph", far.Type, far.Runs[0].Text)
	}
}

func TestLayoutPage_BoldIsolatedLineBecomesHeading(t *testing.T) {
	frags := []fragment{
		{text: "body above", x: 0, y: 700, w: 60, size: 12, ord: 0},
		{text: "Section Label", x: 0, y: 660, w: 78, size: 12, bold: true, ord: 1},
		{text: "body below", x: 0, y: 620, w: 60, size: 12, ord: 2},
	}
	opts := Options{}
	(&opts).defaults()
	body := medianBodySize(frags)
	scale := newHeadingScale(nil)

	doc := ir.NewDocument(ir.KindPDF)
	col := newCollector(ir.KindPDF)
	layoutPage(doc, col, frags, body, scale, opts)

	if len(doc.Top) != 3 {
		t.Fatalf("got %d blocks, want 3", len(doc.Top))
	}
	h := doc.Block(doc.Top[1])
	if h.Type != ir.BlockHeading {
		t.Fatalf("middle block = %v, want heading", h.Type)
	}
	if h.Level != 1 {
		t.Errorf("heading level = %d, want 1 (no larger font tiers exist)", h.Level)
	}
	if h.Runs[0].Text != "Section Label" {
		t.Errorf("heading text = %q", h.Runs[0].Text)
	}
}

func TestLayoutPage_GridAlignedLinesBecomeTable(t *testing.T) {
	frags := []fragment{
		{text: "Name", x: 0, y: 700, w: 24, size: 12, ord: 0},
		{text: "Count", x: 50, y: 700, w: 30, size: 12, ord: 1},
		{text: "widget", x: 0, y: 680, w: 36, size: 12, ord: 2},
		{text: "42", x: 50, y: 680, w: 12, size: 12, ord: 3},
	}
	opts := Options{}
	(&opts).defaults()
	body := medianBodySize(frags)

	doc := ir.NewDocument(ir.KindPDF)
	col := newCollector(ir.KindPDF)
	layoutPage(doc, col, frags, body, newHeadingScale(nil), opts)

	if len(doc.Top) != 1 {
		t.Fatalf("got %d blocks, want 1 table", len(doc.Top))
	}
	tbl := doc.Block(doc.Top[0])
	if tbl.Type != ir.BlockTable {
		t.Fatalf("block = %v, want table", tbl.Type)
	}
	if len(tbl.Rows) != 2 || len(tbl.Rows[0]) != 2 {
		t.Fatalf("table shape = %dx%d, want 2x2", len(tbl.Rows), len(tbl.Rows[0]))
	}
	if got := tbl.Rows[1][1].Runs[0].Text; got != "42" {
		t.Errorf("cell (1,1) = %q, want %q", got, "42")
	}
}

// WHAT: a page whose content stream cannot be decoded still surfaces its
// image placeholders next to the undecodable-page notice.
// WHY: the decode-error path used to skip image emission, silently dropping
// raster content the resource dictionary still accounts for.
func TestEmitPage_DecodeErrorKeepsImages(t *testing.T) {
	doc := ir.NewDocument(ir.KindPDF)
	col := newCollector(ir.KindPDF)
	opts := Options{}
	(&opts).defaults()

	emitPage(doc, col, 3, nil, errors.New("unsupported filter"), 2, 12, newHeadingScale(nil), opts)

	var notices, images int
	for _, id := range doc.Top {
		switch doc.Block(id).Type {
		case ir.BlockUnrepresentable:
			notices++
		case ir.BlockImage:
			images++
		}
	}
	if notices != 1 {
		t.Errorf("unrepresentable notices = %d, want 1", notices)
	}
	if images != 2 {
		t.Errorf("image placeholders = %d, want 2", images)
	}

	meta := col.finish(1)
	if len(meta.Warnings) != 1 || meta.Warnings[0].Code != ir.WarnUnsupportedElement {
		t.Errorf("warnings = %v, want one %s", meta.Warnings, ir.WarnUnsupportedElement)
	}
}

// WHAT: a grid row short of the header's column count still joins the table,
// padded with empty cells and flagged.
// WHY: admitting only equal-width rows to a grid region meant the
// truncated-table warning could never fire.
func TestLayoutPage_RaggedGridPadsAndWarns(t *testing.T) {
	frags := []fragment{
		{text: "Name", x: 0, y: 700, w: 24, size: 12, ord: 0},
		{text: "Count", x: 50, y: 700, w: 30, size: 12, ord: 1},
		{text: "Note", x: 100, y: 700, w: 24, size: 12, ord: 2},
		{text: "widget", x: 0, y: 680, w: 36, size: 12, ord: 3},
		{text: "42", x: 50, y: 680, w: 12, size: 12, ord: 4},
	}
	opts := Options{}
	(&opts).defaults()
	body := medianBodySize(frags)

	doc := ir.NewDocument(ir.KindPDF)
	col := newCollector(ir.KindPDF)
	layoutPage(doc, col, frags, body, newHeadingScale(nil), opts)

	if len(doc.Top) != 1 {
		t.Fatalf("got %d blocks, want 1 table", len(doc.Top))
	}
	tbl := doc.Block(doc.Top[0])
	if tbl.Type != ir.BlockTable {
		t.Fatalf("block = %v, want table", tbl.Type)
	}
	if len(tbl.Rows) != 2 || len(tbl.Rows[0]) != 3 {
		t.Fatalf("table shape = %dx%d, want 2x3", len(tbl.Rows), len(tbl.Rows[0]))
	}
	if len(tbl.Rows[1][2].Runs) != 0 {
		t.Errorf("cell (1,2) = %v, want empty", tbl.Rows[1][2].Runs)
	}

	meta := col.finish(1)
	if len(meta.Warnings) != 1 || meta.Warnings[0].Code != ir.WarnTruncatedTable {
		t.Errorf("warnings = %v, want one %s", meta.Warnings, ir.WarnTruncatedTable)
	}
}

func TestEncryptedPDF_TailScan(t *testing.T) {
	enc := append(bytes.Repeat([]byte("x"), 8192), []byte("trailer << /Encrypt 5 0 R >>\nstartxref")...)
	if !encryptedPDF(enc) {
		t.Error("trailer /Encrypt not detected")
	}
	// /Encrypt outside the trailing 4 KiB window is not a trailer entry.
	plain := append([]byte("/Encrypt early"), bytes.Repeat([]byte("y"), 8192)...)
	if encryptedPDF(plain) {
		t.Error("early /Encrypt false positive")
	}
}

// WHAT: protected PDFs must fail with PASSWORD_PROTECTED before any parse
// work is attempted.
// WHY: pdfcpu surfaces encryption as a generic read error, which would
// otherwise be reported as a corrupt file.
func TestConvert_EncryptedPDFFailsFast(t *testing.T) {
	eng := New(Config{})
	data := []byte("%PDF-1.7\ntrailer << /Encrypt 5 0 R /ID [<aa><bb>] >>\nstartxref\n116\n%%EOF")
	_, err := eng.Convert(context.Background(), "locked.pdf", ir.KindPDF, data, Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if code := CodeOf(err); code != ErrPasswordProtected {
		t.Errorf("code = %q, want %q", code, ErrPasswordProtected)
	}
}

func TestConvert_GarbagePDFIsCorrupt(t *testing.T) {
	eng := New(Config{})
	data := []byte(strings.Repeat("this is not a pdf\n", 8))
	_, err := eng.Convert(context.Background(), "bad.pdf", ir.KindPDF, data, Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if code := CodeOf(err); code != ErrCorruptFile {
		t.Errorf("code = %q, want %q", code, ErrCorruptFile)
	}
}

// buildMixedPagePDF assembles a minimal valid two-page PDF by hand: page one
// carries a positioned text stream, page two only draws an image XObject.
func buildMixedPagePDF(t *testing.T) []byte {
	t.Helper()

	text := "BT\n/F1 12 Tf\n72 720 Td\n(First page body text.) Tj\nET"
	draw := "q 100 0 0 100 72 692 cm /Im1 Do Q"
	img := "\xff\xd8\xff\xe0"

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 6 0 R] /Count 2 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		"<< /Length " + strconv.Itoa(len(text)) + " >>\nstream\n" + text + "\nendstream",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 8 0 R /Resources << /XObject << /Im1 7 0 R >> >> >>",
		"<< /Type /XObject /Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceRGB /BitsPerComponent 8 /Length " + strconv.Itoa(len(img)) + " >>\nstream\n" + img + "\nendstream",
		"<< /Length " + strconv.Itoa(len(draw)) + " >>\nstream\n" + draw + "\nendstream",
	}

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, 0, len(objects))
	for i, obj := range objects {
		offsets = append(offsets, b.Len())
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return []byte(b.String())
}

func TestConvert_PDFTextAndScannedPages(t *testing.T) {
	eng := New(Config{})
	res, err := eng.Convert(context.Background(), "mixed.pdf", ir.KindPDF, buildMixedPagePDF(t), Options{Now: fixedClock})
	if err != nil {
		t.Fatal(err)
	}

	if got := strings.Count(res.Markdown, string(ir.WarnScannedPage)); got != 1 {
		t.Errorf("scanned-page warnings = %d, want 1:\n%s", got, res.Markdown)
	}
	if !strings.Contains(res.Markdown, "pages: 2\n") {
		t.Errorf("frontmatter missing page count:\n%s", res.Markdown)
	}
	if !strings.Contains(res.Markdown, "<!-- Page 1 -->") || !strings.Contains(res.Markdown, "<!-- Page 2 -->") {
		t.Errorf("missing page break markers:\n%s", res.Markdown)
	}
	if !strings.Contains(res.Markdown, "First page body text.") {
		t.Errorf("page one text missing:\n%s", res.Markdown)
	}
	if !strings.Contains(res.Markdown, "![image](image_1.png)") {
		t.Errorf("scanned page image placeholder missing:\n%s", res.Markdown)
	}
}
