package convert

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/hazyhaar/doc2md/ir"
)

// extractPDF converts a paginated text document. Reading order is
// reconstructed geometrically: positioned text fragments are clustered into
// columns, columns are emitted left to right, fragments top to bottom.
//
// Password-protected files fail fast before any extraction attempt. Decode
// failures scoped to a single page are contained as Unrepresentable blocks.
func extractPDF(data []byte, opts Options) (*ir.Document, *ir.Metadata, error) {
	if encryptedPDF(data) {
		return nil, nil, newError(ErrPasswordProtected, "document is password protected")
	}

	conf := model.NewDefaultConfiguration()
	pctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		if passwordErr(err) {
			return nil, nil, wrapError(ErrPasswordProtected, err, "document is password protected")
		}
		return nil, nil, wrapError(ErrCorruptFile, err, "pdfcpu read")
	}
	if pctx.PageCount == 0 {
		return nil, nil, newError(ErrEmptyDocument, "document has no pages")
	}

	doc := ir.NewDocument(ir.KindPDF)
	col := newCollector(ir.KindPDF)

	// First pass: positioned fragments for every page, so heading tiers are
	// bucketed over document-wide font statistics, not per page.
	pages := make([][]fragment, pctx.PageCount)
	pageErrs := make([]error, pctx.PageCount)
	var all []fragment
	for n := 1; n <= pctx.PageCount; n++ {
		r, err := pdfcpu.ExtractPageContent(pctx, n)
		if err != nil {
			pageErrs[n-1] = err
			continue
		}
		stream, err := io.ReadAll(r)
		if err != nil {
			pageErrs[n-1] = err
			continue
		}
		pages[n-1] = parseFragments(stream)
		all = append(all, pages[n-1]...)
	}

	body := medianBodySize(all)
	scale := newHeadingScale(headingCandidateSizes(all, body, opts.HeadingFontRatio))

	for n := 1; n <= pctx.PageCount; n++ {
		images := len(pdfcpu.ImageObjNrs(pctx, n))
		emitPage(doc, col, n, pages[n-1], pageErrs[n-1], images, body, scale, opts)
		doc.AddTop(ir.Block{Type: ir.BlockBreak, Index: n, Label: ir.KindPDF.BreakLabel()})
	}

	return doc, col.finish(pctx.PageCount), nil
}

// emitPage appends one page's blocks: the reconstructed layout, a
// scanned-page notice, or an undecodable-page notice. Image placeholders are
// emitted in every case; the resource dictionary still accounts for raster
// content even when the content stream is unreadable.
func emitPage(doc *ir.Document, col *collector, n int, frags []fragment, pageErr error, images int, body float64, scale headingScale, opts Options) {
	switch {
	case pageErr != nil:
		doc.AddTop(ir.Block{
			Type: ir.BlockUnrepresentable,
			Text: "page " + strconv.Itoa(n) + " could not be decoded",
		})
		col.warn(ir.WarnUnsupportedElement, "page %d could not be decoded: %v", n, pageErr)

	case len(frags) == 0 && images > 0:
		col.warn(ir.WarnScannedPage, "page %d appears to be a scanned image with no extractable text", n)

	default:
		layoutPage(doc, col, frags, body, scale, opts)
	}
	emitPageImages(doc, col, images)
}

// emitPageImages appends one Image placeholder per raster region on the page.
// PDF image XObjects rarely carry usable alt text, so the description is the
// generic label.
func emitPageImages(doc *ir.Document, col *collector, count int) {
	for i := 0; i < count; i++ {
		doc.AddTop(ir.Block{
			Type:        ir.BlockImage,
			Placeholder: col.nextImage(),
			Description: "image",
			Ext:         "png",
		})
	}
}

// encryptedPDF scans the trailer region for an /Encrypt entry so protected
// files are rejected before any parse work.
func encryptedPDF(data []byte) bool {
	tail := data
	if len(tail) > 4096 {
		tail = tail[len(tail)-4096:]
	}
	return bytes.Contains(tail, []byte("/Encrypt"))
}

func passwordErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password") || strings.Contains(msg, "encrypt")
}
