// Package convert is the document conversion engine: bytes of a PDF, DOCX, or
// PPTX document in, Markdown text plus conversion metadata out.
//
// Each conversion is a pure synchronous pipeline (extract to the shared IR,
// then serialize) with no I/O and no shared mutable state, so callers may run
// any number of conversions concurrently without coordination. A conversion
// either completes with a full result (possibly carrying warnings) or fails
// with a single *Error; a partial document is never returned.
//
// Usage:
//
//	eng := convert.New(convert.Config{})
//	res, err := eng.Convert(ctx, "report.pdf", ir.KindPDF, data, convert.Options{})
//	fmt.Println(res.Markdown)
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/doc2md/ir"
)

// Config configures an Engine.
type Config struct {
	// MaxFileSize is the maximum input size to process (default: 100 MB).
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`

	// Logger for debug/error messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 100 * 1024 * 1024
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Options tune a single conversion. The zero value is usable; defaults are
// part of the engine contract so converted output is reproducible.
type Options struct {
	// InlineImages embeds image bytes as data URIs instead of sidecar
	// references, for images at or below SidecarThreshold.
	InlineImages bool `json:"inline_images" yaml:"inline_images"`

	// HeadingFontRatio is the factor over the median body font size above
	// which a PDF line becomes a heading candidate (default 1.2).
	HeadingFontRatio float64 `json:"heading_font_ratio" yaml:"heading_font_ratio"`

	// MaxListDepth caps list nesting (default 8); deeper source levels clamp.
	MaxListDepth int `json:"max_list_depth" yaml:"max_list_depth"`

	// SidecarThreshold is the image byte size above which a sidecar reference
	// is used even when InlineImages is set (default 32 KiB).
	SidecarThreshold int `json:"sidecar_threshold" yaml:"sidecar_threshold"`

	// Now supplies the frontmatter timestamp; defaults to time.Now. Injected
	// so serialization is deterministic under test.
	Now func() time.Time `json:"-" yaml:"-"`
}

func (o *Options) defaults() {
	if o.HeadingFontRatio <= 0 {
		o.HeadingFontRatio = 1.2
	}
	if o.MaxListDepth <= 0 {
		o.MaxListDepth = 8
	}
	if o.SidecarThreshold <= 0 {
		o.SidecarThreshold = 32 * 1024
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Result is a completed conversion: the full Markdown text, the default
// output file name (source stem + ".md"), and the conversion metadata. The
// engine never touches the filesystem; writing is the caller's concern.
type Result struct {
	Markdown string      `json:"markdown"`
	Name     string      `json:"file_name"`
	Meta     ir.Metadata `json:"metadata"`
}

// Engine converts documents. Safe for concurrent use.
type Engine struct {
	cfg Config
}

// New creates an Engine with the given configuration.
func New(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg}
}

var mimeKinds = map[string]ir.Kind{
	"application/pdf": ir.KindPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ir.KindDocx,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ir.KindPPTX,
}

// Detect resolves the source format from a file name and/or MIME type.
// Extension wins; MIME type is the fallback.
func (e *Engine) Detect(name, mimeType string) (ir.Kind, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return ir.KindPDF, nil
	case ".docx":
		return ir.KindDocx, nil
	case ".pptx":
		return ir.KindPPTX, nil
	}
	if mimeType != "" {
		mt, _, err := mime.ParseMediaType(mimeType)
		if err == nil {
			if k, ok := mimeKinds[mt]; ok {
				return k, nil
			}
		}
	}
	return "", newError(ErrUnsupportedFormat, "unsupported file type %q (supported: pdf, docx, pptx)", name)
}

// Convert runs the full pipeline on data. name is the original source file
// name used in the frontmatter and to derive the output name.
func (e *Engine) Convert(ctx context.Context, name string, kind ir.Kind, data []byte, opts Options) (*Result, error) {
	opts.defaults()
	if int64(len(data)) > e.cfg.MaxFileSize {
		return nil, newError(ErrCorruptFile, "input too large: %d bytes (max %d)", len(data), e.cfg.MaxFileSize)
	}
	if len(data) == 0 {
		return nil, newError(ErrEmptyDocument, "empty input")
	}
	if err := ctx.Err(); err != nil {
		return nil, wrapError(ErrInternal, err, "conversion aborted")
	}

	e.cfg.Logger.Debug("converting document", "name", name, "format", kind, "bytes", len(data))

	var doc *ir.Document
	var meta *ir.Metadata
	var err error
	switch kind {
	case ir.KindPDF:
		doc, meta, err = extractPDF(data, opts)
	case ir.KindDocx:
		doc, meta, err = extractDocx(data, opts)
	case ir.KindPPTX:
		doc, meta, err = extractPPTX(data, opts)
	default:
		return nil, newError(ErrUnsupportedFormat, "no extractor for format %q", kind)
	}
	if err != nil {
		var ce *Error
		if !errors.As(err, &ce) {
			err = wrapError(ErrInternal, err, "extract %s", kind)
		}
		return nil, fmt.Errorf("convert %s: %w", name, err)
	}
	if doc.Empty() {
		return nil, newError(ErrEmptyDocument, "no convertible content in %s", name)
	}

	meta.WordCount = ir.WordCount(doc)

	md := serializeMarkdown(doc, meta, name, opts)
	return &Result{
		Markdown: md,
		Name:     outputName(name),
		Meta:     *meta,
	}, nil
}

// outputName derives the default output file name: source stem + ".md".
func outputName(source string) string {
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = "document"
	}
	return stem + ".md"
}

// SupportedFormats returns the closed set of convertible formats.
func SupportedFormats() []string {
	return []string{"pdf", "docx", "pptx"}
}

// collector accumulates counts and warnings while an extractor builds the IR.
// It is local to one conversion call; nothing global.
type collector struct {
	meta   ir.Metadata
	images int
}

func newCollector(kind ir.Kind) *collector {
	return &collector{meta: ir.Metadata{SourceFormat: kind}}
}

// warn records one loss-of-fidelity event, preserving insertion order.
func (c *collector) warn(code ir.WarnCode, format string, args ...any) {
	c.meta.Warnings = append(c.meta.Warnings, ir.Warning{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	})
}

// nextImage assigns the next placeholder id, first-seen order, starting at 1.
func (c *collector) nextImage() int {
	c.images++
	c.meta.ImageCount = c.images
	c.meta.HasImages = true
	return c.images
}

func (c *collector) finish(units int) *ir.Metadata {
	c.meta.Units = units
	return &c.meta
}
