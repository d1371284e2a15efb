package outfile

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/hazyhaar/doc2md/convert"
	"github.com/hazyhaar/doc2md/ir"
)

// Request carries the caller-facing parameters of one conversion: the input
// (path or base64), optional output overrides, and the overwrite flag.
type Request struct {
	FilePath       string `json:"file_path,omitempty"`
	Base64Content  string `json:"base64_content,omitempty"`
	FileName       string `json:"file_name,omitempty"`
	MimeType       string `json:"mime_type,omitempty"`
	OutputDir      string `json:"output_dir,omitempty"`
	OutputFileName string `json:"output_file_name,omitempty"`
	Overwrite      bool   `json:"overwrite,omitempty"`
}

// Metadata is the caller-facing summary of a conversion.
type Metadata struct {
	SourceFormat string   `json:"source_format"`
	PageCount    *int     `json:"page_count,omitempty"`
	SlideCount   *int     `json:"slide_count,omitempty"`
	WordCount    int      `json:"word_count"`
	HasImages    bool     `json:"has_images"`
	ImageCount   int      `json:"image_count"`
	Warnings     []string `json:"conversion_warnings"`
}

// ConversionResult is the outcome of one conversion. Failures are folded into
// the result (Success false + Error message) so batch runs and tool callers
// never have to juggle partial errors.
type ConversionResult struct {
	Success    bool      `json:"success"`
	OutputPath string    `json:"output_path,omitempty"`
	FileName   string    `json:"file_name,omitempty"`
	SourceFile string    `json:"source_file"`
	Metadata   *Metadata `json:"metadata,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// BatchResult aggregates a multi-file run.
type BatchResult struct {
	Results    []ConversionResult `json:"results"`
	Total      int                `json:"total"`
	Successful int                `json:"successful"`
	Failed     int                `json:"failed"`
}

// Event is one completed conversion attempt, successful or not, handed to an
// EventSink for recording.
type Event struct {
	Source    string
	Format    string
	Units     int
	WordCount int
	Warnings  int
	Success   bool
	Error     string
}

// EventSink records conversion events. Implementations must not block the
// conversion path; recording is best-effort.
type EventSink interface {
	Record(ctx context.Context, ev Event)
}

// Config assembles a Runner.
type Config struct {
	Engine  *convert.Engine
	Options convert.Options
	Logger  *slog.Logger
	Events  EventSink // optional
}

// Runner composes the conversion engine with source resolution and output
// writing. It is safe for concurrent use.
type Runner struct {
	eng    *convert.Engine
	opts   convert.Options
	writer *Writer
	log    *slog.Logger
	events EventSink
}

func NewRunner(cfg Config) *Runner {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		eng:    cfg.Engine,
		opts:   cfg.Options,
		writer: NewWriter(),
		log:    log,
		events: cfg.Events,
	}
}

// Run converts one input end to end: resolve the source, convert, write the
// markdown file. kind selects the extractor; pass "" to auto-detect from the
// file name and MIME type.
func (r *Runner) Run(ctx context.Context, kind ir.Kind, req Request) ConversionResult {
	sourceLabel := req.FilePath
	if sourceLabel == "" {
		sourceLabel = req.FileName
	}
	if sourceLabel == "" {
		sourceLabel = "unknown"
	}

	src, err := ResolveSource(req.FilePath, req.Base64Content, req.FileName)
	if err != nil {
		return r.fail(ctx, sourceLabel, kind, err)
	}
	sourceLabel = src.Name

	if kind == "" {
		kind, err = r.eng.Detect(src.Name, req.MimeType)
		if err != nil {
			return r.fail(ctx, sourceLabel, kind, err)
		}
	}

	res, err := r.eng.Convert(ctx, src.Name, kind, src.Data, r.opts)
	if err != nil {
		return r.fail(ctx, sourceLabel, kind, err)
	}

	dir, err := ResolveDir(src, req.OutputDir)
	if err != nil {
		return r.fail(ctx, sourceLabel, kind, err)
	}
	name := res.Name
	if req.OutputFileName != "" {
		name = req.OutputFileName
	}
	outPath, err := r.writer.Write(dir, name, req.Overwrite, []byte(res.Markdown))
	if err != nil {
		return r.fail(ctx, sourceLabel, kind, err)
	}

	r.log.Info("converted document",
		"source", src.Name, "format", kind, "output", outPath,
		"units", res.Meta.Units, "words", res.Meta.WordCount, "warnings", len(res.Meta.Warnings))
	r.record(ctx, Event{
		Source:    src.Name,
		Format:    string(kind),
		Units:     res.Meta.Units,
		WordCount: res.Meta.WordCount,
		Warnings:  len(res.Meta.Warnings),
		Success:   true,
	})

	return ConversionResult{
		Success:    true,
		OutputPath: outPath,
		FileName:   filepath.Base(outPath),
		SourceFile: src.Name,
		Metadata:   summarize(&res.Meta),
	}
}

// Batch converts many files with auto-detection, continuing past individual
// failures.
func (r *Runner) Batch(ctx context.Context, paths []string, outputDir string, overwrite bool) BatchResult {
	out := BatchResult{Total: len(paths)}
	for _, p := range paths {
		res := r.Run(ctx, "", Request{FilePath: p, OutputDir: outputDir, Overwrite: overwrite})
		out.Results = append(out.Results, res)
		if res.Success {
			out.Successful++
		} else {
			out.Failed++
		}
	}
	return out
}

func (r *Runner) fail(ctx context.Context, source string, kind ir.Kind, err error) ConversionResult {
	r.log.Warn("conversion failed", "source", source, "format", kind, "error", err)
	r.record(ctx, Event{
		Source:  source,
		Format:  string(kind),
		Success: false,
		Error:   err.Error(),
	})
	return ConversionResult{SourceFile: source, Error: err.Error()}
}

func (r *Runner) record(ctx context.Context, ev Event) {
	if r.events != nil {
		r.events.Record(ctx, ev)
	}
}

// summarize maps engine metadata to the caller-facing shape: the unit count
// lands in page_count or slide_count depending on format, warnings flatten to
// "CODE: message" strings.
func summarize(m *ir.Metadata) *Metadata {
	out := &Metadata{
		SourceFormat: string(m.SourceFormat),
		WordCount:    m.WordCount,
		HasImages:    m.HasImages,
		ImageCount:   m.ImageCount,
		Warnings:     make([]string, 0, len(m.Warnings)),
	}
	units := m.Units
	if m.SourceFormat == ir.KindPPTX {
		out.SlideCount = &units
	} else {
		out.PageCount = &units
	}
	for _, w := range m.Warnings {
		out.Warnings = append(out.Warnings, string(w.Code)+": "+w.Message)
	}
	return out
}
