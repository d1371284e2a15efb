package outfile

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/doc2md/convert"
)

const minimalDocumentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Hello from the runner test.</w:t></w:r></w:p>
  </w:body>
</w:document>`

func minimalDocx(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(f, minimalDocumentXML); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Record(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) recorded() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func testRunner(sink EventSink) *Runner {
	return NewRunner(Config{
		Engine:  convert.New(convert.Config{}),
		Options: convert.Options{Now: func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Events:  sink,
	})
}

func TestRunner_Run_FilePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memo.docx")
	if err := os.WriteFile(path, minimalDocx(t), 0o644); err != nil {
		t.Fatal(err)
	}

	res := testRunner(nil).Run(context.Background(), "", Request{FilePath: path})
	if !res.Success {
		t.Fatalf("conversion failed: %s", res.Error)
	}
	if res.FileName != "memo.md" {
		t.Errorf("FileName = %q, want %q", res.FileName, "memo.md")
	}
	if want := filepath.Join(dir, "memo.md"); res.OutputPath != want {
		t.Errorf("OutputPath = %q, want %q (next to the source)", res.OutputPath, want)
	}
	if res.SourceFile != "memo.docx" {
		t.Errorf("SourceFile = %q", res.SourceFile)
	}

	md, err := os.ReadFile(res.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(md), "Hello from the runner test.") {
		t.Errorf("output missing body text:\n%s", md)
	}
	if !strings.HasPrefix(string(md), "---\n") {
		t.Error("output missing frontmatter")
	}

	meta := res.Metadata
	if meta == nil {
		t.Fatal("missing metadata")
	}
	if meta.SourceFormat != "docx" {
		t.Errorf("SourceFormat = %q", meta.SourceFormat)
	}
	if meta.PageCount == nil || *meta.PageCount != 1 {
		t.Errorf("PageCount = %v, want 1", meta.PageCount)
	}
	if meta.SlideCount != nil {
		t.Error("SlideCount set for a docx conversion")
	}
	if meta.WordCount != 5 {
		t.Errorf("WordCount = %d, want 5", meta.WordCount)
	}
}

func TestRunner_Run_Base64WithOverrides(t *testing.T) {
	out := t.TempDir()
	req := Request{
		Base64Content:  base64.StdEncoding.EncodeToString(minimalDocx(t)),
		FileName:       "upload.docx",
		OutputDir:      out,
		OutputFileName: "custom",
	}

	res := testRunner(nil).Run(context.Background(), "", req)
	if !res.Success {
		t.Fatalf("conversion failed: %s", res.Error)
	}
	if want := filepath.Join(out, "custom.md"); res.OutputPath != want {
		t.Errorf("OutputPath = %q, want %q", res.OutputPath, want)
	}
	if res.FileName != "custom.md" {
		t.Errorf("FileName = %q", res.FileName)
	}
}

func TestRunner_Run_FailureFoldedIntoResult(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.docx")
	if err := os.WriteFile(path, []byte("not a zip archive"), 0o644); err != nil {
		t.Fatal(err)
	}

	sink := &recordingSink{}
	res := testRunner(sink).Run(context.Background(), "", Request{FilePath: path})
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, string(convert.ErrCorruptFile)) {
		t.Errorf("Error = %q, want it to carry %s", res.Error, convert.ErrCorruptFile)
	}
	if res.OutputPath != "" {
		t.Errorf("OutputPath = %q for a failed conversion", res.OutputPath)
	}

	events := sink.recorded()
	if len(events) != 1 || events[0].Success || events[0].Error == "" {
		t.Errorf("events = %+v, want one failure event", events)
	}
}

func TestRunner_Run_MissingInput(t *testing.T) {
	res := testRunner(nil).Run(context.Background(), "", Request{})
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "file_path") {
		t.Errorf("Error = %q, want it to name the missing parameters", res.Error)
	}
	if res.SourceFile != "unknown" {
		t.Errorf("SourceFile = %q, want %q", res.SourceFile, "unknown")
	}
}

func TestRunner_Batch_ContinuesPastFailures(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.docx")
	bad := filepath.Join(dir, "bad.docx")
	if err := os.WriteFile(good, minimalDocx(t), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := testRunner(nil).Batch(context.Background(), []string{bad, good}, "", false)
	if out.Total != 2 || out.Successful != 1 || out.Failed != 1 {
		t.Fatalf("totals = %d/%d/%d, want 2 total, 1 successful, 1 failed",
			out.Total, out.Successful, out.Failed)
	}
	if len(out.Results) != 2 {
		t.Fatalf("got %d results", len(out.Results))
	}
	if out.Results[0].Success || !out.Results[1].Success {
		t.Error("results out of order: failure must stay at its input position")
	}
}

func TestRunner_EventsRecordedOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memo.docx")
	if err := os.WriteFile(path, minimalDocx(t), 0o644); err != nil {
		t.Fatal(err)
	}

	sink := &recordingSink{}
	res := testRunner(sink).Run(context.Background(), "", Request{FilePath: path})
	if !res.Success {
		t.Fatalf("conversion failed: %s", res.Error)
	}

	events := sink.recorded()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if !ev.Success || ev.Format != "docx" || ev.Source != "memo.docx" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Units != 1 || ev.WordCount != 5 {
		t.Errorf("event counts = units %d words %d, want 1 and 5", ev.Units, ev.WordCount)
	}
}
