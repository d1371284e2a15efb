// Entry point for the doc2md server: MCP over stdio by default, optional
// chi HTTP API; converts PDF/DOCX/PPTX files to Markdown on disk.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/doc2md/convert"
	"github.com/hazyhaar/doc2md/convlog"
	"github.com/hazyhaar/doc2md/outfile"
)

const version = "1.0.0"

// fileConfig is the optional YAML config file. Environment variables win
// over file values.
type fileConfig struct {
	Transport        string  `yaml:"transport"` // "stdio" (default) or "http"
	Port             string  `yaml:"port"`
	LogLevel         string  `yaml:"log_level"`
	EventDB          string  `yaml:"event_db"` // empty disables the event log
	MaxFileSizeMB    int64   `yaml:"max_file_size_mb"`
	InlineImages     bool    `yaml:"inline_images"`
	HeadingFontRatio float64 `yaml:"heading_font_ratio"`
	MaxListDepth     int     `yaml:"max_list_depth"`
}

func main() {
	var fc fileConfig
	if path := env("DOC2MD_CONFIG", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("read config file", "path", path, "error", err)
			os.Exit(1)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			slog.Error("parse config file", "path", path, "error", err)
			os.Exit(1)
		}
	}

	transport := env("DOC2MD_TRANSPORT", fallback(fc.Transport, "stdio"))
	port := env("PORT", fallback(fc.Port, "8086"))
	logLevel := env("LOG_LEVEL", fallback(fc.LogLevel, "info"))
	eventDB := env("DOC2MD_EVENT_DB", fc.EventDB)

	// Logging goes to stderr: stdout is the MCP stdio transport.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := convert.Config{Logger: logger}
	if mb := envInt64("DOC2MD_MAX_FILE_SIZE_MB", fc.MaxFileSizeMB); mb > 0 {
		cfg.MaxFileSize = mb << 20
	}

	opts := convert.Options{
		InlineImages:     envBool("DOC2MD_INLINE_IMAGES", fc.InlineImages),
		HeadingFontRatio: fc.HeadingFontRatio,
		MaxListDepth:     fc.MaxListDepth,
	}

	rcfg := outfile.Config{
		Engine:  convert.New(cfg),
		Options: opts,
		Logger:  logger,
	}

	if eventDB != "" {
		events, err := convlog.Open(eventDB, convlog.WithLogger(logger))
		if err != nil {
			slog.Error("event db", "path", eventDB, "error", err)
			os.Exit(1)
		}
		defer events.Close()
		rcfg.Events = events
	}

	runner := outfile.NewRunner(rcfg)

	switch transport {
	case "http":
		runHTTP(ctx, runner, port)
	default:
		runStdio(ctx, runner)
	}
}

func runStdio(ctx context.Context, runner *outfile.Runner) {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "doc2md",
		Version: version,
	}, nil)
	runner.RegisterMCP(srv)

	slog.Info("doc2md MCP server starting", "transport", "stdio", "version", version)
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		slog.Error("MCP server", "error", err)
		os.Exit(1)
	}
}

func runHTTP(ctx context.Context, runner *outfile.Runner, port string) {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
	})

	r.Get("/api/formats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"formats": convert.SupportedFormats()})
	})

	r.Post("/api/convert", func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(io.LimitReader(req.Body, 256<<20))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body: " + err.Error()})
			return
		}
		var cr outfile.Request
		if err := json.Unmarshal(body, &cr); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, runner.Run(req.Context(), "", cr))
	})

	r.Post("/api/batch", func(w http.ResponseWriter, req *http.Request) {
		var br struct {
			FilePaths []string `json:"file_paths"`
			OutputDir string   `json:"output_dir"`
			Overwrite bool     `json:"overwrite"`
		}
		if err := json.NewDecoder(req.Body).Decode(&br); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, runner.Batch(req.Context(), br.FilePaths, br.OutputDir, br.Overwrite))
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shCancel()
		_ = srv.Shutdown(shCtx)
	}()

	slog.Info("doc2md HTTP server starting", "port", port, "version", version)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server", "error", err)
		os.Exit(1)
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fallback(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
