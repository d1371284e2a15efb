// Package outfile puts conversion results on disk. It resolves inputs (a
// local path or a base64 payload), applies the output naming contract, and
// serializes collision resolution per directory so concurrent conversions of
// same-named sources cannot clobber each other.
//
// The conversion engine itself never touches the filesystem; everything
// path-shaped lives here.
package outfile

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Source is a resolved conversion input.
type Source struct {
	Name string // file name as given, drives frontmatter and output naming
	Data []byte
	Dir  string // default output directory; empty means the working directory
}

// ResolveSource loads the input bytes from either a file path or a base64
// payload with an explicit file name. Exactly one of the two modes must be
// supplied. Base64 inputs have no origin directory, so their default output
// directory is the working directory.
func ResolveSource(filePath, base64Content, fileName string) (*Source, error) {
	if filePath != "" {
		abs, err := filepath.Abs(filePath)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", filePath, err)
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("read source: %w", err)
		}
		return &Source{Name: filepath.Base(abs), Data: data, Dir: filepath.Dir(abs)}, nil
	}

	if base64Content != "" && fileName != "" {
		data, err := base64.StdEncoding.DecodeString(base64Content)
		if err != nil {
			return nil, fmt.Errorf("decode base64 content: %w", err)
		}
		return &Source{Name: fileName, Data: data}, nil
	}

	return nil, errors.New("must provide either file_path or both base64_content and file_name")
}

// Writer applies the output naming contract and writes markdown files.
// Collision checks and the subsequent write happen under a per-directory
// lock, so two conversions targeting the same name in the same directory
// resolve to distinct files.
type Writer struct {
	mu   sync.Mutex
	dirs map[string]*sync.Mutex
	now  func() time.Time
}

func NewWriter() *Writer {
	return &Writer{dirs: make(map[string]*sync.Mutex), now: time.Now}
}

func (w *Writer) dirLock(dir string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.dirs[dir]
	if !ok {
		l = &sync.Mutex{}
		w.dirs[dir] = l
	}
	return l
}

// ResolveDir picks the output directory: the explicit override when given,
// otherwise the source's own directory, otherwise the working directory. The
// directory must already exist.
func ResolveDir(src *Source, outputDir string) (string, error) {
	dir := outputDir
	if dir == "" {
		dir = src.Dir
	}
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve output dir: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("output directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("output path is not a directory: %s", abs)
	}
	return abs, nil
}

// Write stores content as dir/name, resolving name collisions. name must end
// in ".md" (it is appended when missing). When the target exists and
// overwrite is false, a "_<unix_ts>" suffix is inserted before the extension;
// the timestamp is bumped until a free name is found. Returns the absolute
// path written.
func (w *Writer) Write(dir, name string, overwrite bool, content []byte) (string, error) {
	if !strings.HasSuffix(name, ".md") {
		name += ".md"
	}

	l := w.dirLock(dir)
	l.Lock()
	defer l.Unlock()

	target := filepath.Join(dir, name)
	if !overwrite {
		if _, err := os.Stat(target); err == nil {
			stem := strings.TrimSuffix(name, ".md")
			ts := w.now().Unix()
			for {
				target = filepath.Join(dir, fmt.Sprintf("%s_%d.md", stem, ts))
				if _, err := os.Stat(target); err != nil {
					break
				}
				ts++
			}
		}
	}

	if err := os.WriteFile(target, content, 0o644); err != nil {
		return "", fmt.Errorf("write markdown: %w", err)
	}
	return target, nil
}
