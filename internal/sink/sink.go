package sink

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Ext is appended to every artifact name.
const Ext = ".html"

// MaxNameBytes caps the name before Ext; most filesystems stop at 255 bytes.
const MaxNameBytes = 200

var nameReplacer = strings.NewReplacer(
	" ", "_",
	"*", "_",
	"/", "_",
	"\\", "_",
	":", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	"\x00", "_",
)

// SafeName turns a page title into a file name. Distinct titles can map to
// the same name; the later artifact then overwrites the earlier one.
func SafeName(title string) string {
	name := truncate(nameReplacer.Replace(strings.TrimSpace(title)), MaxNameBytes)
	if name == "" || name == "." || name == ".." {
		name = "_"
	}
	return name + Ext
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	s = s[:limit]
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size > 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}

// FileSink writes one artifact per fetched page under Dir.
type FileSink struct {
	Dir string
}

// New creates the output directory if it does not exist yet.
func New(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &FileSink{Dir: dir}, nil
}

// Save writes the source URL, the raw title and the body, in that order.
// The artifact is written to a temporary file and renamed into place, so
// concurrent saves under one name leave exactly one writer's content.
func (s *FileSink) Save(sourceURL, title string, body []byte) (string, error) {
	path := filepath.Join(s.Dir, SafeName(title))

	file, err := os.CreateTemp(s.Dir, ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	tmp := file.Name()

	w := bufio.NewWriter(file)
	w.WriteString(sourceURL + "\n")
	w.WriteString(title + "\n")
	w.Write(body)
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write artifact %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close artifact %s: %w", path, err)
	}
	if err := os.Chmod(tmp, 0644); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("chmod artifact %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename artifact %s: %w", path, err)
	}
	return path, nil
}
