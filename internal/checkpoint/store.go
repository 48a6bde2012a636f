// Package checkpoint keeps the append-only log of URLs that reached a
// terminal outcome. The same file is the audit trail of a run and the
// resume filter for the next one.
package checkpoint

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// Header is the first line of every checkpoint log.
const Header = "url"

// ErrCorrupt matches any CorruptError.
var ErrCorrupt = errors.New("corrupt checkpoint")

// CorruptError reports a log that cannot be trusted for resuming.
type CorruptError struct {
	Path   string
	Line   int
	Reason string
}

func (e *CorruptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("corrupt checkpoint %s line %d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("corrupt checkpoint %s: %s", e.Path, e.Reason)
}

func (e *CorruptError) Is(target error) bool {
	return target == ErrCorrupt
}

// Store serializes appends from concurrent workers behind a mutex; each
// record goes out in a single write followed by fsync.
type Store struct {
	path string

	mu       sync.Mutex
	file     *os.File
	appended int
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Reset truncates (or creates) the log and writes the header.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.closeLocked(); err != nil {
		return err
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("reset checkpoint: %w", err)
	}
	if _, err := file.WriteString(Header + "\n"); err != nil {
		return multierr.Append(fmt.Errorf("write checkpoint header: %w", err), file.Close())
	}
	if err := file.Sync(); err != nil {
		return multierr.Append(fmt.Errorf("sync checkpoint: %w", err), file.Close())
	}
	s.file = file
	s.appended = 0
	return nil
}

// Load parses the existing log and leaves the store open for appending.
// A log that does not exist yet is an empty resume set.
func (s *Store) Load() (map[string]struct{}, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", s.path).Msg("No checkpoint to resume from, starting a new one")
		return map[string]struct{}{}, s.Reset()
	}
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	done, err := parse(s.path, f)
	f.Close()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.closeLocked(); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint for append: %w", err)
	}
	s.file = file
	s.appended = 0
	return done, nil
}

func parse(path string, r io.Reader) (map[string]struct{}, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &CorruptError{Path: path, Reason: "missing header"}
	}
	if err != nil {
		return nil, &CorruptError{Path: path, Line: 1, Reason: err.Error()}
	}
	if strings.TrimPrefix(header[0], "\ufeff") != Header {
		return nil, &CorruptError{Path: path, Line: 1, Reason: fmt.Sprintf("header is %q, want %q", header[0], Header)}
	}

	done := make(map[string]struct{})
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return done, nil
		}
		if err != nil {
			line, _ := reader.FieldPos(0)
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				line = parseErr.Line
			}
			return nil, &CorruptError{Path: path, Line: line, Reason: err.Error()}
		}
		url := strings.TrimSpace(record[0])
		if url == "" {
			line, _ := reader.FieldPos(0)
			return nil, &CorruptError{Path: path, Line: line, Reason: "empty url"}
		}
		done[url] = struct{}{}
	}
}

// Append durably records one terminal URL. Safe for concurrent use.
func (s *Store) Append(url string) error {
	record := quote(url) + "\n"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("checkpoint %s is not open", s.path)
	}
	if _, err := s.file.WriteString(record); err != nil {
		return fmt.Errorf("append checkpoint: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	s.appended++
	return nil
}

// Appended counts records written since the last Reset or Load.
func (s *Store) Appended() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appended
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Store) closeLocked() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// quote always wraps the value, so a URL with commas or quotes stays one field.
func quote(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}
