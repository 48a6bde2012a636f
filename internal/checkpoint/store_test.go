package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "successful_links.csv"))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestResetWritesHeader(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte("url\n\"old\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "url\n" {
		t.Errorf("log after Reset() = %q, want %q", data, "url\n")
	}
}

func TestAppendThenLoad(t *testing.T) {
	s := newTestStore(t)
	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	urls := []string{"https://habr.com/ru/users/a/", "https://example.com/?q=1,2", `https://example.com/"quoted"`}
	for _, u := range urls {
		if err := s.Append(u); err != nil {
			t.Fatalf("Append(%q) error = %v", u, err)
		}
	}
	if s.Appended() != len(urls) {
		t.Errorf("Appended() = %d, want %d", s.Appended(), len(urls))
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(s.Path())
	if !strings.HasPrefix(string(data), "url\n\"https://habr.com/ru/users/a/\"\n") {
		t.Errorf("log content = %q", data)
	}

	done, err := New(s.Path()).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(done) != len(urls) {
		t.Fatalf("Load() returned %d urls, want %d", len(done), len(urls))
	}
	for _, u := range urls {
		if _, ok := done[u]; !ok {
			t.Errorf("Load() missing %q", u)
		}
	}
}

func TestLoadKeepsAppending(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte("\"url\"\n\"a\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := s.Append("b"); err != nil {
		t.Fatalf("Append() after Load() error = %v", err)
	}
	s.Close()

	done, err := New(s.Path()).Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 2 {
		t.Errorf("Load() = %v, want a and b", done)
	}
}

func TestLoadMissingFileStartsFresh(t *testing.T) {
	s := newTestStore(t)

	done, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(done) != 0 {
		t.Errorf("Load() = %v, want empty", done)
	}
	data, _ := os.ReadFile(s.Path())
	if string(data) != "url\n" {
		t.Errorf("Load() of missing log wrote %q, want header", data)
	}
}

func TestLoadCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"wrong header", "link\n\"a\"\n"},
		{"two columns", "url\n\"a\",\"b\"\n"},
		{"torn record", "url\n\"a\"\n\"https://exam"},
		{"empty url", "url\n\"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			if err := os.WriteFile(s.Path(), []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			_, err := s.Load()
			if !errors.Is(err, ErrCorrupt) {
				t.Fatalf("Load() error = %v, want ErrCorrupt", err)
			}
			var corrupt *CorruptError
			if !errors.As(err, &corrupt) || corrupt.Path != s.Path() {
				t.Errorf("Load() error = %#v, want *CorruptError for %s", err, s.Path())
			}
		})
	}
}

func TestAppendBeforeOpen(t *testing.T) {
	s := newTestStore(t)
	if err := s.Append("a"); err == nil {
		t.Fatal("Append() on an unopened store should fail")
	}
}

func TestConcurrentAppend(t *testing.T) {
	s := newTestStore(t)
	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}

	const n = 200
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.Append(fmt.Sprintf("https://example.com/page/%d?x=%s", i, strings.Repeat("y", i)))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	s.Close()

	done, err := New(s.Path()).Load()
	if err != nil {
		t.Fatalf("Load() after concurrent appends error = %v", err)
	}
	if len(done) != n {
		t.Fatalf("log has %d distinct rows, want %d", len(done), n)
	}

	data, _ := os.ReadFile(s.Path())
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != n+1 {
		t.Errorf("log has %d lines, want %d", len(lines), n+1)
	}
}
