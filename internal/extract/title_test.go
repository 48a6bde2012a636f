package extract

import (
	"errors"
	"testing"
)

func TestTitle(t *testing.T) {
	tests := []struct {
		name        string
		selector    string
		body        string
		contentType string
		want        string
		wantErr     error
	}{
		{
			name: "document title",
			body: "<html><head><title>  Hello   World </title></head></html>",
			want: "Hello World",
		},
		{
			name:     "profile heading",
			selector: "h1.page-title__title",
			body:     `<h1 class="other">x</h1><h1 class="page-title__title">  Jane Doe
			</h1>`,
			want: "Jane Doe",
		},
		{
			name:     "first match wins",
			selector: "h2",
			body:     "<h2>one</h2><h2>two</h2>",
			want:     "one",
		},
		{
			name:    "missing title",
			body:    "<html><body><p>nothing</p></body></html>",
			wantErr: ErrNoTitle,
		},
		{
			name:    "blank title",
			body:    "<title>   </title>",
			wantErr: ErrNoTitle,
		},
		{
			name:        "windows-1251 body",
			body:        "<title>\xcf\xf0\xe8\xe2\xe5\xf2</title>",
			contentType: "text/html; charset=windows-1251",
			want:        "Привет",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.selector)
			if err != nil {
				t.Fatalf("New(%q) error = %v", tt.selector, err)
			}
			got, err := e.Title([]byte(tt.body), tt.contentType)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Title() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Title() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Title() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewDefaultsAndValidates(t *testing.T) {
	e, err := New("")
	if err != nil {
		t.Fatalf("New(\"\") error = %v", err)
	}
	if e.Selector() != DefaultSelector {
		t.Errorf("Selector() = %q, want %q", e.Selector(), DefaultSelector)
	}

	if _, err := New("h1[[["); err == nil {
		t.Error("New() should reject an invalid selector")
	}
}
