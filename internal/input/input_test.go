package input

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadURLsCSV(t *testing.T) {
	tests := []struct {
		name    string
		content string
		opts    Options
		want    []string
	}{
		{
			name:    "single column",
			content: "url\nhttps://a\nhttps://b\nhttps://a\n",
			want:    []string{"https://a", "https://b", "https://a"},
		},
		{
			name:    "pandas index column",
			content: ",url\n0,https://a\n1,https://b\n",
			want:    []string{"https://a", "https://b"},
		},
		{
			name:    "limit",
			content: "url\nhttps://a\nhttps://b\nhttps://c\n",
			opts:    Options{Limit: 2},
			want:    []string{"https://a", "https://b"},
		},
		{
			name:    "custom column and blanks",
			content: "name,link\nx,https://a\ny,\nz,https://c\n",
			opts:    Options{Column: "link"},
			want:    []string{"https://a", "https://c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadURLs(writeFile(t, "habr.csv", tt.content), tt.opts)
			if err != nil {
				t.Fatalf("ReadURLs() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ReadURLs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadURLsErrors(t *testing.T) {
	if _, err := ReadURLs(writeFile(t, "a.csv", "link\nhttps://a\n"), Options{}); err == nil {
		t.Error("ReadURLs() should fail without a url column")
	}
	if _, err := ReadURLs(writeFile(t, "b.csv", ""), Options{}); err == nil {
		t.Error("ReadURLs() should fail on an empty file")
	}
	if _, err := ReadURLs(filepath.Join(t.TempDir(), "missing.csv"), Options{}); err == nil {
		t.Error("ReadURLs() should fail on a missing file")
	}
}

func TestReadURLsXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "habr.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]string{{"url"}, {"https://a"}, {"https://b"}}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetCellValue(sheet, cell, row[0]); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got, err := ReadURLs(path, Options{})
	if err != nil {
		t.Fatalf("ReadURLs() error = %v", err)
	}
	if want := []string{"https://a", "https://b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ReadURLs() = %v, want %v", got, want)
	}
}
