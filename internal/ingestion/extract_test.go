package ingestion

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/54b3r/routerag-go/internal/fault"
)

func TestDetectFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"guide.pdf", nil, FormatPDF},
		{"NOTES.MD", nil, FormatMarkdown},
		{"readme.txt", nil, FormatText},
		{"report.docx", nil, FormatDOCX},
		{"sheet.xlsx", nil, FormatXLSX},
		{"photo.png", []byte("plain text really"), FormatUnknown},
		{"noext", []byte("just some text"), FormatText},
		{"noext", []byte("%PDF-1.7\n..."), FormatPDF},
		{"noext", []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, FormatUnknown},
	}
	for _, tt := range tests {
		if got := DetectFormat(tt.name, tt.data); got != tt.want {
			t.Errorf("DetectFormat(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestDetectFormat_SniffsOOXML(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("word/document.xml")
	_, _ = w.Write([]byte("<w:document/>"))
	_ = zw.Close()

	if got := DetectFormat("upload", buf.Bytes()); got != FormatDOCX {
		t.Errorf("DetectFormat = %q, want docx", got)
	}
}

func TestExtract_Unsupported(t *testing.T) {
	t.Parallel()
	_, _, err := Extract([]byte("binary"), "image.gif")
	if !errors.Is(err, fault.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestExtract_Unreadable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
	}{
		{"empty.txt", []byte("   \n\t ")},
		{"bad.txt", []byte{0xff, 0xfe, 0xfd}},
		{"broken.pdf", []byte("%PDF-1.4 not really a pdf")},
		{"broken.xlsx", []byte("not a zip")},
	}
	for _, tt := range tests {
		_, _, err := Extract(tt.data, tt.name)
		if !errors.Is(err, fault.ErrUnreadableDocument) {
			t.Errorf("%s: expected ErrUnreadableDocument, got %v", tt.name, err)
		}
	}
}

func TestExtract_Markdown(t *testing.T) {
	t.Parallel()
	src := []byte("# Capitals\n\nParis is the **capital** of France.\n\n- Berlin\n- Rome\n\n```\ncode here\n```\n")
	format, pages, err := Extract(src, "capitals.md")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if format != FormatMarkdown || len(pages) != 1 {
		t.Fatalf("format=%q pages=%d", format, len(pages))
	}
	text := normalize(pages[0].Text)
	for _, want := range []string{"Capitals", "Paris is the capital of France.", "Berlin", "code here"} {
		if !strings.Contains(text, want) {
			t.Errorf("markdown text missing %q: %q", want, text)
		}
	}
	if strings.Contains(text, "**") || strings.Contains(text, "#") {
		t.Errorf("markup leaked into text: %q", text)
	}
}

func TestExtract_XLSX(t *testing.T) {
	t.Parallel()
	f := excelize.NewFile()
	_ = f.SetCellValue("Sheet1", "A1", "City")
	_ = f.SetCellValue("Sheet1", "B1", "Country")
	_ = f.SetCellValue("Sheet1", "A2", "Paris")
	_ = f.SetCellValue("Sheet1", "B2", "France")
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	format, pages, err := Extract(buf.Bytes(), "cities.xlsx")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if format != FormatXLSX || len(pages) != 1 || pages[0].Label != "Sheet1" {
		t.Fatalf("format=%q pages=%+v", format, pages)
	}
	if !strings.Contains(pages[0].Text, "Paris | France") {
		t.Errorf("sheet text = %q", pages[0].Text)
	}
}

func TestExtract_XLSXWithoutCells(t *testing.T) {
	t.Parallel()
	empty := excelize.NewFile()
	emptyBuf, err := empty.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := Extract(emptyBuf.Bytes(), "blank.xlsx"); !errors.Is(err, fault.ErrUnreadableDocument) {
		t.Errorf("empty workbook: err = %v, want ErrUnreadableDocument", err)
	}

	mixed := excelize.NewFile()
	_ = mixed.SetCellValue("Sheet1", "A1", "Paris")
	if _, err := mixed.NewSheet("Blank"); err != nil {
		t.Fatal(err)
	}
	_ = mixed.SetCellValue("Blank", "C3", "   ")
	mixedBuf, err := mixed.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	_, pages, err := Extract(mixedBuf.Bytes(), "mixed.xlsx")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(pages) != 1 || pages[0].Label != "Sheet1" {
		t.Errorf("pages = %+v, want only Sheet1", pages)
	}
}
