package ingestion

import (
	"archive/zip"
	"bytes"
	"net/http"
	"path/filepath"
	"strings"
)

// Format identifies a document encoding the ingestor can extract text from.
type Format string

// Supported formats.
const (
	FormatPDF      Format = "pdf"
	FormatText     Format = "txt"
	FormatMarkdown Format = "markdown"
	FormatDOCX     Format = "docx"
	FormatXLSX     Format = "xlsx"
	FormatUnknown  Format = ""
)

// extensionFormats maps lower-cased file extensions to formats.
var extensionFormats = map[string]Format{
	".pdf":      FormatPDF,
	".txt":      FormatText,
	".text":     FormatText,
	".log":      FormatText,
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".docx":     FormatDOCX,
	".xlsx":     FormatXLSX,
}

// SourceName returns the name a file on disk is ingested under: its
// absolute, slash-separated path. Files that share a base name in different
// directories therefore get distinct document ids.
func SourceName(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.ToSlash(filepath.Clean(path))
}

// SupportedExtension reports whether name carries an extension the
// ingestor recognises.
func SupportedExtension(name string) bool {
	_, ok := extensionFormats[strings.ToLower(filepath.Ext(name))]
	return ok
}

// DetectFormat infers the document format from its name, falling back to
// content sniffing when the name has no known extension. An extension that
// is present but unknown is never overridden by sniffing, so "photo.png"
// stays unsupported even if its bytes happen to look like text.
func DetectFormat(name string, data []byte) Format {
	ext := strings.ToLower(filepath.Ext(name))
	if f, ok := extensionFormats[ext]; ok {
		return f
	}
	if ext != "" {
		return FormatUnknown
	}
	return sniff(data)
}

// sniff classifies raw bytes by content type.
func sniff(data []byte) Format {
	ct := http.DetectContentType(data)
	switch {
	case strings.HasPrefix(ct, "application/pdf"):
		return FormatPDF
	case strings.HasPrefix(ct, "text/plain"):
		return FormatText
	case strings.HasPrefix(ct, "application/zip"):
		return sniffOOXML(data)
	default:
		return FormatUnknown
	}
}

// sniffOOXML looks inside a zip container for the part that identifies a
// Word or Excel document.
func sniffOOXML(data []byte) Format {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return FormatUnknown
	}
	for _, f := range zr.File {
		switch f.Name {
		case "word/document.xml":
			return FormatDOCX
		case "xl/workbook.xml":
			return FormatXLSX
		}
	}
	return FormatUnknown
}
