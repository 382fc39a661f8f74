package ingestion

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/54b3r/routerag-go/internal/fault"
)

// Page is one addressable unit of extracted text: a PDF page, a spreadsheet
// sheet, or the whole body of an unpaged document.
type Page struct {
	// Number is 1-based.
	Number int
	// Label names the page when the format has names (e.g. sheet titles).
	Label string
	// Text is the raw extracted text.
	Text string
}

// extractor turns document bytes into pages.
type extractor func(data []byte) ([]Page, error)

var extractors = map[Format]extractor{
	FormatPDF:      extractPDF,
	FormatText:     extractText,
	FormatMarkdown: extractMarkdown,
	FormatDOCX:     extractDOCX,
	FormatXLSX:     extractXLSX,
}

// Extract returns the text pages of a document. It fails with
// [fault.ErrUnsupportedFormat] when no extractor handles the format and with
// [fault.ErrUnreadableDocument] when extraction fails or yields no text.
func Extract(data []byte, name string) (Format, []Page, error) {
	format := DetectFormat(name, data)
	fn, ok := extractors[format]
	if !ok {
		return FormatUnknown, nil, fmt.Errorf("ingestion: %s: %w", name, fault.ErrUnsupportedFormat)
	}

	pages, err := safeExtract(fn, data)
	if err != nil {
		return format, nil, fmt.Errorf("ingestion: %s: %w: %w", name, err, fault.ErrUnreadableDocument)
	}

	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return format, pages, nil
		}
	}
	return format, nil, fmt.Errorf("ingestion: %s: no extractable text: %w", name, fault.ErrUnreadableDocument)
}

// safeExtract converts parser panics on malformed input into errors.
func safeExtract(fn extractor, data []byte) (pages []Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()
	return fn(data)
}

func extractPDF(data []byte) ([]Page, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	pages := make([]Page, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		txt, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("pdf page %d: %w", i, err)
		}
		pages = append(pages, Page{Number: i, Text: txt})
	}
	return pages, nil
}

func extractText(data []byte) ([]Page, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("text is not valid UTF-8")
	}
	return []Page{{Number: 1, Text: string(data)}}, nil
}

// markdown is the shared goldmark instance; GFM adds tables and strikethrough.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// extractMarkdown walks the goldmark AST and keeps only human-readable
// text, with a blank line after every block so paragraph boundaries
// survive into chunking.
func extractMarkdown(data []byte) ([]Page, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("markdown is not valid UTF-8")
	}
	doc := markdown.Parser().Parse(text.NewReader(data))

	var b strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument && n.Kind() != ast.KindList {
				b.WriteString("\n\n")
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(data))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.AutoLink:
			b.Write(node.Label(data))
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(data))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk markdown: %w", err)
	}
	return []Page{{Number: 1, Text: b.String()}}, nil
}

var (
	// docxParagraphEnd marks the end of a Word paragraph.
	docxParagraphEnd = regexp.MustCompile(`</w:p>`)
	// docxTab and docxBreak are inline whitespace elements.
	docxTab   = regexp.MustCompile(`<w:tab/>`)
	docxBreak = regexp.MustCompile(`<w:br[^>]*/>`)
	// xmlTag matches any remaining element.
	xmlTag = regexp.MustCompile(`<[^>]+>`)
)

func extractDOCX(data []byte) ([]Page, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	raw := r.Editable().GetContent()
	raw = docxParagraphEnd.ReplaceAllString(raw, "\n\n")
	raw = docxTab.ReplaceAllString(raw, " ")
	raw = docxBreak.ReplaceAllString(raw, "\n")
	raw = xmlTag.ReplaceAllString(raw, "")
	return []Page{{Number: 1, Text: html.UnescapeString(raw)}}, nil
}

func extractXLSX(data []byte) ([]Page, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var pages []Page
	for i, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", sheet, err)
		}
		var b strings.Builder
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, c := range row {
				if c = strings.TrimSpace(c); c != "" {
					cells = append(cells, c)
				}
			}
			if len(cells) > 0 {
				b.WriteString(strings.Join(cells, " | "))
				b.WriteString(".\n")
			}
		}
		// Sheets without a single filled cell yield no page.
		if b.Len() == 0 {
			continue
		}
		text := fmt.Sprintf("Sheet: %s\n\n%s", sheet, b.String())
		pages = append(pages, Page{Number: i + 1, Label: sheet, Text: text})
	}
	return pages, nil
}
