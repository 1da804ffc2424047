package convert

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// BuiltinConverter extracts text in process, with no external service. It
// reads PDF and OOXML Word documents; legacy .doc files and images need the
// remote converter, so those items fail individually.
type BuiltinConverter struct{}

// NewBuiltinConverter constructs a BuiltinConverter.
func NewBuiltinConverter() *BuiltinConverter {
	return &BuiltinConverter{}
}

func (*BuiltinConverter) Convert(ctx context.Context, items []Item) ([]Result, error) {
	out := make([]Result, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = convertLocal(item)
	}
	return out, nil
}

// convertLocal routes one item by magic bytes. PDF files always open with
// %PDF and OOXML documents are zip archives.
func convertLocal(item Item) Result {
	switch {
	case bytes.HasPrefix(item.Data, []byte("%PDF")):
		text, err := pdfText(item.Data)
		if err != nil {
			return Result{Err: err}
		}
		return Result{Text: text}
	case bytes.HasPrefix(item.Data, []byte("PK\x03\x04")):
		text, err := docxText(item.Data)
		if err != nil {
			return Result{Err: err}
		}
		return Result{Text: text}
	default:
		return Result{Err: fmt.Errorf("no local converter for %q", item.Name)}
	}
}

// pdfText walks every page and concatenates its plain text. The parser
// panics on some malformed files, so the recover turns those into errors.
func pdfText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var b strings.Builder
	for page := 1; page <= doc.NumPage(); page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("pdf page %d: %w", page, err)
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// wordDocument mirrors the parts of word/document.xml that carry text.
type wordDocument struct {
	Body struct {
		Paragraphs []wordParagraph `xml:"p"`
	} `xml:"body"`
}

type wordParagraph struct {
	Runs []wordRun `xml:"r"`
}

type wordRun struct {
	Text []wordText `xml:"t"`
}

type wordText struct {
	Content string `xml:",chardata"`
}

func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open document.xml: %w", err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("read document.xml: %w", err)
		}
		var doc wordDocument
		if err := xml.Unmarshal(content, &doc); err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		var b strings.Builder
		for i, para := range doc.Body.Paragraphs {
			if i > 0 {
				b.WriteString("\n")
			}
			for _, run := range para.Runs {
				for _, t := range run.Text {
					b.WriteString(t.Content)
				}
			}
		}
		return strings.TrimSpace(b.String()), nil
	}
	return "", errors.New("docx has no word/document.xml")
}
