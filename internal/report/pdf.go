// Package report turns the analysis Markdown into a PDF with the charts
// appended one per page.
package report

import (
	"bytes"
	"fmt"
	"os"

	"github.com/go-pdf/fpdf"
	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/KaramelBytes/moodfolio/internal/logger"
	"github.com/KaramelBytes/moodfolio/internal/utils"
)

const (
	fontFamily = "Arial"
	baseSize   = 10.0
	lineHeight = 5.0
	pageWidth  = 190.0
)

// Render converts markdown to PDF bytes. Each image path is placed on its
// own page, scaled to the page width.
func Render(markdown string, images []string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 10)
	pdf.AddPage()
	pdf.SetFont(fontFamily, "", baseSize)

	source := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))
	r := &renderer{pdf: pdf, source: source, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	if err := ast.Walk(doc, r.walk); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	for _, img := range images {
		if _, err := os.Stat(img); err != nil {
			return nil, fmt.Errorf("chart image: %w", err)
		}
		pdf.AddPage()
		pdf.ImageOptions(img, 10, 15, pageWidth, 0, false, fpdf.ImageOptions{ImageType: "PNG", ReadDpi: true}, 0, "")
	}
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("build pdf: %w", err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderFile renders markdown and images to path.
func RenderFile(markdown string, images []string, path string, log logrus.FieldLogger) error {
	b, err := Render(markdown, images)
	if err != nil {
		return err
	}
	if err := utils.SafeWriteFile(path, b); err != nil {
		return err
	}
	logger.WithComponent(log, "report").WithFields(logrus.Fields{"path": path, "bytes": len(b), "images": len(images)}).Info("pdf written")
	return nil
}

type renderer struct {
	pdf       *fpdf.Fpdf
	source    []byte
	tr        func(string) string
	bold      bool
	italic    bool
	listLevel int
}

func (r *renderer) setFont() {
	style := ""
	if r.bold {
		style += "B"
	}
	if r.italic {
		style += "I"
	}
	r.pdf.SetFont(fontFamily, style, baseSize)
}

func (r *renderer) write(s string) { r.pdf.Write(lineHeight, r.tr(s)) }

func (r *renderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch n := n.(type) {
	case *ast.Heading:
		if entering {
			r.pdf.Ln(4)
			r.pdf.SetFont(fontFamily, "B", headingSize(n.Level))
		} else {
			r.pdf.Ln(8)
			r.setFont()
		}
	case *ast.Paragraph:
		if !entering && r.listLevel == 0 {
			r.pdf.Ln(7)
		}
	case *ast.Text:
		if entering {
			r.write(string(n.Segment.Value(r.source)))
			if n.SoftLineBreak() || n.HardLineBreak() {
				r.pdf.Ln(lineHeight)
			}
		}
	case *ast.Emphasis:
		if n.Level == 2 {
			r.bold = entering
		} else {
			r.italic = entering
		}
		r.setFont()
	case *ast.CodeSpan:
		if entering {
			r.pdf.SetFont("Courier", "", baseSize)
			for c := n.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					r.write(string(t.Segment.Value(r.source)))
				}
			}
			r.setFont()
			return ast.WalkSkipChildren, nil
		}
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if entering {
			r.codeBlock(n.Lines())
			return ast.WalkSkipChildren, nil
		}
	case *ast.List:
		if entering {
			r.listLevel++
		} else if r.listLevel--; r.listLevel == 0 {
			r.pdf.Ln(lineHeight + 2)
		}
	case *ast.ListItem:
		if entering {
			if n.PreviousSibling() != nil {
				r.pdf.Ln(lineHeight)
			}
			r.pdf.SetX(10 + float64(r.listLevel)*5)
			r.write("- ")
		}
	case *ast.ThematicBreak:
		if entering {
			r.pdf.Ln(2)
			r.pdf.Line(10, r.pdf.GetY(), 200, r.pdf.GetY())
			r.pdf.Ln(2)
		}
	}
	return ast.WalkContinue, nil
}

func (r *renderer) codeBlock(lines *text.Segments) {
	r.pdf.Ln(2)
	r.pdf.SetFont("Courier", "", baseSize-1)
	r.pdf.SetFillColor(245, 245, 245)
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		r.pdf.MultiCell(0, lineHeight, r.tr(string(seg.Value(r.source))), "", "L", true)
	}
	r.pdf.SetFillColor(255, 255, 255)
	r.setFont()
	r.pdf.Ln(2)
}

func headingSize(level int) float64 {
	switch level {
	case 1:
		return 16
	case 2:
		return 13
	case 3:
		return 11
	}
	return baseSize
}
