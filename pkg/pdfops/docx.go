package pdfops

import (
	"io"

	"github.com/fumiama/go-docx"
)

// WriteDOCX writes pages as a Word document. Every page starts a new
// paragraph; pages after the first begin with a page break.
func WriteDOCX(w io.Writer, pages []string) error {
	doc := docx.New().WithDefaultTheme()
	for i, page := range pages {
		para := doc.AddParagraph()
		if i > 0 {
			para.AddPageBreaks()
		}
		if page != "" {
			para.AddText(page)
		}
	}
	_, err := doc.WriteTo(w)
	return err
}
