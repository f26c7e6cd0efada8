package extract

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

var pdfCleaner = strings.NewReplacer("\u00ad", "", "\r", " ")

// PDF returns one entry per page. A page whose text cannot be decoded is kept
// with empty text so numbering stays aligned.
func PDF(path string) ([]Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size() == 0 {
		return nil, nil
	}

	reader, err := openPDF(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open pdf failed: %w", err)
	}

	numPages := reader.NumPage()
	pages := make([]Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		pages = append(pages, Page{Number: i, Text: pdfCleaner.Replace(pageText(reader, i))})
	}
	return pages, nil
}

// openPDF guards against the parser panicking on malformed input.
func openPDF(r io.ReaderAt, size int64) (reader *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reader, err = nil, fmt.Errorf("malformed pdf: %v", rec)
		}
	}()
	return pdf.NewReader(r, size)
}

func pageText(reader *pdf.Reader, i int) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	page := reader.Page(i)
	if page.V.IsNull() {
		return ""
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return text
}
