package extract

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func slideXML(paragraphs ...string) string {
	body := ""
	for _, p := range paragraphs {
		body += `<a:p><a:r><a:t>` + p + `</a:t></a:r></a:p>`
	}
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">` +
		`<p:cSld><p:spTree><p:sp><p:txBody>` + body + `<a:p></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
}

func TestPPTXOrdersSlidesNumerically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.pptx")
	writeZip(t, path, map[string]string{
		"ppt/slides/slide10.xml":            slideXML("Tenth"),
		"ppt/slides/slide2.xml":             slideXML("Second", "More"),
		"ppt/slides/slide1.xml":             slideXML("Πρώτη διαφάνεια"),
		"ppt/slides/_rels/slide1.xml.rels":  `<Relationships/>`,
		"ppt/slideLayouts/slideLayout1.xml": slideXML("layout"),
	})

	pages, err := PPTX(path)
	require.NoError(t, err)
	assert.Equal(t, []Page{
		{Number: 1, Text: "Πρώτη διαφάνεια"},
		{Number: 2, Text: "Second\nMore"},
		{Number: 3, Text: "Tenth"},
	}, pages)
}

func TestPPTXFollowsPresentationOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reordered.pptx")
	writeZip(t, path, map[string]string{
		"ppt/presentation.xml": `<?xml version="1.0" encoding="UTF-8"?>` +
			`<p:presentation xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">` +
			`<p:sldIdLst><p:sldId id="257" r:id="rId3"/><p:sldId id="256" r:id="rId2"/><p:sldId id="258" r:id="rId4"/></p:sldIdLst>` +
			`</p:presentation>`,
		"ppt/_rels/presentation.xml.rels": `<?xml version="1.0" encoding="UTF-8"?>` +
			`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
			`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideMaster" Target="slideMasters/slideMaster1.xml"/>` +
			`<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide" Target="slides/slide1.xml"/>` +
			`<Relationship Id="rId3" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide" Target="slides/slide2.xml"/>` +
			`<Relationship Id="rId4" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide" Target="/ppt/slides/slide10.xml"/>` +
			`</Relationships>`,
		"ppt/slides/slide1.xml":  slideXML("Moved to second"),
		"ppt/slides/slide2.xml":  slideXML("Opening"),
		"ppt/slides/slide10.xml": slideXML("Closing"),
	})

	pages, err := PPTX(path)
	require.NoError(t, err)
	assert.Equal(t, []Page{
		{Number: 1, Text: "Opening"},
		{Number: 2, Text: "Moved to second"},
		{Number: 3, Text: "Closing"},
	}, pages)
}

func TestPPTXFallsBackWhenRelationshipMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pptx")
	writeZip(t, path, map[string]string{
		"ppt/presentation.xml": `<p:presentation xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">` +
			`<p:sldIdLst><p:sldId id="256" r:id="rId9"/></p:sldIdLst></p:presentation>`,
		"ppt/_rels/presentation.xml.rels": `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"/>`,
		"ppt/slides/slide2.xml":           slideXML("Two"),
		"ppt/slides/slide1.xml":           slideXML("One"),
	})

	pages, err := PPTX(path)
	require.NoError(t, err)
	assert.Equal(t, []Page{{Number: 1, Text: "One"}, {Number: 2, Text: "Two"}}, pages)
}

func TestDOCX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "letter.docx")
	writeZip(t, path, map[string]string{
		"word/document.xml": `<?xml version="1.0" encoding="UTF-8"?>` +
			`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
			`<w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:tab/><w:t>world</w:t></w:r></w:p>` +
			`<w:p></w:p>` +
			`<w:p><w:r><w:t xml:space="preserve">Second line </w:t></w:r></w:p>` +
			`</w:body></w:document>`,
		"word/_rels/document.xml.rels": `<Relationships/>`,
	})

	pages, err := DOCX(path)
	require.NoError(t, err)
	assert.Equal(t, []Page{{Number: 1, Text: "Hello world\nSecond line"}}, pages)
}

func TestXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sheet.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "name"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "value"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "alpha"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 42))
	_, err := f.NewSheet("Empty")
	require.NoError(t, err)
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	pages, err := XLSX(path)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, Page{Number: 1, Text: "name\tvalue\nalpha\t42"}, pages[0])
	assert.Equal(t, Page{Number: 2, Text: ""}, pages[1])
}

func TestText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("\ufeff# Title\nbody"), 0o644))

	pages, err := Text(path)
	require.NoError(t, err)
	assert.Equal(t, []Page{{Number: 1, Text: "# Title\nbody"}}, pages)
}

func TestPDFRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf at all"), 0o644))

	_, err := PDF(path)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry([]string{".pdf", "TXT"})
	assert.Equal(t, []string{".pdf", ".txt"}, r.Extensions())
	assert.True(t, r.Supports("Report.PDF"))
	assert.False(t, r.Supports("slides.pptx"))

	_, err := r.Extract("/nowhere", "slides.pptx")
	assert.ErrorIs(t, err, ErrUnsupported)

	r.Register(".pptx", ExtractorFunc(func(string) ([]Page, error) {
		return []Page{{Number: 1, Text: "stub"}}, nil
	}))
	pages, err := r.Extract("/nowhere", "slides.PPTX")
	require.NoError(t, err)
	assert.Equal(t, "stub", pages[0].Text)
}
