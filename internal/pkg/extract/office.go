package extract

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	pathpkg "path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

var slidePattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

const (
	presentationPart = "ppt/presentation.xml"
	presentationRels = "ppt/_rels/presentation.xml.rels"
)

// PPTX returns one entry per slide in deck order. Decks without a readable
// presentation part fall back to slide part numbers.
func PPTX(path string) ([]Page, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open pptx failed: %w", err)
	}
	defer archive.Close()

	files := make(map[string]*zip.File, len(archive.File))
	for _, f := range archive.File {
		files[f.Name] = f
	}

	order, err := deckOrder(files)
	if err != nil || len(order) == 0 {
		order = numberedSlides(files)
	}

	pages := make([]Page, 0, len(order))
	for i, name := range order {
		rc, err := files[name].Open()
		if err != nil {
			return nil, fmt.Errorf("open %s failed: %w", name, err)
		}
		paras, err := paragraphs(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("parse %s failed: %w", name, err)
		}
		pages = append(pages, Page{Number: i + 1, Text: strings.Join(paras, "\n")})
	}
	return pages, nil
}

// deckOrder resolves the slide id list of the presentation part to part names.
func deckOrder(files map[string]*zip.File) ([]string, error) {
	var pres struct {
		Slides []struct {
			RID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
		} `xml:"sldIdLst>sldId"`
	}
	if err := decodePart(files, presentationPart, &pres); err != nil {
		return nil, err
	}
	var rels struct {
		Items []struct {
			ID     string `xml:"Id,attr"`
			Target string `xml:"Target,attr"`
		} `xml:"Relationship"`
	}
	if err := decodePart(files, presentationRels, &rels); err != nil {
		return nil, err
	}

	targets := make(map[string]string, len(rels.Items))
	for _, r := range rels.Items {
		targets[r.ID] = r.Target
	}
	order := make([]string, 0, len(pres.Slides))
	for _, s := range pres.Slides {
		target, ok := targets[s.RID]
		if !ok {
			return nil, fmt.Errorf("slide relationship %q not found", s.RID)
		}
		name := strings.TrimPrefix(target, "/")
		if !strings.HasPrefix(name, "ppt/") {
			name = pathpkg.Join("ppt", name)
		}
		if _, ok := files[name]; !ok {
			return nil, fmt.Errorf("slide part %s missing", name)
		}
		order = append(order, name)
	}
	return order, nil
}

func numberedSlides(files map[string]*zip.File) []string {
	type slide struct {
		number int
		name   string
	}
	var slides []slide
	for name := range files {
		m := slidePattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		slides = append(slides, slide{number: n, name: name})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].number < slides[j].number })
	out := make([]string, len(slides))
	for i, s := range slides {
		out[i] = s.name
	}
	return out
}

func decodePart(files map[string]*zip.File, name string, v any) error {
	f, ok := files[name]
	if !ok {
		return fmt.Errorf("%s missing", name)
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return xml.NewDecoder(rc).Decode(v)
}

// DOCX has no page model; the whole body is page 1.
func DOCX(path string) ([]Page, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("open docx failed: %w", err)
	}
	defer r.Close()

	paragraphs, err := paragraphs(strings.NewReader(r.Editable().GetContent()))
	if err != nil {
		return nil, fmt.Errorf("parse docx failed: %w", err)
	}
	return []Page{{Number: 1, Text: strings.Join(paragraphs, "\n")}}, nil
}

// XLSX returns one entry per sheet: cells tab separated, rows on lines.
func XLSX(path string) ([]Page, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx failed: %w", err)
	}
	defer f.Close()

	var pages []Page
	for i, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q failed: %w", sheet, err)
		}
		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
			if line != "" {
				lines = append(lines, line)
			}
		}
		pages = append(pages, Page{Number: i + 1, Text: strings.Join(lines, "\n")})
	}
	return pages, nil
}

// paragraphs collects the text runs (<a:t>, <w:t>) of every paragraph
// (<a:p>, <w:p>) in an OOXML part. Empty paragraphs are dropped.
func paragraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var (
		out    []string
		cur    strings.Builder
		inText bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab", "br":
				cur.WriteByte(' ')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				flush()
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	flush()
	return out, nil
}
