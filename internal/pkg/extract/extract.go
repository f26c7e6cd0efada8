// Package extract turns stored uploads into ordered page (or slide, or
// sheet) texts.
package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

var ErrUnsupported = errors.New("unsupported file type")

// Page is the text of one 1-based page, slide or sheet. Text may be empty.
type Page struct {
	Number int
	Text   string
}

type Extractor interface {
	Extract(path string) ([]Page, error)
}

type ExtractorFunc func(path string) ([]Page, error)

func (f ExtractorFunc) Extract(path string) ([]Page, error) {
	return f(path)
}

// Registry picks an extractor by lower-case file extension.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry registers the built-in extractor for every allowed extension;
// an empty list enables all of them.
func NewRegistry(allowed []string) *Registry {
	builtin := map[string]Extractor{
		".pdf":  ExtractorFunc(PDF),
		".pptx": ExtractorFunc(PPTX),
		".docx": ExtractorFunc(DOCX),
		".xlsx": ExtractorFunc(XLSX),
		".txt":  ExtractorFunc(Text),
		".md":   ExtractorFunc(Text),
	}
	r := &Registry{byExt: make(map[string]Extractor)}
	if len(allowed) == 0 {
		for ext, e := range builtin {
			r.Register(ext, e)
		}
		return r
	}
	for _, ext := range allowed {
		if e, ok := builtin[normalizeExt(ext)]; ok {
			r.Register(ext, e)
		}
	}
	return r
}

func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[normalizeExt(ext)] = e
}

func (r *Registry) Supports(name string) bool {
	_, ok := r.byExt[normalizeExt(filepath.Ext(name))]
	return ok
}

func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Extract reads path with the extractor registered for the extension of name.
func (r *Registry) Extract(path, name string) ([]Page, error) {
	ext := normalizeExt(filepath.Ext(name))
	e, ok := r.byExt[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	return e.Extract(path)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
