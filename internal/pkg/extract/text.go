package extract

import (
	"os"
	"strings"
)

// Text reads a plain text or markdown file as a single page.
func Text(path string) ([]Page, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.ToValidUTF8(string(raw), "")
	text = strings.TrimPrefix(text, "\ufeff")
	return []Page{{Number: 1, Text: text}}, nil
}
