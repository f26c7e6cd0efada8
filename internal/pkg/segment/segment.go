// Package segment splits page text into word-bounded chunks that keep
// sentences whole where possible and carry a short source tag in front.
package segment

import (
	"strings"
	"unicode"
)

const (
	DefaultChunkSize       = 1200
	DefaultOverlap         = 200
	DefaultPrefixMaxTokens = 8
)

type Options struct {
	// ChunkSize is the word budget of one chunk, prefix included.
	ChunkSize int
	// Overlap is the word budget of the context carried into the next chunk.
	Overlap         int
	Prefix          string
	PrefixMaxTokens int
	// PreserveSentences packs whole sentences; when false a plain sliding
	// word window is used.
	PreserveSentences bool
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:         DefaultChunkSize,
		Overlap:           DefaultOverlap,
		PrefixMaxTokens:   DefaultPrefixMaxTokens,
		PreserveSentences: true,
	}
}

// PrefixWords returns the words of prefix that are prepended to every chunk.
func (o Options) PrefixWords() []string {
	limit := o.PrefixMaxTokens
	if limit < 0 {
		limit = 0
	}
	words := strings.Fields(o.Prefix)
	if len(words) > limit {
		words = words[:limit]
	}
	return words
}

// EffectiveSize is the number of text words left for a chunk once the prefix is accounted for.
func (o Options) EffectiveSize() int {
	size := o.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	size -= len(o.PrefixWords())
	if size < 1 {
		return 1
	}
	return size
}

func (o Options) overlap() int {
	if o.Overlap < 0 {
		return 0
	}
	return o.Overlap
}

// Split segments text into chunks. Empty or whitespace-only text yields nil.
func Split(text string, opts Options) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	prefix := opts.PrefixWords()
	size := opts.EffectiveSize()

	if !opts.PreserveSentences {
		return window(words, prefix, size, opts.overlap())
	}

	sentences := Sentences(strings.Join(words, " "))
	if len(sentences) <= 1 {
		return window(words, prefix, size, opts.overlap())
	}
	return pack(sentences, prefix, size, opts.overlap())
}

type sentence struct {
	text  string
	words int
}

func pack(raw []string, prefix []string, size, overlap int) []string {
	var (
		chunks  []string
		current []sentence
		length  int
		// fresh counts sentences added since the last flush; a chunk made
		// only of carried-over context is never emitted twice.
		fresh int
	)

	emit := func(parts []sentence) {
		texts := make([]string, len(parts))
		for i, s := range parts {
			texts[i] = s.text
		}
		chunks = append(chunks, render(prefix, strings.Join(texts, " ")))
	}

	for _, text := range raw {
		s := sentence{text: text, words: len(strings.Fields(text))}

		if length+s.words <= size {
			current = append(current, s)
			length += s.words
			fresh++
			continue
		}

		if fresh > 0 {
			emit(current)
		}

		if s.words > size {
			words := strings.Fields(s.text)
			for start := 0; start < len(words); start += size {
				end := min(start+size, len(words))
				chunks = append(chunks, render(prefix, strings.Join(words[start:end], " ")))
			}
			current, length, fresh = nil, 0, 0
			continue
		}

		current, length = carry(current, overlap, size-s.words)
		current = append(current, s)
		length += s.words
		fresh = 1
	}

	if fresh > 0 {
		emit(current)
	}
	return chunks
}

// carry returns the longest suffix of prev whose word count fits both the
// overlap budget and the room left beside the next sentence.
func carry(prev []sentence, overlap, room int) ([]sentence, int) {
	limit := min(overlap, room)
	if limit <= 0 {
		return nil, 0
	}
	total := 0
	start := len(prev)
	for i := len(prev) - 1; i >= 0; i-- {
		if total+prev[i].words > limit {
			break
		}
		total += prev[i].words
		start = i
	}
	if start == len(prev) {
		return nil, 0
	}
	out := make([]sentence, len(prev)-start)
	copy(out, prev[start:])
	return out, total
}

// window slides a fixed-size word window; the step is always at least one word.
func window(words []string, prefix []string, size, overlap int) []string {
	var chunks []string
	start := 0
	for start < len(words) {
		end := min(start+size, len(words))
		chunks = append(chunks, render(prefix, strings.Join(words[start:end], " ")))
		if end == len(words) {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

func render(prefix []string, body string) string {
	if len(prefix) == 0 {
		return body
	}
	return strings.Join(prefix, " ") + " " + body
}

// Sentences splits whitespace-collapsed text at '.', '!' or ';' followed by a
// space and an upper-case Latin or Greek letter.
func Sentences(text string) []string {
	runes := []rune(text)
	var (
		out   []string
		start int
	)
	for i := 0; i+2 < len(runes); i++ {
		if !isTerminal(runes[i]) || runes[i+1] != ' ' || !isSentenceStart(runes[i+2]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 2
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == ';'
}

func isSentenceStart(r rune) bool {
	return unicode.IsUpper(r) && (unicode.In(r, unicode.Latin) || unicode.In(r, unicode.Greek))
}
