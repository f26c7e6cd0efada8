package app

import (
	"regexp"
	"strings"

	"chatpdf/internal/ai"
)

const (
	charsPerToken     = 3
	truncationReserve = 200
	truncatedMarker   = "... [truncated]"
	notFoundReply     = "No relevant passage was found in the provided documents."
)

// Context is one retrieved passage handed to the prompt.
type Context struct {
	Source string
	Page   int
	Text   string
}

const abstractiveSystem = "You are an assistant that answers from the provided passages. " +
	"Give ONE clear and complete answer.\n" +
	"RULES: " +
	"1. Answer only once; do not repeat the answer in another form. " +
	"2. Do not use headings such as 'Answer:' or 'Conclusion:'. " +
	"3. Search the passages flexibly: for a specific term, number or date look for the exact phrase and close variants; for a general question look for related concepts. " +
	"4. If you find ANY relevant information in the passages, answer from it. " +
	"5. Only when there is truly nothing relevant, reply \"" + notFoundReply + "\"\n" +
	"Answer in the language of the question."

const extractiveSystem = "You are an extractive assistant. Reply only with verbatim passages, never paraphrase. " +
	"Search flexibly: when the question names something specific (a date, a number, a term) also look for similar or related phrases. " +
	"If you find ANY relevant information, return the exact passage. " +
	"Only when there is truly nothing relevant, reply \"" + notFoundReply + "\""

var (
	articlePattern = regexp.MustCompile(`(?:άρθρο|article)\s+(\d+)`)
	yearPattern    = regexp.MustCompile(`20\d{2}`)
	quarterPattern = regexp.MustCompile(`[αβγδ]'?\s*τρίμηνο|τρίμηνο\s*[1-4]|q[1-4]|quarter`)
	numericTerms   = []string{"ρυθμός", "ποσοστό", "αύξηση", "μείωση", "ανάπτυξη", "πτώση", "rate", "percent", "increase", "decrease", "growth", "%"}
	mainTerms      = []string{"κύρια", "κύριο", "main"}
)

// BuildRAGPrompt assembles the system and user messages for a question over
// the retrieved contexts. The context block is capped at
// maxContextTokens*3 characters.
func BuildRAGPrompt(question string, contexts []Context, extractive bool, maxContextTokens int) []ai.ChatMessage {
	question = strings.TrimSpace(question)
	if maxContextTokens <= 0 {
		maxContextTokens = 28000
	}
	maxChars := maxContextTokens * charsPerToken

	var (
		parts []string
		total int
	)
	for _, c := range contexts {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		runes := []rune(text)
		if total+len(runes) > maxChars {
			remaining := max(0, maxChars-total-truncationReserve)
			if remaining > truncationReserve {
				parts = append(parts, string(runes[:remaining])+truncatedMarker)
			}
			break
		}
		parts = append(parts, text)
		total += len(runes)
	}

	block := strings.Join(parts, "\n\n")
	if block == "" {
		block = "(none available)"
	}

	system := abstractiveSystem
	if extractive {
		system = extractiveSystem
	}

	return []ai.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: question + searchHints(question) + "\n\nPassages:\n" + block},
	}
}

func searchHints(question string) string {
	q := strings.ToLower(question)
	var hint strings.Builder

	if m := articlePattern.FindStringSubmatch(q); m != nil {
		hint.WriteString("\n\nSEARCH HINTS: look for 'Article " + m[1] + "' or 'Άρθρο " + m[1] + "' in the passages.")
	} else if (strings.Contains(q, "άρθρο") || strings.Contains(q, "article")) && containsAny(q, mainTerms) {
		hint.WriteString("\n\nSEARCH HINTS: look for laws, codes, provisions or references to legislation in the passages.")
	}

	year := yearPattern.FindString(q)
	switch {
	case year != "" && quarterPattern.MatchString(q):
		hint.WriteString("\n\nSEARCH HINTS: the question refers to a specific period (" + year + ", quarter). ")
		hint.WriteString("Look for '" + year + "', 'quarter', 'Q1/Q2/Q3/Q4', 'τρίμηνο', tables with statistics, figures, growth rates or any numeric data. ")
		hint.WriteString("Do not ignore relevant information because it lacks the exact phrase; search for the meaning.")
	case year != "":
		hint.WriteString("\n\nSEARCH HINTS: the question refers to the year " + year + ". Look for that year and related statistics.")
	}

	if containsAny(q, numericTerms) {
		if hint.Len() == 0 {
			hint.WriteString("\n\nSEARCH HINTS: ")
		} else {
			hint.WriteString(" ")
		}
		hint.WriteString("The question is about numeric data. Look for tables, statistics, percentages and figures in the passages.")
	}
	return hint.String()
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
