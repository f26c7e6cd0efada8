package app

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRAGPrompt(t *testing.T) {
	messages := BuildRAGPrompt("  What is new?  ", []Context{
		{Source: "a.pdf", Page: 1, Text: "First passage."},
		{Source: "a.pdf", Page: 2, Text: "   "},
		{Source: "b.pdf", Page: 1, Text: "Second passage."},
	}, false, 0)

	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, abstractiveSystem, messages[0].Content)
	assert.Equal(t, "What is new?\n\nPassages:\nFirst passage.\n\nSecond passage.", messages[1].Content)
}

func TestBuildRAGPromptWithoutContexts(t *testing.T) {
	messages := BuildRAGPrompt("Anything?", nil, true, 0)
	assert.Equal(t, extractiveSystem, messages[0].Content)
	assert.True(t, strings.HasSuffix(messages[1].Content, "Passages:\n(none available)"))
}

func TestBuildRAGPromptTruncates(t *testing.T) {
	// 200 tokens allow 600 characters of context.
	first := strings.Repeat("a", 100)
	second := strings.Repeat("b", 1000)
	third := strings.Repeat("c", 10)

	messages := BuildRAGPrompt("q", []Context{{Text: first}, {Text: second}, {Text: third}}, false, 200)
	body := messages[1].Content
	assert.Contains(t, body, first+"\n\n"+strings.Repeat("b", 300)+truncatedMarker)
	assert.NotContains(t, body, strings.Repeat("b", 301))
	assert.NotContains(t, body, third)

	// too little room left: the overflowing passage is dropped entirely
	messages = BuildRAGPrompt("q", []Context{{Text: strings.Repeat("a", 300)}, {Text: second}}, false, 200)
	assert.NotContains(t, messages[1].Content, "b")
	assert.NotContains(t, messages[1].Content, truncatedMarker)
}

func TestSearchHints(t *testing.T) {
	cases := []struct {
		question string
		contains []string
		empty    bool
	}{
		{question: "What does article 12 say?", contains: []string{"'Article 12'", "'Άρθρο 12'"}},
		{question: "Τι λέει το άρθρο 5;", contains: []string{"'Article 5'"}},
		{question: "Which main article covers this?", contains: []string{"laws, codes, provisions"}},
		{question: "GDP in Q2 2023", contains: []string{"specific period (2023, quarter)"}},
		{question: "Sales in 2021", contains: []string{"the year 2021"}},
		{question: "What was the growth rate?", contains: []string{"SEARCH HINTS: The question is about numeric data"}},
		{question: "Unemployment increase in 2022", contains: []string{"the year 2022", "statistics. The question is about numeric data"}},
		{question: "Who wrote this?", empty: true},
	}
	for _, tc := range cases {
		t.Run(tc.question, func(t *testing.T) {
			hint := searchHints(tc.question)
			if tc.empty {
				assert.Empty(t, hint)
				return
			}
			for _, want := range tc.contains {
				assert.Contains(t, hint, want)
			}
		})
	}
}
