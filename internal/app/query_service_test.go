package app

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatpdf/internal/ai"
	"chatpdf/internal/budget"
)

type fakeCompleter struct {
	messages []ai.ChatMessage
	answer   string
	usage    ai.Usage
	err      error
}

func (f *fakeCompleter) Complete(_ context.Context, messages []ai.ChatMessage) (string, ai.Usage, error) {
	f.messages = messages
	return f.answer, f.usage, f.err
}

func newQueryEnv(t *testing.T) (*testEnv, *QueryService, *fakeCompleter) {
	t.Helper()
	env := newTestEnv(t, budget.Limits{}, IngestOptions{})
	env.mustIngest(t, "s1",
		upload("report.txt", "Penguins live near Antarctica. Penguins swim fast."),
		upload("other.txt", "Tigers hunt at night. Tigers rest by day."),
	)
	completer := &fakeCompleter{
		answer: "  Tigers hunt at night.  ",
		usage:  ai.Usage{PromptTokens: 120, CompletionTokens: 6, TotalTokens: 126},
	}
	svc := NewQueryService(env.store, env.batcher, completer, env.counter, 0, zerolog.Nop())
	return env, svc, completer
}

func TestAskWithoutLLMReturnsSnippets(t *testing.T) {
	_, svc, completer := newQueryEnv(t)

	res, err := svc.Ask(context.Background(), QueryInput{SessionID: "s1", Question: "tigers"})
	require.NoError(t, err)

	// two chunks in the session, small k values are raised to the floor
	assert.Equal(t, 8, res.K)
	require.Len(t, res.Sources, 2)
	assert.Equal(t, "other.txt", res.Sources[0].Source)
	assert.Equal(t, 1, res.Sources[0].Page)
	assert.Greater(t, res.Sources[0].Score, res.Sources[1].Score)
	assert.True(t, strings.HasPrefix(res.Answer, "other Tigers hunt at night."), res.Answer)
	assert.Contains(t, res.Answer, "\n\nreport Penguins")
	assert.Nil(t, res.Usage)
	assert.Nil(t, completer.messages)
}

func TestAskWithLLM(t *testing.T) {
	_, svc, completer := newQueryEnv(t)

	res, err := svc.Ask(context.Background(), QueryInput{SessionID: "s1", Question: "When do tigers hunt?", UseLLM: true, K: 20})
	require.NoError(t, err)

	assert.Equal(t, "Tigers hunt at night.", res.Answer)
	assert.Equal(t, 20, res.K)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 120, res.Usage.PromptTokens)
	assert.Positive(t, res.EstimatedPromptTokens)

	require.Len(t, completer.messages, 2)
	assert.Equal(t, "system", completer.messages[0].Role)
	assert.Equal(t, abstractiveSystem, completer.messages[0].Content)
	assert.Equal(t, "user", completer.messages[1].Role)
	assert.True(t, strings.HasPrefix(completer.messages[1].Content, "When do tigers hunt?"))
	assert.Contains(t, completer.messages[1].Content, "Tigers hunt at night.")
}

func TestAskExtractive(t *testing.T) {
	_, svc, completer := newQueryEnv(t)

	_, err := svc.Ask(context.Background(), QueryInput{SessionID: "s1", Question: "penguins", UseLLM: true, Extractive: true})
	require.NoError(t, err)
	assert.Equal(t, extractiveSystem, completer.messages[0].Content)
}

func TestAskErrors(t *testing.T) {
	env, svc, completer := newQueryEnv(t)
	ctx := context.Background()

	_, err := svc.Ask(ctx, QueryInput{Question: "anything"})
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = svc.Ask(ctx, QueryInput{SessionID: "s1", Question: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = svc.Ask(ctx, QueryInput{SessionID: "fresh", Question: "anything"})
	assert.ErrorIs(t, err, ErrNoDocuments)

	completer.err = &ai.BackendError{Op: "chat", Status: 401, Kind: ai.KindUnauthorized}
	_, err = svc.Ask(ctx, QueryInput{SessionID: "s1", Question: "tigers", UseLLM: true})
	var backendErr *ai.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, 401, backendErr.HTTPStatus())

	env.backend.fail = &ai.BackendError{Op: "embedding", Status: 503, Kind: ai.KindUpstream}
	_, err = svc.Ask(ctx, QueryInput{SessionID: "s1", Question: "tigers"})
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "embedding", backendErr.Op)
}
