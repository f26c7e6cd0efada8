package app

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"chatpdf/internal/ai"
	"chatpdf/internal/budget"
	"chatpdf/internal/storage"
	"chatpdf/internal/vectorindex"
)

const (
	defaultTopK  = 5
	dynamicKUpTo = 10
	minDynamicK  = 8
)

// Completer is the chat backend.
type Completer interface {
	Complete(ctx context.Context, messages []ai.ChatMessage) (string, ai.Usage, error)
}

type QueryService struct {
	store      *storage.SessionStore
	embedder   Embedder
	completer  Completer
	counter    budget.Counter
	maxContext int
	logger     zerolog.Logger
}

func NewQueryService(
	store *storage.SessionStore,
	embedder Embedder,
	completer Completer,
	counter budget.Counter,
	maxContextTokens int,
	logger zerolog.Logger,
) *QueryService {
	if maxContextTokens <= 0 {
		maxContextTokens = budget.DefaultMaxContextTokens
	}
	return &QueryService{
		store:      store,
		embedder:   embedder,
		completer:  completer,
		counter:    counter,
		maxContext: maxContextTokens,
		logger:     logger.With().Str("component", "query").Logger(),
	}
}

type QueryInput struct {
	SessionID  string
	Question   string
	K          int
	UseLLM     bool
	Extractive bool
}

type SourceRef struct {
	Source string  `json:"source"`
	Page   int     `json:"page"`
	Score  float32 `json:"score"`
}

type QueryResult struct {
	SessionID string      `json:"session_id"`
	Answer    string      `json:"answer"`
	K         int         `json:"k"`
	Sources   []SourceRef `json:"sources"`
	Usage     *ai.Usage   `json:"usage,omitempty"`
	// EstimatedPromptTokens is the local count of the prompt sent to the model.
	EstimatedPromptTokens int `json:"estimated_prompt_tokens,omitempty"`
}

// Ask retrieves the passages closest to the question and, when UseLLM is set,
// has the chat backend answer from them.
func (s *QueryService) Ask(ctx context.Context, input QueryInput) (*QueryResult, error) {
	sessionID, err := requireSession(input.SessionID)
	if err != nil {
		return nil, err
	}
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	hits, k, err := s.retrieve(ctx, sessionID, question, input.K)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With().Str("session_id", sessionID).Logger()
	for rank, h := range hits {
		logger.Debug().Int("rank", rank+1).Str("source", h.Chunk.Source).Int("page", h.Chunk.Page).Float32("score", h.Score).Msg("hit")
	}

	result := &QueryResult{SessionID: sessionID, K: k, Sources: make([]SourceRef, len(hits))}
	contexts := make([]Context, len(hits))
	for i, h := range hits {
		result.Sources[i] = SourceRef{Source: h.Chunk.Source, Page: h.Chunk.Page, Score: h.Score}
		contexts[i] = Context{Source: h.Chunk.Source, Page: h.Chunk.Page, Text: h.Chunk.Text}
	}

	if !input.UseLLM {
		texts := make([]string, len(hits))
		for i, h := range hits {
			texts[i] = h.Chunk.Text
		}
		result.Answer = strings.Join(texts, "\n\n")
		return result, nil
	}

	messages := BuildRAGPrompt(question, contexts, input.Extractive, s.maxContext)
	answer, usage, err := s.completer.Complete(ctx, messages)
	if err != nil {
		return nil, err
	}

	prompt := make([]string, len(messages))
	for i, m := range messages {
		prompt[i] = m.Content
	}
	estimated := s.counter.Count(strings.Join(prompt, "\n"))
	diff := 0.0
	if usage.PromptTokens > 0 {
		diff = float64(abs(estimated-usage.PromptTokens)) / float64(usage.PromptTokens) * 100
	}
	logger.Info().
		Int("k", k).
		Int("estimated_prompt_tokens", estimated).
		Int("backend_prompt_tokens", usage.PromptTokens).
		Float64("difference_percent", diff).
		Msg("question answered")

	result.Answer = strings.TrimSpace(answer)
	result.Usage = &usage
	result.EstimatedPromptTokens = estimated
	return result, nil
}

// retrieve holds the session's read lock only while the index is loaded and
// searched.
func (s *QueryService) retrieve(ctx context.Context, sessionID, question string, k int) ([]vectorindex.Hit, int, error) {
	unlock := s.store.RLock(sessionID)
	defer unlock()

	idx, err := s.store.LoadIndex(sessionID)
	if err != nil {
		return nil, 0, err
	}
	if idx.Len() == 0 {
		return nil, 0, ErrNoDocuments
	}

	if k <= 0 {
		k = defaultTopK
	}
	if k <= dynamicKUpTo {
		total := 0
		for _, ch := range idx.Chunks() {
			if ch.Tokens > 0 {
				total += ch.Tokens
			} else {
				total += s.counter.Count(ch.Text)
			}
		}
		k = max(budget.OptimalK(idx.Len(), total, s.maxContext), minDynamicK)
	}

	query, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, 0, err
	}
	hits, err := idx.Search(query, k)
	if err != nil {
		return nil, 0, err
	}
	if len(hits) == 0 {
		return nil, 0, ErrEmptyResult
	}
	return hits, k, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
