package ai

import (
	"context"
	"fmt"
)

// EmbedBatch sends one batch to the embedding model and returns one vector
// per input text, in order. Callers filter empty texts beforehand.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var payload map[string]any
	if c.cfg.Provider == ProviderOpenAI {
		payload = map[string]any{
			"model": c.cfg.EmbeddingModel,
			"input": texts,
		}
	} else {
		payload = map[string]any{
			"text": texts,
		}
	}

	raw, err := c.post(ctx, "embedding", c.endpoint(c.cfg.EmbeddingModel, "/embeddings"), payload)
	if err != nil {
		return nil, err
	}

	vectors, err := ParseEmbeddings(raw)
	if err != nil {
		return nil, &BackendError{Op: "embedding", Kind: KindBadResponse, Message: err.Error(), Err: err}
	}
	if len(vectors) != len(texts) {
		return nil, &BackendError{
			Op:      "embedding",
			Kind:    KindBadResponse,
			Message: fmt.Sprintf("got %d vectors for %d texts", len(vectors), len(texts)),
		}
	}
	return vectors, nil
}
