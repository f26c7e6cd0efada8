package ai

import (
	"context"
	"errors"
	"fmt"
)

// promptOverflowTokens is the prompt size above which an empty completion is
// reported as a context overflow rather than a malformed reply.
const promptOverflowTokens = 30000

var ErrNoMessages = errors.New("chat messages are empty")

func (c *Client) Complete(ctx context.Context, messages []ChatMessage) (string, Usage, error) {
	if len(messages) == 0 {
		return "", Usage{}, ErrNoMessages
	}

	payload := map[string]any{
		"messages": messages,
	}
	if c.cfg.Provider == ProviderOpenAI {
		payload["model"] = c.cfg.ChatModel
		payload["stream"] = false
	}

	raw, err := c.post(ctx, "chat", c.endpoint(c.cfg.ChatModel, "/chat/completions"), payload)
	if err != nil {
		return "", Usage{}, err
	}

	text, usage, err := ParseCompletion(raw)
	if err == nil {
		return text, usage, nil
	}
	if usage.PromptTokens > promptOverflowTokens && usage.CompletionTokens == 0 {
		return "", usage, &BackendError{
			Op:      "chat",
			Kind:    KindPromptTooLarge,
			Message: fmt.Sprintf("prompt is too large (%d tokens), the model produced no answer", usage.PromptTokens),
		}
	}
	return "", usage, &BackendError{Op: "chat", Kind: KindBadResponse, Message: err.Error(), Err: err}
}
