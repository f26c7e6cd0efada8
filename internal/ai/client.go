package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	ProviderCloudflare = "cloudflare"
	ProviderOpenAI     = "openai"
)

type Config struct {
	Provider       string
	BaseURL        string
	AccountID      string
	APIKey         string
	EmbeddingModel string
	ChatModel      string
	Timeout        time.Duration
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Client talks to either the Cloudflare Workers AI REST API or an
// OpenAI-compatible endpoint for embeddings and chat completions.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderCloudflare
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Provider() string {
	return c.cfg.Provider
}

func (c *Client) endpoint(model, openAIPath string) string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	if c.cfg.Provider == ProviderOpenAI {
		return base + openAIPath
	}
	return fmt.Sprintf("%s/accounts/%s/ai/run/%s", base, c.cfg.AccountID, model)
}

func (c *Client) post(ctx context.Context, op, url string, payload any) ([]byte, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request failed: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build %s request failed: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := KindUpstream
		if isTimeout(err) {
			kind = KindTimeout
		}
		return nil, &BackendError{Op: op, Kind: kind, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BackendError{Op: op, Status: resp.StatusCode, Kind: KindUpstream, Message: "read response failed", Err: err}
	}
	if resp.StatusCode >= 300 {
		return nil, &BackendError{
			Op:      op,
			Status:  resp.StatusCode,
			Kind:    kindForStatus(resp.StatusCode),
			Message: upstreamMessage(raw),
		}
	}
	return raw, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

const maxUpstreamMessageRunes = 500

// upstreamMessage pulls a readable message out of an error body.
func upstreamMessage(raw []byte) string {
	var body struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if len(body.Errors) > 0 && body.Errors[0].Message != "" {
			return body.Errors[0].Message
		}
		if len(body.Error) > 0 {
			var asString string
			if json.Unmarshal(body.Error, &asString) == nil {
				return asString
			}
			var asObject struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(body.Error, &asObject) == nil && asObject.Message != "" {
				return asObject.Message
			}
			return string(body.Error)
		}
	}
	text := strings.TrimSpace(string(raw))
	if utf8.RuneCountInString(text) > maxUpstreamMessageRunes {
		text = string([]rune(text)[:maxUpstreamMessageRunes])
	}
	return text
}
