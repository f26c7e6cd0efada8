package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// container returns the object holding the payload: the "result" member when
// it is an object (Cloudflare envelope), otherwise the document itself.
func container(raw []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body: %w", ErrUnrecognizedResponse)
	}
	if trimmed[0] != '{' {
		return trimmed, nil
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("parse response json failed: %w", err)
	}
	if r := bytes.TrimSpace(envelope.Result); len(r) > 0 && (r[0] == '{' || r[0] == '[') {
		return r, nil
	}
	return trimmed, nil
}

// ParseEmbeddings extracts vectors trying, in order: data[].embedding,
// data as raw arrays, embeddings, a bare top-level array and a single
// "embedding" vector.
func ParseEmbeddings(raw []byte) ([][]float32, error) {
	body, err := container(raw)
	if err != nil {
		return nil, err
	}

	if body[0] == '[' {
		var vectors [][]float32
		if err := json.Unmarshal(body, &vectors); err == nil && len(vectors) > 0 {
			return vectors, nil
		}
		return nil, fmt.Errorf("top-level array is not a vector list: %w", ErrUnrecognizedResponse)
	}

	var shape struct {
		Data       json.RawMessage `json:"data"`
		Embeddings [][]float32     `json:"embeddings"`
		Embedding  []float32       `json:"embedding"`
	}
	if err := json.Unmarshal(body, &shape); err != nil {
		return nil, fmt.Errorf("parse embedding json failed: %w", err)
	}

	if len(shape.Data) > 0 {
		var rows []struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.Unmarshal(shape.Data, &rows); err == nil && len(rows) > 0 && len(rows[0].Embedding) > 0 {
			vectors := make([][]float32, len(rows))
			for i := range rows {
				vectors[i] = rows[i].Embedding
			}
			return vectors, nil
		}
		var vectors [][]float32
		if err := json.Unmarshal(shape.Data, &vectors); err == nil && len(vectors) > 0 {
			return vectors, nil
		}
	}
	if len(shape.Embeddings) > 0 {
		return shape.Embeddings, nil
	}
	if len(shape.Embedding) > 0 {
		return [][]float32{shape.Embedding}, nil
	}
	return nil, ErrUnrecognizedResponse
}

// ParseCompletion extracts the generated text from response, text, result or
// choices[0].message.content, together with the reported usage.
func ParseCompletion(raw []byte) (string, Usage, error) {
	body, err := container(raw)
	if err != nil {
		return "", Usage{}, err
	}
	if body[0] != '{' {
		return "", Usage{}, fmt.Errorf("completion is not an object: %w", ErrUnrecognizedResponse)
	}

	var shape struct {
		Response json.RawMessage `json:"response"`
		Text     json.RawMessage `json:"text"`
		Result   json.RawMessage `json:"result"`
		Choices  []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage Usage `json:"usage"`
	}
	if err := json.Unmarshal(body, &shape); err != nil {
		return "", Usage{}, fmt.Errorf("parse completion json failed: %w", err)
	}

	usage := shape.Usage
	if usage == (Usage{}) {
		var outer struct {
			Usage Usage `json:"usage"`
		}
		if json.Unmarshal(raw, &outer) == nil {
			usage = outer.Usage
		}
	}

	for _, field := range []json.RawMessage{shape.Response, shape.Text, shape.Result} {
		if text := stringField(field); text != "" {
			return text, usage, nil
		}
	}
	if len(shape.Choices) > 0 {
		if text := strings.TrimSpace(shape.Choices[0].Message.Content); text != "" {
			return text, usage, nil
		}
	}
	return "", usage, ErrUnrecognizedResponse
}

func stringField(field json.RawMessage) string {
	if len(field) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(field, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}
