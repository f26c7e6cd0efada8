package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmbeddings(t *testing.T) {
	cases := []struct {
		name string
		body string
		want [][]float32
	}{
		{"data objects", `{"data":[{"embedding":[1,2]},{"embedding":[3,4]}]}`, [][]float32{{1, 2}, {3, 4}}},
		{"cloudflare data arrays", `{"result":{"shape":[2,2],"data":[[1,2],[3,4]]},"success":true}`, [][]float32{{1, 2}, {3, 4}}},
		{"embeddings key", `{"result":{"embeddings":[[0.5,0.5]]}}`, [][]float32{{0.5, 0.5}}},
		{"bare array", `[[1,0],[0,1]]`, [][]float32{{1, 0}, {0, 1}}},
		{"single embedding", `{"embedding":[9,8,7]}`, [][]float32{{9, 8, 7}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseEmbeddings([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParseEmbeddings([]byte(`{"result":{"something":"else"}}`))
	assert.ErrorIs(t, err, ErrUnrecognizedResponse)
}

func TestParseCompletion(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"cloudflare response", `{"result":{"response":" hi ","usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}}`, "hi"},
		{"text field", `{"text":"hello"}`, "hello"},
		{"result string", `{"result":"plain"}`, "plain"},
		{"openai choices", `{"choices":[{"message":{"content":"from choices"}}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`, "from choices"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _, err := ParseCompletion([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, usage, err := ParseCompletion([]byte(`{"result":{"response":"","usage":{"prompt_tokens":31000,"completion_tokens":0,"total_tokens":31000}}}`))
	assert.ErrorIs(t, err, ErrUnrecognizedResponse)
	assert.Equal(t, 31000, usage.PromptTokens)
}

func newCloudflareServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(Config{
		Provider:       ProviderCloudflare,
		BaseURL:        srv.URL,
		AccountID:      "acc",
		APIKey:         "secret",
		EmbeddingModel: "@cf/baai/bge-m3",
		ChatModel:      "@cf/meta/llama",
		Timeout:        2 * time.Second,
	})
	return client, srv
}

func TestEmbedBatchCloudflare(t *testing.T) {
	client, _ := newCloudflareServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/acc/ai/run/@cf/baai/bge-m3", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Text []string `json:"text"`
		}
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, []string{"a", "b"}, payload.Text)

		_, _ = w.Write([]byte(`{"result":{"data":[[1,0],[0,1]]},"success":true}`))
	})

	vectors, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
}

func TestEmbedBatchCountMismatch(t *testing.T) {
	client, _ := newCloudflareServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"data":[[1,0]]}}`))
	})

	_, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	var backendErr *BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, KindBadResponse, backendErr.Kind)
}

func TestBackendErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusUnauthorized, KindUnauthorized},
		{http.StatusForbidden, KindUnauthorized},
		{http.StatusInternalServerError, KindUpstream},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			client, _ := newCloudflareServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"errors":[{"message":"upstream says no"}],"success":false}`))
			})

			_, err := client.EmbedBatch(context.Background(), []string{"a"})
			var backendErr *BackendError
			require.True(t, errors.As(err, &backendErr))
			assert.Equal(t, tc.status, backendErr.Status)
			assert.Equal(t, tc.kind, backendErr.Kind)
			assert.Equal(t, "upstream says no", backendErr.Message)
			assert.Equal(t, tc.status, backendErr.HTTPStatus())
			assert.NotEmpty(t, backendErr.UserMessage())
		})
	}
}

func TestCompleteOpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "gpt-test", payload["model"])

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"answer"}}],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`))
	}))
	defer srv.Close()

	client := NewClient(Config{Provider: ProviderOpenAI, BaseURL: srv.URL + "/v1/", ChatModel: "gpt-test"})
	text, usage, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "q"}})
	require.NoError(t, err)
	assert.Equal(t, "answer", text)
	assert.Equal(t, Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}, usage)
}

func TestCompletePromptTooLarge(t *testing.T) {
	client, _ := newCloudflareServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"response":null,"usage":{"prompt_tokens":32000,"completion_tokens":0,"total_tokens":32000}}}`))
	})

	_, _, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "q"}})
	var backendErr *BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, KindPromptTooLarge, backendErr.Kind)
	assert.Equal(t, http.StatusRequestEntityTooLarge, backendErr.HTTPStatus())

	_, _, err = client.Complete(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoMessages)
}

func TestTimeoutIsClassified(t *testing.T) {
	client, _ := newCloudflareServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`[]`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.EmbedBatch(ctx, []string{"a"})
	var backendErr *BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, KindTimeout, backendErr.Kind)
}

func TestUpstreamMessageTruncatesByRune(t *testing.T) {
	body := "  " + strings.Repeat("σφάλμα ", 200) + "  "

	msg := upstreamMessage([]byte(body))

	assert.True(t, utf8.ValidString(msg))
	assert.Equal(t, 500, utf8.RuneCountInString(msg))
	assert.True(t, strings.HasPrefix(msg, "σφάλμα σφάλμα"))
}

func TestUpstreamMessagePrefersStructuredErrors(t *testing.T) {
	assert.Equal(t, "bad model", upstreamMessage([]byte(`{"errors":[{"message":"bad model"}]}`)))
	assert.Equal(t, "quota", upstreamMessage([]byte(`{"error":"quota"}`)))
	assert.Equal(t, "nested", upstreamMessage([]byte(`{"error":{"message":"nested"}}`)))
	assert.Equal(t, "short body", upstreamMessage([]byte(" short body \n")))
}
