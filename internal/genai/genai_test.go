package genai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/codefionn/cookiebridge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsUpdate(t *testing.T) {
	c := NewCredentials("seed=1", true)
	assert.Equal(t, "seed=1", c.CookieHeader())
	assert.Zero(t, c.Version())

	c.Update("a=1; b=2")
	assert.Equal(t, "a=1; b=2", c.CookieHeader())
	assert.Equal(t, uint64(1), c.Version())

	c.Update("")
	assert.Equal(t, "a=1; b=2", c.CookieHeader(), "empty headers are ignored")
}

func TestCredentialsDisabledIgnoresUpdates(t *testing.T) {
	c := NewCredentials("", false)
	c.Update("a=1")
	assert.Empty(t, c.CookieHeader())

	c.SetEnabled(true)
	assert.True(t, c.Enabled())
	c.Update("a=1")
	assert.Equal(t, "a=1", c.CookieHeader())

	c.Clear()
	assert.Empty(t, c.CookieHeader())
}

type capturedRequest struct {
	path   string
	cookie string
	auth   string
	body   map[string]any
}

func chatServer(t *testing.T, reply string) (*httptest.Server, func() []capturedRequest) {
	t.Helper()

	var (
		mu   sync.Mutex
		reqs []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		mu.Lock()
		reqs = append(reqs, capturedRequest{
			path:   r.URL.Path,
			cookie: r.Header.Get("Cookie"),
			auth:   r.Header.Get("Authorization"),
			body:   body,
		})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)

	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

func TestClientTranslateSendsCookieHeader(t *testing.T) {
	srv, requests := chatServer(t, "  Hello world \n")

	creds := NewCredentials("", true)
	creds.Update("sid=abc; theme=dark")

	client := NewClient(config.GenAIConfig{
		BaseURL:        srv.URL + "/v1",
		Model:          "test-model",
		TargetLanguage: "English",
	}, creds)

	out, err := client.Translate(context.Background(), "Hallo Welt")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", out)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.True(t, strings.HasSuffix(reqs[0].path, "/chat/completions"), reqs[0].path)
	assert.Equal(t, "sid=abc; theme=dark", reqs[0].cookie)
	assert.Equal(t, "test-model", reqs[0].body["model"])
}

func TestClientPicksUpNewCookies(t *testing.T) {
	srv, requests := chatServer(t, "ok")

	creds := NewCredentials("old=1", true)
	client := NewClient(config.GenAIConfig{BaseURL: srv.URL + "/v1/", Model: "m"}, creds)

	_, err := client.Translate(context.Background(), "one")
	require.NoError(t, err)
	creds.Update("new=2")
	_, err = client.Translate(context.Background(), "two")
	require.NoError(t, err)

	reqs := requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "old=1", reqs[0].cookie)
	assert.Equal(t, "new=2", reqs[1].cookie)
}

func TestClientAPIKeyWithoutCookies(t *testing.T) {
	srv, requests := chatServer(t, "ok")

	client := NewClient(config.GenAIConfig{BaseURL: srv.URL + "/v1", Model: "m", APIKey: "sk-test"}, nil)
	_, err := client.Translate(context.Background(), "text")
	require.NoError(t, err)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer sk-test", reqs[0].auth)
	assert.Empty(t, reqs[0].cookie)
}

func TestClientRequiresCredentials(t *testing.T) {
	client := NewClient(config.GenAIConfig{Model: "m"}, NewCredentials("", true))

	_, err := client.Translate(context.Background(), "text")
	assert.ErrorIs(t, err, ErrNoCredentials)

	out, err := client.Translate(context.Background(), "   ")
	assert.NoError(t, err)
	assert.Empty(t, out)
}
