package vertex

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), Config{ProjectID: "proj", Location: "us-central1"},
		WithEndpoint(srv.URL),
		WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})),
		WithBaseDelay(time.Millisecond),
	)
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	ts := WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"}))

	_, err := NewClient(context.Background(), Config{Location: "us-central1"}, ts)
	assert.Error(t, err)

	_, err = NewClient(context.Background(), Config{ProjectID: "p"}, ts)
	assert.Error(t, err)

	c, err := NewClient(context.Background(), Config{ProjectID: "p", Location: "global"}, ts)
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, c.Model())
	assert.Equal(t, "https://aiplatform.googleapis.com", c.endpoint)
	assert.True(t, c.IsConfigured())
}

func TestComplete_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Contains(t, r.URL.Path, "/projects/proj/locations/us-central1/publishers/google/models/")

		raw, _ := io.ReadAll(r.Body)
		var req generateRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMimeType)
		assert.Equal(t, "explain", req.Contents[0].Parts[0].Text)

		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"explanation\":"},{"text":"\"ok\"}"}]}}],"usageMetadata":{"totalTokenCount":7}}`))
	})

	out, err := c.Complete(context.Background(), "explain")
	require.NoError(t, err)
	assert.Equal(t, `{"explanation":"ok"}`, out)
}

func TestGenerate_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"done"}]}}]}`))
	})

	res, err := c.Generate(context.Background(), GenerateRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenerate_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.Generate(context.Background(), GenerateRequest{Prompt: "p"})
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerate_SafetyBlock(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"finishReason":"SAFETY","content":{"parts":[]}}]}`))
	})

	_, err := c.Generate(context.Background(), GenerateRequest{Prompt: "p"})
	assert.ErrorContains(t, err, "safety")
}
