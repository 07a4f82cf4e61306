package genai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestClientConfig(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantBackend genai.Backend
		wantErr     bool
	}{
		{
			name:        "vertex backend wins when project and location set",
			cfg:         Config{APIKey: "k", Project: "p", Location: "us-central1"},
			wantBackend: genai.BackendVertexAI,
		},
		{
			name:        "gemini api key",
			cfg:         Config{APIKey: "k"},
			wantBackend: genai.BackendGeminiAPI,
		},
		{
			name:    "project without location",
			cfg:     Config{Project: "p"},
			wantErr: true,
		},
		{
			name:    "nothing configured",
			cfg:     Config{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := clientConfig(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBackend, got.Backend)
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	c := &Client{baseDelay: 100 * time.Millisecond, maxDelay: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, c.calculateBackoff(tt.attempt), "attempt %d", tt.attempt)
	}
}
