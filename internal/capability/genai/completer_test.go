package genai

import (
	"context"
	"testing"
	"time"

	gemini "github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jobrover/jobrover/internal/scan"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Config{}, zap.NewNop())
	require.Error(t, err)
}

func TestComplete_RequiresTimeout(t *testing.T) {
	t.Parallel()
	c, err := New(context.Background(), Config{APIKey: "test-key"}, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Complete(context.Background(), scan.CompletionRequest{Prompt: "hello"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "timeout is required")

	_, err = c.Complete(context.Background(), scan.CompletionRequest{Prompt: "hello", Timeout: -time.Second})
	require.Error(t, err)
}

func TestExtractText(t *testing.T) {
	t.Parallel()

	_, err := extractText(&gemini.GenerateContentResponse{})
	require.Error(t, err)

	resp := &gemini.GenerateContentResponse{
		Candidates: []*gemini.Candidate{{
			Content: &gemini.Content{
				Parts: []gemini.Part{gemini.Text("hello "), gemini.Text("world")},
			},
		}},
	}
	text, err := extractText(resp)
	require.NoError(t, err)
	require.Equal(t, "hello world", text)
}

func TestStripJSONFences(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want string
	}{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n[]\n```", "[]"},
		{"  {\"a\":1}  ", "{\"a\":1}"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, stripJSONFences(tc.in))
	}
}
