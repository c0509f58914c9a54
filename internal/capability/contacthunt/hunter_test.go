package contacthunt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jobrover/jobrover/internal/scan"
)

type fakeRenderer struct {
	pages map[string]string
}

func (r *fakeRenderer) Navigate(_ context.Context, url string) (scan.RenderResult, error) {
	html, ok := r.pages[url]
	if !ok {
		return scan.RenderResult{}, errors.New("render failed")
	}
	return scan.RenderResult{URL: url, HTML: html, StatusCode: 200}, nil
}

type fakeCompleter struct {
	response scan.CompletionResponse
	err      error
	prompt   string
}

func (c *fakeCompleter) Complete(_ context.Context, req scan.CompletionRequest) (scan.CompletionResponse, error) {
	c.prompt = req.Prompt
	if c.err != nil {
		return scan.CompletionResponse{}, c.err
	}
	return c.response, nil
}

func TestHuntContacts(t *testing.T) {
	t.Parallel()
	renderer := &fakeRenderer{pages: map[string]string{
		"https://example.com/about": "<html><body><h1>Our team</h1><p>Jordan Diaz, VP Engineering</p></body></html>",
	}}
	completer := &fakeCompleter{response: scan.CompletionResponse{
		Text:       `[{"name":"Jordan Diaz","title":"VP Engineering","email":"","profile_url":""},{"name":"  ","title":"ignored"}]`,
		TokensUsed: 321,
	}}
	h := New(renderer, completer, zap.NewNop())

	result, err := h.HuntContacts(context.Background(), "Example Corp", "example.com")
	require.NoError(t, err)
	require.Equal(t, int64(321), result.TokensUsed)
	require.Len(t, result.Contacts, 1, "blank names are dropped")
	require.Equal(t, "Jordan Diaz", result.Contacts[0].Name)
	require.Equal(t, "Example Corp", result.Contacts[0].Company)
	require.Contains(t, completer.prompt, "Jordan Diaz, VP Engineering", "page text feeds the prompt")
}

func TestHuntContacts_UnparseableOutputIsNotAnError(t *testing.T) {
	t.Parallel()
	completer := &fakeCompleter{response: scan.CompletionResponse{Text: "sorry, I cannot help", TokensUsed: 12}}
	h := New(&fakeRenderer{}, completer, zap.NewNop())

	result, err := h.HuntContacts(context.Background(), "Example Corp", "example.com")
	require.NoError(t, err)
	require.Empty(t, result.Contacts)
	require.Equal(t, int64(12), result.TokensUsed, "tokens are charged even for dropped output")
}

func TestHuntContacts_RenderFailureFallsBackToNameOnly(t *testing.T) {
	t.Parallel()
	completer := &fakeCompleter{response: scan.CompletionResponse{Text: "[]"}}
	h := New(&fakeRenderer{}, completer, zap.NewNop())

	result, err := h.HuntContacts(context.Background(), "Example Corp", "unreachable.test")
	require.NoError(t, err)
	require.Empty(t, result.Contacts)
	require.NotContains(t, completer.prompt, "Page text:")
}

func TestHuntContacts_CompleterError(t *testing.T) {
	t.Parallel()
	completer := &fakeCompleter{err: errors.New("model unavailable")}
	h := New(&fakeRenderer{}, completer, zap.NewNop())

	_, err := h.HuntContacts(context.Background(), "Example Corp", "")
	require.Error(t, err)
}

func TestHuntContacts_RequiresCompany(t *testing.T) {
	t.Parallel()
	h := New(&fakeRenderer{}, &fakeCompleter{}, zap.NewNop())
	_, err := h.HuntContacts(context.Background(), "", "example.com")
	require.Error(t, err)
}

func TestPageText(t *testing.T) {
	t.Parallel()
	html := `<html><head><style>body{}</style></head><body>
		<script>var x = "hidden";</script>
		<h1>Our   team</h1><p>Jordan <b>Diaz</b></p>
	</body></html>`
	require.Equal(t, "Our team Jordan Diaz", pageText(html))
}
