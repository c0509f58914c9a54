package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jobrover/jobrover/internal/scan"
)

func TestFetcher_Fetch(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jobs":[]}`))
	}))
	defer server.Close()

	f := New(Config{UserAgent: "scanengine-test"})
	resp, err := f.Fetch(context.Background(), scan.FetchRequest{URL: server.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"jobs":[]}`, string(resp.Body))
	require.Equal(t, "application/json", resp.Headers.Get("Content-Type"))
	require.Greater(t, resp.Duration, time.Duration(0))
}

func TestFetcher_ForwardsHeaders(t *testing.T) {
	t.Parallel()
	var gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := New(Config{})
	headers := http.Header{}
	headers.Set("Accept", "application/json")
	_, err := f.Fetch(context.Background(), scan.FetchRequest{URL: server.URL, Headers: headers})
	require.NoError(t, err)
	require.Equal(t, "application/json", gotAccept)
}

func TestFetcher_ServerError(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	f := New(Config{})
	_, err := f.Fetch(context.Background(), scan.FetchRequest{URL: server.URL})
	require.Error(t, err)
}

func TestFetcher_ContextCanceled(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(ctx, scan.FetchRequest{URL: server.URL})
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
