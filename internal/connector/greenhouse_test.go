package connector

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jobrover/jobrover/internal/policy"
	"github.com/jobrover/jobrover/internal/scan"
)

const greenhouseBoardJSON = `{
  "jobs": [
    {
      "id": 4001,
      "title": "Backend Engineer",
      "absolute_url": "https://boards.greenhouse.io/acme/jobs/4001",
      "content": "Build services.",
      "first_published": "2025-05-01T09:00:00-04:00",
      "location": {"name": "Remote - US"}
    },
    {
      "id": 4002,
      "title": "Data Engineer",
      "absolute_url": "https://boards.greenhouse.io/acme/jobs/4002",
      "content": "Build pipelines.",
      "location": {"name": "New York"}
    }
  ]
}`

func greenhouseFixture() (*Greenhouse, *fakeFetcher) {
	fetcher := &fakeFetcher{responses: map[string]scan.FetchResponse{
		"https://boards-api.greenhouse.io/v1/boards/acme/jobs?content=true": jsonResponse(
			"https://boards-api.greenhouse.io/v1/boards/acme/jobs?content=true", greenhouseBoardJSON),
	}}
	return NewGreenhouse(fetcher, newFakeClock()), fetcher
}

func TestGreenhouse_Fetch(t *testing.T) {
	t.Parallel()
	g, _ := greenhouseFixture()

	result, err := g.Fetch(context.Background(), scan.ConnectorConfig{BoardToken: "acme"}, openBudget())
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Equal(t, 1, result.Pages)
	require.Len(t, result.Jobs, 2)

	first := result.Jobs[0]
	require.Equal(t, "4001", first.ExternalID)
	require.Equal(t, "Backend Engineer", first.Title)
	require.Equal(t, "acme", first.Company)
	require.Equal(t, scan.RemoteFully, first.Remote)
	require.Equal(t, scan.JobOpen, first.State)
	require.NotNil(t, first.PostedAt)
	require.Equal(t, "2025-05-01T13:00:00Z", first.PostedAt.Format("2006-01-02T15:04:05Z"))
	require.Len(t, first.DedupeKey, 32)
	require.NotEqual(t, first.DedupeKey, result.Jobs[1].DedupeKey)
}

func TestGreenhouse_JobBudgetStopsEnumeration(t *testing.T) {
	t.Parallel()
	g, _ := greenhouseFixture()
	budget := policy.New(scan.PolicyConstraints{MaxJobsPerSource: 1, RatePerDomain: 10_000}, newFakeClock())

	result, err := g.Fetch(context.Background(), scan.ConnectorConfig{BoardToken: "acme"}, budget)
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Len(t, result.Jobs, 1)
	require.NotEmpty(t, result.Errors)
}

func TestGreenhouse_PageBudgetExhausted(t *testing.T) {
	t.Parallel()
	g, fetcher := greenhouseFixture()
	budget := policy.New(scan.PolicyConstraints{MaxPagesPerSource: 1, RatePerDomain: 10_000}, newFakeClock())
	require.True(t, budget.Consume(policy.ResourcePages, "acme", 1))

	result, err := g.Fetch(context.Background(), scan.ConnectorConfig{BoardToken: "acme"}, budget)
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Empty(t, result.Jobs)
	require.Empty(t, fetcher.calls, "no fetch once the page budget is spent")
}

func TestGreenhouse_BlockedDomain(t *testing.T) {
	t.Parallel()
	g, _ := greenhouseFixture()
	budget := policy.New(scan.PolicyConstraints{
		BlockDomains:  []string{"boards-api.greenhouse.io"},
		RatePerDomain: 10_000,
	}, newFakeClock())

	_, err := g.Fetch(context.Background(), scan.ConnectorConfig{BoardToken: "acme"}, budget)
	require.ErrorIs(t, err, policy.ErrDomainNotAllowed)
}

func TestGreenhouse_Simulated(t *testing.T) {
	t.Parallel()
	g, fetcher := greenhouseFixture()
	budget := policy.New(scan.PolicyConstraints{Simulate: true, RatePerDomain: 10_000}, newFakeClock())

	result, err := g.Fetch(context.Background(), scan.ConnectorConfig{BoardToken: "acme"}, budget)
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Empty(t, fetcher.calls, "simulation must not touch the network")
	require.Equal(t, 1, result.Pages, "page budget is still charged")
}

func TestGreenhouse_MissingToken(t *testing.T) {
	t.Parallel()
	g, _ := greenhouseFixture()
	_, err := g.Fetch(context.Background(), scan.ConnectorConfig{}, openBudget())
	require.Error(t, err)
}

func TestGreenhouse_UpstreamError(t *testing.T) {
	t.Parallel()
	fetcher := &fakeFetcher{responses: map[string]scan.FetchResponse{
		"https://boards-api.greenhouse.io/v1/boards/acme/jobs?content=true": {
			StatusCode: http.StatusServiceUnavailable,
		},
	}}
	g := NewGreenhouse(fetcher, newFakeClock())
	_, err := g.Fetch(context.Background(), scan.ConnectorConfig{BoardToken: "acme"}, openBudget())
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 503")
}
