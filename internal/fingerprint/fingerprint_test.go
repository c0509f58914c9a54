package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jobrover/jobrover/internal/scan"
)

func TestDetect(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name         string
		url          string
		wantATS      scan.ATSType
		wantStrategy scan.ScrapeStrategy
	}{
		{"greenhouse board", "https://boards.greenhouse.io/acme", scan.ATSGreenhouse, scan.StrategyBoardAPI},
		{"greenhouse mixed case", "HTTPS://Boards.Greenhouse.IO/Acme", scan.ATSGreenhouse, scan.StrategyBoardAPI},
		{"lever board", "https://jobs.lever.co/acme", scan.ATSLever, scan.StrategyBoardAPI},
		{"lever eu", "https://jobs.eu.lever.co/acme", scan.ATSLever, scan.StrategyBoardAPI},
		{"workday", "https://acme.wd5.myworkdayjobs.com/External", scan.ATSWorkday, scan.StrategyDOMCrawl},
		{"ashby", "https://jobs.ashbyhq.com/acme", scan.ATSAshby, scan.StrategyDOMCrawl},
		{"unknown", "https://careers.example.com/openings", scan.UnknownATS, scan.StrategyDOMCrawl},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fp := Detect(tc.url)
			require.Equal(t, tc.wantATS, fp.ATSType)
			require.Equal(t, tc.wantStrategy, fp.ScrapeStrategy)
		})
	}
}

func TestDetect_ConnectorConfig(t *testing.T) {
	t.Parallel()
	fp := Detect("https://boards.greenhouse.io/acme/jobs/42")
	require.Equal(t, "acme", fp.ConnectorConfig.BoardToken)

	fp = Detect("https://jobs.lever.co/initech")
	require.Equal(t, "initech", fp.ConnectorConfig.Site)

	fp = Detect("https://careers.example.com/jobs")
	require.Empty(t, fp.ConnectorConfig.BoardToken)
	require.Empty(t, fp.ConnectorConfig.Site)
}

func TestDetect_Deterministic(t *testing.T) {
	t.Parallel()
	url := "https://boards.greenhouse.io/acme"
	first := Detect(url)
	second := Detect(url)
	require.Equal(t, first, second)
}

func TestDetectWithDOM(t *testing.T) {
	t.Parallel()

	// URL match wins; DOM is not consulted.
	fp := DetectWithDOM("https://jobs.lever.co/acme", `<div id="grnhse_app"></div>`)
	require.Equal(t, scan.ATSLever, fp.ATSType)

	// Unknown URL refined by DOM markers.
	fp = DetectWithDOM("https://careers.example.com", `<script src="https://boards.greenhouse.io/embed/job_board/js?for=acme">`)
	require.Equal(t, scan.ATSGreenhouse, fp.ATSType)

	fp = DetectWithDOM("https://careers.example.com", "<html><body>plain page</body></html>")
	require.Equal(t, scan.UnknownATS, fp.ATSType)
	require.Equal(t, scan.StrategyDOMCrawl, fp.ScrapeStrategy)
}

func TestDetect_InvalidURL(t *testing.T) {
	t.Parallel()
	fp := Detect("not a url ://")
	require.Equal(t, scan.UnknownATS, fp.ATSType)
	require.Equal(t, scan.StrategyDOMCrawl, fp.ScrapeStrategy)
}
