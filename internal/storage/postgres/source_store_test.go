package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/jobrover/jobrover/internal/scan"
)

func TestSourceStore_ListSources(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSourceStore(mock)
	require.NoError(t, err)

	fp := scan.FingerprintResult{
		ATSType:        scan.ATSGreenhouse,
		ScrapeStrategy: scan.StrategyBoardAPI,
		ConnectorConfig: scan.ConnectorConfig{
			BoardToken: "acme",
			SourceURL:  "https://boards.greenhouse.io/acme",
		},
	}
	payload, err := json.Marshal(fp)
	require.NoError(t, err)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM sources WHERE user_id").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "name", "url", "fingerprint", "last_fingerprinted_at",
		}).
			AddRow("src-1", "u1", "Acme board", "https://boards.greenhouse.io/acme", payload, &at).
			AddRow("src-2", "u1", "Fresh source", "https://careers.example.com", []byte(nil), (*time.Time)(nil)))

	sources, err := store.ListSources(context.Background(), "u1", nil)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	require.Equal(t, fp, sources[0].Fingerprint)
	require.Equal(t, at, *sources[0].LastFingerprintedAt)
	require.Equal(t, scan.FingerprintResult{}, sources[1].Fingerprint, "unfingerprinted source stays zero")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceStore_ListSources_FilterByIDs(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSourceStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("AND id = ANY").
		WithArgs("u1", []string{"src-2"}).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "name", "url", "fingerprint", "last_fingerprinted_at",
		}).AddRow("src-2", "u1", "", "https://jobs.lever.co/acme", []byte(nil), (*time.Time)(nil)))

	sources, err := store.ListSources(context.Background(), "u1", []string{"src-2"})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Equal(t, "src-2", sources[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceStore_SaveFingerprint(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSourceStore(mock)
	require.NoError(t, err)

	fp := scan.FingerprintResult{ATSType: scan.ATSLever, ScrapeStrategy: scan.StrategyBoardAPI}
	payload, err := json.Marshal(fp)
	require.NoError(t, err)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE sources SET fingerprint").
		WithArgs("src-1", payload, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.SaveFingerprint(context.Background(), "src-1", fp, at))

	mock.ExpectExec("UPDATE sources SET fingerprint").
		WithArgs("missing", payload, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.Error(t, store.SaveFingerprint(context.Background(), "missing", fp, at))

	require.NoError(t, mock.ExpectationsWereMet())
}
