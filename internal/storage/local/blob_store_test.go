package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_RequiresBaseDir(t *testing.T) {
	t.Parallel()
	_, err := New(Config{})
	require.Error(t, err)
}

func TestPutObject(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := s.PutObject(context.Background(), "plans/p1/page.html", "text/html", []byte("<html></html>"))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "plans/p1/page.html"), uri)

	data, err := os.ReadFile(filepath.Join(dir, "plans/p1/page.html"))
	require.NoError(t, err)
	require.Equal(t, "<html></html>", string(data))
}

func TestPutObject_RejectsTraversal(t *testing.T) {
	t.Parallel()
	s, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = s.PutObject(context.Background(), "../outside", "", []byte("x"))
	require.Error(t, err)
}

func TestPutObject_RequiresPath(t *testing.T) {
	t.Parallel()
	s, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = s.PutObject(context.Background(), "  ", "", []byte("x"))
	require.Error(t, err)
}
