package artifacts

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/models"
)

func TestSaveAndGet(t *testing.T) {
	svc, err := NewService(t.TempDir(), arbor.NewLogger())
	require.NoError(t, err)

	relPath, err := svc.Save("ses_1", 2, "gen_a", []byte("png-bytes"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join("ses_1", "stage_2", "gen_a.png"), relPath)

	data, err := svc.Get(relPath)
	require.NoError(t, err)
	require.Equal(t, []byte("png-bytes"), data)
}

func TestGet_MissingAndEscaping(t *testing.T) {
	svc, err := NewService(t.TempDir(), arbor.NewLogger())
	require.NoError(t, err)

	t.Run("Missing file", func(t *testing.T) {
		_, err := svc.Get("ses_1/stage_1/gen_x.png")
		require.Error(t, err)
		require.True(t, models.IsKind(err, models.ErrNotFound))
	})

	t.Run("Path traversal rejected", func(t *testing.T) {
		_, err := svc.Get("../../../etc/passwd")
		require.Error(t, err)
		require.True(t, models.IsKind(err, models.ErrNotFound))
	})
}

func TestDeleteSession(t *testing.T) {
	svc, err := NewService(t.TempDir(), arbor.NewLogger())
	require.NoError(t, err)

	_, err = svc.Save("ses_1", 1, "gen_a", []byte("a"))
	require.NoError(t, err)
	_, err = svc.Save("ses_1", 2, "gen_b", []byte("b"))
	require.NoError(t, err)
	_, err = svc.Save("ses_2", 1, "gen_c", []byte("c"))
	require.NoError(t, err)

	count, err := svc.DeleteSession("ses_1")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	_, err = svc.Get(filepath.Join("ses_1", "stage_1", "gen_a.png"))
	require.Error(t, err)

	// Other sessions are untouched.
	data, err := svc.Get(filepath.Join("ses_2", "stage_1", "gen_c.png"))
	require.NoError(t, err)
	require.Equal(t, []byte("c"), data)

	t.Run("Unknown session deletes nothing", func(t *testing.T) {
		count, err := svc.DeleteSession("ses_ghost")
		require.NoError(t, err)
		require.Equal(t, 0, count)
	})
}

func TestDiskUsage(t *testing.T) {
	svc, err := NewService(t.TempDir(), arbor.NewLogger())
	require.NoError(t, err)

	_, err = svc.Save("ses_1", 1, "gen_a", []byte("12345"))
	require.NoError(t, err)
	_, err = svc.Save("ses_1", 1, "gen_b", []byte("123"))
	require.NoError(t, err)

	usage, err := svc.DiskUsage("ses_1")
	require.NoError(t, err)
	require.Equal(t, int64(8), usage)

	usage, err = svc.DiskUsage("ses_ghost")
	require.NoError(t, err)
	require.Equal(t, int64(0), usage)
}
