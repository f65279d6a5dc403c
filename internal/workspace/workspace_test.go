package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newWorkspace(t *testing.T) (*Workspace, string) {
	t.Helper()

	root := t.TempDir()
	ws, err := New(
		filepath.Join(root, "static", "uploads"),
		filepath.Join(root, "static", "predictions"),
		filepath.Join(root, "runs", "detect", "predict"),
		zap.NewNop(),
	)
	require.NoError(t, err)

	return ws, root
}

func TestResetClearsRunAndSlot(t *testing.T) {
	ws, root := newWorkspace(t)
	runs := filepath.Join(root, "runs", "detect", "predict")

	require.NoError(t, os.MkdirAll(filepath.Join(runs, "labels"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(runs, "old.jpg"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(ws.PredictionsDir(), "old.jpg"), []byte("x"), 0644))

	require.NoError(t, ws.Reset())

	assert.NoDirExists(t, runs)
	assert.DirExists(t, ws.PredictionsDir())

	current, err := ws.Current()
	require.NoError(t, err)
	assert.Empty(t, current)
}

func TestResetWithoutPriorState(t *testing.T) {
	ws, _ := newWorkspace(t)
	require.NoError(t, os.RemoveAll(ws.PredictionsDir()))

	require.NoError(t, ws.Reset())
	assert.DirExists(t, ws.PredictionsDir())
}

func TestSaveUploadGeneratesName(t *testing.T) {
	ws, _ := newWorkspace(t)

	name, path, err := ws.SaveUpload("../../etc/Holiday.JPG", strings.NewReader("image-bytes"))
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(name, ".jpg"))
	assert.NotContains(t, name, "Holiday")
	assert.Equal(t, filepath.Join(ws.UploadDir(), name), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(data))
}

func TestSaveUploadSameNameDoesNotCollide(t *testing.T) {
	ws, _ := newWorkspace(t)

	first, _, err := ws.SaveUpload("a.png", strings.NewReader("1"))
	require.NoError(t, err)
	second, _, err := ws.SaveUpload("a.png", strings.NewReader("2"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestPromoteAndCurrent(t *testing.T) {
	ws, root := newWorkspace(t)

	src := filepath.Join(root, "annotated.jpg")
	require.NoError(t, os.WriteFile(src, []byte("boxes"), 0644))

	name, err := ws.Promote(src)
	require.NoError(t, err)
	assert.Equal(t, "annotated.jpg", name)

	current, err := ws.Current()
	require.NoError(t, err)
	assert.Equal(t, "annotated.jpg", current)

	path, err := ws.PredictionPath(current)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "boxes", string(data))
}

func TestLookupRejectsTraversal(t *testing.T) {
	ws, root := newWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.txt"), []byte("s"), 0644))

	for _, name := range []string{"", ".", "..", "../secret.txt", "../../secret.txt", `..\secret.txt`} {
		_, err := ws.UploadPath(name)
		assert.ErrorIs(t, err, ErrNotFound, name)
	}
}

func TestLookupMissingFile(t *testing.T) {
	ws, _ := newWorkspace(t)

	_, err := ws.PredictionPath("nothing.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
}
