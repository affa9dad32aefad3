package exportfs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestUploadFileRespectsOverwriteFlag(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(t.TempDir(), t.TempDir(), 0)

	require.NoError(t, b.UploadFile(ctx, []byte("first"), "note.md", "w1/Scenes", false))
	require.NoError(t, b.UploadFile(ctx, []byte("second"), "note.md", "w1/Scenes", false))

	got, err := os.ReadFile(filepath.Join(b.OutputRoot, "w1", "Scenes", "note.md"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(got), "overwrite=false keeps the existing file")

	require.NoError(t, b.UploadFile(ctx, []byte("third"), "note.md", "w1/Scenes", true))
	got, err = os.ReadFile(filepath.Join(b.OutputRoot, "w1", "Scenes", "note.md"))
	require.NoError(t, err)
	assert.Equal(t, "third", string(got))

	entries, err := os.ReadDir(filepath.Join(b.OutputRoot, "w1", "Scenes"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestUploadFileRejectsEscapingPaths(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(t.TempDir(), t.TempDir(), 0)

	err := b.UploadFile(ctx, []byte("x"), "evil.md", "../outside", true)
	require.ErrorIs(t, err, ErrOutsideRoot)

	err = b.UploadFile(ctx, []byte("x"), "../evil.md", "w1", true)
	require.Error(t, err)

	require.ErrorIs(t, b.CreateFolder(ctx, "../../up"), ErrOutsideRoot)
}

func TestFetchBinaryReadsLocalAndUnescapedPaths(t *testing.T) {
	ctx := context.Background()
	data := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(data, "maps"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(data, "maps", "old town.png"), []byte("png"), 0o644))

	b := NewBackend(t.TempDir(), data, 0)

	got, err := b.FetchBinary(ctx, "maps/old town.png")
	require.NoError(t, err)
	assert.Equal(t, "png", string(got))

	got, err = b.FetchBinary(ctx, "/maps/old%20town.png")
	require.NoError(t, err)
	assert.Equal(t, "png", string(got))

	_, err = b.FetchBinary(ctx, "maps/missing.png")
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = b.FetchBinary(ctx, "../../etc/passwd")
	require.ErrorIs(t, err, ErrOutsideRoot)
}

func TestFetchBinaryRemoteUsesLimiterAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("remote-bytes"))
	}))
	defer srv.Close()

	b := NewBackend(t.TempDir(), t.TempDir(), 0)
	b.Client = srv.Client()

	got, err := b.FetchBinary(context.Background(), srv.URL+"/token.png")
	require.NoError(t, err)
	assert.Equal(t, "remote-bytes", string(got))

	_, err = b.FetchBinary(context.Background(), srv.URL+"/missing.png")
	require.Error(t, err)

	b.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	require.True(t, b.Limiter.Allow())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = b.FetchBinary(ctx, srv.URL+"/token.png")
	require.Error(t, err, "an exhausted limiter must not let the request through before the deadline")
}

func TestSetFileTimesAppliesModifiedTime(t *testing.T) {
	b := NewBackend(t.TempDir(), t.TempDir(), 0)
	require.NoError(t, b.UploadFile(context.Background(), []byte("x"), "a.md", "w", true))

	modified := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, b.SetFileTimes("w/a.md", time.Time{}, modified))

	info, err := os.Stat(filepath.Join(b.OutputRoot, "w", "a.md"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(modified))

	require.NoError(t, b.SetFileTimes("w/a.md", time.Time{}, time.Time{}))
}

func TestDetectFileExtensionFromContent(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	assert.Equal(t, ".png", DetectFileExtensionFromContent(png))
	assert.Equal(t, ".gif", DetectFileExtensionFromContent([]byte("GIF89a....")))
	assert.Equal(t, "", DetectFileExtensionFromContent(nil))
	assert.Equal(t, "", DetectFileExtensionFromContent([]byte{0x00, 0x01, 0x02, 0x03}))
}
