package exportfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultFetchRate throttles remote binary fetches (requests per second).
	DefaultFetchRate = 4.0
	maxFetchBytes    = 64 << 20
	fetchTimeout     = 30 * time.Second
)

var ErrOutsideRoot = errors.New("path escapes root")

// Backend writes the vault under OutputRoot and reads local binaries from
// DataRoot. Remote sources are fetched over HTTP through Limiter.
type Backend struct {
	OutputRoot string
	DataRoot   string
	Client     *http.Client
	Limiter    *rate.Limiter
}

func NewBackend(outputRoot, dataRoot string, fetchRate float64) *Backend {
	if fetchRate <= 0 {
		fetchRate = DefaultFetchRate
	}
	return &Backend{
		OutputRoot: outputRoot,
		DataRoot:   dataRoot,
		Client:     &http.Client{Timeout: fetchTimeout},
		Limiter:    rate.NewLimiter(rate.Limit(fetchRate), 1),
	}
}

func (b *Backend) CreateFolder(ctx context.Context, folder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := resolveUnder(b.OutputRoot, folder)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create folder %s: %w", folder, err)
	}
	return nil
}

// UploadFile stores data as folder/filename. With overwrite false an
// existing file is left untouched.
func (b *Backend) UploadFile(ctx context.Context, data []byte, filename, folder string, overwrite bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if filename == "" || strings.ContainsAny(filename, `/\`) {
		return fmt.Errorf("upload %q: invalid file name", filename)
	}
	dir, err := resolveUnder(b.OutputRoot, folder)
	if err != nil {
		return err
	}
	target := filepath.Join(dir, filename)
	if !overwrite {
		if _, err := os.Stat(target); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("stat %s: %w", target, err)
		}
	}
	if err := atomicWriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("upload %s: %w", filepath.ToSlash(filepath.Join(folder, filename)), err)
	}
	return nil
}

// FetchBinary returns the bytes behind source: an http(s) URL or a path
// relative to DataRoot. The URL-unescaped form of a local path is tried too.
func (b *Backend) FetchBinary(ctx context.Context, source string) ([]byte, error) {
	if isRemote(source) {
		return b.fetchRemote(ctx, source)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := []string{source}
	if unescaped, err := url.PathUnescape(source); err == nil && unescaped != source {
		candidates = append(candidates, unescaped)
	}

	var lastErr error
	for _, candidate := range candidates {
		path, err := resolveUnder(b.DataRoot, strings.TrimPrefix(candidate, "/"))
		if err != nil {
			lastErr = err
			continue
		}
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetch %s: %w", source, lastErr)
}

func (b *Backend) fetchRemote(ctx context.Context, source string) ([]byte, error) {
	if b.Limiter != nil {
		if err := b.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", source, err)
	}
	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", source, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", source, err)
	}
	if len(data) > maxFetchBytes {
		return nil, fmt.Errorf("fetch %s: body exceeds %d bytes", source, maxFetchBytes)
	}
	return data, nil
}

// SetFileTimes applies the record's timestamps to a vault file. Zero times
// are ignored.
func (b *Backend) SetFileTimes(relPath string, created, modified time.Time) error {
	path, err := resolveUnder(b.OutputRoot, relPath)
	if err != nil {
		return err
	}
	mtime := modified
	if mtime.IsZero() {
		mtime = created
	}
	if mtime.IsZero() {
		return nil
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		return err
	}
	return setFileCreationTime(path, created)
}

// DetectFileExtensionFromContent sniffs data and returns a dotted extension
// or "" when the type is unknown.
func DetectFileExtensionFromContent(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	sniffLen := len(data)
	if sniffLen > 512 {
		sniffLen = 512
	}

	mimeType := strings.TrimSpace(http.DetectContentType(data[:sniffLen]))
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	mimeType = strings.ToLower(mimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		return ""
	}

	preferredExt := map[string]string{
		"image/jpeg":    ".jpg",
		"image/png":     ".png",
		"image/gif":     ".gif",
		"image/webp":    ".webp",
		"image/svg+xml": ".svg",
		"image/bmp":     ".bmp",
		"video/webm":    ".webm",
		"audio/mpeg":    ".mp3",
		"audio/ogg":     ".ogg",
	}
	if ext, ok := preferredExt[mimeType]; ok {
		return ext
	}

	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	sort.Strings(exts)
	return exts[0]
}

func isRemote(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func resolveUnder(root, rel string) (string, error) {
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(absRoot, filepath.FromSlash(rel))
	inside, err := filepath.Rel(absRoot, joined)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", rel, ErrOutsideRoot)
	}
	return joined, nil
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := f.Name()

	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync data: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		return fmt.Errorf("set file permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	success = true
	return nil
}
