package dfu

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// IsURL reports whether a package argument should be fetched over HTTP.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Fetch downloads the firmware package at rawURL into dir and returns the
// local path. A package already present under the same name is reused.
// progress, if set, receives the bytes written so far and the expected
// total, which is -1 when the server does not say.
func Fetch(ctx context.Context, rawURL, dir string, progress func(written, total int64)) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("dfu: parsing package URL: %w", err)
	}
	name := path.Base(u.Path)
	if !strings.HasSuffix(name, ".zip") {
		return "", fmt.Errorf("dfu: package URL must name a .zip file, got %q", name)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("dfu: creating firmware dir: %w", err)
	}
	destPath := filepath.Join(dir, name)
	if info, err := os.Stat(destPath); err == nil && info.Size() > 0 {
		slog.Info("[DFU] package already downloaded", "path", destPath)
		return destPath, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("dfu: building request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("dfu: downloading package: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("dfu: download failed: HTTP %d", resp.StatusCode)
	}

	// Write to a temp file first so an interrupted download is never reused.
	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("dfu: creating temp file: %w", err)
	}

	pw := &progressWriter{
		writer:   f,
		total:    resp.ContentLength,
		progress: progress,
	}
	written, err := io.Copy(pw, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("dfu: writing package: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("dfu: moving package: %w", err)
	}
	slog.Info("[DFU] package downloaded", "path", destPath, "bytes", written)
	return destPath, nil
}

// progressWriter wraps an io.Writer and reports how much has been written.
type progressWriter struct {
	writer   io.Writer
	total    int64
	written  int64
	progress func(written, total int64)
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	if pw.progress != nil {
		pw.progress(pw.written, pw.total)
	}
	return n, err
}
