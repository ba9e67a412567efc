package flashsr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// ArtifactRequest names a model file in a hub repository and the local
// directory it is cached in.
type ArtifactRequest struct {
	RepoID    string
	Revision  string
	Subfolder string
	Filename  string
	LocalDir  string
}

// LocalPath is where the artifact lives once fetched:
// <LocalDir>/<Subfolder>/<Filename>.
func (r ArtifactRequest) LocalPath() string {
	return filepath.Join(r.LocalDir, r.Subfolder, r.Filename)
}

// Fetcher resolves a model artifact to a local file, downloading it when it
// is not cached yet.
type Fetcher interface {
	Fetch(ctx context.Context, req ArtifactRequest) (string, error)
}

// HubFetcher downloads artifacts from a Hugging Face compatible hub.
type HubFetcher struct {
	BaseURL string
	Client  *http.Client
	Logger  zerolog.Logger
}

// NewHubFetcher returns a fetcher for baseURL using http.DefaultClient.
func NewHubFetcher(baseURL string, logger zerolog.Logger) *HubFetcher {
	return &HubFetcher{BaseURL: baseURL, Client: http.DefaultClient, Logger: logger}
}

func (f *HubFetcher) url(req ArtifactRequest) (string, error) {
	base, err := url.Parse(f.BaseURL)
	if err != nil {
		return "", fmt.Errorf("hub url: %w", err)
	}
	rev := req.Revision
	if rev == "" {
		rev = "main"
	}
	base.Path = path.Join(base.Path, req.RepoID, "resolve", rev, req.Subfolder, req.Filename)
	return base.String(), nil
}

// Fetch returns the cached path when the file exists, otherwise downloads it
// to a temp file and renames it into place.
func (f *HubFetcher) Fetch(ctx context.Context, req ArtifactRequest) (string, error) {
	destPath := req.LocalPath()
	if pathExists(destPath) {
		f.Logger.Debug().Str("path", destPath).Msg("Model artifact cached")
		return destPath, nil
	}
	src, err := f.url(req)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create models directory: %w", err)
	}

	tmpPath := destPath + ".tmp"
	defer os.Remove(tmpPath)

	f.Logger.Info().Str("repo", req.RepoID).Str("url", src).Msg("Starting model download")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to download model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download model: HTTP %d", resp.StatusCode)
	}

	totalSize := resp.ContentLength
	if totalSize <= 0 {
		f.Logger.Warn().Str("repo", req.RepoID).Msg("Content-Length not provided, progress tracking unavailable")
	}

	out, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	var writer io.Writer = out
	if totalSize > 0 {
		writer = io.MultiWriter(out, &progressWriter{
			total:   totalSize,
			file:    req.Filename,
			lastLog: time.Now(),
			logger:  f.Logger,
		})
	}

	if _, err := io.Copy(writer, resp.Body); err != nil {
		out.Close()
		return "", fmt.Errorf("failed to write model file: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to write model file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return "", fmt.Errorf("failed to move model file: %w", err)
	}

	f.Logger.Info().
		Str("repo", req.RepoID).
		Str("path", destPath).
		Float64("size_mb", float64(totalSize)/1024/1024).
		Msg("Model downloaded successfully")

	return destPath, nil
}

// progressWriter logs download progress at most every 2 seconds.
type progressWriter struct {
	total      int64
	downloaded int64
	lastLog    time.Time
	file       string
	logger     zerolog.Logger
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n := len(p)
	pw.downloaded += int64(n)

	now := time.Now()
	if now.Sub(pw.lastLog) >= 2*time.Second || pw.downloaded >= pw.total {
		pw.lastLog = now
		pw.logger.Info().
			Str("file", pw.file).
			Float64("percent", float64(pw.downloaded)/float64(pw.total)*100).
			Float64("downloaded_mb", float64(pw.downloaded)/1024/1024).
			Float64("total_mb", float64(pw.total)/1024/1024).
			Msg("Downloading model")
	}
	return n, nil
}
