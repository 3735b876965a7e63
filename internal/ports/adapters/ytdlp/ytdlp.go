package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

type Adapter struct {
	bin      string
	attempts int
	backoff  time.Duration
}

func New(binPath string) *Adapter {
	if binPath == "" {
		binPath = "yt-dlp"
	}
	return &Adapter{bin: binPath, attempts: 3, backoff: 2 * time.Second}
}

// Download fetches url into outDir and returns the path of the media file.
// Failed attempts are retried with exponential backoff.
func (a *Adapter) Download(ctx context.Context, url, outDir string) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	args := downloadArgs(url, outDir)

	var lastErr error
	delay := a.backoff
	for attempt := 1; attempt <= a.attempts; attempt++ {
		cmd := exec.CommandContext(ctx, a.bin, args...)
		var stderr strings.Builder
		cmd.Stderr = &stderr
		out, err := cmd.Output()
		if err == nil {
			if p := lastLine(string(out)); p != "" {
				return p, nil
			}
			return findDownloaded(outDir)
		}
		lastErr = fmt.Errorf("yt-dlp failed: %w\n%s", err, tail(stderr.String(), 2000))
		if ctx.Err() != nil || attempt == a.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return "", lastErr
}

func downloadArgs(url, outDir string) []string {
	return []string{
		"-f", "best[ext=mp4]/best",
		"--no-playlist",
		"--restrict-filenames",
		"--no-progress",
		"-o", filepath.Join(outDir, "source.%(ext)s"),
		"--print", "after_move:filepath",
		url,
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func findDownloaded(outDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(outDir, "source.*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if !strings.HasSuffix(m, ".part") {
			return m, nil
		}
	}
	return "", errors.New("yt-dlp: downloaded file not found")
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
