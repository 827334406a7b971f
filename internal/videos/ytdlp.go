package videos

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/reelscout/backend/internal/command"
)

// YTDLPDownloader downloads post pages with the yt-dlp CLI tool.
type YTDLPDownloader struct {
	Binary  string
	Args    []string
	Run     command.Runner
	Timeout time.Duration
}

// NewYTDLPDownloader constructs a Downloader that shells out to yt-dlp.
func NewYTDLPDownloader(binary string, timeout time.Duration) *YTDLPDownloader {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &YTDLPDownloader{
		Binary:  binary,
		Args:    []string{"--no-warnings", "--no-playlist", "--quiet", "-f", "mp4/best", "--force-overwrites"},
		Run:     command.Exec,
		Timeout: timeout,
	}
}

// Download fetches url into dest and returns the file size.
func (d *YTDLPDownloader) Download(ctx context.Context, url, dest string) (int64, error) {
	if d == nil {
		return 0, ErrDownloaderUnavailable
	}
	if d.Run == nil {
		d.Run = command.Exec
	}

	execCtx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	args := append([]string{}, d.Args...)
	args = append(args, "-o", dest, url)

	if _, err := d.Run(execCtx, d.Binary, args...); err != nil {
		return 0, fmt.Errorf("%w: yt-dlp: %v", ErrDownloadFailed, err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return 0, fmt.Errorf("%w: yt-dlp produced no file: %v", ErrDownloadFailed, err)
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("%w: yt-dlp produced an empty file", ErrDownloadFailed)
	}
	return info.Size(), nil
}
