package videos

import (
	"errors"
	"strings"
)

var (
	// ErrDownloadFailed indicates the source video could not be fetched.
	ErrDownloadFailed = errors.New("video download failed")
	// ErrDownloaderUnavailable indicates no downloader is configured.
	ErrDownloaderUnavailable = errors.New("video downloader unavailable")
	// ErrSourceNotAllowed indicates the URL points outside the allowed hosts.
	ErrSourceNotAllowed = errors.New("video source host not allowed")
	// ErrNoFrames indicates ffmpeg produced no frames for the video.
	ErrNoFrames = errors.New("no frames extracted")
)

// CleanupError aggregates failures to remove the temporary files of one
// acquisition run.
type CleanupError struct {
	Errs []error
}

func (e *CleanupError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return "cleanup: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the individual removal errors to errors.Is and errors.As.
func (e *CleanupError) Unwrap() []error {
	return e.Errs
}
