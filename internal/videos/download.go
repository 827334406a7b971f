package videos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const downloadUserAgent = "Mozilla/5.0"

// Downloader fetches a video into dest and reports the number of bytes
// written.
type Downloader interface {
	Download(ctx context.Context, url, dest string) (int64, error)
}

// DefaultAllowedHosts are the platform and CDN domains media is fetched from.
var DefaultAllowedHosts = []string{"instagram.com", "cdninstagram.com", "fbcdn.net"}

// HostAllowed reports whether rawURL is an http(s) URL whose host is one of
// hosts or a subdomain of one.
func HostAllowed(rawURL string, hosts []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return false
	}
	for _, allowed := range hosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// HTTPDownloader fetches direct media URLs. When AllowedHosts is set, URLs
// and redirects outside those hosts are refused.
type HTTPDownloader struct {
	Client       *http.Client
	Timeout      time.Duration
	AllowedHosts []string
}

// NewHTTPDownloader constructs an HTTPDownloader with the given timeout,
// restricted to allowedHosts when the list is non-empty.
func NewHTTPDownloader(timeout time.Duration, allowedHosts []string) *HTTPDownloader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	d := &HTTPDownloader{Timeout: timeout, AllowedHosts: allowedHosts}
	d.Client = &http.Client{CheckRedirect: d.checkRedirect}
	return d
}

func (d *HTTPDownloader) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	if len(d.AllowedHosts) > 0 && !HostAllowed(req.URL.String(), d.AllowedHosts) {
		return fmt.Errorf("%w: redirect to %s", ErrSourceNotAllowed, req.URL.Hostname())
	}
	return nil
}

// Download streams the response body of url into dest.
func (d *HTTPDownloader) Download(ctx context.Context, rawURL, dest string) (int64, error) {
	if d == nil {
		return 0, ErrDownloaderUnavailable
	}
	if len(d.AllowedHosts) > 0 && !HostAllowed(rawURL, d.AllowedHosts) {
		return 0, ErrSourceNotAllowed
	}
	client := d.Client
	if client == nil {
		client = &http.Client{CheckRedirect: d.checkRedirect}
	}

	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	req.Header.Set("User-Agent", downloadUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, ErrSourceNotAllowed) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		return n, fmt.Errorf("%w: %v", ErrDownloadFailed, copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("close %s: %w", dest, closeErr)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: empty body", ErrDownloadFailed)
	}
	return n, nil
}

// RoutingDownloader sends post-page URLs to Pages and everything else to
// Direct.
type RoutingDownloader struct {
	Direct Downloader
	Pages  Downloader
}

// Download implements Downloader.
func (r RoutingDownloader) Download(ctx context.Context, rawURL, dest string) (int64, error) {
	target := r.Direct
	if IsPostPage(rawURL) && r.Pages != nil {
		target = r.Pages
	}
	if target == nil {
		return 0, ErrDownloaderUnavailable
	}
	return target.Download(ctx, rawURL, dest)
}

// IsPostPage reports whether rawURL points at a platform post page rather
// than a media file.
func IsPostPage(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != "instagram.com" {
		return false
	}
	for _, prefix := range []string{"/reel/", "/reels/", "/p/", "/tv/"} {
		if strings.HasPrefix(u.Path, prefix) {
			return true
		}
	}
	return false
}
