package videos

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestYTDLPDownloaderDownload(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "ig_1.mp4")

	downloader := NewYTDLPDownloader("yt-dlp", time.Second)
	downloader.Run = func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		wantArgs := []string{"--no-warnings", "--no-playlist", "--quiet", "-f", "mp4/best", "--force-overwrites", "-o", dest, "https://www.instagram.com/reel/abc/"}
		if len(args) != len(wantArgs) {
			return nil, fmt.Errorf("unexpected args length: got %d want %d", len(args), len(wantArgs))
		}
		for i, arg := range wantArgs {
			if args[i] != arg {
				return nil, fmt.Errorf("unexpected arg at %d: got %q want %q", i, args[i], arg)
			}
		}
		return nil, os.WriteFile(dest, []byte("content"), 0o600)
	}

	n, err := downloader.Download(context.Background(), "https://www.instagram.com/reel/abc/", dest)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if n != int64(len("content")) {
		t.Fatalf("unexpected size %d", n)
	}
}

func TestYTDLPDownloaderFailure(t *testing.T) {
	downloader := NewYTDLPDownloader("", time.Second)
	downloader.Run = func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		if binary != "yt-dlp" {
			t.Fatalf("expected default binary got %q", binary)
		}
		return nil, errors.New("exit status 1")
	}

	_, err := downloader.Download(context.Background(), "https://www.instagram.com/p/abc/", filepath.Join(t.TempDir(), "x.mp4"))
	if !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("expected ErrDownloadFailed, got %v", err)
	}
}

func TestHTTPDownloader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != downloadUserAgent {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Path == "/missing.mp4" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("video-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewHTTPDownloader(time.Second, nil)

	dest := filepath.Join(dir, "ok.mp4")
	n, err := d.Download(context.Background(), srv.URL+"/clip.mp4", dest)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "video-bytes" || n != int64(len(data)) {
		t.Fatalf("unexpected file %q (%d bytes), err %v", data, n, err)
	}

	if _, err := d.Download(context.Background(), srv.URL+"/missing.mp4", filepath.Join(dir, "missing.mp4")); !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("expected ErrDownloadFailed, got %v", err)
	}
}

func TestHostAllowed(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://scontent-arn2-1.cdninstagram.com/v/t50/clip.mp4?oe=1", true},
		{"https://www.instagram.com/reel/abc/", true},
		{"https://video.xx.fbcdn.net/v.mp4", true},
		{"https://INSTAGRAM.COM./p/x/", true},
		{"https://evilinstagram.com/v.mp4", false},
		{"https://instagram.com.evil.test/v.mp4", false},
		{"http://169.254.169.254/latest/meta-data/", false},
		{"http://localhost:8080/internal", false},
		{"ftp://cdninstagram.com/v.mp4", false},
		{"::not a url", false},
	}
	for _, tc := range cases {
		if got := HostAllowed(tc.url, DefaultAllowedHosts); got != tc.want {
			t.Fatalf("HostAllowed(%q) = %v want %v", tc.url, got, tc.want)
		}
	}
}

func TestHTTPDownloaderRefusesDisallowedHosts(t *testing.T) {
	var hits int
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("secret"))
	}))
	defer internal.Close()

	dir := t.TempDir()
	d := NewHTTPDownloader(time.Second, DefaultAllowedHosts)
	if _, err := d.Download(context.Background(), internal.URL+"/clip.mp4", filepath.Join(dir, "a.mp4")); !errors.Is(err, ErrSourceNotAllowed) {
		t.Fatalf("expected ErrSourceNotAllowed, got %v", err)
	}
	if hits != 0 {
		t.Fatalf("expected no request to the disallowed host, got %d", hits)
	}

	// 127.0.0.1 is allowed but redirects to localhost, which is not.
	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, strings.Replace(internal.URL, "127.0.0.1", "localhost", 1)+"/clip.mp4", http.StatusFound)
	}))
	defer redirector.Close()

	d = NewHTTPDownloader(time.Second, []string{"127.0.0.1"})
	if _, err := d.Download(context.Background(), redirector.URL+"/clip.mp4", filepath.Join(dir, "b.mp4")); !errors.Is(err, ErrSourceNotAllowed) {
		t.Fatalf("expected redirect to be refused, got %v", err)
	}
	if hits != 0 {
		t.Fatalf("expected redirect target not to be fetched, got %d hits", hits)
	}
}

func TestRoutingDownloader(t *testing.T) {
	var got []string
	record := func(name string) Downloader {
		return downloaderFunc(func(context.Context, string, string) (int64, error) {
			got = append(got, name)
			return 1, nil
		})
	}
	r := RoutingDownloader{Direct: record("direct"), Pages: record("pages")}

	for _, u := range []string{
		"https://scontent.cdninstagram.com/v/t50/clip.mp4",
		"https://www.instagram.com/reel/Cabc/",
		"https://instagram.com/p/Cdef/",
	} {
		if _, err := r.Download(context.Background(), u, "dest.mp4"); err != nil {
			t.Fatalf("download %s: %v", u, err)
		}
	}
	want := []string{"direct", "pages", "pages"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected routes %v got %v", want, got)
		}
	}
}

type downloaderFunc func(ctx context.Context, url, dest string) (int64, error)

func (f downloaderFunc) Download(ctx context.Context, url, dest string) (int64, error) {
	return f(ctx, url, dest)
}
