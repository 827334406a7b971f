// Package instagram searches the platform's web and mobile APIs for short-form
// videos and turns the responses into scored, persisted candidates.
package instagram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reelscout/backend/internal/auth"
	"github.com/reelscout/backend/internal/logging"
	"github.com/reelscout/backend/internal/models"
)

const (
	DefaultWebBaseURL    = "https://www.instagram.com"
	DefaultMobileBaseURL = "https://i.instagram.com"

	webAppID    = "936619743392459"
	mobileAppID = "567067343352427"
	asbdID      = "359341"

	desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	// DefaultMobileUserAgent mimics the Android app.
	DefaultMobileUserAgent = "Instagram 297.0.0.0.51 Android (33/13; 420dpi; 1080x2400; Google; Pixel 6; oriole; google; ru_RU; 461519910)"

	acceptLanguage = "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7"
	formContent    = "application/x-www-form-urlencoded; charset=UTF-8"
	maxBodyBytes   = 16 << 20
)

var (
	// ErrNoData indicates the platform returned nothing usable.
	ErrNoData = errors.New("no data in platform response")
	// ErrHashtagNotFound indicates the hashtag endpoint returned 404 or no sections.
	ErrHashtagNotFound = errors.New("hashtag not found or empty")
)

// StatusError reports an unexpected HTTP status from the platform.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Endpoint, e.Code)
}

// ClientConfig controls endpoints and timeouts of the platform client.
type ClientConfig struct {
	WebBaseURL      string
	MobileBaseURL   string
	MobileUserAgent string
	SearchTimeout   time.Duration
	ClaimTimeout    time.Duration
	HTTPClient      *http.Client
}

// Client talks to the platform web and mobile APIs.
type Client struct {
	http          *http.Client
	webBase       string
	mobileBase    string
	mobileUA      string
	searchTimeout time.Duration
	claimTimeout  time.Duration
	cookies       auth.Cookies
}

// NewClient constructs a client carrying the supplied session cookies.
func NewClient(cfg ClientConfig, cookies auth.Cookies) *Client {
	if cfg.WebBaseURL == "" {
		cfg.WebBaseURL = DefaultWebBaseURL
	}
	if cfg.MobileBaseURL == "" {
		cfg.MobileBaseURL = DefaultMobileBaseURL
	}
	if cfg.MobileUserAgent == "" {
		cfg.MobileUserAgent = DefaultMobileUserAgent
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 30 * time.Second
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 15 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	return &Client{
		http:          cfg.HTTPClient,
		webBase:       strings.TrimRight(cfg.WebBaseURL, "/"),
		mobileBase:    strings.TrimRight(cfg.MobileBaseURL, "/"),
		mobileUA:      cfg.MobileUserAgent,
		searchTimeout: cfg.SearchTimeout,
		claimTimeout:  cfg.ClaimTimeout,
		cookies:       cookies,
	}
}

// FetchClaim requests a fresh www claim. It satisfies auth.ClaimFetcher.
func (c *Client) FetchClaim(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.claimTimeout)
	defer cancel()

	endpoint := c.webBase + "/api/v1/web/fxcal/ig_sso_users/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build claim request: %w", err)
	}
	req.Header.Set("User-Agent", desktopUserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Cookie", c.cookies.Header())
	req.Header.Set("X-CSRFToken", c.cookies.CSRFToken)
	req.Header.Set("X-IG-App-ID", webAppID)
	req.Header.Set("Content-Type", formContent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch claim: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", &StatusError{Endpoint: "claim", Code: resp.StatusCode}
	}

	claim := resp.Header.Get("X-IG-Set-WWW-Claim")
	if claim == "" {
		claim = resp.Header.Get("X-IG-WWW-Claim")
	}
	return claim, nil
}

// HashtagSections fetches one page of the clips tab for a hashtag. The web
// API is tried first; a failure, 404 or empty section list falls through to
// the mobile API.
func (c *Client) HashtagSections(ctx context.Context, tag, maxID, claim string) (Page, error) {
	tag = strings.TrimPrefix(tag, "#")
	logger := logging.FromContext(ctx)

	form := url.Values{}
	form.Set("tab", "clips")
	form.Set("surface", "grid")
	if maxID != "" {
		form.Set("max_id", maxID)
	}
	escaped := url.PathEscape(tag)
	path := "/api/v1/tags/" + escaped + "/sections/"

	page, err := c.webHashtag(ctx, path, escaped, form, claim)
	if err == nil {
		return page, nil
	}
	logger.Info("web hashtag search failed, trying mobile api", "tag", tag, "error", err)

	page, err = c.mobileHashtag(ctx, path, escaped, form, claim)
	if err != nil {
		return Page{}, fmt.Errorf("mobile hashtag search: %w", err)
	}
	return page, nil
}

func (c *Client) webHashtag(ctx context.Context, path, escapedTag string, form url.Values, claim string) (Page, error) {
	headers := c.webHeaders("/explore/tags/"+escapedTag+"/", claim)
	headers.Set("Content-Type", formContent)

	status, body, err := c.do(ctx, http.MethodPost, c.webBase+path, strings.NewReader(form.Encode()), headers)
	if err != nil {
		return Page{}, err
	}
	if status >= http.StatusInternalServerError {
		return Page{}, &StatusError{Endpoint: "web hashtag", Code: status}
	}
	if status == http.StatusNotFound {
		return Page{}, ErrHashtagNotFound
	}

	page, emptySections, err := decodeHashtag(body)
	if err != nil {
		return Page{}, err
	}
	if emptySections {
		return Page{}, ErrHashtagNotFound
	}
	return page, nil
}

func (c *Client) mobileHashtag(ctx context.Context, path, escapedTag string, form url.Values, claim string) (Page, error) {
	headers := c.mobileHeaders(escapedTag, claim)
	headers.Set("Content-Type", formContent)

	status, body, err := c.do(ctx, http.MethodPost, c.mobileBase+path, strings.NewReader(form.Encode()), headers)
	if err != nil {
		return Page{}, err
	}
	if status >= http.StatusInternalServerError {
		return Page{}, &StatusError{Endpoint: "mobile hashtag", Code: status}
	}

	page, _, err := decodeHashtag(body)
	return page, err
}

// decodeHashtag also reports whether the response carried an explicitly empty
// sections array.
func decodeHashtag(body []byte) (Page, bool, error) {
	page, err := Decode(body)
	if err != nil {
		return Page{}, false, err
	}
	return page, page.sectionsEmpty, nil
}

// GeneralSearch runs the keyword search used when the hashtag has no clips.
// A fresh rank token is generated when rankToken is empty.
func (c *Client) GeneralSearch(ctx context.Context, keyword, maxID, rankToken, claim string) (Page, error) {
	keyword = strings.TrimPrefix(keyword, "#")
	if rankToken == "" {
		rankToken = uuid.NewString()
	}

	params := url.Values{}
	params.Set("enable_metadata", "true")
	params.Set("query", keyword)
	params.Set("search_session_id", "")
	params.Set("rank_token", rankToken)
	if maxID != "" {
		params.Set("next_max_id", maxID)
	}

	headers := c.webHeaders("/explore/search/keyword/?q="+url.QueryEscape(keyword), claim)
	headers.Set("X-Web-Session-ID", "")
	headers.Set("Priority", "u=1, i")

	status, body, err := c.do(ctx, http.MethodGet, c.webBase+"/api/v1/fbsearch/web/top_serp/?"+params.Encode(), nil, headers)
	if err != nil {
		return Page{}, err
	}
	if status < 200 || status >= 300 {
		return Page{}, &StatusError{Endpoint: "general search", Code: status}
	}

	page, err := Decode(body)
	if err != nil {
		return Page{}, err
	}
	if page.RankToken == "" {
		page.RankToken = rankToken
	}
	return page, nil
}

// MediaInfo fetches the current state of a single media item. The id may be
// a numeric media id or a shortcode.
func (c *Client) MediaInfo(ctx context.Context, id, claim string) (models.VideoCandidate, error) {
	mediaID := id
	if head, _, ok := strings.Cut(id, "_"); ok {
		mediaID = head
	}
	if strings.Trim(mediaID, "0123456789") != "" {
		mediaID = mediaIDFromShortcode(mediaID)
	}
	if mediaID == "" {
		return models.VideoCandidate{}, fmt.Errorf("media info %q: %w", id, ErrNoData)
	}

	headers := c.webHeaders("/", claim)
	status, body, err := c.do(ctx, http.MethodGet, c.webBase+"/api/v1/media/"+mediaID+"/info/", nil, headers)
	if err != nil {
		return models.VideoCandidate{}, err
	}
	if status < 200 || status >= 300 {
		return models.VideoCandidate{}, &StatusError{Endpoint: "media info", Code: status}
	}

	page, err := Decode(body)
	if err != nil {
		return models.VideoCandidate{}, err
	}
	for _, m := range page.Media {
		media, wrapperUser := resolve(m)
		if media == nil {
			continue
		}
		return toCandidate(media, wrapperUser, time.Now()), nil
	}
	return models.VideoCandidate{}, fmt.Errorf("media info %q: %w", id, ErrNoData)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, headers http.Header) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.searchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header = headers

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (c *Client) webHeaders(refererPath, claim string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", desktopUserAgent)
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", acceptLanguage)
	h.Set("X-IG-App-ID", webAppID)
	h.Set("X-ASBD-ID", asbdID)
	h.Set("X-CSRFToken", c.cookies.CSRFToken)
	h.Set("X-IG-WWW-Claim", claimOrNeutral(claim))
	h.Set("X-Requested-With", "XMLHttpRequest")
	h.Set("Referer", DefaultWebBaseURL+refererPath)
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("Origin", DefaultWebBaseURL)
	h.Set("Cookie", c.cookies.Header())
	return h
}

func (c *Client) mobileHeaders(escapedTag, claim string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", c.mobileUA)
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", acceptLanguage)
	h.Set("X-IG-App-ID", mobileAppID)
	h.Set("X-ASBD-ID", asbdID)
	h.Set("X-IG-Device-ID", c.cookies.DeviceID())
	h.Set("X-IG-Android-ID", c.cookies.MID)
	h.Set("X-IG-App-Locale", "ru_RU")
	h.Set("X-IG-Device-Locale", "ru_RU")
	h.Set("X-IG-Mapped-Locale", "ru_RU")
	h.Set("X-IG-Timezone-Offset", "18000")
	h.Set("X-IG-Connection-Type", "WIFI")
	h.Set("X-IG-Capabilities", "3brTvw==")
	h.Set("X-FB-HTTP-Engine", "Liger")
	h.Set("X-CSRFToken", c.cookies.CSRFToken)
	h.Set("X-IG-WWW-Claim", claimOrNeutral(claim))
	h.Set("X-Requested-With", "XMLHttpRequest")
	referer := DefaultWebBaseURL + "/"
	if escapedTag != "" {
		referer = DefaultWebBaseURL + "/explore/tags/" + escapedTag + "/"
	}
	h.Set("Referer", referer)
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("Origin", DefaultWebBaseURL)
	h.Set("Cookie", c.cookies.Header())
	return h
}

func claimOrNeutral(claim string) string {
	if claim == "" {
		return auth.NeutralClaim
	}
	return claim
}
