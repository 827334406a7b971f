package instagram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/reelscout/backend/internal/auth"
	"github.com/reelscout/backend/internal/models"
	"github.com/reelscout/backend/internal/scoring"
)

type videoStoreStub struct {
	mu     sync.Mutex
	videos map[string]models.Video
	err    error
}

func (s *videoStoreStub) CreateVideo(_ context.Context, v models.Video) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if s.videos == nil {
		s.videos = make(map[string]models.Video)
	}
	if _, ok := s.videos[v.VideoID]; ok {
		return false, nil
	}
	s.videos[v.VideoID] = v
	return true, nil
}

type taskStoreStub struct {
	mu       sync.Mutex
	statuses []models.TaskStatus
	progress []int
}

func (s *taskStoreStub) UpdateTaskStatus(_ context.Context, _ string, status models.TaskStatus, _ *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *taskStoreStub) UpdateTaskProgress(_ context.Context, _ string, progress int, _, _ *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, progress)
	return nil
}

func (s *taskStoreStub) last() models.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return ""
	}
	return s.statuses[len(s.statuses)-1]
}

type claimStub string

func (c claimStub) Get(context.Context, bool) string { return string(c) }

type searcherStub struct {
	hashtag      []Page
	hashtagErr   error
	general      Page
	generalErr   error
	hashtagCalls int
	generalCalls int
}

func (s *searcherStub) HashtagSections(context.Context, string, string, string) (Page, error) {
	s.hashtagCalls++
	if s.hashtagErr != nil {
		return Page{}, s.hashtagErr
	}
	if len(s.hashtag) == 0 {
		return Page{}, nil
	}
	p := s.hashtag[0]
	s.hashtag = s.hashtag[1:]
	return p, nil
}

func (s *searcherStub) GeneralSearch(context.Context, string, string, string, string) (Page, error) {
	s.generalCalls++
	return s.general, s.generalErr
}

var validCookies = auth.Cookies{SessionID: "sess", CSRFToken: "csrf"}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestConnector(searcher Searcher, videos VideoStore, taskStore *taskStoreStub, now time.Time) *Connector {
	scorer := scoring.NewEngine(scoring.DefaultThresholds())
	scorer.Now = func() time.Time { return now }

	c := NewConnector(ConnectorDeps{
		Searcher: searcher,
		Claims:   claimStub("claim"),
		Cookies:  validCookies,
		Scorer:   scorer,
		Videos:   videos,
		Tasks:    taskStore,
	}, ConnectorConfig{})
	c.Sleep = noSleep
	c.Now = func() time.Time { return now }
	return c
}

func reelJSON(pk int, username string, takenAt time.Time, views, likes int) string {
	return fmt.Sprintf(`{"media":{"pk":%d,"code":"c%d","media_type":2,"taken_at":%d,"play_count":%d,"like_count":%d,"comment_count":10,"user":{"username":%q}}}`,
		pk, pk, takenAt.Unix(), views, likes, username)
}

func TestSearchEmptyHashtagFallsBackToGeneral(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()

		switch {
		case strings.Contains(r.URL.Path, "/api/v1/tags/"):
			_, _ = io.WriteString(w, `{"sections":[]}`)
		case strings.HasPrefix(r.URL.Path, "/api/v1/fbsearch/web/top_serp/"):
			_, _ = io.WriteString(w, `{"media_grid":{"sections":[]}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{WebBaseURL: srv.URL, MobileBaseURL: srv.URL}, validCookies)
	tasksStub := &taskStoreStub{}
	videos := &videoStoreStub{}
	c := newTestConnector(client, videos, tasksStub, time.Now())

	result, err := c.Search(context.Background(), "#спорт", "task-1")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.SavedCount != 0 || result.TotalFetched != 0 {
		t.Fatalf("expected empty result got %+v", result)
	}
	if got := tasksStub.last(); got != models.TaskStatusCompleted {
		t.Fatalf("expected completed task got %s", got)
	}

	mu.Lock()
	defer mu.Unlock()
	var sawGeneral bool
	for _, p := range paths {
		if strings.HasPrefix(p, "/api/v1/fbsearch/web/top_serp/") {
			sawGeneral = true
		}
	}
	if !sawGeneral {
		t.Fatalf("expected general search fallback, requests: %v", paths)
	}
	if len(paths) != 3 {
		t.Fatalf("expected web, mobile and general requests got %v", paths)
	}
}

func TestSearchSavesEligibleCandidates(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-24 * time.Hour)
	old := now.Add(-7 * 30 * 24 * time.Hour)

	page1, err := Decode([]byte(`{"sections":[{"layout_content":{"medias":[` +
		reelJSON(1, "alice", fresh, 50000, 4000) + `,` +
		reelJSON(2, "", fresh, 50000, 4000) + `,` +
		reelJSON(3, "carol", old, 500000, 90000) +
		`]}}],"next_max_id":"p2","more_available":true}`))
	if err != nil {
		t.Fatalf("decode page 1: %v", err)
	}
	page2, err := Decode([]byte(`{"sections":[{"layout_content":{"medias":[` +
		reelJSON(1, "alice", fresh, 50000, 4000) + `,` +
		reelJSON(4, "dave", fresh, 80000, 9000) +
		`]}}]}`))
	if err != nil {
		t.Fatalf("decode page 2: %v", err)
	}

	searcher := &searcherStub{hashtag: []Page{page1, page2}}
	videos := &videoStoreStub{}
	tasksStub := &taskStoreStub{}
	c := newTestConnector(searcher, videos, tasksStub, now)

	result, err := c.Search(context.Background(), "cats", "task-2")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if searcher.hashtagCalls != 2 || searcher.generalCalls != 0 {
		t.Fatalf("unexpected search calls: hashtag=%d general=%d", searcher.hashtagCalls, searcher.generalCalls)
	}
	if result.TotalFetched != 4 {
		t.Fatalf("expected 4 unique candidates got %d", result.TotalFetched)
	}
	if result.SavedCount != 2 {
		t.Fatalf("expected 2 saved got %d", result.SavedCount)
	}

	saved, ok := videos.videos["1"]
	if !ok {
		t.Fatalf("expected video 1 to be saved: %v", videos.videos)
	}
	if !saved.IsViral || saved.ViralScore <= 1000 || len(saved.MetricsHistory) != 1 {
		t.Fatalf("unexpected saved video: %+v", saved)
	}
	if saved.SearchTaskID != "task-2" || saved.Author != "alice" || saved.URL != "https://www.instagram.com/reel/c1/" {
		t.Fatalf("unexpected saved fields: %+v", saved)
	}
	if _, ok := videos.videos["3"]; ok {
		t.Fatal("expected old candidate to be rejected")
	}

	wantStatuses := []models.TaskStatus{
		models.TaskStatusConnect, models.TaskStatusAnalyze, models.TaskStatusProcess, models.TaskStatusCompleted,
	}
	if len(tasksStub.statuses) != len(wantStatuses) {
		t.Fatalf("unexpected statuses %v", tasksStub.statuses)
	}
	for i, s := range wantStatuses {
		if tasksStub.statuses[i] != s {
			t.Fatalf("unexpected statuses %v", tasksStub.statuses)
		}
	}
	for i := 1; i < len(tasksStub.progress); i++ {
		if tasksStub.progress[i] < tasksStub.progress[i-1] {
			t.Fatalf("progress decreased: %v", tasksStub.progress)
		}
	}
	if last := tasksStub.progress[len(tasksStub.progress)-1]; last != 100 {
		t.Fatalf("expected final progress 100 got %d", last)
	}
}

func TestSearchMissingCookiesFails(t *testing.T) {
	searcher := &searcherStub{}
	tasksStub := &taskStoreStub{}
	c := newTestConnector(searcher, &videoStoreStub{}, tasksStub, time.Now())
	c.deps.Cookies = auth.Cookies{}

	_, err := c.Search(context.Background(), "cats", "task-3")
	if !errors.Is(err, auth.ErrCookiesMissing) {
		t.Fatalf("expected missing cookies error got %v", err)
	}
	if got := tasksStub.last(); got != models.TaskStatusFailed {
		t.Fatalf("expected failed task got %s", got)
	}
	if searcher.hashtagCalls != 0 {
		t.Fatal("expected no platform calls without cookies")
	}
}

func TestSearchPersistenceErrorSkipsCandidate(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	page, err := Decode([]byte(`{"sections":[{"layout_content":{"medias":[` +
		reelJSON(1, "alice", now.Add(-time.Hour), 50000, 4000) + `]}}]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	tasksStub := &taskStoreStub{}
	c := newTestConnector(&searcherStub{hashtag: []Page{page}}, &videoStoreStub{err: errors.New("write failed")}, tasksStub, now)

	result, err := c.Search(context.Background(), "cats", "task-4")
	if err != nil {
		t.Fatalf("expected per-candidate error to be absorbed got %v", err)
	}
	if result.SavedCount != 0 || result.TotalFetched != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := tasksStub.last(); got != models.TaskStatusCompleted {
		t.Fatalf("expected completed task got %s", got)
	}
}

func TestSearchCancelledContextFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasksStub := &taskStoreStub{}
	c := newTestConnector(&searcherStub{}, &videoStoreStub{}, tasksStub, time.Now())
	if _, err := c.Search(ctx, "cats", "task-5"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error got %v", err)
	}
	if got := tasksStub.last(); got != models.TaskStatusFailed {
		t.Fatalf("expected failed task got %s", got)
	}
}

func TestClientSendsAuthHeaders(t *testing.T) {
	var gotClaim, gotCookie, gotAppID, gotForm string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/web/fxcal/ig_sso_users/":
			w.Header().Set("X-IG-Set-WWW-Claim", "hmac.AR-claim")
			w.WriteHeader(http.StatusOK)
		default:
			gotClaim = r.Header.Get("X-IG-WWW-Claim")
			gotCookie = r.Header.Get("Cookie")
			gotAppID = r.Header.Get("X-IG-App-ID")
			_ = r.ParseForm()
			gotForm = r.PostForm.Encode()
			_, _ = io.WriteString(w, `{"sections":[{"layout_content":{"medias":[{"media":{"pk":1,"media_type":2}}]}}]}`)
		}
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{WebBaseURL: srv.URL, MobileBaseURL: srv.URL}, validCookies)
	claim, err := client.FetchClaim(context.Background())
	if err != nil {
		t.Fatalf("fetch claim: %v", err)
	}
	if claim != "hmac.AR-claim" {
		t.Fatalf("unexpected claim %q", claim)
	}

	page, err := client.HashtagSections(context.Background(), "#cats", "cursor", claim)
	if err != nil {
		t.Fatalf("hashtag: %v", err)
	}
	if page.Kind != KindSections {
		t.Fatalf("expected sections page got %s", page.Kind)
	}
	if gotClaim != claim || gotAppID != webAppID {
		t.Fatalf("unexpected headers claim=%q app=%q", gotClaim, gotAppID)
	}
	if !strings.Contains(gotCookie, "sessionid=sess") || !strings.Contains(gotCookie, "csrftoken=csrf") {
		t.Fatalf("unexpected cookie header %q", gotCookie)
	}
	if gotForm != "max_id=cursor&surface=grid&tab=clips" {
		t.Fatalf("unexpected form %q", gotForm)
	}
}

func TestClientHashtagFallsBackToMobile(t *testing.T) {
	var mobileAppHeader string
	web := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer web.Close()
	mobile := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mobileAppHeader = r.Header.Get("X-IG-App-ID")
		_, _ = io.WriteString(w, `{"sections":[{"media":{"pk":5,"media_type":2}}]}`)
	}))
	defer mobile.Close()

	client := NewClient(ClientConfig{WebBaseURL: web.URL, MobileBaseURL: mobile.URL}, validCookies)
	page, err := client.HashtagSections(context.Background(), "cats", "", "")
	if err != nil {
		t.Fatalf("hashtag: %v", err)
	}
	if mobileAppHeader != mobileAppID {
		t.Fatalf("expected mobile app id got %q", mobileAppHeader)
	}
	if page.Kind != KindSections || len(page.Media) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()
	client = NewClient(ClientConfig{WebBaseURL: broken.URL, MobileBaseURL: broken.URL}, validCookies)
	var statusErr *StatusError
	if _, err := client.HashtagSections(context.Background(), "cats", "", ""); !errors.As(err, &statusErr) {
		t.Fatalf("expected status error got %v", err)
	}
}
