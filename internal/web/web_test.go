package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"calfeed/internal/config"
	appErrors "calfeed/internal/errors"
	"calfeed/internal/feed"
	"calfeed/internal/filter"
	"calfeed/internal/metrics"
)

const calendarBody = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n"

type fakeFeeds struct {
	err     error
	lessons *feed.LessonsRequest
	exams   *feed.ExamsRequest
}

func (f *fakeFeeds) Lessons(ctx context.Context, req feed.LessonsRequest) ([]byte, error) {
	f.lessons = &req
	if f.err != nil {
		return nil, f.err
	}
	return []byte(calendarBody), nil
}

func (f *fakeFeeds) Exams(ctx context.Context, req feed.ExamsRequest) ([]byte, error) {
	f.exams = &req
	if f.err != nil {
		return nil, f.err
	}
	return []byte(calendarBody), nil
}

type fakeReady struct {
	ready bool
	at    time.Time
}

func (r fakeReady) Ready() bool { return r.ready }

func (r fakeReady) Last() (time.Time, error) {
	if r.ready {
		return r.at, nil
	}
	return r.at, errors.New("connection refused")
}

func fixedClock() time.Time {
	return time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
}

func newTestServer(cfg *config.Config, feeds Feeds, ready Readiness) *Server {
	gin.SetMode(gin.TestMode)
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return NewServer(cfg, feeds, ready, metrics.New(), WithClock(fixedClock))
}

func performRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func get(s *Server, target string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(http.MethodGet, target, nil)
	return performRequest(s, req)
}

func TestLessonsSuccess(t *testing.T) {
	feeds := &fakeFeeds{}
	s := newTestServer(nil, feeds, nil)

	resp := get(s, "/E3101Q/2024/1/GGG?filters=INF101&filters=MAT200&mode=blacklist&alarms=true&lang=english")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "text/calendar; charset=utf-8", resp.Header().Get("Content-Type"))
	require.Equal(t, calendarBody, resp.Body.String())
	require.NotEmpty(t, resp.Header().Get("X-Request-ID"))

	require.NotNil(t, feeds.lessons)
	require.Equal(t, feed.LessonsRequest{
		Course:  "E3101Q",
		Year:    2024,
		Ordinal: 1,
		Group:   "GGG",
		Lang:    "english",
		Alarms:  true,
		Filters: []string{"INF101", "MAT200"},
		Mode:    filter.Blacklist,
	}, *feeds.lessons)
}

func TestLessonsDefaults(t *testing.T) {
	feeds := &fakeFeeds{}
	s := newTestServer(nil, feeds, nil)

	resp := get(s, "/E3101Q/2023/3/GGG%20T1")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "italian", feeds.lessons.Lang)
	require.Equal(t, filter.Whitelist, feeds.lessons.Mode)
	require.False(t, feeds.lessons.Alarms)
	require.Empty(t, feeds.lessons.Filters)
	require.Equal(t, "GGG T1", feeds.lessons.Group)
}

func TestLessonsValidation(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{name: "year too old", target: "/E3101Q/2019/1/GGG"},
		{name: "year in the future", target: "/E3101Q/2025/1/GGG"},
		{name: "year not a number", target: "/E3101Q/abcd/1/GGG"},
		{name: "ordinal zero", target: "/E3101Q/2024/0/GGG"},
		{name: "ordinal four", target: "/E3101Q/2024/4/GGG"},
		{name: "unknown group", target: "/E3101Q/2024/1/XYZ"},
		{name: "course with symbols", target: "/E3101Q%21/2024/1/GGG"},
		{name: "unknown lang", target: "/E3101Q/2024/1/GGG?lang=german"},
		{name: "unknown mode", target: "/E3101Q/2024/1/GGG?mode=greylist"},
		{name: "alarms not a bool", target: "/E3101Q/2024/1/GGG?alarms=maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feeds := &fakeFeeds{}
			s := newTestServer(nil, feeds, nil)

			resp := get(s, tt.target)
			require.Equal(t, http.StatusBadRequest, resp.Code)
			require.Contains(t, resp.Body.String(), `"message"`)
			require.Nil(t, feeds.lessons)
		})
	}
}

func TestLessonsUpstreamUnavailable(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	s := newTestServer(nil, &fakeFeeds{err: appErrors.Attach(appErrors.ErrServiceUnavailable, cause)}, nil)

	resp := get(s, "/E3101Q/2024/1/GGG")
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	require.JSONEq(t, `{"message":"Service Unavailable"}`, resp.Body.String())
	require.NotContains(t, resp.Body.String(), "connection refused")
}

func TestLessonsBadUpstream(t *testing.T) {
	s := newTestServer(nil, &fakeFeeds{err: appErrors.Attach(appErrors.ErrBadUpstream, errors.New("bad cell"))}, nil)

	resp := get(s, "/E3101Q/2024/1/GGG")
	require.Equal(t, http.StatusBadGateway, resp.Code)
	require.JSONEq(t, `{"message":"Bad Gateway"}`, resp.Body.String())
}

func TestUntypedErrorIsInternal(t *testing.T) {
	s := newTestServer(nil, &fakeFeeds{err: errors.New("boom")}, nil)

	resp := get(s, "/esami/E3101Q/2024/1")
	require.Equal(t, http.StatusInternalServerError, resp.Code)
	require.NotContains(t, resp.Body.String(), "boom")
}

func TestExamsSuccess(t *testing.T) {
	feeds := &fakeFeeds{}
	s := newTestServer(nil, feeds, nil)

	resp := get(s, "/esami/E3101Q/2024/2?alarms=1")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "text/calendar; charset=utf-8", resp.Header().Get("Content-Type"))
	require.Nil(t, feeds.lessons)
	require.Equal(t, feed.ExamsRequest{Course: "E3101Q", Year: 2024, Ordinal: 2, Lang: "italian", Alarms: true}, *feeds.exams)
}

func TestExamsValidation(t *testing.T) {
	feeds := &fakeFeeds{}
	s := newTestServer(nil, feeds, nil)

	resp := get(s, "/esami/E3101Q/2024/9")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), "ordinal")
	require.Nil(t, feeds.exams)
}

func TestHealthAndReady(t *testing.T) {
	checked := time.Date(2024, 10, 1, 11, 55, 0, 0, time.UTC)
	s := newTestServer(nil, &fakeFeeds{}, fakeReady{ready: false, at: checked})

	resp := get(s, "/health")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "ok", resp.Body.String())

	resp = get(s, "/ready")
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	require.JSONEq(t, `{"message":"Service Unavailable"}`, resp.Body.String())

	s = newTestServer(nil, &fakeFeeds{}, fakeReady{ready: true, at: checked})
	resp = get(s, "/ready")
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"status":"ok","last_check":"2024-10-01T11:55:00Z"}`, resp.Body.String())

	s = newTestServer(nil, &fakeFeeds{}, nil)
	resp = get(s, "/ready")
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(nil, &fakeFeeds{}, nil)
	get(s, "/E3101Q/2024/1/GGG")

	resp := get(s, "/metrics")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `http_requests_total{method="GET",path="/:course/:year/:ordinal/:group",status="200"} 1`)
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	s := newTestServer(cfg, &fakeFeeds{}, nil)

	resp := get(s, "/E3101Q/2024/1/GGG")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.NotEmpty(t, resp.Header().Get("WWW-Authenticate"))

	req, _ := http.NewRequest(http.MethodGet, "/E3101Q/2024/1/GGG", nil)
	req.SetBasicAuth("admin", "secret")
	require.Equal(t, http.StatusOK, performRequest(s, req).Code)

	require.Equal(t, http.StatusOK, get(s, "/health").Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(nil, &fakeFeeds{}, nil)

	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp := performRequest(s, req)
	require.Equal(t, "abc-123", resp.Header().Get("X-Request-ID"))
}
