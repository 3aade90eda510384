package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appLog "calfeed/internal/log"
)

// View selects one of the two upstream endpoints.
type View string

const (
	ViewLessons View = "easycourse"
	ViewExams   View = "easytest"
)

const (
	defaultTimeout = 10 * time.Second

	// maxBodyBytes caps how much of an upstream response is read.
	maxBodyBytes = 32 << 20

	contentTypeForm = "application/x-www-form-urlencoded"
)

// ErrTransport matches every *TransportError via errors.Is.
var ErrTransport = errors.New("upstream transport failure")

// TransportError reports that the upstream could not deliver a usable JSON
// payload: network failure, timeout, non-2xx status or a non-JSON body.
type TransportError struct {
	View View
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.View, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// HTTPClient is the subset of *http.Client the upstream client needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the upstream endpoints and fixed request values.
type Config struct {
	LessonsURL string
	ExamsURL   string
	// School is sent as "scuola" on exam requests.
	School string
}

// Client talks to the scheduling portal. One POST per call, no retries.
type Client struct {
	Config Config
	HTTP   HTTPClient
}

// LessonsQuery selects one lessons grid.
type LessonsQuery struct {
	Course  string
	Year    int
	Ordinal int
	Group   string
	Lang    string
}

// ExamsQuery selects the exam sessions of one course year.
type ExamsQuery struct {
	Course  string
	Year    int
	Ordinal int
	Lang    string
}

// NewClient builds a client with a bounded timeout. A non-positive timeout
// falls back to 10s.
func NewClient(cfg Config, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		Config: cfg,
		HTTP: &http.Client{
			Timeout: timeout,
		},
	}
}

// LessonsForm builds the form body of a lessons request.
func LessonsForm(q LessonsQuery) url.Values {
	form := url.Values{}
	form.Set("view", string(ViewLessons))
	form.Set("include", "corso")
	form.Set("all_events", "1")
	form.Set("lang", q.Lang)
	form.Set("anno", strconv.Itoa(q.Year))
	form.Set("anno2[]", q.Group+"|"+strconv.Itoa(q.Ordinal))
	form.Set("corso", q.Course)
	return form
}

// ExamsForm builds the form body of an exams request covering the whole
// calendar year.
func ExamsForm(school string, q ExamsQuery) url.Values {
	form := url.Values{}
	form.Set("view", string(ViewExams))
	form.Set("include", "et_cdl")
	form.Set("et_er", "1")
	form.Set("scuola", school)
	form.Set("esami_cdl", q.Course)
	form.Set("anno2[]", strconv.Itoa(q.Ordinal))
	form.Set("datefrom", fmt.Sprintf("01-01-%d", q.Year))
	form.Set("dateto", fmt.Sprintf("01-01-%d", q.Year+1))
	form.Set("all_events", "1")
	form.Set("lang", q.Lang)
	return form
}

// FetchLessons returns the raw lesson cells of one grid.
func (c *Client) FetchLessons(ctx context.Context, q LessonsQuery) ([]LessonCell, error) {
	body, err := c.post(ctx, ViewLessons, c.Config.LessonsURL, LessonsForm(q))
	if err != nil {
		return nil, err
	}

	cells, err := decodeLessons(body)
	if err != nil {
		return nil, &TransportError{View: ViewLessons, Err: fmt.Errorf("error decoding response body %w", err)}
	}

	appLog.Debug("upstream lessons decoded", "course", q.Course, "year", q.Year, "cells", len(cells))
	return cells, nil
}

// FetchExams returns the exam entries of all teaching units, flattened.
func (c *Client) FetchExams(ctx context.Context, q ExamsQuery) ([]ExamEntry, error) {
	body, err := c.post(ctx, ViewExams, c.Config.ExamsURL, ExamsForm(c.Config.School, q))
	if err != nil {
		return nil, err
	}

	entries, err := decodeExams(body)
	if err != nil {
		return nil, &TransportError{View: ViewExams, Err: fmt.Errorf("error decoding response body %w", err)}
	}

	appLog.Debug("upstream exams decoded", "course", q.Course, "year", q.Year, "entries", len(entries))
	return entries, nil
}

// Ping checks that the lessons endpoint answers at all. Any response below
// 500 counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Config.LessonsURL, nil)
	if err != nil {
		return &TransportError{View: ViewLessons, Err: err}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &TransportError{View: ViewLessons, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusInternalServerError {
		return &TransportError{View: ViewLessons, Err: errors.New(resp.Status)}
	}
	return nil
}

func (c *Client) post(ctx context.Context, view View, endpoint string, form url.Values) ([]byte, error) {
	if endpoint == "" {
		return nil, &TransportError{View: view, Err: errors.New("endpoint URL is empty")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TransportError{View: view, Err: fmt.Errorf("error creating http request %w", err)}
	}
	req.Header.Set("Content-Type", contentTypeForm)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	appLog.Info("upstream fetch start", "view", string(view), "url", redactURL(endpoint))
	started := time.Now()

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &TransportError{View: view, Err: fmt.Errorf("error performing http request %w", err)}
	}
	if resp == nil || resp.Body == nil {
		return nil, &TransportError{View: view, Err: errors.New("empty response")}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{View: view, Err: fmt.Errorf("error status code is not 2xx, got %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{View: view, Err: fmt.Errorf("error reading response body %w", err)}
	}

	appLog.Info("upstream fetch success",
		"view", string(view),
		"status", resp.StatusCode,
		"bytes", len(body),
		"elapsed", time.Since(started).String(),
	)
	return body, nil
}

// redactURL keeps scheme and host only, query strings never reach the logs.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "upstream://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
