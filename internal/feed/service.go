// Package feed runs the fetch, normalize, filter and assemble pipeline for
// one request and maps lower-layer failures to HTTP-aware errors.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	appErrors "calfeed/internal/errors"
	"calfeed/internal/filter"
	"calfeed/internal/ics"
	appLog "calfeed/internal/log"
	"calfeed/internal/metrics"
	"calfeed/internal/model"
	"calfeed/internal/normalize"
	"calfeed/internal/upstream"
)

// Feed labels used in metrics and logs.
const (
	FeedLessons = "lessons"
	FeedExams   = "exams"
)

// Fetcher is satisfied by *upstream.Client.
type Fetcher interface {
	FetchLessons(ctx context.Context, q upstream.LessonsQuery) ([]upstream.LessonCell, error)
	FetchExams(ctx context.Context, q upstream.ExamsQuery) ([]upstream.ExamEntry, error)
}

// LessonsRequest is a validated lessons feed request.
type LessonsRequest struct {
	Course  string
	Year    int
	Ordinal int
	Group   string
	Lang    string
	Alarms  bool
	Filters []string
	Mode    filter.Mode
}

// ExamsRequest is a validated exams feed request.
type ExamsRequest struct {
	Course  string
	Year    int
	Ordinal int
	Lang    string
	Alarms  bool
}

// Service is safe for concurrent use; all per-request state lives on the
// call stack.
type Service struct {
	fetcher    Fetcher
	normalizer *normalize.Normalizer
	assembler  *ics.Assembler
	metrics    *metrics.Service
}

// NewService wires the pipeline. m may be nil.
func NewService(f Fetcher, n *normalize.Normalizer, a *ics.Assembler, m *metrics.Service) *Service {
	return &Service{
		fetcher:    f,
		normalizer: n,
		assembler:  a,
		metrics:    m,
	}
}

// Lessons builds the lessons calendar of one course year and group.
func (s *Service) Lessons(ctx context.Context, req LessonsRequest) ([]byte, error) {
	f, err := filter.New(req.Filters, req.Mode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	started := time.Now()
	cells, err := s.fetcher.FetchLessons(ctx, upstream.LessonsQuery{
		Course:  req.Course,
		Year:    req.Year,
		Ordinal: req.Ordinal,
		Group:   req.Group,
		Lang:    req.Lang,
	})
	if err != nil {
		s.metrics.ObserveUpstream(string(upstream.ViewLessons), metrics.OutcomeTransport, 0, time.Since(started))
		return nil, s.fail(FeedLessons, err)
	}

	drafts := make([]model.Draft, 0, len(cells))
	for i, cell := range cells {
		d, err := s.normalizer.Lesson(cell, req.Alarms)
		if err != nil {
			s.metrics.ObserveUpstream(string(upstream.ViewLessons), metrics.OutcomeMalformed, 0, time.Since(started))
			return nil, s.fail(FeedLessons, fmt.Errorf("lesson cell %d: %w", i, err))
		}
		drafts = append(drafts, d)
	}
	s.metrics.ObserveUpstream(string(upstream.ViewLessons), metrics.OutcomeOK, len(cells), time.Since(started))

	kept := f.Apply(drafts)
	name := fmt.Sprintf("%s %d/%d %s", req.Course, req.Year, req.Ordinal, req.Group)
	return s.render(FeedLessons, name, kept, len(drafts))
}

// Exams builds the exam calendar of one course year. Exam feeds are never
// filtered.
func (s *Service) Exams(ctx context.Context, req ExamsRequest) ([]byte, error) {
	started := time.Now()
	entries, err := s.fetcher.FetchExams(ctx, upstream.ExamsQuery{
		Course:  req.Course,
		Year:    req.Year,
		Ordinal: req.Ordinal,
		Lang:    req.Lang,
	})
	if err != nil {
		s.metrics.ObserveUpstream(string(upstream.ViewExams), metrics.OutcomeTransport, 0, time.Since(started))
		return nil, s.fail(FeedExams, err)
	}

	drafts := make([]model.Draft, 0, len(entries))
	for i, entry := range entries {
		d, err := s.normalizer.Exam(entry, req.Alarms)
		if err != nil {
			s.metrics.ObserveUpstream(string(upstream.ViewExams), metrics.OutcomeMalformed, 0, time.Since(started))
			return nil, s.fail(FeedExams, fmt.Errorf("exam entry %d: %w", i, err))
		}
		drafts = append(drafts, d)
	}
	s.metrics.ObserveUpstream(string(upstream.ViewExams), metrics.OutcomeOK, len(entries), time.Since(started))

	name := fmt.Sprintf("Esami %s %d/%d", req.Course, req.Year, req.Ordinal)
	return s.render(FeedExams, name, drafts, len(drafts))
}

func (s *Service) render(feed, name string, drafts []model.Draft, normalized int) ([]byte, error) {
	body, err := s.assembler.Serialize(name, drafts)
	if err != nil {
		appLog.Error("calendar serialization failed", err, "feed", feed)
		return nil, appErrors.Attach(appErrors.ErrInternal, err)
	}
	s.metrics.AddEvents(feed, len(drafts))

	appLog.Debug("feed built",
		"feed", feed,
		"calendar", name,
		"normalized", normalized,
		"events", len(drafts),
		"bytes", len(body),
	)
	return body, nil
}

// fail maps pipeline errors onto the HTTP-aware sentinels.
func (s *Service) fail(feed string, err error) error {
	switch {
	case errors.Is(err, upstream.ErrTransport):
		appLog.Error("upstream unavailable", err, "feed", feed)
		return appErrors.Attach(appErrors.ErrServiceUnavailable, err)
	case errors.Is(err, normalize.ErrMalformedRecord):
		appLog.Error("malformed upstream record", err, "feed", feed)
		return appErrors.Attach(appErrors.ErrBadUpstream, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return appErrors.Attach(appErrors.ErrServiceUnavailable, err)
	default:
		appLog.Error("feed pipeline failed", err, "feed", feed)
		return appErrors.Attach(appErrors.ErrInternal, err)
	}
}
