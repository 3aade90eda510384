// Package filter decides which drafts of a lessons feed are kept, based on
// a list of teaching-unit codes and a whitelist/blacklist mode.
package filter

import (
	"errors"
	"fmt"

	"calfeed/internal/model"
)

// Mode selects how the key list is applied.
type Mode string

const (
	Whitelist Mode = "whitelist"
	Blacklist Mode = "blacklist"
)

// ErrUnknownMode is returned for any mode other than Whitelist or Blacklist.
var ErrUnknownMode = errors.New("unknown filter mode")

// ParseMode maps the query value to a Mode. Empty means Whitelist.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return Whitelist, nil
	case Whitelist, Blacklist:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Filter is immutable and safe for concurrent use.
type Filter struct {
	keys map[string]struct{}
	mode Mode
}

// New builds a Filter. An empty key list retains everything regardless of mode.
func New(keys []string, mode Mode) (*Filter, error) {
	switch mode {
	case Whitelist, Blacklist:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		set[k] = struct{}{}
	}
	return &Filter{keys: set, mode: mode}, nil
}

// Retain reports whether d stays in the feed. Closures always stay.
func (f *Filter) Retain(d model.Draft) bool {
	if len(f.keys) == 0 || d.IsClosure() {
		return true
	}

	_, listed := f.keys[d.FilterKey]
	switch f.mode {
	case Whitelist:
		return listed
	case Blacklist:
		return !listed
	}
	// New only builds filters with one of the two modes.
	panic(fmt.Sprintf("filter: unreachable mode %q", f.mode))
}

// Apply returns the retained drafts in input order.
func (f *Filter) Apply(drafts []model.Draft) []model.Draft {
	out := make([]model.Draft, 0, len(drafts))
	for _, d := range drafts {
		if f.Retain(d) {
			out = append(out, d)
		}
	}
	return out
}
