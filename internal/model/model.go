package model

import "time"

// Kind tells which upstream record a Draft was built from.
type Kind int

const (
	KindLesson Kind = iota
	KindExam
	// KindClosure is an all-day closure/holiday cell from the lessons grid.
	KindClosure
)

func (k Kind) String() string {
	switch k {
	case KindLesson:
		return "lesson"
	case KindExam:
		return "exam"
	case KindClosure:
		return "closure"
	default:
		return "unknown"
	}
}

// Status is the iCalendar STATUS of an event. The zero value means "not set".
type Status string

const (
	StatusUnset     Status = ""
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
)

// Person is an organizer or attendee.
type Person struct {
	Name  string
	Email string
}

// Geo is a WGS84 coordinate pair.
type Geo struct {
	Lat float64
	Lon float64
}

// Draft is the canonical event produced by the normalizer and consumed once
// by the calendar assembler.
type Draft struct {
	Kind Kind

	// Start is zoned in the upstream timezone. End is on the same calendar
	// day and is zero for all-day drafts.
	Start  time.Time
	End    time.Time
	AllDay bool

	Title       string
	Description string
	Location    string
	Geo         *Geo

	Organizer *Person
	Attendees []Person

	Status      Status
	Transparent bool

	// Reminders are offsets before Start.
	Reminders []time.Duration

	// FilterKey is the teaching-unit code. Empty for closures and exams.
	FilterKey string
}

// IsClosure reports whether the draft is an all-day closure.
func (d Draft) IsClosure() bool {
	return d.Kind == KindClosure
}

// Cancelled reports whether the draft carries STATUS:CANCELLED.
func (d Draft) Cancelled() bool {
	return d.Status == StatusCancelled
}

// SiteTable maps site (building) codes to coordinates. It is built once at
// startup and never mutated afterwards.
type SiteTable struct {
	sites map[string]Geo
}

// NewSiteTable copies entries into a new table.
func NewSiteTable(entries map[string]Geo) SiteTable {
	m := make(map[string]Geo, len(entries))
	for code, g := range entries {
		m[code] = g
	}
	return SiteTable{sites: m}
}

// Lookup returns the coordinates for code. A miss is not an error.
func (t SiteTable) Lookup(code string) (Geo, bool) {
	g, ok := t.sites[code]
	return g, ok
}

// Len reports the number of known sites.
func (t SiteTable) Len() int {
	return len(t.sites)
}
