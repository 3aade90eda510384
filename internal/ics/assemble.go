package ics

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"calfeed/internal/model"
)

const (
	defaultProductID = "-//calfeed//orario//IT"
	defaultName      = "Orario"
)

// uidNamespace seeds the name-based UUIDs of generated events.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("calfeed"))

// Options holds the static properties of every generated calendar.
type Options struct {
	ProductID string
	// Name is the default X-WR-CALNAME.
	Name string
	// Timezone is advertised as X-WR-TIMEZONE.
	Timezone string
	// Now stamps DTSTAMP. Nil means time.Now.
	Now func() time.Time
}

// Assembler turns drafts into an iCalendar document. It holds no
// per-request state and is safe for concurrent use.
type Assembler struct {
	productID string
	name      string
	timezone  string
	now       func() time.Time
}

// NewAssembler builds an Assembler, filling defaults for empty options.
func NewAssembler(opts Options) *Assembler {
	a := &Assembler{
		productID: opts.ProductID,
		name:      opts.Name,
		timezone:  opts.Timezone,
		now:       opts.Now,
	}
	if a.productID == "" {
		a.productID = defaultProductID
	}
	if a.name == "" {
		a.name = defaultName
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// Build creates one VEVENT per draft, in input order. An empty name uses
// the configured default.
func (a *Assembler) Build(name string, drafts []model.Draft) *ical.Calendar {
	if name == "" {
		name = a.name
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(a.productID)
	cal.SetXWRCalName(name)
	if a.timezone != "" {
		cal.SetXWRTimezone(a.timezone)
	}

	stamp := a.now().UTC()
	seen := make(map[string]int, len(drafts))

	for _, d := range drafts {
		ev := cal.AddEvent(eventUID(d, seen))
		ev.SetDtStampTime(stamp)
		fillEvent(ev, d)
	}

	return cal
}

// Serialize builds the calendar and renders it to bytes.
func (a *Assembler) Serialize(name string, drafts []model.Draft) ([]byte, error) {
	var buf bytes.Buffer
	if err := a.Build(name, drafts).SerializeTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize calendar: %w", err)
	}
	return buf.Bytes(), nil
}

func fillEvent(ev *ical.VEvent, d model.Draft) {
	if d.AllDay {
		ev.SetAllDayStartAt(d.Start)
	} else {
		ev.SetStartAt(d.Start)
		ev.SetEndAt(d.End)
	}

	ev.SetSummary(d.Title)
	if d.Description != "" {
		ev.SetDescription(d.Description)
	}
	if d.Location != "" {
		ev.SetLocation(d.Location)
	}
	if d.Geo != nil {
		ev.SetProperty(ical.ComponentPropertyGeo, formatGeo(*d.Geo))
	}

	if d.Organizer != nil && d.Organizer.Email != "" {
		ev.SetOrganizer(mailto(d.Organizer.Email), ical.WithCN(d.Organizer.Name))
	}
	for _, p := range d.Attendees {
		if p.Email == "" {
			continue
		}
		ev.AddAttendee(mailto(p.Email),
			ical.WithCN(p.Name),
			ical.ParticipationStatusAccepted,
			ical.ParticipationRoleReqParticipant,
		)
	}

	switch d.Status {
	case model.StatusConfirmed:
		ev.SetStatus(ical.ObjectStatusConfirmed)
	case model.StatusCancelled:
		ev.SetStatus(ical.ObjectStatusCancelled)
	}
	// A cancelled event never blocks time.
	if d.Transparent || d.Cancelled() {
		ev.SetProperty(ical.ComponentPropertyTransp, string(ical.TransparencyTransparent))
	}

	if d.FilterKey != "" {
		ev.SetProperty(ical.ComponentPropertyCategories, d.FilterKey)
	}

	for _, offset := range d.Reminders {
		alarm := ev.AddAlarm()
		alarm.SetAction(ical.ActionDisplay)
		alarm.SetTrigger(Trigger(offset))
		alarm.SetProperty(ical.ComponentPropertyDescription, d.Title)
	}
}

// eventUID derives a stable UID from the draft's identity so subscribed
// clients update events in place across refreshes. Repeats within one feed
// get an ordinal suffix.
func eventUID(d model.Draft, seen map[string]int) string {
	key := strings.Join([]string{
		d.Kind.String(),
		strconv.FormatInt(d.Start.Unix(), 10),
		d.Title,
		d.Location,
		d.FilterKey,
	}, "|")

	n := seen[key]
	seen[key] = n + 1
	if n > 0 {
		key += "#" + strconv.Itoa(n)
	}
	return uuid.NewSHA1(uidNamespace, []byte(key)).String()
}

// Trigger renders a "before start" offset as a negative RFC 5545 duration,
// e.g. 3h -> "-PT3H", 7 days -> "-P7D".
func Trigger(before time.Duration) string {
	if before < 0 {
		before = -before
	}
	if before == 0 {
		return "PT0S"
	}

	var b strings.Builder
	b.WriteString("-P")

	days := before / (24 * time.Hour)
	before -= days * 24 * time.Hour
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if before == 0 {
		return b.String()
	}

	b.WriteString("T")
	h := before / time.Hour
	before -= h * time.Hour
	m := before / time.Minute
	before -= m * time.Minute
	s := before / time.Second
	if h > 0 {
		fmt.Fprintf(&b, "%dH", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dM", m)
	}
	if s > 0 {
		fmt.Fprintf(&b, "%dS", s)
	}
	return b.String()
}

func formatGeo(g model.Geo) string {
	return strconv.FormatFloat(g.Lat, 'f', 6, 64) + ";" + strconv.FormatFloat(g.Lon, 'f', 6, 64)
}

func mailto(email string) string {
	return "mailto:" + email
}
