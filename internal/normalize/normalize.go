// Package normalize turns raw upstream lesson cells and exam entries into
// model.Draft values.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"calfeed/internal/model"
	"calfeed/internal/upstream"
)

const (
	// CancelledPrefix marks the title of a cancelled lesson.
	CancelledPrefix = "[ANNULLATO] "

	defaultClosureTag = "chiusura_type"
)

var (
	lessonReminders = []time.Duration{3 * time.Hour, 2 * time.Hour}
	examReminders   = []time.Duration{7 * 24 * time.Hour, 24 * time.Hour}
)

// Options configures a Normalizer. All fields are read-only after New.
type Options struct {
	// Location is the zone upstream wall-clock values belong to. Nil means UTC.
	Location *time.Location
	Sites    model.SiteTable
	// Institution is embedded in lesson locations.
	Institution string
	// ClosureTag is the "tipo" value of all-day closure cells.
	ClosureTag string
}

// Normalizer is stateless and safe for concurrent use.
type Normalizer struct {
	loc         *time.Location
	sites       model.SiteTable
	institution string
	closureTag  string
}

// New builds a Normalizer.
func New(opts Options) *Normalizer {
	n := &Normalizer{
		loc:         opts.Location,
		sites:       opts.Sites,
		institution: opts.Institution,
		closureTag:  opts.ClosureTag,
	}
	if n.loc == nil {
		n.loc = time.UTC
	}
	if n.closureTag == "" {
		n.closureTag = defaultClosureTag
	}
	return n
}

// Lesson converts one lessons-grid cell. When alarms is set the draft
// carries reminders 3h and 2h before start.
func (n *Normalizer) Lesson(cell upstream.LessonCell, alarms bool) (model.Draft, error) {
	ts, err := cell.Timestamp()
	if err != nil {
		return model.Draft{}, malformed(upstream.FieldTimestamp, "%v", err)
	}
	start := time.Unix(ts, 0).In(n.loc)

	if cell.Type() == n.closureTag {
		return model.Draft{
			Kind:   model.KindClosure,
			Start:  start,
			AllDay: true,
			Title:  StripTags(cell.Name()),
		}, nil
	}

	end, err := onDayAt(start, cell.EndTime(), n.loc)
	if err != nil {
		return model.Draft{}, malformed(upstream.FieldEndTime, "%q: %v", cell.EndTime(), err)
	}

	key, err := TeachingUnitCode(cell.TeachingUnitCode())
	if err != nil {
		return model.Draft{}, err
	}

	names := ParseTeachers(cell.Teachers())
	emails := ParseEmails(cell.TeacherEmails())
	people, err := pairTeachers(names, emails)
	if err != nil {
		return model.Draft{}, err
	}

	room := cell.Room()
	site := ResolveSite(cell.Site(), room)
	unit := cell.TeachingUnitName()

	d := model.Draft{
		Kind:        model.KindLesson,
		Start:       start,
		End:         end,
		Title:       fmt.Sprintf("%s [%s]", unit, key),
		Description: fmt.Sprintf("%s in %s con %s [%s]", unit, room, strings.Join(names, ", "), key),
		Location:    n.location(room, site),
		FilterKey:   key,
		Status:      model.StatusConfirmed,
	}

	if g, ok := n.sites.Lookup(site); ok {
		geo := g
		d.Geo = &geo
	}

	if len(people) > 0 {
		organizer := people[0]
		d.Organizer = &organizer
		d.Attendees = people[1:]
	}

	if cell.Cancelled() {
		d.Title = CancelledPrefix + d.Title
		d.Status = model.StatusCancelled
		d.Transparent = true
	}

	if alarms {
		d.Reminders = append([]time.Duration(nil), lessonReminders...)
	}

	return d, nil
}

// Exam converts one exam entry. Timestamps are read in the same zone as
// lessons. When alarms is set the draft carries reminders 7 days and 1 day
// before start.
func (n *Normalizer) Exam(entry upstream.ExamEntry, alarms bool) (model.Draft, error) {
	ts, err := entry.Timestamp()
	if err != nil {
		return model.Draft{}, malformed(upstream.FieldExamTimestamp, "%v", err)
	}
	start := time.Unix(ts, 0).In(n.loc)

	end, err := onDayAt(start, entry.EndTime(), n.loc)
	if err != nil {
		return model.Draft{}, malformed(upstream.FieldExamEndTime, "%q: %v", entry.EndTime(), err)
	}

	title := capitalize(entry.ExamType()) + " " + entry.Name()
	if rooms := entry.Rooms(); len(rooms) > 0 {
		title += " in " + rooms[0]
	}

	d := model.Draft{
		Kind:  model.KindExam,
		Start: start,
		End:   end,
		Title: strings.TrimSpace(title),
	}
	if alarms {
		d.Reminders = append([]time.Duration(nil), examReminders...)
	}
	return d, nil
}

func (n *Normalizer) location(room, site string) string {
	return fmt.Sprintf("Aula %s - Edificio %s - %s", room, site, n.institution)
}

// pairTeachers zips names and emails by position. No emails at all yields
// no people; any other count mismatch is malformed, so no teacher is
// silently dropped.
func pairTeachers(names, emails []string) ([]model.Person, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	if len(names) != len(emails) {
		return nil, malformed(upstream.FieldTeacherEmails, "%d teacher names but %d emails", len(names), len(emails))
	}
	people := make([]model.Person, len(names))
	for i := range names {
		people[i] = model.Person{Name: names[i], Email: emails[i]}
	}
	return people, nil
}
