package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrMalformedRecord is returned when an upstream record lacks a field the
// normalizer depends on or carries a value it cannot parse.
var ErrMalformedRecord = errors.New("malformed upstream record")

// siteFromRoom is the codice_sede placeholder meaning "derive from room code".
const siteFromRoom = "LIB"

// listSeparator separates teacher names and emails in the same cell.
const listSeparator = " , "

var tagPattern = regexp.MustCompile(`<.*?>`)

func malformed(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedRecord, field, fmt.Sprintf(format, args...))
}

// TeachingUnitCode returns the second "_" segment of a composite
// codice_insegnamento ("E3101Q_INF101_2023" -> "INF101"). A value without
// the separator, or with an empty second segment, is malformed.
func TeachingUnitCode(composite string) (string, error) {
	parts := strings.Split(composite, "_")
	if len(parts) < 2 {
		return "", malformed("codice_insegnamento", "no '_' separator in %q", composite)
	}
	code := strings.TrimSpace(parts[1])
	if code == "" {
		return "", malformed("codice_insegnamento", "empty teaching-unit segment in %q", composite)
	}
	return code, nil
}

// ResolveSite returns the site code of a lesson. The LIB placeholder is
// replaced by the room prefix before the first "-"; a room without "-" is
// its own site.
func ResolveSite(site, room string) string {
	if site != siteFromRoom {
		return site
	}
	prefix, _, _ := strings.Cut(room, "-")
	return prefix
}

// StripTags removes every <...> tag from s.
func StripTags(s string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(s, ""))
}

// ParseTeachers splits the docente cell into display names. Entries are
// separated by " , "; commas left inside an entry are stray punctuation.
// Every word is lower-cased then title-cased, whatever the input casing.
func ParseTeachers(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	caser := cases.Title(language.Italian)
	names := make([]string, 0)
	for _, entry := range strings.Split(raw, listSeparator) {
		words := strings.Fields(strings.ReplaceAll(entry, ",", " "))
		if len(words) == 0 {
			continue
		}
		for i, w := range words {
			words[i] = caser.String(strings.ToLower(w))
		}
		names = append(names, strings.Join(words, " "))
	}
	return names
}

// ParseEmails splits the mail_docente cell, keeping the order of the names.
func ParseEmails(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	emails := make([]string, 0)
	for _, entry := range strings.Split(raw, listSeparator) {
		e := strings.Trim(entry, ", ")
		if e == "" {
			continue
		}
		emails = append(emails, e)
	}
	return emails
}

// capitalize upper-cases the first rune and lower-cases the rest.
func capitalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

// onDayAt combines the calendar day of start (in loc) with an "HH:MM"
// wall-clock time in loc.
func onDayAt(start time.Time, clock string, loc *time.Location) (time.Time, error) {
	clock = strings.TrimSpace(clock)
	var (
		parsed time.Time
		err    error
	)
	for _, layout := range []string{"15:04", "15:04:05"} {
		parsed, err = time.Parse(layout, clock)
		if err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, err
	}

	day := start.In(loc)
	return time.Date(day.Year(), day.Month(), day.Day(), parsed.Hour(), parsed.Minute(), parsed.Second(), 0, loc), nil
}
