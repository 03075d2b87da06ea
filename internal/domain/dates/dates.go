// Package dates parses the date formats found on case forms and computes
// ages and durations with floor-at-anniversary semantics.
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/turtacn/NaturaCheck/internal/domain/catalog"
	"github.com/turtacn/NaturaCheck/pkg/errors"
)

// DateParseError reports text that is not a recognizable calendar date.
type DateParseError struct {
	Input  string
	Reason string

	app *errors.AppError
}

func newParseError(input, reason string) *DateParseError {
	return &DateParseError{
		Input:  input,
		Reason: reason,
		app:    errors.New(errors.ErrCodeDateParse, "unrecognized date format").WithDetail(input),
	}
}

func (e *DateParseError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot parse date %q: %s", e.Input, e.Reason)
	}
	return fmt.Sprintf("cannot parse date %q", e.Input)
}

// Unwrap exposes the DATE_001 application error.
func (e *DateParseError) Unwrap() error {
	if e.app == nil {
		return errors.New(errors.ErrCodeDateParse, "unrecognized date format").WithDetail(e.Input)
	}
	return e.app
}

var months = map[string]time.Month{
	"janeiro": time.January, "fevereiro": time.February, "marco": time.March,
	"abril": time.April, "maio": time.May, "junho": time.June,
	"julho": time.July, "agosto": time.August, "setembro": time.September,
	"outubro": time.October, "novembro": time.November, "dezembro": time.December,
}

func lookupMonth(word string) (time.Month, bool) {
	word = strings.TrimSuffix(word, ".")
	if m, ok := months[word]; ok {
		return m, true
	}
	if len(word) == 3 {
		for name, m := range months {
			if strings.HasPrefix(name, word) {
				return m, true
			}
		}
	}
	return 0, false
}

const (
	numericExpr = `(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4})`
	isoExpr     = `(\d{4})-(\d{1,2})-(\d{1,2})`
	longExpr    = `(\d{1,2})\s*(?:de\s+)?([a-z]{3,9})\.?\s*(?:de\s+)?(\d{4})`
)

var (
	numericRe = regexp.MustCompile(`^` + numericExpr + `$`)
	isoRe     = regexp.MustCompile(`^` + isoExpr + `$`)
	longRe    = regexp.MustCompile(`^` + longExpr + `$`)

	anyDateRe = regexp.MustCompile(`\b(?:` + isoExpr + `|` + numericExpr + `|` + longExpr + `)\b`)
)

// Parse reads DD/MM/YYYY (also with - or . separators), ISO YYYY-MM-DD and
// the Portuguese long form ("10 de Jan de 2025", "19 de dezembro de 1992").
// It never falls back to the current date.
func Parse(text string) (time.Time, error) {
	s := catalog.Normalize(text)
	if s == "" {
		return time.Time{}, newParseError(text, "empty")
	}
	if m := isoRe.FindStringSubmatch(s); m != nil {
		return build(text, m[1], m[2], m[3])
	}
	if m := numericRe.FindStringSubmatch(s); m != nil {
		return build(text, m[3], m[2], m[1])
	}
	if m := longRe.FindStringSubmatch(s); m != nil {
		month, ok := lookupMonth(m[2])
		if !ok {
			return time.Time{}, newParseError(text, "unknown month " + m[2])
		}
		return build(text, m[3], strconv.Itoa(int(month)), m[1])
	}
	return time.Time{}, newParseError(text, "unrecognized format")
}

// MustParse is Parse for tests and fixtures.
func MustParse(text string) time.Time {
	t, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return t
}

func build(input, y, m, d string) (time.Time, error) {
	year, _ := strconv.Atoi(y)
	month, _ := strconv.Atoi(m)
	day, _ := strconv.Atoi(d)
	if year < 1 || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, newParseError(input, "out of range")
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, newParseError(input, "no such calendar day")
	}
	return t, nil
}

// Found is a date located inside free text. Offsets refer to the normalized
// text.
type Found struct {
	Date  time.Time
	Text  string
	Start int
	End   int
}

// FindAll returns every parseable date in text, in order of appearance.
// The text is normalized first.
func FindAll(text string) []Found {
	return FindAllNormalized(catalog.Normalize(text))
}

// FindAllNormalized is FindAll for text already passed through
// catalog.Normalize.
func FindAllNormalized(s string) []Found {
	var out []Found
	for _, loc := range anyDateRe.FindAllStringIndex(s, -1) {
		raw := s[loc[0]:loc[1]]
		t, err := Parse(raw)
		if err != nil {
			continue
		}
		out = append(out, Found{Date: t, Text: raw, Start: loc[0], End: loc[1]})
	}
	return out
}

// AgeAt returns the completed years between birth and ref. A year is
// completed on the anniversary; a 29 February anniversary falls on 1 March
// in common years. The result is negative when ref precedes birth.
func AgeAt(birth, ref time.Time) int {
	return DurationYears(birth, ref)
}

// DurationYears returns the completed years from start to end.
func DurationYears(start, end time.Time) int {
	if end.Before(start) {
		return -DurationYears(end, start)
	}
	years := end.Year() - start.Year()
	if end.Month() < start.Month() || (end.Month() == start.Month() && end.Day() < start.Day()) {
		years--
	}
	return years
}

// DaysBetween returns whole days from start to end, ignoring time of day.
func DaysBetween(start, end time.Time) int {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return int(e.Sub(s).Hours() / 24)
}
