// Package datefilter holds the dashboard's optional calendar-date bounds and
// applies them both to outgoing list/stats queries and to incoming push
// events.
package datefilter

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	dateLayout = "2006-01-02"

	// Query keys carrying the bounds.
	QueryFrom = "date_from"
	QueryTo   = "date_to"
)

// Date is a calendar date without time of day or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// Parse reads a YYYY-MM-DD date.
func Parse(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return Of(t), nil
}

// ParseOptional returns nil for an empty string.
func ParseOptional(s string) (*Date, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Of returns the calendar date of t in t's own location.
func Of(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) After(o Date) bool {
	return o.Before(d)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Filter holds two optional inclusive bounds. The zero value has no bounds
// and evaluates admission in the local zone.
type Filter struct {
	mu   sync.RWMutex
	from *Date
	to   *Date
	loc  *time.Location
}

// New returns a filter that truncates event timestamps in loc (nil means time.Local).
func New(loc *time.Location) *Filter {
	return &Filter{loc: loc}
}

// Set replaces both bounds. Either may be nil.
func (f *Filter) Set(from, to *Date) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.from = copyDate(from)
	f.to = copyDate(to)
}

// Bounds returns copies of the current bounds.
func (f *Filter) Bounds() (from, to *Date) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return copyDate(f.from), copyDate(f.to)
}

// Location returns the zone used for admission.
func (f *Filter) Location() *time.Location {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.loc == nil {
		return time.Local
	}
	return f.loc
}

// Merge flattens caller filters and the current bounds into one query.
// Bounds are assigned after the caller keys, so date_from/date_to from the
// filter win a collision. Empty values and absent bounds are omitted.
func (f *Filter) Merge(filters map[string]string) url.Values {
	all := make(map[string]string, len(filters)+2)
	for k, v := range filters {
		all[k] = v
	}
	from, to := f.Bounds()
	if from != nil {
		all[QueryFrom] = from.String()
	} else {
		delete(all, QueryFrom)
	}
	if to != nil {
		all[QueryTo] = to.String()
	} else {
		delete(all, QueryTo)
	}
	q := url.Values{}
	for k, v := range all {
		if v == "" {
			continue
		}
		q.Set(k, v)
	}
	return q
}

// Admit reports whether a record created at createdAt falls within the
// bounds, comparing calendar dates in the filter's zone.
func (f *Filter) Admit(createdAt string) bool {
	from, to := f.Bounds()
	if from == nil && to == nil {
		return true
	}
	ts, err := ParseTimestamp(createdAt)
	if err != nil {
		return false
	}
	d := Of(ts.In(f.Location()))
	if from != nil && d.Before(*from) {
		return false
	}
	if to != nil && d.After(*to) {
		return false
	}
	return true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	dateLayout,
}

// ParseTimestamp accepts the creation timestamp shapes the backend emits.
// Timestamps without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func copyDate(d *Date) *Date {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
