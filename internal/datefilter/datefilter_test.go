package datefilter

import (
	"testing"
	"time"
)

func mustDate(t *testing.T, s string) *Date {
	t.Helper()
	d, err := Parse(s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return &d
}

func TestNoBoundsAlwaysAdmits(t *testing.T) {
	f := New(time.UTC)
	for _, ts := range []string{"2024-02-01T00:00:00Z", "garbage", ""} {
		if !f.Admit(ts) {
			t.Fatalf("expected %q admitted without bounds", ts)
		}
	}
}

func TestAdmitJanuaryWindow(t *testing.T) {
	f := New(time.UTC)
	f.Set(mustDate(t, "2024-01-01"), mustDate(t, "2024-01-31"))

	cases := map[string]bool{
		"2024-02-01T00:00:00Z":             false,
		"2024-01-31T23:59:00Z":             true,
		"2024-01-01T00:00:00Z":             true,
		"2023-12-31T23:59:59Z":             false,
		"2024-01-15T08:30:00.123456+00:00": true,
		"2024-01-15T08:30:00":              true,
		"not-a-date":                       false,
	}
	for ts, want := range cases {
		if got := f.Admit(ts); got != want {
			t.Fatalf("Admit(%q) = %v, want %v", ts, got, want)
		}
	}
}

func TestAdmitUsesViewerZone(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	f := New(jakarta)
	f.Set(nil, mustDate(t, "2024-01-31"))
	// 18:00Z on Jan 31 is already Feb 1 at UTC+7.
	if f.Admit("2024-01-31T18:00:00Z") {
		t.Fatalf("expected timestamp to fall on Feb 1 in UTC+7")
	}
	if !f.Admit("2024-01-31T16:59:59Z") {
		t.Fatalf("expected timestamp to fall on Jan 31 in UTC+7")
	}
}

func TestSingleBound(t *testing.T) {
	f := New(time.UTC)
	f.Set(mustDate(t, "2024-03-10"), nil)
	if f.Admit("2024-03-09T23:59:59Z") || !f.Admit("2030-01-01T00:00:00Z") {
		t.Fatalf("from-only bound misapplied")
	}
}

func TestMergeOmitsAbsentBounds(t *testing.T) {
	f := New(time.UTC)
	q := f.Merge(map[string]string{"terminal": "T1", "status_loading": "", QueryFrom: "1999-01-01"})
	if q.Get("terminal") != "T1" {
		t.Fatalf("caller filter dropped: %v", q)
	}
	if _, ok := q["status_loading"]; ok {
		t.Fatalf("empty value should be stripped: %v", q)
	}
	if _, ok := q[QueryFrom]; ok {
		t.Fatalf("absent bound must not be sent: %v", q)
	}
	if _, ok := q[QueryTo]; ok {
		t.Fatalf("absent bound must not be sent: %v", q)
	}

	f.Set(mustDate(t, "2024-01-01"), mustDate(t, "2024-01-31"))
	q = f.Merge(map[string]string{QueryFrom: "1999-01-01"})
	if q.Get(QueryFrom) != "2024-01-01" || q.Get(QueryTo) != "2024-01-31" {
		t.Fatalf("bounds should win the merge: %v", q)
	}
}

func TestBoundsAreCopies(t *testing.T) {
	f := New(nil)
	from := mustDate(t, "2024-01-01")
	f.Set(from, nil)
	from.Day = 20
	got, _ := f.Bounds()
	if got.Day != 1 {
		t.Fatalf("filter aliased caller date")
	}
	got.Day = 5
	again, _ := f.Bounds()
	if again.Day != 1 {
		t.Fatalf("bounds aliased internal date")
	}
	if f.Location() != time.Local {
		t.Fatalf("nil location should default to local")
	}
}

func TestDateText(t *testing.T) {
	var d Date
	if err := d.UnmarshalText([]byte("2024-02-29")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	b, _ := d.MarshalText()
	if string(b) != "2024-02-29" {
		t.Fatalf("round trip %s", b)
	}
	if _, err := Parse("2024-02-30"); err == nil {
		t.Fatalf("expected invalid date")
	}
	if d, err := ParseOptional(" "); err != nil || d != nil {
		t.Fatalf("blank optional date: %v %v", d, err)
	}
}
