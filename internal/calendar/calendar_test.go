package calendar

import (
	"testing"
	"time"
)

func mustTime(t *testing.T, raw string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t.Fatal(err)
	}
	return parsed
}

func TestFreeSlots(t *testing.T) {
	start := mustTime(t, "2026-08-29T09:00:00Z")
	end := mustTime(t, "2026-08-29T17:00:00Z")

	events := []event{
		{Title: "standup", Start: mustTime(t, "2026-08-29T09:30:00Z"), End: mustTime(t, "2026-08-29T10:00:00Z")},
		{Title: "review", Start: mustTime(t, "2026-08-29T10:00:00Z"), End: mustTime(t, "2026-08-29T12:00:00Z")},
		{Title: "1:1", Start: mustTime(t, "2026-08-29T15:00:00Z"), End: mustTime(t, "2026-08-29T15:30:00Z")},
	}

	slots := freeSlots(start, end, 30*time.Minute, events)
	want := []slot{
		{Start: start, End: events[0].Start},
		{Start: events[1].End, End: events[2].Start},
		{Start: events[2].End, End: end},
	}
	if len(slots) != len(want) {
		t.Fatalf("got %d slots, want %d: %v", len(slots), len(want), slots)
	}
	for i := range want {
		if !slots[i].Start.Equal(want[i].Start) || !slots[i].End.Equal(want[i].End) {
			t.Errorf("slot %d = %v to %v, want %v to %v",
				i, slots[i].Start, slots[i].End, want[i].Start, want[i].End)
		}
	}
}

func TestFreeSlotsOverlappingEvents(t *testing.T) {
	start := mustTime(t, "2026-08-29T09:00:00Z")
	end := mustTime(t, "2026-08-29T12:00:00Z")

	// Two overlapping meetings form one busy block 09:00-11:00.
	events := []event{
		{Start: mustTime(t, "2026-08-29T09:00:00Z"), End: mustTime(t, "2026-08-29T10:30:00Z")},
		{Start: mustTime(t, "2026-08-29T10:00:00Z"), End: mustTime(t, "2026-08-29T11:00:00Z")},
	}

	slots := freeSlots(start, end, time.Hour, events)
	if len(slots) != 1 {
		t.Fatalf("got %d slots, want 1: %v", len(slots), slots)
	}
	if !slots[0].Start.Equal(mustTime(t, "2026-08-29T11:00:00Z")) || !slots[0].End.Equal(end) {
		t.Errorf("slot = %v to %v", slots[0].Start, slots[0].End)
	}
}

func TestFreeSlotsEmptyCalendar(t *testing.T) {
	start := mustTime(t, "2026-08-29T09:00:00Z")
	end := mustTime(t, "2026-08-29T10:00:00Z")

	slots := freeSlots(start, end, 30*time.Minute, nil)
	if len(slots) != 1 || !slots[0].Start.Equal(start) || !slots[0].End.Equal(end) {
		t.Fatalf("slots = %v", slots)
	}
}

func TestParseDateTime(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2026-08-29T14:00:00Z", "2026-08-29T14:00:00Z"},
		{"2026-08-29T14:00:00", "2026-08-29T14:00:00Z"},
		{"2026-08-29T14:00", "2026-08-29T14:00:00Z"},
		{"2026-08-29 14:00", "2026-08-29T14:00:00Z"},
		{"2026-08-29", "2026-08-29T00:00:00Z"},
	}
	for _, tc := range cases {
		got, err := parseDateTime(tc.in)
		if err != nil {
			t.Errorf("parseDateTime(%q): %v", tc.in, err)
			continue
		}
		if got.Format(time.RFC3339) != tc.want {
			t.Errorf("parseDateTime(%q) = %s, want %s", tc.in, got.Format(time.RFC3339), tc.want)
		}
	}
	if _, err := parseDateTime("next tuesday"); err == nil {
		t.Error("expected error for unparseable input")
	}
}
