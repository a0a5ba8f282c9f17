// Package calendar exposes the user's CalDAV calendars as agent tools.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/platform"
	"github.com/stewardhq/steward/internal/tools"
)

// Provider serves calendar tools backed by the platform's CalDAV
// endpoint.
type Provider struct {
	logger *slog.Logger
}

func NewProvider(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{logger: logger}
}

func (p *Provider) CategoryName() string { return "calendar" }

// IsAvailable probes the user's calendar home set.
func (p *Provider) IsAvailable(ctx context.Context, pc *platform.Client) bool {
	client, err := p.davClient(pc)
	if err != nil {
		return false
	}
	_, err = client.FindCalendars(ctx, pc.CalendarHomeSet())
	if err != nil {
		p.logger.Debug("calendar probe failed", "user", pc.UserID(), "error", err)
		return false
	}
	return true
}

func (p *Provider) davClient(pc *platform.Client) (*caldav.Client, error) {
	return caldav.NewClient(pc.DAVHTTPClient(), pc.BaseURL())
}

func (p *Provider) Tools(ctx context.Context, pc *platform.Client) ([]*tools.Tool, error) {
	client, err := p.davClient(pc)
	if err != nil {
		return nil, fmt.Errorf("caldav client: %w", err)
	}
	t := &userTools{client: client, pc: pc, logger: p.logger}

	return []*tools.Tool{
		{
			Name:        "list_calendars",
			Description: "List the names of the user's calendars.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Safety:  tools.SafetySafe,
			Handler: t.listCalendars,
		},
		{
			Name:        "list_calendar_events",
			Description: "List events in a calendar within a time window. Dates are ISO 8601.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"calendar_name": map[string]any{
						"type":        "string",
						"description": "Calendar to read. Defaults to all calendars.",
					},
					"start": map[string]any{
						"type":        "string",
						"description": "Window start (e.g. 2026-08-29T00:00:00Z). Defaults to now.",
					},
					"end": map[string]any{
						"type":        "string",
						"description": "Window end. Defaults to seven days after start.",
					},
				},
			},
			Safety:  tools.SafetySafe,
			Handler: t.listEvents,
		},
		{
			Name:        "schedule_event",
			Description: "Create a calendar event. Use ISO 8601 datetimes.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title": map[string]any{
						"type":        "string",
						"description": "Event title",
					},
					"description": map[string]any{
						"type":        "string",
						"description": "Optional event description",
					},
					"location": map[string]any{
						"type":        "string",
						"description": "Optional event location",
					},
					"start": map[string]any{
						"type":        "string",
						"description": "Event start datetime",
					},
					"end": map[string]any{
						"type":        "string",
						"description": "Event end datetime. Defaults to one hour after start.",
					},
					"calendar_name": map[string]any{
						"type":        "string",
						"description": "Target calendar. Defaults to the user's first calendar.",
					},
				},
				"required": []string{"title", "start"},
			},
			Safety:  tools.SafetyDangerous,
			Handler: t.scheduleEvent,
		},
		{
			Name:        "find_free_times",
			Description: "Find gaps of at least the requested length between events in a time window.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"start": map[string]any{
						"type":        "string",
						"description": "Window start datetime",
					},
					"end": map[string]any{
						"type":        "string",
						"description": "Window end datetime",
					},
					"duration_minutes": map[string]any{
						"type":        "integer",
						"description": "Minimum slot length in minutes (default 30)",
					},
				},
				"required": []string{"start", "end"},
			},
			Safety:  tools.SafetySafe,
			Handler: t.findFreeTimes,
		},
	}, nil
}

type userTools struct {
	client *caldav.Client
	pc     *platform.Client
	logger *slog.Logger
}

func (t *userTools) calendars(ctx context.Context) ([]caldav.Calendar, error) {
	cals, err := t.client.FindCalendars(ctx, t.pc.CalendarHomeSet())
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}
	return cals, nil
}

func (t *userTools) listCalendars(ctx context.Context, args map[string]any) (string, error) {
	cals, err := t.calendars(ctx)
	if err != nil {
		return "", err
	}
	if len(cals) == 0 {
		return "The user has no calendars.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d calendar(s):\n", len(cals))
	for _, c := range cals {
		name := c.Name
		if name == "" {
			name = c.Path
		}
		fmt.Fprintf(&b, "- %s\n", name)
	}
	return b.String(), nil
}

// event is a flattened VEVENT occurrence used for listing and for the
// free-slot search.
type event struct {
	Title    string
	Location string
	Start    time.Time
	End      time.Time
}

func (t *userTools) eventsInWindow(ctx context.Context, calendarName string, start, end time.Time) ([]event, error) {
	cals, err := t.calendars(ctx)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start,
				End:   end,
			}},
		},
	}

	var events []event
	matched := false
	for _, c := range cals {
		if calendarName != "" && !strings.EqualFold(c.Name, calendarName) {
			continue
		}
		matched = true

		objects, err := t.client.QueryCalendar(ctx, c.Path, query)
		if err != nil {
			return nil, fmt.Errorf("query calendar %q: %w", c.Name, err)
		}
		for _, obj := range objects {
			if obj.Data == nil {
				continue
			}
			for _, ev := range obj.Data.Events() {
				evStart, err := ev.DateTimeStart(time.UTC)
				if err != nil {
					continue
				}
				evEnd, err := ev.DateTimeEnd(time.UTC)
				if err != nil || evEnd.IsZero() {
					evEnd = evStart.Add(time.Hour)
				}
				title, _ := ev.Props.Text(ical.PropSummary)
				location, _ := ev.Props.Text(ical.PropLocation)
				events = append(events, event{
					Title:    title,
					Location: location,
					Start:    evStart,
					End:      evEnd,
				})
			}
		}
	}
	if calendarName != "" && !matched {
		return nil, fmt.Errorf("no calendar named %q", calendarName)
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events, nil
}

func (t *userTools) listEvents(ctx context.Context, args map[string]any) (string, error) {
	calendarName, _ := args["calendar_name"].(string)

	start := time.Now().UTC()
	if raw, _ := args["start"].(string); raw != "" {
		parsed, err := parseDateTime(raw)
		if err != nil {
			return "", err
		}
		start = parsed
	}
	end := start.AddDate(0, 0, 7)
	if raw, _ := args["end"].(string); raw != "" {
		parsed, err := parseDateTime(raw)
		if err != nil {
			return "", err
		}
		end = parsed
	}

	events, err := t.eventsInWindow(ctx, calendarName, start, end)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return fmt.Sprintf("No events between %s and %s.",
			start.Format(time.RFC3339), end.Format(time.RFC3339)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d event(s):\n", len(events))
	for _, ev := range events {
		fmt.Fprintf(&b, "- %s: %s to %s", ev.Title,
			ev.Start.Format(time.RFC3339), ev.End.Format(time.RFC3339))
		if ev.Location != "" {
			fmt.Fprintf(&b, " at %s", ev.Location)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (t *userTools) scheduleEvent(ctx context.Context, args map[string]any) (string, error) {
	title, _ := args["title"].(string)
	if title == "" {
		return "", fmt.Errorf("title is required")
	}
	rawStart, _ := args["start"].(string)
	start, err := parseDateTime(rawStart)
	if err != nil {
		return "", err
	}
	end := start.Add(time.Hour)
	if raw, _ := args["end"].(string); raw != "" {
		end, err = parseDateTime(raw)
		if err != nil {
			return "", err
		}
	}
	if !end.After(start) {
		return "", fmt.Errorf("event end must be after its start")
	}

	cals, err := t.calendars(ctx)
	if err != nil {
		return "", err
	}
	if len(cals) == 0 {
		return "", fmt.Errorf("the user has no calendars")
	}
	target := cals[0]
	if name, _ := args["calendar_name"].(string); name != "" {
		found := false
		for _, c := range cals {
			if strings.EqualFold(c.Name, name) {
				target = c
				found = true
				break
			}
		}
		if !found {
			return "", fmt.Errorf("no calendar named %q", name)
		}
	}

	uid := uuid.NewString()
	cal := newEventCalendar(uid, title, args, start, end)

	path := target.Path + uid + ".ics"
	if _, err := t.client.PutCalendarObject(ctx, path, cal); err != nil {
		return "", fmt.Errorf("create event: %w", err)
	}

	t.logger.Info("calendar event created",
		"user", t.pc.UserID(), "calendar", target.Name, "title", title)
	return fmt.Sprintf("Event '%s' scheduled on calendar '%s' from %s to %s.",
		title, target.Name, start.Format(time.RFC3339), end.Format(time.RFC3339)), nil
}

func newEventCalendar(uid, title string, args map[string]any, start, end time.Time) *ical.Calendar {
	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, uid)
	ev.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	ev.Props.SetText(ical.PropSummary, title)
	ev.Props.SetDateTime(ical.PropDateTimeStart, start)
	ev.Props.SetDateTime(ical.PropDateTimeEnd, end)
	if desc, _ := args["description"].(string); desc != "" {
		ev.Props.SetText(ical.PropDescription, desc)
	}
	if loc, _ := args["location"].(string); loc != "" {
		ev.Props.SetText(ical.PropLocation, loc)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, "-//Steward//steward//EN")
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Children = append(cal.Children, ev.Component)
	return cal
}

func (t *userTools) findFreeTimes(ctx context.Context, args map[string]any) (string, error) {
	rawStart, _ := args["start"].(string)
	rawEnd, _ := args["end"].(string)
	start, err := parseDateTime(rawStart)
	if err != nil {
		return "", err
	}
	end, err := parseDateTime(rawEnd)
	if err != nil {
		return "", err
	}
	if !end.After(start) {
		return "", fmt.Errorf("window end must be after its start")
	}

	minLen := 30 * time.Minute
	if m, ok := args["duration_minutes"].(float64); ok && m > 0 {
		minLen = time.Duration(m) * time.Minute
	}

	events, err := t.eventsInWindow(ctx, "", start, end)
	if err != nil {
		return "", err
	}

	slots := freeSlots(start, end, minLen, events)
	if len(slots) == 0 {
		return "No free slots of the requested length in that window.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d free slot(s) of at least %s:\n", len(slots), minLen)
	for _, s := range slots {
		fmt.Fprintf(&b, "- %s to %s\n", s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339))
	}
	return b.String(), nil
}

type slot struct {
	Start, End time.Time
}

// freeSlots returns the gaps of at least minLen between events inside
// [start, end). Events are expected sorted by start time; overlapping
// events are merged as one busy block.
func freeSlots(start, end time.Time, minLen time.Duration, events []event) []slot {
	var slots []slot
	cursor := start
	for _, ev := range events {
		if ev.End.Before(cursor) || ev.Start.After(end) {
			continue
		}
		if ev.Start.Sub(cursor) >= minLen {
			slots = append(slots, slot{Start: cursor, End: ev.Start})
		}
		if ev.End.After(cursor) {
			cursor = ev.End
		}
	}
	if end.Sub(cursor) >= minLen {
		slots = append(slots, slot{Start: cursor, End: end})
	}
	return slots
}

// parseDateTime accepts RFC 3339 and a few laxer forms models tend to
// produce.
func parseDateTime(raw string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("could not parse datetime %q", raw)
}
