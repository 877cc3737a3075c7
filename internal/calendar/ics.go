package calendar

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
	"google.golang.org/api/calendar/v3"
)

const productID = "-//calmirror//EN"

// WriteICS renders events as a single iCalendar stream. Only the fields a
// mirrored event carries (summary, start, end) are written; events without a
// parsable start or end are reported as errors.
func WriteICS(w io.Writer, events []*calendar.Event) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	now := time.Now().UTC()
	for i, event := range events {
		vevent, err := toVEvent(event, now)
		if err != nil {
			return fmt.Errorf("event %d (%q): %w", i, event.Summary, err)
		}
		cal.Children = append(cal.Children, vevent)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode iCalendar: %w", err)
	}
	return nil
}

func toVEvent(event *calendar.Event, stamp time.Time) (*ical.Component, error) {
	vevent := ical.NewComponent(ical.CompEvent)

	uid := event.Id
	if uid == "" {
		uid = fmt.Sprintf("%d@calmirror", stamp.UnixNano())
	}
	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	if event.Summary != "" {
		vevent.Props.SetText(ical.PropSummary, event.Summary)
	}

	if err := setBoundary(vevent, ical.PropDateTimeStart, event.Start); err != nil {
		return nil, err
	}
	if err := setBoundary(vevent, ical.PropDateTimeEnd, event.End); err != nil {
		return nil, err
	}
	return vevent, nil
}

func setBoundary(vevent *ical.Component, name string, edt *calendar.EventDateTime) error {
	switch {
	case edt == nil:
		return fmt.Errorf("missing %s", name)
	case edt.DateTime != "":
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		vevent.Props.SetDateTime(name, t.UTC())
	case edt.Date != "":
		d, err := time.Parse("2006-01-02", edt.Date)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		prop := ical.NewProp(name)
		prop.SetDate(d)
		vevent.Props.Set(prop)
	default:
		return fmt.Errorf("empty %s", name)
	}
	return nil
}
