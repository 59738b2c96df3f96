// Package icalendar renders calendars and their events as RFC 5545 documents.
package icalendar

import (
	"bytes"
	"fmt"
	"time"

	"github.com/emersion/go-ical"

	"github.com/go-calendar-nosql/internal/domain"
)

const productID = "-//go-calendar-nosql//Calendar Export//EN"

// Build converts a calendar and its events into an iCalendar object.
// Arrangements and reminders become VEVENTs (reminders carry a VALARM),
// tasks become VTODOs. now is used for DTSTAMP.
func Build(cal *domain.Calendar, events []*domain.Event, now time.Time) *ical.Calendar {
	out := ical.NewCalendar()
	out.Props.SetText(ical.PropProductID, productID)
	out.Props.SetText(ical.PropVersion, "2.0")
	out.Props.SetText(ical.PropName, cal.Name)
	if cal.Description != "" {
		out.Props.SetText(ical.PropDescription, cal.Description)
	}
	if cal.Color != "" {
		out.Props.SetText(ical.PropColor, cal.Color)
	}

	for _, ev := range events {
		if comp := component(ev, now); comp != nil {
			out.Children = append(out.Children, comp)
		}
	}
	return out
}

// Encode writes cal in its text form.
func Encode(cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode icalendar: %w", err)
	}
	return buf.Bytes(), nil
}

func component(ev *domain.Event, now time.Time) *ical.Component {
	var comp *ical.Component
	switch ev.Type {
	case domain.EventArrangement:
		if ev.StartAt == nil || ev.EndAt == nil {
			return nil
		}
		comp = ical.NewEvent().Component
		if ev.AllDay {
			comp.Props.SetDate(ical.PropDateTimeStart, *ev.StartAt)
			// DTEND is exclusive for all-day events.
			comp.Props.SetDate(ical.PropDateTimeEnd, ev.EndAt.AddDate(0, 0, 1))
		} else {
			comp.Props.SetDateTime(ical.PropDateTimeStart, ev.StartAt.UTC())
			comp.Props.SetDateTime(ical.PropDateTimeEnd, ev.EndAt.UTC())
		}
	case domain.EventReminder:
		if ev.RemindAt == nil {
			return nil
		}
		comp = ical.NewEvent().Component
		comp.Props.SetDateTime(ical.PropDateTimeStart, ev.RemindAt.UTC())
		comp.Props.SetDateTime(ical.PropDateTimeEnd, ev.RemindAt.UTC())

		alarm := ical.NewComponent(ical.CompAlarm)
		alarm.Props.SetText(ical.PropAction, "DISPLAY")
		alarm.Props.SetText(ical.PropDescription, ev.Title)
		alarm.Props.Set(&ical.Prop{Name: ical.PropTrigger, Params: make(ical.Params), Value: "PT0S"})
		comp.Children = append(comp.Children, alarm)
	case domain.EventTask:
		if ev.DueAt == nil {
			return nil
		}
		comp = ical.NewComponent(ical.CompToDo)
		comp.Props.SetDateTime(ical.PropDue, ev.DueAt.UTC())
		if ev.IsDone {
			comp.Props.SetText(ical.PropStatus, "COMPLETED")
		} else {
			comp.Props.SetText(ical.PropStatus, "NEEDS-ACTION")
		}
	default:
		return nil
	}

	comp.Props.SetText(ical.PropUID, ev.EventID)
	comp.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	comp.Props.SetText(ical.PropSummary, ev.Title)
	if ev.Description != "" {
		comp.Props.SetText(ical.PropDescription, ev.Description)
	}
	if ev.Color != "" {
		comp.Props.SetText(ical.PropColor, ev.Color)
	}
	if !ev.UpdatedAt.IsZero() {
		comp.Props.SetDateTime(ical.PropLastModified, ev.UpdatedAt.UTC())
	}
	return comp
}
