package icalendar

import (
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-calendar-nosql/internal/domain"
)

func ptr(t time.Time) *time.Time { return &t }

func TestBuild(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	cal := &domain.Calendar{CalendarID: "c1", Name: "Team", Color: "#ff0000"}
	events := []*domain.Event{
		{EventID: "e1", Type: domain.EventArrangement, Title: "Standup", StartAt: ptr(start), EndAt: ptr(start.Add(15 * time.Minute))},
		{EventID: "e2", Type: domain.EventReminder, Title: "Call mom", RemindAt: ptr(start)},
		{EventID: "e3", Type: domain.EventTask, Title: "Ship it", DueAt: ptr(start), IsDone: true},
		{EventID: "e4", Type: domain.EventArrangement, Title: "broken"},
	}

	out := Build(cal, events, now)
	require.Len(t, out.Children, 3)

	assert.Equal(t, ical.CompEvent, out.Children[0].Name)
	assert.Equal(t, ical.CompEvent, out.Children[1].Name)
	require.Len(t, out.Children[1].Children, 1)
	assert.Equal(t, ical.CompAlarm, out.Children[1].Children[0].Name)
	assert.Equal(t, ical.CompToDo, out.Children[2].Name)

	status, err := out.Children[2].Props.Text(ical.PropStatus)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", status)

	data, err := Encode(out)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "BEGIN:VCALENDAR"))
	assert.Contains(t, text, "SUMMARY:Standup")
	assert.Contains(t, text, "UID:e3")
}

func TestBuild_AllDayEndIsExclusive(t *testing.T) {
	day := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	ev := &domain.Event{EventID: "e1", Type: domain.EventArrangement, Title: "Holiday", AllDay: true, StartAt: ptr(day), EndAt: ptr(day)}

	out := Build(&domain.Calendar{Name: "x"}, []*domain.Event{ev}, day)
	require.Len(t, out.Children, 1)

	prop := out.Children[0].Props.Get(ical.PropDateTimeEnd)
	require.NotNil(t, prop)
	assert.Equal(t, "20260511", prop.Value)
}
