package notify

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleCalendar inserts an event for every booking into one Google calendar.
type GoogleCalendar struct {
	events     *calendar.EventsService
	calendarID string
}

// NewGoogleCalendar authenticates with a service-account or OAuth credentials file.
func NewGoogleCalendar(ctx context.Context, credentialsFile, calendarID string) (*GoogleCalendar, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read calendar credentials: %w", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, calendar.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("parse calendar credentials: %w", err)
	}

	service, err := calendar.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return NewGoogleCalendarFromService(service, calendarID), nil
}

// NewGoogleCalendarFromService wraps an existing Calendar API service.
func NewGoogleCalendarFromService(service *calendar.Service, calendarID string) *GoogleCalendar {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleCalendar{events: service.Events, calendarID: calendarID}
}

// NotifyBooking implements BookingNotifier.
func (g *GoogleCalendar) NotifyBooking(ctx context.Context, b Booking) error {
	duration := b.Duration
	if duration <= 0 {
		duration = time.Hour
	}

	event := &calendar.Event{
		Summary:     b.Title,
		Description: b.Notes,
		Start:       &calendar.EventDateTime{DateTime: b.ScheduledAt.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: b.ScheduledAt.Add(duration).Format(time.RFC3339)},
		Attendees: []*calendar.EventAttendee{
			{Email: b.AttendeeEmail, DisplayName: b.AttendeeName},
		},
	}
	if b.AppointmentID != "" {
		event.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: map[string]string{"appointmentId": b.AppointmentID},
		}
	}

	if _, err := g.events.Insert(g.calendarID, event).Context(ctx).Do(); err != nil {
		return fmt.Errorf("insert calendar event: %w", err)
	}
	return nil
}
