// Package notify delivers best-effort notifications about bookings and leads
// to systems outside this service.
package notify

import (
	"context"
	"errors"
	"time"
)

// ErrServiceKeyMissing is returned when the internal service key is not configured.
var ErrServiceKeyMissing = errors.New("internal service key not configured")

// Booking describes an appointment for an external calendar.
type Booking struct {
	AppointmentID string
	AttendeeName  string
	AttendeeEmail string
	AttendeePhone string
	ScheduledAt   time.Time
	Duration      time.Duration
	Title         string
	Notes         string
	UserID        string
	CompanyID     string
}

// Lead describes a prospect for the CRM.
type Lead struct {
	ContactName  string
	ContactEmail string
	ContactPhone string
	Notes        string
	CompanyID    string
}

// BookingNotifier is told about every booking that has attendee identity.
type BookingNotifier interface {
	NotifyBooking(ctx context.Context, b Booking) error
}

// LeadNotifier is told about every lead write that carries an email.
type LeadNotifier interface {
	NotifyLead(ctx context.Context, l Lead) error
}

// Fanout delivers a booking to every notifier and joins their errors.
type Fanout []BookingNotifier

// NotifyBooking implements BookingNotifier.
func (f Fanout) NotifyBooking(ctx context.Context, b Booking) error {
	var errs []error
	for _, n := range f {
		if err := n.NotifyBooking(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards notifications.
type Nop struct{}

// NotifyBooking implements BookingNotifier.
func (Nop) NotifyBooking(context.Context, Booking) error { return nil }

// NotifyLead implements LeadNotifier.
func (Nop) NotifyLead(context.Context, Lead) error { return nil }
