package domain

import "time"

// AppointmentStatus is the status of a meeting booked by an agent.
type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentCompleted AppointmentStatus = "completed"
)

// Appointment is created once per successful booking.
type Appointment struct {
	ID             string            `json:"id"`
	AgentID        string            `json:"agentId"`
	CompanyID      string            `json:"companyId"`
	ConversationID string            `json:"conversationId,omitempty"`
	LeadID         string            `json:"leadId,omitempty"`
	CalendarUserID string            `json:"calendarUserId,omitempty"`
	ScheduledAt    time.Time         `json:"scheduledAt"`
	Duration       int               `json:"duration"`
	Status         AppointmentStatus `json:"status"`
	Notes          string            `json:"notes,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// End returns the end of the appointment.
func (a *Appointment) End() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.Duration) * time.Minute)
}

// BookingStatus is the status of an entry in the tenant's shared calendar.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

// Booking is a calendar entry owned by the external booking system.
type Booking struct {
	ID          string        `json:"id"`
	CompanyID   string        `json:"companyId"`
	UserID      string        `json:"userId,omitempty"`
	Title       string        `json:"title,omitempty"`
	ScheduledAt time.Time     `json:"scheduledAt"`
	Status      BookingStatus `json:"status"`
}

// AvailabilityWindow is a recurring weekly rule. DayOfWeek runs 1 (Monday) to 7 (Sunday).
// An empty UserID means the window belongs to no specific calendar owner.
type AvailabilityWindow struct {
	ID           string `json:"id" yaml:"id"`
	CompanyID    string `json:"companyId" yaml:"companyId"`
	UserID       string `json:"userId,omitempty" yaml:"userId,omitempty"`
	Name         string `json:"name,omitempty" yaml:"name,omitempty"`
	DayOfWeek    int    `json:"dayOfWeek" yaml:"dayOfWeek"`
	StartTime    string `json:"startTime" yaml:"startTime"`
	EndTime      string `json:"endTime" yaml:"endTime"`
	SlotDuration int    `json:"slotDuration" yaml:"slotDuration"`
	Active       bool   `json:"active" yaml:"active"`
}

// TimeSlot is a bookable interval with its display label.
type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"formatted"`
}
