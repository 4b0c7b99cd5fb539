// Package scheduling computes bookable meeting slots from weekly availability
// windows and existing bookings, books appointments and maps free-text replies
// back onto offered slots.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/leadflow/internal/domain"
	"github.com/ashureev/leadflow/internal/notify"
	"github.com/ashureev/leadflow/internal/store"
)

const (
	targetDays      = 3
	slotsPerDay     = 2
	markGranularity = 15
	blockingMinutes = 60
	defaultSlotMins = 60
)

// ErrSlotUnavailable is returned when the requested slot was taken by a
// concurrent booking.
var ErrSlotUnavailable = errors.New("slot is no longer available")

// Calendar is the persistence surface the engine needs.
type Calendar interface {
	ListAvailability(ctx context.Context, companyID, ownerID string) ([]*domain.AvailabilityWindow, error)
	ListBlockingStarts(ctx context.Context, companyID, ownerID string, from, to time.Time) ([]time.Time, error)
	CreateAppointment(ctx context.Context, a *domain.Appointment) error
}

// Service is the scheduling engine.
type Service struct {
	cal      Calendar
	notifier notify.BookingNotifier
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLocation sets the time zone windows are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock overrides the current time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a scheduling engine. A nil notifier disables booking notifications.
func New(cal Calendar, notifier notify.BookingNotifier, opts ...Option) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	s := &Service{
		cal:      cal,
		notifier: notifier,
		loc:      time.Local,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the time zone slots are computed in.
func (s *Service) Location() *time.Location { return s.loc }

// AvailableSlots returns up to maxSlots future slots within daysAhead days,
// spread over at most three days with at most two slots each. It returns an
// empty list when scheduling is disabled or the agent has no tenant.
func (s *Service) AvailableSlots(ctx context.Context, agent *domain.Agent, daysAhead, maxSlots int) ([]domain.TimeSlot, error) {
	if agent == nil || !agent.Behavior.CalendarEnabled() || agent.CompanyID == "" {
		return []domain.TimeSlot{}, nil
	}
	owner := agent.Behavior.CalendarUserID

	windows, err := s.cal.ListAvailability(ctx, agent.CompanyID, owner)
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	byDay := make(map[int][]*domain.AvailabilityWindow)
	for _, w := range windows {
		if w.Active {
			byDay[w.DayOfWeek] = append(byDay[w.DayOfWeek], w)
		}
	}
	for _, ws := range byDay {
		sort.SliceStable(ws, func(i, j int) bool { return ws[i].StartTime < ws[j].StartTime })
	}

	now := s.now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)

	var days [][]domain.TimeSlot
	for offset := 0; offset < daysAhead && len(days) < targetDays; offset++ {
		day := today.AddDate(0, 0, offset)
		dayWindows := byDay[isoWeekday(day)]
		if len(dayWindows) == 0 {
			continue
		}

		booked, err := s.bookedMarks(ctx, agent.CompanyID, owner, day)
		if err != nil {
			return nil, err
		}

		var daySlots []domain.TimeSlot
		for _, w := range dayWindows {
			daySlots = s.windowSlots(daySlots, w, day, now, booked)
			if len(daySlots) >= slotsPerDay {
				break
			}
		}
		if len(daySlots) > 0 {
			days = append(days, daySlots)
		}
	}

	slots := make([]domain.TimeSlot, 0, targetDays*slotsPerDay)
	for _, d := range days {
		slots = append(slots, d...)
	}
	if maxSlots >= 0 && len(slots) > maxSlots {
		slots = slots[:maxSlots]
	}
	return slots, nil
}

// bookedMarks returns the 15-minute marks of day covered by blocking entries.
// Each entry blocks one hour from its start.
func (s *Service) bookedMarks(ctx context.Context, companyID, owner string, day time.Time) (map[int]struct{}, error) {
	dayEnd := day.AddDate(0, 0, 1).Add(-time.Second)
	starts, err := s.cal.ListBlockingStarts(ctx, companyID, owner, day, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("list bookings for %s: %w", day.Format(time.DateOnly), err)
	}

	booked := make(map[int]struct{})
	for _, start := range starts {
		start = start.In(s.loc)
		from := start.Hour()*60 + start.Minute()
		for m := from / markGranularity; m*markGranularity < from+blockingMinutes; m++ {
			booked[m] = struct{}{}
		}
	}
	return booked, nil
}

func (s *Service) windowSlots(out []domain.TimeSlot, w *domain.AvailabilityWindow, day, now time.Time, booked map[int]struct{}) []domain.TimeSlot {
	startMin, err := parseClock(w.StartTime)
	if err != nil {
		s.logger.Warn("skipping availability window", "window_id", w.ID, "error", err)
		return out
	}
	endMin, err := parseClock(w.EndTime)
	if err != nil {
		s.logger.Warn("skipping availability window", "window_id", w.ID, "error", err)
		return out
	}
	step := w.SlotDuration
	if step <= 0 {
		step = defaultSlotMins
	}

	for cur := startMin; cur+step <= endMin && len(out) < slotsPerDay; cur += step {
		if !free(booked, cur, cur+step) {
			continue
		}
		start := time.Date(day.Year(), day.Month(), day.Day(), cur/60, cur%60, 0, 0, s.loc)
		if !start.After(now) {
			continue
		}
		out = append(out, domain.TimeSlot{
			Start: start,
			End:   start.Add(time.Duration(step) * time.Minute),
			Label: FormatSlotLabel(start),
		})
	}
	return out
}

func free(booked map[int]struct{}, from, to int) bool {
	for m := from / markGranularity; m*markGranularity < to; m++ {
		if _, taken := booked[m]; taken {
			return false
		}
	}
	return true
}

func parseClock(v string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q", v)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 24 {
		return 0, fmt.Errorf("invalid hour in %q", v)
	}
	minute, err := strconv.Atoi(m[:min(2, len(m))])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", v)
	}
	return hour*60 + minute, nil
}

func isoWeekday(t time.Time) int {
	if wd := int(t.Weekday()); wd != 0 {
		return wd
	}
	return 7
}

// AppointmentRequest carries everything needed to book a slot.
type AppointmentRequest struct {
	AgentID        string
	CompanyID      string
	ConversationID string
	LeadID         string
	CalendarUserID string
	ScheduledAt    time.Time
	Duration       int
	Status         domain.AppointmentStatus
	Notes          string
	AttendeeName   string
	AttendeeEmail  string
	AttendeePhone  string
}

// CreateAppointment books the slot and notifies external calendars. A slot
// taken concurrently yields ErrSlotUnavailable. Notification failures are
// logged and never fail the booking.
func (s *Service) CreateAppointment(ctx context.Context, req AppointmentRequest) (*domain.Appointment, error) {
	if req.Duration <= 0 {
		req.Duration = defaultSlotMins
	}
	if req.Status == "" {
		req.Status = domain.AppointmentScheduled
	}

	appt := &domain.Appointment{
		AgentID:        req.AgentID,
		CompanyID:      req.CompanyID,
		ConversationID: req.ConversationID,
		LeadID:         req.LeadID,
		CalendarUserID: req.CalendarUserID,
		ScheduledAt:    req.ScheduledAt,
		Duration:       req.Duration,
		Status:         req.Status,
		Notes:          req.Notes,
		Metadata: map[string]any{
			"attendeeName":  req.AttendeeName,
			"attendeeEmail": req.AttendeeEmail,
			"attendeePhone": req.AttendeePhone,
		},
	}
	if err := s.cal.CreateAppointment(ctx, appt); err != nil {
		if errors.Is(err, store.ErrBookingConflict) {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.notifyBooking(ctx, appt, req)
	return appt, nil
}

func (s *Service) notifyBooking(ctx context.Context, appt *domain.Appointment, req AppointmentRequest) {
	if req.AttendeeName == "" || req.AttendeeEmail == "" {
		return
	}
	title := req.AttendeeName
	if req.AttendeePhone != "" {
		title = req.AttendeeName + " - " + req.AttendeePhone
	}
	err := s.notifier.NotifyBooking(ctx, notify.Booking{
		AppointmentID: appt.ID,
		AttendeeName:  req.AttendeeName,
		AttendeeEmail: req.AttendeeEmail,
		AttendeePhone: req.AttendeePhone,
		ScheduledAt:   appt.ScheduledAt,
		Duration:      time.Duration(appt.Duration) * time.Minute,
		Title:         title,
		Notes:         appt.Notes,
		UserID:        appt.CalendarUserID,
		CompanyID:     appt.CompanyID,
	})
	if err != nil {
		s.logger.Warn("booking notification failed",
			"appointment_id", appt.ID,
			"company_id", appt.CompanyID,
			"error", err,
		)
	}
}
