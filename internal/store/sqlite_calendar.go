package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/leadflow/internal/domain"
	"github.com/ashureev/leadflow/internal/shared"
	"github.com/google/uuid"
)

// blockingDuration is how long an external booking blocks the calendar.
const blockingDuration = time.Hour

// ListAvailability returns active windows of a tenant.
func (s *SQLiteStore) ListAvailability(ctx context.Context, companyID, ownerID string) ([]*domain.AvailabilityWindow, error) {
	query := `
		SELECT id, company_id, user_id, name, day_of_week, start_time, end_time, slot_duration, active
		FROM availability_windows
		WHERE company_id = ? AND active = 1`
	args := []interface{}{companyID}
	if ownerID != "" {
		query += ` AND (user_id = ? OR user_id IS NULL)`
		args = append(args, ownerID)
	} else {
		query += ` AND user_id IS NULL`
	}
	query += ` ORDER BY day_of_week, start_time`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query availability: %w", err)
	}
	defer rows.Close()

	var windows []*domain.AvailabilityWindow
	for rows.Next() {
		var w domain.AvailabilityWindow
		var userID, name sql.NullString
		var active int
		if err := rows.Scan(&w.ID, &w.CompanyID, &userID, &name, &w.DayOfWeek, &w.StartTime, &w.EndTime, &w.SlotDuration, &active); err != nil {
			return nil, fmt.Errorf("scan availability row: %w", err)
		}
		w.UserID = userID.String
		w.Name = name.String
		w.Active = active == 1
		windows = append(windows, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate availability: %w", err)
	}
	return windows, nil
}

// UpsertAvailability creates or replaces an availability window.
func (s *SQLiteStore) UpsertAvailability(ctx context.Context, w *domain.AvailabilityWindow) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	query := `
	INSERT INTO availability_windows (id, company_id, user_id, name, day_of_week, start_time, end_time, slot_duration, active)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		company_id = excluded.company_id,
		user_id = excluded.user_id,
		name = excluded.name,
		day_of_week = excluded.day_of_week,
		start_time = excluded.start_time,
		end_time = excluded.end_time,
		slot_duration = excluded.slot_duration,
		active = excluded.active`

	active := 0
	if w.Active {
		active = 1
	}
	return withRetry(ctx, "upsert availability", func() error {
		_, err := s.db.ExecContext(ctx, query,
			w.ID, w.CompanyID, nullable(w.UserID), nullable(w.Name),
			w.DayOfWeek, w.StartTime, w.EndTime, w.SlotDuration, active,
		)
		return err
	})
}

// UpsertBooking creates or replaces a booking mirrored from the external calendar.
func (s *SQLiteStore) UpsertBooking(ctx context.Context, b *domain.Booking) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	query := `
	INSERT INTO bookings (id, company_id, user_id, title, scheduled_at, status)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id,
		title = excluded.title,
		scheduled_at = excluded.scheduled_at,
		status = excluded.status`

	return withRetry(ctx, "upsert booking", func() error {
		_, err := s.db.ExecContext(ctx, query,
			b.ID, b.CompanyID, nullable(b.UserID), nullable(b.Title), b.ScheduledAt.Unix(), string(b.Status),
		)
		return err
	})
}

// ListBlockingStarts returns start times of entries that block the calendar in [from, to].
func (s *SQLiteStore) ListBlockingStarts(ctx context.Context, companyID, ownerID string, from, to time.Time) ([]time.Time, error) {
	bookingQuery := `SELECT scheduled_at FROM bookings
		WHERE company_id = ? AND scheduled_at >= ? AND scheduled_at <= ? AND status IN ('pending', 'confirmed')`
	appointmentQuery := `SELECT scheduled_at FROM appointments
		WHERE company_id = ? AND scheduled_at >= ? AND scheduled_at <= ? AND status IN ('scheduled', 'confirmed')`
	bookingArgs := []interface{}{companyID, from.Unix(), to.Unix()}
	appointmentArgs := []interface{}{companyID, from.Unix(), to.Unix()}
	if ownerID != "" {
		bookingQuery += ` AND user_id = ?`
		appointmentQuery += ` AND calendar_user_id = ?`
		bookingArgs = append(bookingArgs, ownerID)
		appointmentArgs = append(appointmentArgs, ownerID)
	}

	query := bookingQuery + ` UNION ALL ` + appointmentQuery + ` ORDER BY scheduled_at`
	rows, err := s.db.QueryContext(ctx, query, append(bookingArgs, appointmentArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("query blocking entries: %w", err)
	}
	defer rows.Close()

	var starts []time.Time
	for rows.Next() {
		var at int64
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("scan blocking entry: %w", err)
		}
		starts = append(starts, time.Unix(at, 0))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocking entries: %w", err)
	}
	return starts, nil
}

// CreateAppointment inserts an appointment after re-checking for overlaps in the same transaction.
func (s *SQLiteStore) CreateAppointment(ctx context.Context, a *domain.Appointment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = domain.AppointmentScheduled
	}
	if a.Duration <= 0 {
		a.Duration = 60
	}
	now := time.Now()
	a.CreatedAt = time.Unix(now.Unix(), 0)

	metadataJSON, err := marshalMetadata(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal appointment metadata: %w", err)
	}

	s.bookingMu.Lock()
	defer s.bookingMu.Unlock()

	err = withRetry(ctx, "insert appointment", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		overlaps, err := countOverlaps(ctx, tx, a)
		if err != nil {
			return err
		}
		if overlaps > 0 {
			return ErrBookingConflict
		}

		_, err = tx.ExecContext(ctx, `
		INSERT INTO appointments (id, agent_id, company_id, conversation_id, lead_id, calendar_user_id,
			scheduled_at, duration, status, notes, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.AgentID, a.CompanyID, nullable(a.ConversationID), nullable(a.LeadID), nullable(a.CalendarUserID),
			a.ScheduledAt.Unix(), a.Duration, string(a.Status), nullable(a.Notes), metadataJSON, now.Unix(),
		)
		if err != nil {
			if shared.IsSQLiteUniqueError(err) {
				return ErrBookingConflict
			}
			return err
		}
		return tx.Commit()
	})
	if errors.Is(err, ErrBookingConflict) {
		return ErrBookingConflict
	}
	return err
}

func countOverlaps(ctx context.Context, tx *sql.Tx, a *domain.Appointment) (int, error) {
	bookingQuery := `SELECT scheduled_at AS starts, scheduled_at + ? AS ends FROM bookings
		WHERE company_id = ? AND status IN ('pending', 'confirmed')`
	appointmentQuery := `SELECT scheduled_at AS starts, scheduled_at + duration * 60 AS ends FROM appointments
		WHERE company_id = ? AND status IN ('scheduled', 'confirmed')`
	bookingArgs := []interface{}{int64(blockingDuration.Seconds()), a.CompanyID}
	appointmentArgs := []interface{}{a.CompanyID}
	if a.CalendarUserID != "" {
		bookingQuery += ` AND user_id = ?`
		appointmentQuery += ` AND calendar_user_id = ?`
		bookingArgs = append(bookingArgs, a.CalendarUserID)
		appointmentArgs = append(appointmentArgs, a.CalendarUserID)
	}

	query := `SELECT COUNT(*) FROM (` + bookingQuery + ` UNION ALL ` + appointmentQuery + `) WHERE starts < ? AND ends > ?`
	args := append(bookingArgs, appointmentArgs...)
	args = append(args, a.End().Unix(), a.ScheduledAt.Unix())

	var n int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("check appointment overlap: %w", err)
	}
	return n, nil
}
