// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/leadflow/internal/domain"
)

// ErrBookingConflict is returned when an appointment overlaps an existing booking.
var ErrBookingConflict = errors.New("booking conflicts with an existing appointment")

// ConversationStore persists conversations and their messages.
type ConversationStore interface {
	// CreateConversation creates an active conversation in initialState.
	CreateConversation(ctx context.Context, agentID, companyID, externalID, initialState string, initial domain.Context) (*domain.Conversation, error)

	// GetConversation retrieves a conversation within a tenant. Returns nil if not found.
	GetConversation(ctx context.Context, id, companyID string) (*domain.Conversation, error)

	// UpdateContext replaces the whole context and syncs current_state with it.
	UpdateContext(ctx context.Context, id, companyID string, c domain.Context) error

	// UpdateStatus sets the conversation status.
	UpdateStatus(ctx context.Context, id, companyID string, status domain.ConversationStatus) error

	// AppendMessage appends an immutable message to a conversation.
	AppendMessage(ctx context.Context, conversationID, companyID string, role domain.Role, content string, metadata map[string]any) (*domain.Message, error)

	// ListMessages returns the messages of a conversation in append order.
	ListMessages(ctx context.Context, conversationID, companyID string) ([]*domain.Message, error)
}

// LeadStore persists leads.
type LeadStore interface {
	// CreateLead inserts a new lead. ID, CreatedAt and UpdatedAt are filled in when empty.
	CreateLead(ctx context.Context, lead *domain.Lead) error

	// UpdateLead overwrites a lead's mutable fields.
	UpdateLead(ctx context.Context, lead *domain.Lead) error

	// GetLead retrieves a lead by id. Returns nil if not found.
	GetLead(ctx context.Context, id string) (*domain.Lead, error)

	// FindLeadByEmail looks a lead up by email within a tenant, optionally narrowed to an agent.
	FindLeadByEmail(ctx context.Context, email, companyID, agentID string) (*domain.Lead, error)

	// FindLeadByConversation returns the lead attached to a conversation. Returns nil if none.
	FindLeadByConversation(ctx context.Context, conversationID string) (*domain.Lead, error)
}

// CalendarStore persists availability windows, external bookings and appointments.
type CalendarStore interface {
	// ListAvailability returns active windows of a tenant. With ownerID set it returns the
	// owner's windows plus ownerless ones, otherwise only ownerless windows.
	ListAvailability(ctx context.Context, companyID, ownerID string) ([]*domain.AvailabilityWindow, error)

	// UpsertAvailability creates or replaces an availability window.
	UpsertAvailability(ctx context.Context, w *domain.AvailabilityWindow) error

	// UpsertBooking creates or replaces a booking mirrored from the external calendar.
	UpsertBooking(ctx context.Context, b *domain.Booking) error

	// ListBlockingStarts returns start times in [from, to] of pending/confirmed bookings and
	// scheduled/confirmed appointments. A non-empty ownerID narrows to that owner.
	ListBlockingStarts(ctx context.Context, companyID, ownerID string, from, to time.Time) ([]time.Time, error)

	// CreateAppointment inserts an appointment after re-checking, in the same transaction,
	// that no blocking entry overlaps it. Returns ErrBookingConflict on overlap.
	CreateAppointment(ctx context.Context, a *domain.Appointment) error
}

// Repository is the full persistence surface of the service.
type Repository interface {
	ConversationStore
	LeadStore
	CalendarStore

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
