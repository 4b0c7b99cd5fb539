package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ServiceKeyHeader authenticates calls to the internal API.
const ServiceKeyHeader = "x-internal-service-key"

// InternalAPI posts bookings and leads to the company's internal CRM/calendar API.
type InternalAPI struct {
	baseURL    string
	serviceKey string
	client     *http.Client
}

// NewInternalAPI creates a client for baseURL. A zero timeout defaults to 10s.
func NewInternalAPI(baseURL, serviceKey string, timeout time.Duration) *InternalAPI {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &InternalAPI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		client:     &http.Client{Timeout: timeout},
	}
}

type appointmentPayload struct {
	AttendeeName  string `json:"attendeeName"`
	AttendeeEmail string `json:"attendeeEmail"`
	AttendeePhone string `json:"attendeePhone,omitempty"`
	ScheduledAt   string `json:"scheduledAt"`
	Title         string `json:"title"`
	Notes         string `json:"notes,omitempty"`
	UserID        string `json:"userId,omitempty"`
	CompanyID     string `json:"companyId"`
}

type leadPayload struct {
	ContactName  string `json:"contactName,omitempty"`
	ContactEmail string `json:"contactEmail"`
	ContactPhone string `json:"contactPhone,omitempty"`
	Notes        string `json:"notes,omitempty"`
	CompanyID    string `json:"companyId"`
}

// NotifyBooking implements BookingNotifier.
func (a *InternalAPI) NotifyBooking(ctx context.Context, b Booking) error {
	return a.post(ctx, "/calendar/internal/appointments", appointmentPayload{
		AttendeeName:  b.AttendeeName,
		AttendeeEmail: b.AttendeeEmail,
		AttendeePhone: b.AttendeePhone,
		ScheduledAt:   b.ScheduledAt.UTC().Format(time.RFC3339),
		Title:         b.Title,
		Notes:         b.Notes,
		UserID:        b.UserID,
		CompanyID:     b.CompanyID,
	})
}

// NotifyLead implements LeadNotifier.
func (a *InternalAPI) NotifyLead(ctx context.Context, l Lead) error {
	return a.post(ctx, "/leads/internal", leadPayload{
		ContactName:  l.ContactName,
		ContactEmail: l.ContactEmail,
		ContactPhone: l.ContactPhone,
		Notes:        l.Notes,
		CompanyID:    l.CompanyID,
	})
}

func (a *InternalAPI) post(ctx context.Context, path string, payload interface{}) error {
	if a.serviceKey == "" {
		return ErrServiceKeyMissing
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ServiceKeyHeader, a.serviceKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post %s: unexpected status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
