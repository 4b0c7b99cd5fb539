package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

func TestInternalAPINotifyBooking(t *testing.T) {
	t.Parallel()

	var gotPath, gotKey string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get(ServiceKeyHeader)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	api := NewInternalAPI(srv.URL+"/", "secret", time.Second)
	err := api.NotifyBooking(context.Background(), Booking{
		AttendeeName:  "Maria",
		AttendeeEmail: "maria@example.com",
		AttendeePhone: "(11) 98765-4321",
		ScheduledAt:   time.Date(2030, 3, 4, 12, 0, 0, 0, time.UTC),
		Title:         "Maria - (11) 98765-4321",
		CompanyID:     "acme",
	})
	require.NoError(t, err)

	assert.Equal(t, "/calendar/internal/appointments", gotPath)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "2030-03-04T12:00:00Z", got["scheduledAt"])
	assert.Equal(t, "Maria - (11) 98765-4321", got["title"])
	assert.Equal(t, "acme", got["companyId"])
}

func TestInternalAPINotifyLeadErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/leads/internal", r.URL.Path)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewInternalAPI(srv.URL, "secret", time.Second).NotifyLead(context.Background(), Lead{ContactEmail: "a@b.co"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	err = NewInternalAPI(srv.URL, "", time.Second).NotifyLead(context.Background(), Lead{ContactEmail: "a@b.co"})
	assert.ErrorIs(t, err, ErrServiceKeyMissing)
}

type recordingNotifier struct {
	calls int
	err   error
}

func (r *recordingNotifier) NotifyBooking(context.Context, Booking) error {
	r.calls++
	return r.err
}

func TestFanoutJoinsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	a, b, c := &recordingNotifier{}, &recordingNotifier{err: boom}, &recordingNotifier{}
	err := Fanout{a, b, c}.NotifyBooking(context.Background(), Booking{})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, c.calls, "a failing notifier does not stop the rest")
}

func TestGoogleCalendarInsertsEvent(t *testing.T) {
	t.Parallel()

	var event map[string]any
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&event)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"evt-1"}`))
	}))
	defer srv.Close()

	service, err := calendar.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"),
	)
	require.NoError(t, err)

	g := NewGoogleCalendarFromService(service, "")
	err = g.NotifyBooking(context.Background(), Booking{
		AppointmentID: "apt-1",
		AttendeeName:  "Maria",
		AttendeeEmail: "maria@example.com",
		ScheduledAt:   time.Date(2030, 3, 4, 9, 0, 0, 0, time.UTC),
		Title:         "Maria",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(gotPath, "/calendars/primary/events"), gotPath)
	assert.Equal(t, "Maria", event["summary"])
	end := event["end"].(map[string]any)
	assert.Equal(t, "2030-03-04T10:00:00Z", end["dateTime"])
}
