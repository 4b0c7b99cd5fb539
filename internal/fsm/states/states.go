// Package states implements the reference handler set of the lead
// qualification conversation, one handler type per state.
package states

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/leadflow/internal/domain"
	"github.com/ashureev/leadflow/internal/fsm"
	"github.com/ashureev/leadflow/internal/language"
	"github.com/ashureev/leadflow/internal/leads"
	"github.com/ashureev/leadflow/internal/scheduling"
)

const (
	showDaysAhead      = 14
	showMaxSlots       = 9
	negotiateMaxSlots  = 15
	negotiateSlotMins  = 60
	defaultCompanyName = "nossa empresa"
	defaultTeamName    = "nossa equipe"
	timeLayout         = time.RFC3339
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// LeadService is the lead persistence the handlers use.
type LeadService interface {
	Create(ctx context.Context, in leads.CreateInput) (*domain.Lead, error)
	Update(ctx context.Context, id string, in leads.UpdateInput) (*domain.Lead, error)
	FindByEmail(ctx context.Context, email, companyID, agentID string) (*domain.Lead, error)
	FindByConversation(ctx context.Context, conversationID string) (*domain.Lead, error)
}

// Scheduler is the scheduling engine the calendar handlers use.
type Scheduler interface {
	AvailableSlots(ctx context.Context, agent *domain.Agent, daysAhead, maxSlots int) ([]domain.TimeSlot, error)
	CreateAppointment(ctx context.Context, req scheduling.AppointmentRequest) (*domain.Appointment, error)
}

// Deps are the collaborators shared by every handler.
type Deps struct {
	Language  language.Service
	Leads     LeadService
	Scheduler Scheduler
	Now       func() time.Time
	Logger    *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// Handlers returns the reference handler set keyed by state id.
func Handlers(deps Deps) map[string]fsm.Handler {
	deps = deps.withDefaults()
	return map[string]fsm.Handler{
		domain.StateInitializing:           initializing{},
		domain.StateCollectingName:         collectingName{deps},
		domain.StateCollectingEmail:        collectingEmail{deps},
		domain.StateCollectingPhone:        collectingPhone{deps},
		domain.StateCreatingLead:           creatingLead{deps},
		domain.StateAskingQuestions:        askingQuestions{deps},
		domain.StateShowingCalendarOptions: showingCalendarOptions{deps},
		domain.StateConfirmingAppointment:  confirmingAppointment{deps},
		domain.StateNegotiatingCalendar:    negotiatingCalendar{deps},
		domain.StateCompleted:              completed{},
		domain.StateError:                  errorRecovery{},
	}
}

// Register binds the reference handler set to engine.
func Register(engine *fsm.Engine, deps Deps) {
	engine.RegisterHandlers(Handlers(deps))
}

func reply(text string, c domain.Context) fsm.Result {
	return fsm.Result{Response: text, Context: c}
}

func tenant(agent *domain.Agent, conv *domain.Conversation) string {
	if conv.CompanyID != "" {
		return conv.CompanyID
	}
	return agent.CompanyID
}

func company(agent *domain.Agent) string {
	return agent.Behavior.CompanyOr(defaultCompanyName)
}

func team(agent *domain.Agent) string {
	return agent.Behavior.CompanyOr(defaultTeamName)
}

func nameOr(c domain.Context, fallback string) string {
	if c.CustomerName == "" {
		return fallback
	}
	return c.CustomerName
}

// generate asks the language service for text and falls back to a fixed reply.
func (d Deps) generate(ctx context.Context, systemPrompt, userMessage, fallback string) string {
	text, err := d.Language.GenerateText(ctx, systemPrompt, userMessage, nil)
	if err != nil {
		d.Logger.Warn("text generation failed, using fixed reply", "error", err)
		return fallback
	}
	if strings.TrimSpace(text) == "" {
		return fallback
	}
	return strings.TrimSpace(text)
}

// ValidEmail reports whether v looks like an e-mail address.
func ValidEmail(v string) bool {
	return emailPattern.MatchString(v)
}

// NormalizePhone strips formatting from v and returns the display form
// "(XX) XXXXX-XXXX" or "(XX) XXXX-XXXX". ok is false unless 10 or 11 digits remain.
func NormalizePhone(v string) (formatted string, ok bool) {
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch len(digits) {
	case 11:
		return "(" + digits[:2] + ") " + digits[2:7] + "-" + digits[7:], true
	case 10:
		return "(" + digits[:2] + ") " + digits[2:6] + "-" + digits[6:], true
	default:
		return "", false
	}
}
