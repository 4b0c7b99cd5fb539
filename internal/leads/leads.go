// Package leads manages prospect records built up during a conversation and
// mirrors them to the CRM.
package leads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/ashureev/leadflow/internal/domain"
	"github.com/ashureev/leadflow/internal/notify"
	"github.com/ashureev/leadflow/internal/store"
)

// ErrLeadNotFound is returned when updating a lead that does not exist.
var ErrLeadNotFound = errors.New("lead not found")

// CreateInput holds the fields of a new lead.
type CreateInput struct {
	AgentID        string
	CompanyID      string
	ConversationID string
	Name           string
	Email          string
	Phone          string
	Metadata       map[string]any
}

// UpdateInput holds the fields to change. Empty strings leave a field as is;
// Metadata keys are merged over the stored metadata.
type UpdateInput struct {
	ConversationID string
	Name           string
	Email          string
	Phone          string
	Status         domain.LeadStatus
	Metadata       map[string]any
}

// Service creates, updates and looks up leads.
type Service struct {
	store    store.LeadStore
	notifier notify.LeadNotifier
	logger   *slog.Logger
}

// New creates a lead service. A nil notifier disables CRM sync.
func New(st store.LeadStore, notifier notify.LeadNotifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, notifier: notifier, logger: logger}
}

// Create stores a new lead with status new and syncs it to the CRM.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Lead, error) {
	lead := &domain.Lead{
		AgentID:        in.AgentID,
		CompanyID:      in.CompanyID,
		ConversationID: in.ConversationID,
		Name:           in.Name,
		Email:          in.Email,
		Phone:          in.Phone,
		Status:         domain.LeadNew,
		Metadata:       maps.Clone(in.Metadata),
	}
	if err := s.store.CreateLead(ctx, lead); err != nil {
		return nil, fmt.Errorf("create lead: %w", err)
	}

	s.logger.Info("lead created", "lead_id", lead.ID, "company_id", lead.CompanyID, "conversation_id", lead.ConversationID)

	if lead.Email != "" {
		notes := "Lead criado via agente de IA"
		if answers := lead.AnsweredQuestions(); len(answers) > 0 {
			notes = "Lead criado via agente de IA.\n\nRespostas coletadas:\n" + FormatAnswers(answers)
		}
		s.sync(ctx, lead.ID, notify.Lead{
			ContactName:  lead.Name,
			ContactEmail: lead.Email,
			ContactPhone: lead.Phone,
			Notes:        notes,
			CompanyID:    lead.CompanyID,
		})
	}
	return lead, nil
}

// Update applies in to the lead with id and syncs the change to the CRM.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*domain.Lead, error) {
	lead, err := s.store.GetLead(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	if lead == nil {
		return nil, ErrLeadNotFound
	}

	if in.ConversationID != "" {
		lead.ConversationID = in.ConversationID
	}
	if in.Name != "" {
		lead.Name = in.Name
	}
	if in.Email != "" {
		lead.Email = in.Email
	}
	if in.Phone != "" {
		lead.Phone = in.Phone
	}
	if in.Status != "" {
		lead.Status = in.Status
	}
	if len(in.Metadata) > 0 {
		if lead.Metadata == nil {
			lead.Metadata = make(map[string]any, len(in.Metadata))
		}
		maps.Copy(lead.Metadata, in.Metadata)
	}

	if err := s.store.UpdateLead(ctx, lead); err != nil {
		return nil, fmt.Errorf("update lead: %w", err)
	}

	if lead.Email != "" {
		update := notify.Lead{
			ContactName:  in.Name,
			ContactEmail: lead.Email,
			ContactPhone: in.Phone,
			CompanyID:    lead.CompanyID,
		}
		if answers := lead.AnsweredQuestions(); len(answers) > 0 {
			update.Notes = "Lead atualizado via agente de IA.\n\nRespostas coletadas:\n" + FormatAnswers(answers)
		}
		s.sync(ctx, lead.ID, update)
	}
	return lead, nil
}

// FindByEmail returns the tenant's lead with email, optionally narrowed to
// agentID. Returns nil if none.
func (s *Service) FindByEmail(ctx context.Context, email, companyID, agentID string) (*domain.Lead, error) {
	lead, err := s.store.FindLeadByEmail(ctx, email, companyID, agentID)
	if err != nil {
		return nil, fmt.Errorf("find lead by email: %w", err)
	}
	return lead, nil
}

// FindByConversation returns the lead attached to a conversation. Returns nil if none.
func (s *Service) FindByConversation(ctx context.Context, conversationID string) (*domain.Lead, error) {
	lead, err := s.store.FindLeadByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("find lead by conversation: %w", err)
	}
	return lead, nil
}

func (s *Service) sync(ctx context.Context, leadID string, l notify.Lead) {
	if err := s.notifier.NotifyLead(ctx, l); err != nil {
		s.logger.Warn("lead sync failed", "lead_id", leadID, "company_id", l.CompanyID, "error", err)
	}
}

// FormatAnswers renders collected answers as a numbered list for notes.
func FormatAnswers(answers []domain.QA) string {
	parts := make([]string, len(answers))
	for i, qa := range answers {
		parts[i] = fmt.Sprintf("%d. %s\n   Resposta: %s", i+1, qa.Question, qa.Answer)
	}
	return strings.Join(parts, "\n\n")
}
