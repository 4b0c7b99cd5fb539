package states

import (
	"context"
	"fmt"

	"github.com/ashureev/leadflow/internal/domain"
	"github.com/ashureev/leadflow/internal/fsm"
	"github.com/ashureev/leadflow/internal/leads"
)

type creatingLead struct{ Deps }

func (h creatingLead) Handle(ctx context.Context, agent *domain.Agent, conv *domain.Conversation, _ string) (fsm.Result, error) {
	c := conv.Context
	if c.CustomerName == "" || c.CustomerEmail == "" {
		return reply("Desculpe, parece que faltam algumas informações. Vamos recomeçar.",
			fsm.TransitionTo(c, domain.StateCollectingName)), nil
	}

	lead, err := h.Leads.Create(ctx, leads.CreateInput{
		AgentID:        agent.ID,
		CompanyID:      tenant(agent, conv),
		ConversationID: conv.ID,
		Name:           c.CustomerName,
		Email:          c.CustomerEmail,
		Phone:          c.CustomerPhone,
		Metadata: map[string]any{
			"source":      "agent_conversation",
			"collectedAt": h.Now().UTC().Format(timeLayout),
		},
	})
	if err != nil {
		h.Logger.Error("lead creation failed", "conversation_id", conv.ID, "error", err)
		return reply("Obrigado pelas informações! Vamos continuar.",
			fsm.TransitionTo(c, domain.StateAskingQuestions, resetAnswers)), nil
	}

	setLead := func(c *domain.Context) { c.LeadID = lead.ID }
	if questions := agent.Behavior.StrategicQuestions; len(questions) > 0 {
		return reply(questions[0], fsm.TransitionTo(c, domain.StateAskingQuestions, setLead, resetAnswers)), nil
	}
	if agent.Behavior.CalendarEnabled() {
		return reply("Perfeito! Agora vamos encontrar um horário ideal para conversarmos.",
			fsm.TransitionTo(c, domain.StateShowingCalendarOptions, setLead)), nil
	}
	text := fmt.Sprintf("Obrigado pelas informações! Em breve entraremos em contato. 😊\n\n- Equipe %s", company(agent))
	return reply(text, fsm.TransitionTo(c, domain.StateCompleted, setLead)), nil
}
