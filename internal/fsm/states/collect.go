package states

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/leadflow/internal/domain"
	"github.com/ashureev/leadflow/internal/fsm"
	"github.com/ashureev/leadflow/internal/leads"
)

var fieldExplanations = map[string]string{
	"name":  "seu nome para personalizar nossa conversa e identificar você corretamente",
	"email": "seu e-mail para enviar confirmações e materiais relevantes",
	"phone": "seu telefone para contato direto caso necessário",
}

type initializing struct{}

func (initializing) Handle(_ context.Context, agent *domain.Agent, conv *domain.Conversation, _ string) (fsm.Result, error) {
	greeting := fmt.Sprintf("Olá! Sou o assistente virtual da %s. É um prazer falar com você! 😊\n\nPara começarmos, qual é o seu nome?", company(agent))
	return reply(greeting, fsm.TransitionTo(conv.Context, domain.StateCollectingName)), nil
}

// answerQuestion replies to a question or objection raised instead of the
// requested field. ok is false when the message looks like data.
func (d Deps) answerQuestion(ctx context.Context, agent *domain.Agent, message, field string) (string, bool) {
	check, err := d.Language.DetectQuestionOrObjection(ctx, message, field)
	if err != nil {
		d.Logger.Warn("question detection failed", "field", field, "error", err)
		return "", false
	}
	if !check.IsQuestion {
		return "", false
	}

	explanation := fieldExplanations[field]
	prompt := fmt.Sprintf(`Você é o assistente virtual da %s. O usuário fez uma pergunta/objeção quando você pediu %s.

Gere uma resposta amigável e profissional que:
1. Responda à dúvida do usuário
2. Explique brevemente por que você precisa dessa informação
3. Reforce que os dados são seguros e usados apenas para atendimento
4. Peça novamente a informação de forma natural

Seja empático, conciso (máximo 3 linhas) e mantenha o tom conversacional.`, company(agent), explanation)
	fallback := fmt.Sprintf("Entendo sua dúvida! Preciso de %s para te atender melhor. Pode me informar, por favor?", explanation)
	return d.generate(ctx, prompt, message, fallback), true
}

func (d Deps) extract(ctx context.Context, field, description, message string) string {
	v, err := d.Language.ExtractField(ctx, field, description, message)
	if err != nil {
		d.Logger.Warn("field extraction failed", "field", field, "error", err)
		return ""
	}
	return strings.TrimSpace(v)
}

type collectingName struct{ Deps }

func (h collectingName) Handle(ctx context.Context, agent *domain.Agent, conv *domain.Conversation, message string) (fsm.Result, error) {
	if text, ok := h.answerQuestion(ctx, agent, message, "name"); ok {
		return reply(text, fsm.StayInState(conv.Context)), nil
	}

	name := h.extract(ctx, "name", "o nome completo da pessoa", message)
	if len([]rune(name)) < 2 {
		return reply("Desculpe, não consegui entender seu nome. Poderia me informar novamente, por favor?",
			fsm.StayInState(conv.Context)), nil
	}

	text := fmt.Sprintf("Prazer em conhecê-lo, %s! 👋\n\nAgora, qual é o seu melhor e-mail para contato?", name)
	return reply(text, fsm.TransitionTo(conv.Context, domain.StateCollectingEmail, func(c *domain.Context) {
		c.CustomerName = name
	})), nil
}

type collectingEmail struct{ Deps }

func (h collectingEmail) Handle(ctx context.Context, agent *domain.Agent, conv *domain.Conversation, message string) (fsm.Result, error) {
	if text, ok := h.answerQuestion(ctx, agent, message, "email"); ok {
		return reply(text, fsm.StayInState(conv.Context)), nil
	}

	email := strings.ToLower(h.extract(ctx, "email", "o endereço de e-mail", message))
	if !ValidEmail(email) {
		return reply("Não consegui identificar um e-mail válido. Você poderia informar novamente, por favor? (Ex: seunome@email.com)",
			fsm.StayInState(conv.Context)), nil
	}

	leadID := conv.Context.LeadID
	if name := conv.Context.CustomerName; name != "" {
		if id := h.saveLeadByEmail(ctx, agent, conv, name, email); id != "" {
			leadID = id
		}
	}

	text := fmt.Sprintf("Perfeito! Recebi seu e-mail: %s ✅\n\nPor último, qual é o seu telefone com DDD? (Ex: (11) 98765-4321)", email)
	return reply(text, fsm.TransitionTo(conv.Context, domain.StateCollectingPhone, func(c *domain.Context) {
		c.CustomerEmail = email
		c.LeadID = leadID
	})), nil
}

// saveLeadByEmail updates the tenant's lead with email or creates one. It
// returns the lead id, or "" when persistence failed.
func (d Deps) saveLeadByEmail(ctx context.Context, agent *domain.Agent, conv *domain.Conversation, name, email string) string {
	companyID := tenant(agent, conv)
	existing, err := d.Leads.FindByEmail(ctx, email, companyID, agent.ID)
	if err != nil {
		d.Logger.Error("lead lookup failed", "conversation_id", conv.ID, "error", err)
		return ""
	}

	if existing != nil {
		if _, err := d.Leads.Update(ctx, existing.ID, leads.UpdateInput{
			Name:           name,
			Email:          email,
			ConversationID: conv.ID,
		}); err != nil {
			d.Logger.Error("lead update failed", "conversation_id", conv.ID, "lead_id", existing.ID, "error", err)
		}
		return existing.ID
	}

	lead, err := d.Leads.Create(ctx, leads.CreateInput{
		AgentID:        agent.ID,
		CompanyID:      companyID,
		ConversationID: conv.ID,
		Name:           name,
		Email:          email,
		Metadata: map[string]any{
			"source":      "agent_conversation",
			"collectedAt": d.Now().UTC().Format(timeLayout),
		},
	})
	if err != nil {
		d.Logger.Error("lead creation failed", "conversation_id", conv.ID, "error", err)
		return ""
	}
	return lead.ID
}

type collectingPhone struct{ Deps }

func (h collectingPhone) Handle(ctx context.Context, agent *domain.Agent, conv *domain.Conversation, message string) (fsm.Result, error) {
	if text, ok := h.answerQuestion(ctx, agent, message, "phone"); ok {
		return reply(text, fsm.StayInState(conv.Context)), nil
	}

	phone, ok := NormalizePhone(h.extract(ctx, "phone", "o número de telefone com DDD", message))
	if !ok {
		return reply("Não consegui identificar um telefone válido. Poderia informar novamente com o DDD? (Ex: 11987654321 ou (11) 98765-4321)",
			fsm.StayInState(conv.Context)), nil
	}

	c := conv.Context
	leadID := c.LeadID
	switch {
	case leadID != "":
		if _, err := h.Leads.Update(ctx, leadID, leads.UpdateInput{Phone: phone}); err != nil {
			h.Logger.Error("lead phone update failed", "conversation_id", conv.ID, "lead_id", leadID, "error", err)
		}
	case c.CustomerName != "" && c.CustomerEmail != "":
		lead, err := h.Leads.Create(ctx, leads.CreateInput{
			AgentID:        agent.ID,
			CompanyID:      tenant(agent, conv),
			ConversationID: conv.ID,
			Name:           c.CustomerName,
			Email:          c.CustomerEmail,
			Phone:          phone,
			Metadata: map[string]any{
				"source":      "agent_conversation",
				"collectedAt": h.Now().UTC().Format(timeLayout),
			},
		})
		if err != nil {
			h.Logger.Error("lead creation failed", "conversation_id", conv.ID, "error", err)
		} else {
			leadID = lead.ID
		}
	}

	set := func(c *domain.Context) {
		c.CustomerPhone = phone
		c.LeadID = leadID
	}
	registered := fmt.Sprintf("Ótimo! Telefone registrado: %s 📱\n\n", phone)

	if questions := agent.Behavior.StrategicQuestions; len(questions) > 0 {
		text := registered + "Agora vou fazer algumas perguntas rápidas para entender melhor como podemos ajudá-lo.\n\n" + questions[0]
		return reply(text, fsm.TransitionTo(c, domain.StateAskingQuestions, set, resetAnswers)), nil
	}
	if agent.Behavior.CalendarEnabled() {
		text := registered + "Perfeito! Agora vamos encontrar um horário ideal para conversarmos."
		return reply(text, fsm.TransitionTo(c, domain.StateShowingCalendarOptions, set)), nil
	}
	text := registered + fmt.Sprintf("Obrigado pelas informações! Em breve entraremos em contato. 😊\n\n- Equipe %s", team(agent))
	return reply(text, fsm.TransitionTo(c, domain.StateCompleted, set)), nil
}

func resetAnswers(c *domain.Context) {
	c.AnsweredQuestions = []domain.QA{}
}
