package states

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ashureev/leadflow/internal/domain"
	"github.com/ashureev/leadflow/internal/fsm"
	"github.com/ashureev/leadflow/internal/leads"
	"github.com/ashureev/leadflow/internal/scheduling"
)

const slotQuestion = "Qual horário funciona melhor para você? Pode responder com o número da opção (ex: \"1\") ou descrever o horário."

type askingQuestions struct{ Deps }

func (h askingQuestions) Handle(ctx context.Context, agent *domain.Agent, conv *domain.Conversation, message string) (fsm.Result, error) {
	questions := agent.Behavior.StrategicQuestions
	answered := slices.Clone(conv.Context.AnsweredQuestions)
	answer := strings.TrimSpace(message)

	if answer != "" && len(answered) < len(questions) {
		question := questions[len(answered)]
		check, err := h.Language.ValidateAnswer(ctx, question, answer)
		if err != nil {
			h.Logger.Warn("answer validation failed, accepting answer", "conversation_id", conv.ID, "error", err)
			check.IsValid = true
		}
		if !check.IsValid {
			text := h.generate(ctx, retryPrompt(agent, answer, question, check.Reason), answer,
				fmt.Sprintf("Entendo! Para eu conseguir te ajudar melhor, poderia me responder: %s", question))
			return reply(text, fsm.StayInState(conv.Context)), nil
		}
		answered = append(answered, domain.QA{Question: question, Answer: answer})
	}

	setAnswers := func(c *domain.Context) { c.AnsweredQuestions = answered }
	if len(answered) < len(questions) {
		return reply(questions[len(answered)], fsm.StayInState(conv.Context, setAnswers)), nil
	}

	if conv.Context.LeadID != "" {
		h.saveAnswers(ctx, conv, answered)
	}

	c := conv.Context
	if !agent.Behavior.CalendarEnabled() {
		return reply(h.closing(ctx, agent, c, answered), fsm.TransitionTo(c, domain.StateCompleted, setAnswers)), nil
	}

	slots, err := h.Scheduler.AvailableSlots(ctx, agent, showDaysAhead, showMaxSlots)
	if err != nil {
		h.Logger.Error("slot lookup failed", "conversation_id", conv.ID, "error", err)
		slots = nil
	}
	if len(slots) == 0 {
		return reply(h.closing(ctx, agent, c, answered), fsm.TransitionTo(c, domain.StateCompleted, setAnswers)), nil
	}

	text := h.diagnosis(ctx, agent, c, answered) +
		"\n\nAqui estão os horários disponíveis:\n\n" + scheduling.FormatSlotList(slots) + "\n\n" + slotQuestion
	return reply(text, fsm.TransitionTo(c, domain.StateConfirmingAppointment, setAnswers, func(c *domain.Context) {
		c.AvailableSlots = slots
	})), nil
}

func (h askingQuestions) saveAnswers(ctx context.Context, conv *domain.Conversation, answered []domain.QA) {
	leadID := conv.Context.LeadID
	lead, err := h.Leads.FindByConversation(ctx, conv.ID)
	if err != nil {
		h.Logger.Warn("lead lookup failed", "conversation_id", conv.ID, "error", err)
	} else if lead != nil {
		leadID = lead.ID
	}

	_, err = h.Leads.Update(ctx, leadID, leads.UpdateInput{Metadata: map[string]any{
		"answeredQuestions":    answered,
		"questionsCompletedAt": h.Now().UTC().Format(timeLayout),
	}})
	if err != nil {
		h.Logger.Error("saving answers on lead failed", "conversation_id", conv.ID, "lead_id", leadID, "error", err)
	}
}

func (h askingQuestions) closing(ctx context.Context, agent *domain.Agent, c domain.Context, answered []domain.QA) string {
	prompt := fmt.Sprintf(`Você é o assistente virtual da %s. O cliente %s acabou de responder às perguntas de qualificação:

%s

Escreva uma mensagem de encerramento que:
1. Agradeça pelas respostas
2. Mostre que você entendeu o contexto do cliente
3. Informe que a equipe entrará em contato em breve

Seja caloroso e conciso (máximo 4 linhas). Assine como "- Equipe %s".`, company(agent), nameOr(c, "cliente"), qaList(answered), team(agent))
	fallback := fmt.Sprintf("Obrigado pelas respostas, %s! Nossa equipe vai analisar suas informações e entrará em contato em breve. 😊\n\n- Equipe %s",
		nameOr(c, "você"), team(agent))
	return h.generate(ctx, prompt, "Gere a mensagem de encerramento.", fallback)
}

func (h askingQuestions) diagnosis(ctx context.Context, agent *domain.Agent, c domain.Context, answered []domain.QA) string {
	prompt := fmt.Sprintf(`Você é o assistente virtual da %s. O cliente %s respondeu às perguntas de qualificação:

%s

Escreva um breve diagnóstico personalizado que:
1. Resuma o principal desafio do cliente
2. Mostre como a %s pode ajudar
3. Convide o cliente para uma conversa com a equipe

Seja consultivo e conciso (máximo 3 linhas). Não liste horários.`, company(agent), nameOr(c, "cliente"), qaList(answered), company(agent))
	fallback := fmt.Sprintf("Obrigado pelas respostas, %s! Pelo que você compartilhou, acredito que podemos ajudar. Vamos marcar uma conversa?",
		nameOr(c, "você"))
	return h.generate(ctx, prompt, "Gere o diagnóstico.", fallback)
}

func retryPrompt(agent *domain.Agent, answer, question, reason string) string {
	return fmt.Sprintf(`Você é o assistente virtual da %s. Você fez a pergunta "%s" e o usuário respondeu "%s", o que não responde à pergunta (%s).

Gere uma resposta empática e curta (1 a 2 linhas) que reconheça a mensagem do usuário e refaça a pergunta de forma natural.`,
		company(agent), question, answer, reason)
}

func qaList(answered []domain.QA) string {
	parts := make([]string, len(answered))
	for i, qa := range answered {
		parts[i] = fmt.Sprintf("%d. %s\nResposta: %s", i+1, qa.Question, qa.Answer)
	}
	return strings.Join(parts, "\n\n")
}
