package states

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/leadflow/internal/domain"
	"github.com/ashureev/leadflow/internal/fsm"
	"github.com/ashureev/leadflow/internal/language"
	"github.com/ashureev/leadflow/internal/leads"
	"github.com/ashureev/leadflow/internal/scheduling"
)

const (
	toolGetSlots = "get_available_slots"
	toolBook     = "book_appointment"
)

func appointmentNotes(prefix string, answered []domain.QA) string {
	if len(answered) == 0 {
		return prefix + "\n\nRespostas coletadas:\nNenhuma resposta coletada."
	}
	return prefix + "\n\nRespostas coletadas:\n" + leads.FormatAnswers(answered)
}

func confirmation(agent *domain.Agent, c domain.Context, label string) string {
	return fmt.Sprintf("Perfeito! ✅ Seu horário está confirmado:\n\n📅 %s\n\n"+
		"Você receberá uma confirmação por e-mail com todos os detalhes. Estamos ansiosos para conversar com você, %s!\n\n"+
		"Se precisar reagendar ou tiver alguma dúvida, é só entrar em contato.\n\nAté breve!\n- Equipe %s",
		label, nameOr(c, "você"), team(agent))
}

func appointmentRequest(agent *domain.Agent, conv *domain.Conversation, slot domain.TimeSlot, duration int, notes string) scheduling.AppointmentRequest {
	c := conv.Context
	return scheduling.AppointmentRequest{
		AgentID:        agent.ID,
		CompanyID:      tenant(agent, conv),
		ConversationID: conv.ID,
		LeadID:         c.LeadID,
		CalendarUserID: agent.Behavior.CalendarUserID,
		ScheduledAt:    slot.Start,
		Duration:       duration,
		Status:         domain.AppointmentScheduled,
		Notes:          notes,
		AttendeeName:   c.CustomerName,
		AttendeeEmail:  c.CustomerEmail,
		AttendeePhone:  c.CustomerPhone,
	}
}

type showingCalendarOptions struct{ Deps }

func (h showingCalendarOptions) Handle(ctx context.Context, agent *domain.Agent, conv *domain.Conversation, _ string) (fsm.Result, error) {
	slots, err := h.Scheduler.AvailableSlots(ctx, agent, showDaysAhead, showMaxSlots)
	if err != nil {
		h.Logger.Error("slot lookup failed", "conversation_id", conv.ID, "error", err)
		return reply("Desculpe, tive um problema ao buscar os horários disponíveis. Nossa equipe entrará em contato com você em breve.",
			fsm.TransitionTo(conv.Context, domain.StateCompleted)), nil
	}
	if len(slots) == 0 {
		return reply("Desculpe, no momento não temos horários disponíveis. Nossa equipe entrará em contato com você em breve pelo e-mail ou telefone fornecido.",
			fsm.TransitionTo(conv.Context, domain.StateCompleted)), nil
	}

	text := "Ótimo! Aqui estão os horários disponíveis para nossa conversa:\n\n" + scheduling.FormatSlotList(slots) +
		"\n\nQual horário funciona melhor para você? Pode responder com o número da opção ou descrever o horário."
	return reply(text, fsm.TransitionTo(conv.Context, domain.StateConfirmingAppointment, func(c *domain.Context) {
		c.AvailableSlots = slots
	})), nil
}

type confirmingAppointment struct{ Deps }

func (h confirmingAppointment) Handle(ctx context.Context, agent *domain.Agent, conv *domain.Conversation, message string) (fsm.Result, error) {
	c := conv.Context
	if len(c.AvailableSlots) == 0 {
		return reply("Desculpe, parece que perdemos as opções de horário. Vamos tentar novamente.",
			fsm.TransitionTo(c, domain.StateShowingCalendarOptions)), nil
	}

	slot := scheduling.ParseTimeSelection(message, c.AvailableSlots)
	if slot == nil {
		text := "Desculpe, não consegui identificar qual horário você escolheu. Por favor, escolha um dos horários abaixo:\n\n" +
			scheduling.FormatSlotList(c.AvailableSlots) +
			"\n\nVocê pode responder com o número da opção (ex: \"2\") ou descrever o horário."
		return reply(text, fsm.StayInState(c)), nil
	}

	notes := appointmentNotes("Agendado via agente de IA.", c.AnsweredQuestions)
	appt, err := h.Scheduler.CreateAppointment(ctx, appointmentRequest(agent, conv, *slot, agent.Behavior.AppointmentDuration(), notes))
	if errors.Is(err, scheduling.ErrSlotUnavailable) {
		return h.slotTaken(ctx, agent, conv), nil
	}
	if err != nil {
		h.Logger.Error("appointment booking failed", "conversation_id", conv.ID, "error", err)
		return reply("Desculpe, tive um problema ao confirmar o agendamento. Nossa equipe entrará em contato com você em breve para confirmar o horário.",
			fsm.TransitionTo(c, domain.StateCompleted)), nil
	}

	label := slot.Label
	return reply(confirmation(agent, c, label), fsm.TransitionTo(c, domain.StateCompleted, func(c *domain.Context) {
		c.AppointmentID = appt.ID
		c.SelectedSlot = label
	})), nil
}

// slotTaken re-offers fresh slots after losing a booking race.
func (h confirmingAppointment) slotTaken(ctx context.Context, agent *domain.Agent, conv *domain.Conversation) fsm.Result {
	h.Logger.Info("slot taken by a concurrent booking", "conversation_id", conv.ID)

	slots, err := h.Scheduler.AvailableSlots(ctx, agent, showDaysAhead, showMaxSlots)
	if err != nil {
		h.Logger.Error("slot lookup failed", "conversation_id", conv.ID, "error", err)
		slots = nil
	}
	if len(slots) == 0 {
		return reply("Desculpe, esse horário acabou de ser reservado e no momento não temos outros horários disponíveis. "+
			"Nossa equipe entrará em contato com você em breve pelo e-mail ou telefone fornecido.",
			fsm.TransitionTo(conv.Context, domain.StateCompleted))
	}

	text := "Desculpe, esse horário acabou de ser reservado por outra pessoa. Aqui estão os horários disponíveis agora:\n\n" +
		scheduling.FormatSlotList(slots) + "\n\n" + slotQuestion
	return reply(text, fsm.StayInState(conv.Context, func(c *domain.Context) {
		c.AvailableSlots = slots
	}))
}

type negotiatingCalendar struct{ Deps }

var negotiationTools = []language.ToolDefinition{
	{
		Name:        toolGetSlots,
		Description: "Lista os horários disponíveis para agendamento, opcionalmente filtrados pela preferência do cliente.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"preference": map[string]any{
					"type":        "string",
					"description": "Preferência do cliente, por exemplo \"manhã\" ou \"terça-feira\".",
				},
			},
		},
	},
	{
		Name:        toolBook,
		Description: "Agenda a reunião no horário escolhido pelo cliente.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"slot_index": map[string]any{
					"type":        "number",
					"description": "Índice (começando em 0) do horário na lista de horários disponíveis.",
				},
				"confirmation": map[string]any{
					"type":        "string",
					"description": "Resumo do horário confirmado pelo cliente.",
				},
			},
			"required": []string{"slot_index", "confirmation"},
		},
	},
}

func (h negotiatingCalendar) Handle(ctx context.Context, agent *domain.Agent, conv *domain.Conversation, message string) (fsm.Result, error) {
	c := conv.Context
	failure := fmt.Sprintf("Desculpe, tive um problema ao processar o agendamento. Nossa equipe entrará em contato com você em breve.\n\nObrigado!\n- Equipe %s", company(agent))

	slots, err := h.Scheduler.AvailableSlots(ctx, agent, showDaysAhead, negotiateMaxSlots)
	if err != nil {
		h.Logger.Error("slot lookup failed", "conversation_id", conv.ID, "error", err)
		return reply(failure, fsm.TransitionTo(c, domain.StateCompleted)), nil
	}
	if len(slots) == 0 {
		text := fmt.Sprintf("Desculpe, no momento não temos horários disponíveis nas próximas semanas. Nossa equipe entrará em contato com você em breve pelo e-mail ou telefone fornecido.\n\nObrigado pelo interesse!\n- Equipe %s", company(agent))
		return reply(text, fsm.TransitionTo(c, domain.StateCompleted)), nil
	}

	messages := make([]language.ChatMessage, 0, len(c.CalendarMessages)+2)
	messages = append(messages, language.ChatMessage{Role: language.RoleSystem, Content: negotiationPrompt(agent, c, slots)})
	for _, turn := range c.CalendarMessages {
		messages = append(messages, language.ChatMessage{Role: language.Role(turn.Role), Content: turn.Content})
	}
	messages = append(messages, language.ChatMessage{Role: language.RoleUser, Content: message})

	result, err := h.Language.Converse(ctx, messages, negotiationTools)
	if err != nil {
		h.Logger.Error("calendar negotiation failed", "conversation_id", conv.ID, "error", err)
		return reply(failure, fsm.TransitionTo(c, domain.StateCompleted)), nil
	}

	stay := func(text string) fsm.Result {
		return reply(text, fsm.StayInState(c, func(c *domain.Context) {
			c.AvailableSlots = slots
			c.CalendarMessages = append(c.CalendarMessages,
				domain.ChatTurn{Role: string(language.RoleUser), Content: message},
				domain.ChatTurn{Role: string(language.RoleAssistant), Content: text},
			)
		}))
	}

	switch {
	case result.ToolCall != nil && result.ToolCall.Name == toolBook:
		var args struct {
			SlotIndex    *float64 `json:"slot_index"`
			Confirmation string   `json:"confirmation"`
		}
		if err := json.Unmarshal([]byte(result.ToolCall.Arguments), &args); err != nil || args.SlotIndex == nil {
			return stay("Desculpe, houve um erro ao identificar o horário. Vamos tentar novamente. Qual horário você prefere?"), nil
		}
		idx := int(*args.SlotIndex)
		if idx < 0 || idx >= len(slots) || float64(idx) != *args.SlotIndex {
			return stay("Desculpe, houve um erro ao identificar o horário. Vamos tentar novamente. Qual horário você prefere?"), nil
		}

		slot := slots[idx]
		notes := appointmentNotes("Agendado via agente de IA (negociação inteligente).", c.AnsweredQuestions)
		appt, err := h.Scheduler.CreateAppointment(ctx, appointmentRequest(agent, conv, slot, negotiateSlotMins, notes))
		if errors.Is(err, scheduling.ErrSlotUnavailable) {
			return stay("Desculpe, esse horário acabou de ser reservado por outra pessoa. Qual outro horário você prefere?"), nil
		}
		if err != nil {
			h.Logger.Error("appointment booking failed", "conversation_id", conv.ID, "error", err)
			return reply(failure, fsm.TransitionTo(c, domain.StateCompleted)), nil
		}
		return reply(confirmation(agent, c, slot.Label), fsm.TransitionTo(c, domain.StateCompleted, func(c *domain.Context) {
			c.AppointmentID = appt.ID
			c.SelectedSlot = slot.Label
		})), nil

	case result.ToolCall != nil && result.ToolCall.Name == toolGetSlots:
		return stay(h.listSlots(ctx, conv, messages, result, slots)), nil

	default:
		text := strings.TrimSpace(result.Text)
		if text == "" {
			text = "Vamos encontrar um horário ideal para você!"
		}
		return stay(text), nil
	}
}

// listSlots answers a slot-listing tool call and returns the model's follow-up text.
func (h negotiatingCalendar) listSlots(ctx context.Context, conv *domain.Conversation, messages []language.ChatMessage, result language.ConverseResult, slots []domain.TimeSlot) string {
	const fallback = "Vamos encontrar um horário que funcione para você!"

	type listed struct {
		Index     int    `json:"index"`
		Formatted string `json:"formatted"`
	}
	payload := struct {
		AvailableSlots []listed `json:"available_slots"`
	}{AvailableSlots: make([]listed, len(slots))}
	for i, s := range slots {
		payload.AvailableSlots[i] = listed{Index: i, Formatted: s.Label}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fallback
	}

	followUp := append(messages,
		language.ChatMessage{Role: language.RoleAssistant, Content: result.Text, ToolCalls: []language.ToolCall{*result.ToolCall}},
		language.ChatMessage{Role: language.RoleTool, Content: string(body), ToolCallID: result.ToolCall.ID},
	)
	next, err := h.Language.Converse(ctx, followUp, negotiationTools)
	if err != nil {
		h.Logger.Warn("slot listing follow-up failed", "conversation_id", conv.ID, "error", err)
		return fallback
	}
	if text := strings.TrimSpace(next.Text); text != "" {
		return text
	}
	return fallback
}

func negotiationPrompt(agent *domain.Agent, c domain.Context, slots []domain.TimeSlot) string {
	lines := make([]string, len(slots))
	for i, s := range slots {
		lines[i] = fmt.Sprintf("%d. %s", i, s.Label)
	}
	return fmt.Sprintf(`Você é o assistente de agendamento da %s e está conversando com %s para marcar uma reunião.

Horários disponíveis (índice começando em 0):
%s

Instruções:
- Ajude o cliente a escolher um dos horários acima, considerando as preferências dele.
- Use a ferramenta %s quando o cliente quiser ver ou filtrar os horários.
- Use a ferramenta %s somente quando o cliente confirmar claramente um horário da lista.
- Nunca invente horários fora da lista.
- Seja cordial e objetivo (máximo 3 linhas).`, company(agent), nameOr(c, "o cliente"), strings.Join(lines, "\n"), toolGetSlots, toolBook)
}
