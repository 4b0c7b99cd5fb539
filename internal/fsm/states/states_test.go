package states

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ashureev/leadflow/internal/domain"
	"github.com/ashureev/leadflow/internal/fsm"
	"github.com/ashureev/leadflow/internal/language"
	"github.com/ashureev/leadflow/internal/leads"
	"github.com/ashureev/leadflow/internal/scheduling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLanguage struct {
	language.Rules
	question      bool
	converse      []language.ConverseResult
	converseCalls [][]language.ChatMessage
}

func (f *fakeLanguage) DetectQuestionOrObjection(ctx context.Context, message, field string) (language.QuestionCheck, error) {
	if f.question {
		return language.QuestionCheck{IsQuestion: true, Intent: "objection"}, nil
	}
	return f.Rules.DetectQuestionOrObjection(ctx, message, field)
}

func (f *fakeLanguage) Converse(_ context.Context, messages []language.ChatMessage, _ []language.ToolDefinition) (language.ConverseResult, error) {
	f.converseCalls = append(f.converseCalls, messages)
	if len(f.converse) == 0 {
		return language.ConverseResult{}, language.ErrUnsupported
	}
	next := f.converse[0]
	f.converse = f.converse[1:]
	return next, nil
}

type leadUpdate struct {
	id string
	in leads.UpdateInput
}

type fakeLeads struct {
	created  []leads.CreateInput
	updates  []leadUpdate
	existing *domain.Lead
}

func (f *fakeLeads) Create(_ context.Context, in leads.CreateInput) (*domain.Lead, error) {
	f.created = append(f.created, in)
	return &domain.Lead{ID: fmt.Sprintf("lead-%d", len(f.created)), Email: in.Email}, nil
}

func (f *fakeLeads) Update(_ context.Context, id string, in leads.UpdateInput) (*domain.Lead, error) {
	f.updates = append(f.updates, leadUpdate{id: id, in: in})
	return &domain.Lead{ID: id}, nil
}

func (f *fakeLeads) FindByEmail(context.Context, string, string, string) (*domain.Lead, error) {
	return f.existing, nil
}

func (f *fakeLeads) FindByConversation(context.Context, string) (*domain.Lead, error) {
	return f.existing, nil
}

type fakeScheduler struct {
	slots     []domain.TimeSlot
	err       error
	createErr error
	requests  []scheduling.AppointmentRequest
	calls     []int
}

func (f *fakeScheduler) AvailableSlots(_ context.Context, _ *domain.Agent, _, maxSlots int) ([]domain.TimeSlot, error) {
	f.calls = append(f.calls, maxSlots)
	return f.slots, f.err
}

func (f *fakeScheduler) CreateAppointment(_ context.Context, req scheduling.AppointmentRequest) (*domain.Appointment, error) {
	f.requests = append(f.requests, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &domain.Appointment{ID: "appt-1", ScheduledAt: req.ScheduledAt, Duration: req.Duration}, nil
}

type harness struct {
	engine *fsm.Engine
	lang   *fakeLanguage
	leads  *fakeLeads
	sched  *fakeScheduler
	agent  *domain.Agent
}

var brt = time.FixedZone("BRT", -3*60*60)

func testSlots() []domain.TimeSlot {
	starts := []time.Time{
		time.Date(2024, time.October, 14, 9, 0, 0, 0, brt),
		time.Date(2024, time.October, 14, 14, 0, 0, 0, brt),
		time.Date(2024, time.October, 15, 10, 0, 0, 0, brt),
	}
	out := make([]domain.TimeSlot, len(starts))
	for i, s := range starts {
		out[i] = domain.TimeSlot{Start: s, End: s.Add(time.Hour), Label: scheduling.FormatSlotLabel(s)}
	}
	return out
}

func newHarness(t *testing.T, questions ...string) *harness {
	t.Helper()
	h := &harness{
		engine: fsm.NewEngine(nil),
		lang:   &fakeLanguage{},
		leads:  &fakeLeads{},
		sched:  &fakeScheduler{slots: testSlots()},
		agent: &domain.Agent{
			ID:        "agent-1",
			CompanyID: "acme",
			FSM:       domain.ReferenceFSM(),
			Behavior:  domain.BehaviorConfig{CompanyName: "Acme", StrategicQuestions: questions},
		},
	}
	Register(h.engine, Deps{
		Language:  h.lang,
		Leads:     h.leads,
		Scheduler: h.sched,
		Now:       func() time.Time { return time.Date(2024, time.October, 14, 8, 0, 0, 0, brt) },
	})
	return h
}

func (h *harness) turn(t *testing.T, c domain.Context, message string) fsm.Result {
	t.Helper()
	conv := &domain.Conversation{
		ID:           "conv-1",
		AgentID:      h.agent.ID,
		CompanyID:    "acme",
		CurrentState: c.CurrentState,
		Status:       domain.ConversationActive,
		Context:      c,
	}
	res := h.engine.ProcessMessage(context.Background(), h.agent, conv, message)
	require.Empty(t, res.Context.LastError, "handler failed")
	return res
}

func TestInitializingGreets(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.turn(t, domain.Context{CurrentState: domain.StateInitializing}, "")
	assert.Contains(t, res.Response, "assistente virtual da Acme")
	assert.Equal(t, domain.StateCollectingName, res.Context.CurrentState)
}

func TestCollectingName(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.turn(t, domain.Context{CurrentState: domain.StateCollectingName}, "Meu nome é Maria Souza")
	assert.Equal(t, domain.StateCollectingEmail, res.Context.CurrentState)
	assert.Equal(t, "Maria Souza", res.Context.CustomerName)
	assert.Contains(t, res.Response, "Prazer em conhecê-lo, Maria Souza!")

	res = h.turn(t, domain.Context{CurrentState: domain.StateCollectingName}, "x")
	assert.Equal(t, domain.StateCollectingName, res.Context.CurrentState)
}

func TestCollectingFieldAnswersQuestionsWithoutConsuming(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.lang.question = true

	res := h.turn(t, domain.Context{CurrentState: domain.StateCollectingEmail, CustomerName: "Maria"}, "maria@example.com")
	assert.Equal(t, domain.StateCollectingEmail, res.Context.CurrentState)
	assert.Empty(t, res.Context.CustomerEmail)
	assert.Equal(t, "Entendo sua dúvida! Preciso de seu e-mail para enviar confirmações e materiais relevantes para te atender melhor. Pode me informar, por favor?", res.Response)
	assert.Empty(t, h.leads.created)
}

func TestCollectingEmailCreatesLead(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.turn(t, domain.Context{CurrentState: domain.StateCollectingEmail, CustomerName: "Maria"}, "é Maria@Example.com")
	assert.Equal(t, domain.StateCollectingPhone, res.Context.CurrentState)
	assert.Equal(t, "maria@example.com", res.Context.CustomerEmail)
	assert.Equal(t, "lead-1", res.Context.LeadID)
	require.Len(t, h.leads.created, 1)
	assert.Equal(t, "agent_conversation", h.leads.created[0].Metadata["source"])
}

func TestCollectingEmailUpdatesExistingLead(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.leads.existing = &domain.Lead{ID: "lead-old"}

	res := h.turn(t, domain.Context{CurrentState: domain.StateCollectingEmail, CustomerName: "Maria"}, "maria@example.com")
	assert.Equal(t, "lead-old", res.Context.LeadID)
	assert.Empty(t, h.leads.created)
	require.Len(t, h.leads.updates, 1)
	assert.Equal(t, "conv-1", h.leads.updates[0].in.ConversationID)
}

func TestCollectingEmailRejectsInvalid(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.turn(t, domain.Context{CurrentState: domain.StateCollectingEmail, CustomerName: "Maria"}, "não tenho email")
	assert.Equal(t, domain.StateCollectingEmail, res.Context.CurrentState)
	assert.Contains(t, res.Response, "seunome@email.com")
}

func TestCollectingPhone(t *testing.T) {
	t.Parallel()

	t.Run("valid phone is formatted and starts questions", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, "Qual o seu maior desafio hoje?")
		res := h.turn(t, domain.Context{CurrentState: domain.StateCollectingPhone, LeadID: "lead-1"}, "11987654321")
		assert.Equal(t, domain.StateAskingQuestions, res.Context.CurrentState)
		assert.Equal(t, "(11) 98765-4321", res.Context.CustomerPhone)
		assert.NotNil(t, res.Context.AnsweredQuestions)
		assert.Contains(t, res.Response, "Qual o seu maior desafio hoje?")
		require.Len(t, h.leads.updates, 1)
		assert.Equal(t, "(11) 98765-4321", h.leads.updates[0].in.Phone)
	})

	t.Run("short number stays", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		res := h.turn(t, domain.Context{CurrentState: domain.StateCollectingPhone}, "123")
		assert.Equal(t, domain.StateCollectingPhone, res.Context.CurrentState)
		assert.Empty(t, res.Context.CustomerPhone)
	})

	t.Run("no questions goes to calendar", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		res := h.turn(t, domain.Context{CurrentState: domain.StateCollectingPhone, CustomerName: "Maria", CustomerEmail: "m@example.com"}, "(48) 9694-9571")
		assert.Equal(t, domain.StateShowingCalendarOptions, res.Context.CurrentState)
		assert.Equal(t, "(48) 9694-9571", res.Context.CustomerPhone)
		assert.Equal(t, "lead-1", res.Context.LeadID, "lead is created when none is tracked")
	})

	t.Run("calendar disabled completes", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		off := false
		h.agent.Behavior.EnableCalendar = &off
		res := h.turn(t, domain.Context{CurrentState: domain.StateCollectingPhone}, "11987654321")
		assert.Equal(t, domain.StateCompleted, res.Context.CurrentState)
		assert.Contains(t, res.Response, "- Equipe Acme")
	})
}

func TestNormalizePhone(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"11987654321":     "(11) 98765-4321",
		"(11) 98765-4321": "(11) 98765-4321",
		"4896949571":      "(48) 9694-9571",
	}
	for in, want := range tests {
		got, ok := NormalizePhone(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	_, ok := NormalizePhone("123")
	assert.False(t, ok)
}

func TestCreatingLead(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "Q1")

	res := h.turn(t, domain.Context{CurrentState: domain.StateCreatingLead, CustomerName: "Maria", CustomerEmail: "m@example.com"}, "")
	assert.Equal(t, domain.StateAskingQuestions, res.Context.CurrentState)
	assert.Equal(t, "Q1", res.Response)
	assert.Equal(t, "lead-1", res.Context.LeadID)

	res = h.turn(t, domain.Context{CurrentState: domain.StateCreatingLead}, "")
	assert.Equal(t, domain.StateCollectingName, res.Context.CurrentState)
}

func TestAskingQuestionsRequiresEveryValidAnswer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "Qual o seu maior desafio hoje?", "Quantos vendedores você tem?")
	c := domain.Context{CurrentState: domain.StateAskingQuestions, CustomerName: "Maria", LeadID: "lead-1", AnsweredQuestions: []domain.QA{}}

	res := h.turn(t, c, "ok")
	assert.Equal(t, domain.StateAskingQuestions, res.Context.CurrentState)
	assert.Empty(t, res.Context.AnsweredQuestions, "invalid answers are not counted")
	assert.Contains(t, res.Response, "Qual o seu maior desafio hoje?")

	res = h.turn(t, res.Context, "Gerar mais leads qualificados")
	assert.Equal(t, domain.StateAskingQuestions, res.Context.CurrentState)
	require.Len(t, res.Context.AnsweredQuestions, 1)
	assert.Equal(t, "Quantos vendedores você tem?", res.Response)

	res = h.turn(t, res.Context, "  Cinco  ")
	assert.Equal(t, domain.StateConfirmingAppointment, res.Context.CurrentState)
	require.Len(t, res.Context.AnsweredQuestions, 2)
	assert.Equal(t, "Cinco", res.Context.AnsweredQuestions[1].Answer)
	assert.Len(t, res.Context.AvailableSlots, 3)
	assert.Contains(t, res.Response, "1. Segunda-feira, 14 de outubro às 09:00")

	require.Len(t, h.leads.updates, 1)
	assert.Equal(t, "lead-1", h.leads.updates[0].id)
	assert.Len(t, h.leads.updates[0].in.Metadata["answeredQuestions"], 2)
}

func TestAskingQuestionsWithoutSlotsCompletes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "Q1")
	h.sched.slots = nil

	res := h.turn(t, domain.Context{CurrentState: domain.StateAskingQuestions, CustomerName: "Maria"}, "Uma resposta longa")
	assert.Equal(t, domain.StateCompleted, res.Context.CurrentState)
	assert.Contains(t, res.Response, "Obrigado pelas respostas, Maria!")
	assert.Empty(t, h.leads.updates, "no lead to update")
}

func TestShowingCalendarOptions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.turn(t, domain.Context{CurrentState: domain.StateShowingCalendarOptions}, "ok")
	assert.Equal(t, domain.StateConfirmingAppointment, res.Context.CurrentState)
	assert.Len(t, res.Context.AvailableSlots, 3)
	assert.Equal(t, []int{showMaxSlots}, h.sched.calls)

	h.sched.slots = nil
	res = h.turn(t, domain.Context{CurrentState: domain.StateShowingCalendarOptions}, "ok")
	assert.Equal(t, domain.StateCompleted, res.Context.CurrentState)

	h.sched.err = fmt.Errorf("db down")
	res = h.turn(t, domain.Context{CurrentState: domain.StateShowingCalendarOptions}, "ok")
	assert.Equal(t, domain.StateCompleted, res.Context.CurrentState)
	assert.Contains(t, res.Response, "tive um problema ao buscar")
}

func TestConfirmingAppointment(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	c := domain.Context{
		CurrentState:      domain.StateConfirmingAppointment,
		CustomerName:      "Maria",
		CustomerEmail:     "m@example.com",
		AnsweredQuestions: []domain.QA{{Question: "Q1", Answer: "A1"}},
		AvailableSlots:    testSlots(),
	}

	res := h.turn(t, c, "nenhum desses")
	assert.Equal(t, domain.StateConfirmingAppointment, res.Context.CurrentState)
	assert.Contains(t, res.Response, "não consegui identificar")
	assert.Empty(t, h.sched.requests)

	res = h.turn(t, c, "pode ser às 14:00")
	assert.Equal(t, domain.StateCompleted, res.Context.CurrentState)
	assert.Equal(t, "appt-1", res.Context.AppointmentID)
	assert.Equal(t, "Segunda-feira, 14 de outubro às 14:00", res.Context.SelectedSlot)
	assert.Contains(t, res.Response, "Estamos ansiosos para conversar com você, Maria!")

	require.Len(t, h.sched.requests, 1)
	req := h.sched.requests[0]
	assert.Equal(t, 60, req.Duration)
	assert.Equal(t, "Agendado via agente de IA.\n\nRespostas coletadas:\n1. Q1\n   Resposta: A1", req.Notes)
	assert.Equal(t, "m@example.com", req.AttendeeEmail)
}

func TestConfirmingAppointmentLostRace(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.sched.createErr = scheduling.ErrSlotUnavailable
	fresh := testSlots()[1:]
	h.sched.slots = fresh

	res := h.turn(t, domain.Context{CurrentState: domain.StateConfirmingAppointment, AvailableSlots: testSlots()}, "1")
	assert.Equal(t, domain.StateConfirmingAppointment, res.Context.CurrentState)
	assert.Equal(t, fresh, res.Context.AvailableSlots)
	assert.Contains(t, res.Response, "acabou de ser reservado")
	assert.Empty(t, res.Context.AppointmentID)
}

func TestConfirmingAppointmentWithoutSlots(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.turn(t, domain.Context{CurrentState: domain.StateConfirmingAppointment}, "1")
	assert.Equal(t, domain.StateShowingCalendarOptions, res.Context.CurrentState)
}

func TestNegotiatingBooksByIndex(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.lang.converse = []language.ConverseResult{{
		ToolCall: &language.ToolCall{ID: "call-1", Name: toolBook, Arguments: `{"slot_index":1,"confirmation":"segunda às 14h"}`},
	}}

	res := h.turn(t, domain.Context{CurrentState: domain.StateNegotiatingCalendar, CustomerName: "Maria"}, "segunda à tarde")
	assert.Equal(t, domain.StateCompleted, res.Context.CurrentState)
	assert.Equal(t, testSlots()[1].Label, res.Context.SelectedSlot)
	require.Len(t, h.sched.requests, 1)
	assert.Equal(t, negotiateSlotMins, h.sched.requests[0].Duration)
	assert.Contains(t, h.sched.requests[0].Notes, "negociação inteligente")
	assert.Equal(t, []int{negotiateMaxSlots}, h.sched.calls)

	require.Len(t, h.lang.converseCalls, 1)
	msgs := h.lang.converseCalls[0]
	assert.Equal(t, language.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "0. Segunda-feira, 14 de outubro às 09:00")
	assert.Equal(t, "segunda à tarde", msgs[len(msgs)-1].Content)
}

func TestNegotiatingBadIndexStays(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.lang.converse = []language.ConverseResult{{
		ToolCall: &language.ToolCall{ID: "call-1", Name: toolBook, Arguments: `{"slot_index":7,"confirmation":"x"}`},
	}}

	res := h.turn(t, domain.Context{CurrentState: domain.StateNegotiatingCalendar}, "a oitava")
	assert.Equal(t, domain.StateNegotiatingCalendar, res.Context.CurrentState)
	assert.Contains(t, res.Response, "erro ao identificar o horário")
	assert.Len(t, res.Context.CalendarMessages, 2)
	assert.Empty(t, h.sched.requests)
}

func TestNegotiatingListsSlotsThroughTool(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.lang.converse = []language.ConverseResult{
		{ToolCall: &language.ToolCall{ID: "call-1", Name: toolGetSlots, Arguments: `{"preference":"manhã"}`}},
		{Text: "Pela manhã tenho segunda às 09:00 ou terça às 10:00."},
	}
	c := domain.Context{
		CurrentState:     domain.StateNegotiatingCalendar,
		CalendarMessages: []domain.ChatTurn{{Role: "user", Content: "oi"}, {Role: "assistant", Content: "olá"}},
	}

	res := h.turn(t, c, "quais horários de manhã?")
	assert.Equal(t, domain.StateNegotiatingCalendar, res.Context.CurrentState)
	assert.Equal(t, "Pela manhã tenho segunda às 09:00 ou terça às 10:00.", res.Response)
	require.Len(t, res.Context.CalendarMessages, 4)
	assert.Equal(t, res.Response, res.Context.CalendarMessages[3].Content)

	require.Len(t, h.lang.converseCalls, 2)
	followUp := h.lang.converseCalls[1]
	last := followUp[len(followUp)-1]
	assert.Equal(t, language.RoleTool, last.Role)
	assert.Equal(t, "call-1", last.ToolCallID)
	assert.Contains(t, last.Content, `"available_slots"`)
	assert.Equal(t, language.RoleAssistant, followUp[len(followUp)-2].Role)
}

func TestNegotiatingFailureCompletes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.turn(t, domain.Context{CurrentState: domain.StateNegotiatingCalendar}, "oi")
	assert.Equal(t, domain.StateCompleted, res.Context.CurrentState)
	assert.Contains(t, res.Response, "problema ao processar o agendamento")
}

func TestTerminalHandlers(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.turn(t, domain.Context{CurrentState: domain.StateCompleted}, "mais uma coisa")
	assert.Equal(t, domain.StateCompleted, res.Context.CurrentState)
	assert.Contains(t, res.Response, "Obrigado por conversar comigo!")

	res = h.turn(t, domain.Context{CurrentState: domain.StateError, ErrorRecoveryAttempt: 1, CustomerName: "Maria"}, "?")
	assert.Equal(t, domain.StateCollectingName, res.Context.CurrentState)
	assert.Equal(t, 2, res.Context.ErrorRecoveryAttempt)
	assert.Equal(t, "Maria", res.Context.CustomerName)
}
