// Package orchestrator runs the conversation lifecycle around the FSM engine:
// it creates conversations, records every turn, persists context and closes
// conversations that reach a terminal state.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/ashureev/leadflow/internal/domain"
	"github.com/ashureev/leadflow/internal/fsm"
	"github.com/ashureev/leadflow/internal/store"
)

const (
	// FinishedResponse answers messages sent to a conversation that is no longer active.
	FinishedResponse = "Esta conversa já foi finalizada. Obrigado!"
	// ApologyResponse answers a turn that failed unexpectedly.
	ApologyResponse = "Desculpe, ocorreu um erro ao processar sua mensagem. Por favor, tente novamente mais tarde."
	// GreetingFallback is used when the initial state cannot produce a greeting.
	GreetingFallback = "Olá! Como posso ajudá-lo?"
)

// Engine dispatches a turn to state handlers.
type Engine interface {
	ProcessMessage(ctx context.Context, agent *domain.Agent, conv *domain.Conversation, message string) fsm.Result
	Handler(state string) (fsm.Handler, bool)
}

// Reply is the outcome of a turn. Conversation is nil when it could not be loaded.
type Reply struct {
	Response     string
	Conversation *domain.Conversation
}

// Orchestrator coordinates conversations.
type Orchestrator struct {
	store  store.ConversationStore
	engine Engine
	locks  *keyedMutex
	logger *slog.Logger
}

// New creates an orchestrator.
func New(st store.ConversationStore, engine Engine, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:  st,
		engine: engine,
		locks:  newKeyedMutex(),
		logger: logger,
	}
}

func initialState(agent *domain.Agent) string {
	if agent.FSM.InitialState != "" {
		return agent.FSM.InitialState
	}
	return domain.StateInitializing
}

// StartConversation creates an active conversation in the agent's initial state.
func (o *Orchestrator) StartConversation(ctx context.Context, agent *domain.Agent, companyID, externalID string) (*domain.Conversation, error) {
	state := initialState(agent)
	conv, err := o.store.CreateConversation(ctx, agent.ID, companyID, externalID, state, domain.Context{CurrentState: state})
	if err != nil {
		return nil, fmt.Errorf("start conversation: %w", err)
	}
	o.logger.Info("conversation started", "conversation_id", conv.ID, "agent_id", agent.ID, "company_id", companyID)
	return conv, nil
}

// InitialGreeting runs the initial state's handler with no input, stores its
// context and records the greeting as the first assistant message.
func (o *Orchestrator) InitialGreeting(ctx context.Context, agent *domain.Agent, conv *domain.Conversation) Reply {
	unlock := o.locks.Lock(conv.ID)
	defer unlock()

	state := initialState(agent)
	h, ok := o.engine.Handler(state)
	if !ok {
		o.logger.Warn("no greeting handler for initial state", "state", state, "agent_id", agent.ID)
		return Reply{Response: GreetingFallback, Conversation: conv}
	}

	result, err := safeGreeting(ctx, h, agent, conv)
	if err != nil {
		o.logger.Error("greeting handler failed", "conversation_id", conv.ID, "error", err)
		return Reply{Response: GreetingFallback, Conversation: conv}
	}

	next := result.Context
	if next.CurrentState == "" {
		next.CurrentState = state
	}
	if err := o.store.UpdateContext(ctx, conv.ID, conv.CompanyID, next); err != nil {
		o.logger.Error("failed to store greeting context", "conversation_id", conv.ID, "error", err)
		return Reply{Response: GreetingFallback, Conversation: conv}
	}
	conv.Context = next
	conv.CurrentState = next.CurrentState

	if _, err := o.store.AppendMessage(ctx, conv.ID, conv.CompanyID, domain.RoleAssistant, result.Response,
		map[string]any{"stateAtTime": next.CurrentState}); err != nil {
		o.logger.Error("failed to store greeting", "conversation_id", conv.ID, "error", err)
	}
	return Reply{Response: result.Response, Conversation: conv}
}

func safeGreeting(ctx context.Context, h fsm.Handler, agent *domain.Agent, conv *domain.Conversation) (result fsm.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("greeting handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, agent, conv, "")
}

// ProcessMessage handles one inbound message. Turns for the same conversation
// run one at a time. Failures resolve to ApologyResponse and mark the
// conversation as errored; nothing is returned as an error.
func (o *Orchestrator) ProcessMessage(ctx context.Context, conversationID string, agent *domain.Agent, companyID, message string) (reply Reply) {
	unlock := o.locks.Lock(conversationID)
	defer unlock()

	conv, err := o.store.GetConversation(ctx, conversationID, companyID)
	if err != nil {
		o.logger.Error("failed to load conversation", "conversation_id", conversationID, "error", err)
		return Reply{Response: ApologyResponse}
	}
	if conv == nil {
		return Reply{Response: ApologyResponse}
	}

	if !conv.IsActive() {
		return Reply{Response: FinishedResponse, Conversation: conv}
	}

	defer func() {
		if r := recover(); r != nil {
			reply = o.fail(ctx, conv, fmt.Errorf("turn panicked: %v", r))
		}
	}()

	if err := o.turn(ctx, agent, conv, message, &reply); err != nil {
		return o.fail(ctx, conv, err)
	}
	return reply
}

func (o *Orchestrator) turn(ctx context.Context, agent *domain.Agent, conv *domain.Conversation, message string, reply *Reply) error {
	if _, err := o.store.AppendMessage(ctx, conv.ID, conv.CompanyID, domain.RoleUser, message,
		map[string]any{"stateAtTime": conv.CurrentState}); err != nil {
		return fmt.Errorf("store user message: %w", err)
	}

	result := o.engine.ProcessMessage(ctx, agent, conv, message)
	next := result.Context
	if next.CurrentState == "" {
		next.CurrentState = fsm.ResolveState(agent, conv)
	}

	if err := o.store.UpdateContext(ctx, conv.ID, conv.CompanyID, next); err != nil {
		return fmt.Errorf("store context: %w", err)
	}
	conv.Context = next
	conv.CurrentState = next.CurrentState

	if fsm.IsTerminal(agent, next.CurrentState) {
		if err := o.store.UpdateStatus(ctx, conv.ID, conv.CompanyID, domain.ConversationCompleted); err != nil {
			return fmt.Errorf("complete conversation: %w", err)
		}
		conv.Status = domain.ConversationCompleted
		o.logger.Info("conversation completed", "conversation_id", conv.ID, "state", next.CurrentState)
	}

	metadata := maps.Clone(result.Metadata)
	if metadata == nil {
		metadata = make(map[string]any, 1)
	}
	metadata["stateAtTime"] = next.CurrentState
	if _, err := o.store.AppendMessage(ctx, conv.ID, conv.CompanyID, domain.RoleAssistant, result.Response, metadata); err != nil {
		return fmt.Errorf("store assistant message: %w", err)
	}

	*reply = Reply{Response: result.Response, Conversation: conv}
	return nil
}

// fail marks the conversation as errored and records the apology. The error
// text only goes to message metadata.
func (o *Orchestrator) fail(ctx context.Context, conv *domain.Conversation, cause error) Reply {
	o.logger.Error("turn failed", "conversation_id", conv.ID, "company_id", conv.CompanyID, "error", cause)

	if err := o.store.UpdateStatus(ctx, conv.ID, conv.CompanyID, domain.ConversationError); err != nil {
		o.logger.Error("failed to mark conversation as errored", "conversation_id", conv.ID, "error", err)
	} else {
		conv.Status = domain.ConversationError
	}

	if _, err := o.store.AppendMessage(ctx, conv.ID, conv.CompanyID, domain.RoleAssistant, ApologyResponse,
		map[string]any{"stateAtTime": conv.CurrentState, "error": cause.Error()}); err != nil {
		o.logger.Error("failed to store apology", "conversation_id", conv.ID, "error", err)
	}
	return Reply{Response: ApologyResponse, Conversation: conv}
}
