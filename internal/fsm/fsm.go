// Package fsm dispatches a conversation turn to the handler registered for the
// conversation's current state.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/ashureev/leadflow/internal/domain"
)

// FallbackResponse is returned when neither the state handler nor the error
// handler produced a result.
const FallbackResponse = "Desculpe, ocorreu um erro ao processar sua mensagem. Por favor, tente novamente."

// ErrNoHandlerForState is returned when a state has no registered handler.
var ErrNoHandlerForState = errors.New("no handler for state")

// Result is the outcome of one handled turn.
type Result struct {
	Response string
	Context  domain.Context
	Metadata map[string]any
}

// Handler handles messages for one state.
type Handler interface {
	Handle(ctx context.Context, agent *domain.Agent, conv *domain.Conversation, message string) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, agent *domain.Agent, conv *domain.Conversation, message string) (Result, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, agent *domain.Agent, conv *domain.Conversation, message string) (Result, error) {
	return f(ctx, agent, conv, message)
}

// Update mutates a context copy inside TransitionTo and StayInState.
type Update func(*domain.Context)

// TransitionTo returns a copy of c with updates applied and CurrentState set to state.
func TransitionTo(c domain.Context, state string, updates ...Update) domain.Context {
	next := c.Clone()
	for _, u := range updates {
		u(&next)
	}
	next.CurrentState = state
	return next
}

// StayInState returns a copy of c with updates applied and CurrentState unchanged.
func StayInState(c domain.Context, updates ...Update) domain.Context {
	return TransitionTo(c, c.CurrentState, updates...)
}

// Engine holds the handler registry.
type Engine struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewEngine creates an engine with no handlers.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// RegisterHandler binds h to state, replacing any previous handler.
func (e *Engine) RegisterHandler(state string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[state] = h
}

// RegisterHandlers binds every handler in hs.
func (e *Engine) RegisterHandlers(hs map[string]Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	maps.Copy(e.handlers, hs)
}

// Handler returns the handler registered for state.
func (e *Engine) Handler(state string) (Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[state]
	return h, ok
}

// ResolveState returns the state a turn is dispatched on.
func ResolveState(agent *domain.Agent, conv *domain.Conversation) string {
	if conv.CurrentState != "" {
		return conv.CurrentState
	}
	if conv.Context.CurrentState != "" {
		return conv.Context.CurrentState
	}
	return agent.FSM.InitialState
}

// ProcessMessage runs the handler for the conversation's current state. A
// failing handler is retried through the ERROR handler; when that is missing
// or fails too, the result is FallbackResponse with LastError set. It never
// returns an error.
func (e *Engine) ProcessMessage(ctx context.Context, agent *domain.Agent, conv *domain.Conversation, message string) Result {
	state := ResolveState(agent, conv)

	h, ok := e.Handler(state)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrNoHandlerForState, state)
		e.logger.Error("no handler for state", "state", state, "conversation_id", conv.ID)
		return fallback(conv, err)
	}

	result, err := e.safeHandle(ctx, state, h, agent, conv, message)
	if err == nil {
		return result
	}
	e.logger.Error("state handler failed", "state", state, "conversation_id", conv.ID, "error", err)

	if state != domain.StateError {
		if eh, ok := e.Handler(domain.StateError); ok {
			result, ehErr := e.safeHandle(ctx, domain.StateError, eh, agent, conv, message)
			if ehErr == nil {
				return result
			}
			e.logger.Error("error handler failed", "conversation_id", conv.ID, "error", ehErr)
		}
	}
	return fallback(conv, err)
}

func (e *Engine) safeHandle(ctx context.Context, state string, h Handler, agent *domain.Agent, conv *domain.Conversation, message string) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler for %s panicked: %v", state, r)
		}
	}()
	return h.Handle(ctx, agent, conv, message)
}

func fallback(conv *domain.Conversation, err error) Result {
	next := conv.Context.Clone()
	next.LastError = err.Error()
	return Result{Response: FallbackResponse, Context: next}
}

// GetStateDefinition returns the agent's descriptor for stateID.
func GetStateDefinition(agent *domain.Agent, stateID string) (domain.StateDefinition, bool) {
	for _, s := range agent.FSM.States {
		if s.ID == stateID {
			return s, true
		}
	}
	return domain.StateDefinition{}, false
}

// HasState reports whether the agent's FSM declares stateID.
func HasState(agent *domain.Agent, stateID string) bool {
	_, ok := GetStateDefinition(agent, stateID)
	return ok
}

// IsTerminal reports whether stateID ends the conversation. States missing
// from the agent's FSM are terminal only if they are COMPLETED.
func IsTerminal(agent *domain.Agent, stateID string) bool {
	if def, ok := GetStateDefinition(agent, stateID); ok {
		return def.Kind == domain.KindTerminal
	}
	return stateID == domain.StateCompleted
}
