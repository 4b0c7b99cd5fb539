package states

import (
	"context"
	"fmt"

	"github.com/ashureev/leadflow/internal/domain"
	"github.com/ashureev/leadflow/internal/fsm"
)

type completed struct{}

func (completed) Handle(_ context.Context, agent *domain.Agent, conv *domain.Conversation, _ string) (fsm.Result, error) {
	text := fmt.Sprintf("Obrigado por conversar comigo! Se precisar de mais alguma coisa, estou à disposição. Até breve! 😊\n\n- Equipe %s", team(agent))
	return reply(text, fsm.StayInState(conv.Context)), nil
}

// errorRecovery restarts data collection and counts recovery attempts.
type errorRecovery struct{}

func (errorRecovery) Handle(_ context.Context, _ *domain.Agent, conv *domain.Conversation, _ string) (fsm.Result, error) {
	return reply("Desculpe, ocorreu um erro inesperado. Vamos tentar novamente. Por favor, me diga seu nome para recomeçarmos.",
		fsm.TransitionTo(conv.Context, domain.StateCollectingName, func(c *domain.Context) {
			c.ErrorRecoveryAttempt++
		})), nil
}
