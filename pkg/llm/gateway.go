package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agentcoord/agentcoord/pkg/apperrors"
)

// Gateway produces schema-validated structured outputs from prompt+schema
// pairs. On each attempt the raw output is extracted, unmarshalled, and
// validated; on failure the gateway re-prompts with the validation error
// appended. No business logic lives here.
type Gateway struct {
	client      Client
	maxAttempts int
	logger      *zap.Logger
}

// NewGateway creates a gateway over the given client. maxAttempts < 1 is
// treated as a single attempt.
func NewGateway(client Client, maxAttempts int, logger *zap.Logger) *Gateway {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Gateway{
		client:      client,
		maxAttempts: maxAttempts,
		logger:      logger.Named("llm-gateway"),
	}
}

// Complete passes a free-form prompt straight through to the client.
func (g *Gateway) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.client.Complete(ctx, systemPrompt, userPrompt)
}

// GenerateJSON asks the gateway's client for output conforming to type T,
// retrying up to the gateway's attempt budget. validate may be nil; when
// set it is applied after unmarshalling and its error is fed back to the
// model on the next attempt. Exhaustion returns ErrSchemaFailure.
func GenerateJSON[T any](ctx context.Context, g *Gateway, systemPrompt, userPrompt string, validate func(*T) error) (T, error) {
	var zero T
	prompt := userPrompt
	var lastErr error

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		response, err := g.client.Complete(ctx, systemPrompt, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			lastErr = err
			g.logger.Warn("LLM call failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		result, err := ParseJSONResponse[T](response)
		if err == nil && validate != nil {
			err = validate(&result)
		}
		if err == nil {
			return result, nil
		}

		lastErr = err
		g.logger.Warn("LLM output failed validation",
			zap.Int("attempt", attempt),
			zap.Error(err))

		prompt = fmt.Sprintf("%s\n\nYour previous response was invalid: %v\nRespond again with valid JSON only, no commentary.", userPrompt, err)
	}

	return zero, fmt.Errorf("%w after %d attempts: %v", apperrors.ErrSchemaFailure, g.maxAttempts, lastErr)
}
