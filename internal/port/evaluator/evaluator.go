// Package evaluator defines the ports for the pluggable rule evaluator and
// risk scorer used by the authorization pipeline.
package evaluator

import (
	"context"

	"github.com/keepup/cowork/internal/domain/action"
	"github.com/keepup/cowork/internal/domain/policy"
	"github.com/keepup/cowork/internal/domain/risk"
)

// Evaluator maps a policy and an action to a decision. It must be a pure
// function of its inputs.
type Evaluator interface {
	Evaluate(ctx context.Context, cfg *policy.Config, req action.Request, opts policy.EvalOptions) (policy.Decision, error)
}

// Scorer maps filtered risk tags to a score in [0,1].
type Scorer interface {
	Score(tags []risk.Tag) float64
}
