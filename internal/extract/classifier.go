package extract

import (
	"context"

	"github.com/turnguard/turnguard/internal/model"
)

// Classifier is the seam for an external classification capability. The
// underlying model or heuristic is swappable without touching the decision
// engine; it is the one part of the pipeline allowed to be slow or
// non-deterministic, which is why it is bounded by a timeout and excluded
// from the regression corpus by default.
type Classifier interface {
	Classify(ctx context.Context, turn model.Turn, history []model.Turn) ([]model.Signal, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, turn model.Turn, history []model.Turn) ([]model.Signal, error)

func (f ClassifierFunc) Classify(ctx context.Context, turn model.Turn, history []model.Turn) ([]model.Signal, error) {
	return f(ctx, turn, history)
}
