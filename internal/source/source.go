// Package source supplies task descriptors for workflow generation. The
// engine treats providers as opaque: the only contract is the Task shape.
package source

import (
	"context"

	"github.com/mzli/pillarflow/pkg/models"
)

// Provider returns an unordered set of task descriptors for a (user, date)
// pair. Returned tasks carry no status or timestamps; the orchestrator owns
// lifecycle state. genCtx carries caller hints (e.g. focus pillar) and may
// be nil.
type Provider interface {
	Tasks(ctx context.Context, userID, date string, genCtx map[string]string) ([]models.Task, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, userID, date string, genCtx map[string]string) ([]models.Task, error)

func (f ProviderFunc) Tasks(ctx context.Context, userID, date string, genCtx map[string]string) ([]models.Task, error) {
	return f(ctx, userID, date, genCtx)
}
