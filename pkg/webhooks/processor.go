package webhooks

import (
	"context"

	"github.com/Ramsey-B/aster/pkg/models"
)

// Processor parses one provider's webhook payloads and feeds the shared
// pipeline.
type Processor interface {
	Provider() models.ProviderKind
	Process(ctx context.Context, ch *models.Channel, payload []byte) error
}

// Registry maps provider kinds to their processors.
type Registry struct {
	processors map[models.ProviderKind]Processor
}

// NewRegistry creates a registry over the given processors.
func NewRegistry(processors ...Processor) *Registry {
	r := &Registry{processors: make(map[models.ProviderKind]Processor, len(processors))}
	for _, p := range processors {
		r.processors[p.Provider()] = p
	}
	return r
}

// For returns the processor for a provider kind.
func (r *Registry) For(kind models.ProviderKind) (Processor, bool) {
	p, ok := r.processors[kind]
	return p, ok
}
