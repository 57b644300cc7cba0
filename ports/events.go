package ports

import (
	"context"

	"github.com/layer-3/passport/core"
)

// EventPublisher publishes committed session transitions to other observers
type EventPublisher interface {
	PublishTransition(ctx context.Context, transition core.Transition) error
}
