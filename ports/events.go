package ports

import (
	"context"

	"github.com/layer-3/pearauth/core"
)

// EventPublisher publishes flow events so dashboards and other instances can react
type EventPublisher interface {
	PublishFlowEvent(ctx context.Context, event core.FlowEvent) error
}
