package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/pearauth/core"
	"github.com/layer-3/pearauth/ports"
)

// TopicFlow carries every FlowEvent
const TopicFlow = "pearauth.flow"

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		topic:     TopicFlow,
	}
}

// PublishFlowEvent publishes a flow event. Events without an id get one.
func (p *WatermillPublisher) PublishFlowEvent(ctx context.Context, event core.FlowEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("type", string(event.Type))
	msg.Metadata.Set("level", event.Level)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
