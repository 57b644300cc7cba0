package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

// TopicTransitions is the topic session transitions are published on
const TopicTransitions = "passport.session"

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		topic:     TopicTransitions,
	}
}

// PublishTransition publishes a committed session transition
func (p *WatermillPublisher) PublishTransition(ctx context.Context, transition core.Transition) error {
	payload, err := json.Marshal(transition)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(transition.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("op", transition.Op)
	msg.Metadata.Set("to", transition.To)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// DecodeTransition parses a message published by WatermillPublisher
func DecodeTransition(msg *message.Message) (core.Transition, error) {
	var transition core.Transition
	if err := json.Unmarshal(msg.Payload, &transition); err != nil {
		return core.Transition{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return transition, nil
}

// Discard is an EventPublisher that drops every event
type Discard struct{}

func (Discard) PublishTransition(context.Context, core.Transition) error { return nil }
