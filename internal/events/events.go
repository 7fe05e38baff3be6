// Package events publishes connection state transitions for other parts of
// the client to observe.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// TransitionsTopic carries one message per state transition
const TransitionsTopic = "wallet.transitions"

// Transition describes one state change of a connection attempt
type Transition struct {
	AttemptID  string    `json:"attempt_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	ProviderID string    `json:"provider_id,omitempty"`
	Address    string    `json:"address,omitempty"`
	ChainID    uint64    `json:"chain_id,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher publishes transitions
type Publisher interface {
	PublishTransition(ctx context.Context, t Transition) error
}

// WatermillPublisher implements Publisher using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		topic:     TransitionsTopic,
	}
}

// PublishTransition publishes a transition event
func (p *WatermillPublisher) PublishTransition(ctx context.Context, t Transition) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("attempt_id", t.AttemptID)
	msg.Metadata.Set("to", t.To)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Decode reads a transition from a message published by WatermillPublisher
func Decode(msg *message.Message) (Transition, error) {
	var t Transition
	if err := json.Unmarshal(msg.Payload, &t); err != nil {
		return Transition{}, fmt.Errorf("failed to decode transition: %w", err)
	}
	return t, nil
}

// Nop discards transitions
type Nop struct{}

func (Nop) PublishTransition(context.Context, Transition) error { return nil }
