// Package eventbus dispatches queue messages to in-process subscribers.
package eventbus

import (
	"context"
	"encoding/json"

	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/eventbus"
	"github.com/EyeSeeTea/data-approval-dev-sub000/pkg/outbox"
)

// Handler is the subscriber signature matched by Dispatcher.
type Handler func(ctx context.Context, meta *outbox.Meta, payload json.RawMessage) error

type Dispatcher struct {
	bus eventbus.EventBusWithError
}

func New(bus eventbus.EventBusWithError) *Dispatcher {
	return &Dispatcher{bus: bus}
}

// Subscribe registers h for messages published on topic.
func (d *Dispatcher) Subscribe(topic string, h Handler) {
	d.bus.Subscribe(func(ctx context.Context, meta *outbox.Meta, payload json.RawMessage) error {
		if meta.Topic != topic {
			return nil
		}
		return h(ctx, meta, payload)
	})
}

// Dispatch surfaces handler errors and panics so the relay retries.
func (d *Dispatcher) Dispatch(ctx context.Context, msg outbox.DispatchedMessage) error {
	meta := msg.Meta
	return d.bus.PublishE(ctx, &meta, msg.Payload)
}
