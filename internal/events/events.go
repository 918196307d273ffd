// Package events carries domain events between the request path and the
// components that react to them. Delivery is synchronous: Publish returns
// once every subscriber has run.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// MaterialPriceChanged is published after a material update that changed its
// unit cost.
type MaterialPriceChanged struct {
	MaterialID     uint
	TenantID       uint
	UnitCostBefore decimal.Decimal
	UnitCostAfter  decimal.Decimal
}

// Changed reports whether the event describes an actual price movement.
func (e MaterialPriceChanged) Changed() bool {
	return !e.UnitCostBefore.Equal(e.UnitCostAfter)
}

// Handler reacts to a MaterialPriceChanged event. The returned value is
// handed back to the publisher untouched.
type Handler func(ctx context.Context, event MaterialPriceChanged) (any, error)

// Outcome is one subscriber's answer to a published event.
type Outcome struct {
	Subscriber string
	Value      any
	Err        error
}

type subscription struct {
	name    string
	handler Handler
}

// Bus fans an event out to its subscribers in registration order.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers handler under name.
func (b *Bus) Subscribe(name string, handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, handler: handler})
}

// Publish delivers event to every subscriber. A panicking or failing
// subscriber is reported in its Outcome and does not stop the others.
func (b *Bus) Publish(ctx context.Context, event MaterialPriceChanged) []Outcome {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	outcomes := make([]Outcome, 0, len(subs))
	for _, sub := range subs {
		outcomes = append(outcomes, deliver(ctx, sub, event))
	}
	return outcomes
}

func deliver(ctx context.Context, sub subscription, event MaterialPriceChanged) (outcome Outcome) {
	outcome.Subscriber = sub.name
	defer func() {
		if r := recover(); r != nil {
			outcome.Err = fmt.Errorf("subscriber %s panicked: %v", sub.name, r)
		}
	}()
	outcome.Value, outcome.Err = sub.handler(ctx, event)
	return outcome
}
