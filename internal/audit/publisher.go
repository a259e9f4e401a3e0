package audit

import (
	"context"
	"time"
)

// Store persists audit events. Memory and Postgres implementations live in
// this package; the Postgres one doubles as a transactional outbox drained by
// the Kafka sink.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByIdentity(ctx context.Context, identityKey string) ([]Event, error)
}

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return p.store.Append(ctx, event)
}

func (p *Publisher) List(ctx context.Context, identityKey string) ([]Event, error) {
	return p.store.ListByIdentity(ctx, identityKey)
}
