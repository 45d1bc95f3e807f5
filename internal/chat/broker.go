package chat

import (
	"context"
	"sync"
)

// Broker fans out "conversation changed" notifications. Notifications carry no
// payload; subscribers re-read the conversation.
type Broker interface {
	Publish(ctx context.Context, conversationID string) error
	// Subscribe returns a channel that receives at least one value after every
	// Publish for conversationID. Bursts may coalesce into a single value.
	// cancel releases the subscription and closes the channel.
	Subscribe(ctx context.Context, conversationID string) (notify <-chan struct{}, cancel func(), err error)
	Close() error
}

// MemoryBroker is an in-process Broker for single-instance deployments.
type MemoryBroker struct {
	mu     sync.Mutex
	topics map[string]map[chan struct{}]struct{}
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{topics: make(map[string]map[chan struct{}]struct{})}
}

func (b *MemoryBroker) Publish(_ context.Context, conversationID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.topics[conversationID] {
		signal(ch)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, conversationID string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	subs, ok := b.topics[conversationID]
	if !ok {
		subs = make(map[chan struct{}]struct{})
		b.topics[conversationID] = subs
	}
	subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(subs, ch)
			if len(subs) == 0 {
				delete(b.topics, conversationID)
			}
			close(ch)
		})
	}
	return ch, cancel, nil
}

func (b *MemoryBroker) Close() error { return nil }

// signal does a non-blocking send; a pending value already covers this one.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
