package messaging

import (
	"context"
	"sync"
	"time"
)

const defaultMemoryBuffer = 256

// MemoryClient is an in-process bus. Every Publish is delivered to at most one
// Consume caller; handler failures are not redelivered. Publish never waits for
// a consumer: when the buffer is full the oldest message is evicted.
type MemoryClient struct {
	topic  string
	router Router
	ch     chan Message

	mu      sync.Mutex
	offset  int64
	failed  int
	dropped int
}

// NewMemoryClient returns a bus buffering up to buffer messages.
func NewMemoryClient(topic string, buffer int) *MemoryClient {
	if buffer <= 0 {
		buffer = defaultMemoryBuffer
	}
	return &MemoryClient{topic: topic, router: NewRouter(topic, nil), ch: make(chan Message, buffer)}
}

// Publish enqueues a message without blocking.
func (m *MemoryClient) Publish(ctx context.Context, key []byte, value []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.offset++
	offset := m.offset
	m.mu.Unlock()

	msg := Message{
		Topic:  m.router.TopicFor(headers),
		Key:    append([]byte(nil), key...),
		Value:  append([]byte(nil), value...),
		Offset: offset,
		Time:   time.Now().UTC(),
	}
	if len(headers) > 0 {
		msg.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			msg.Headers[k] = v
		}
	}

	for {
		select {
		case m.ch <- msg:
			return nil
		default:
		}
		select {
		case <-m.ch:
			m.mu.Lock()
			m.dropped++
			m.mu.Unlock()
		default:
		}
	}
}

// Consume delivers messages to handler until ctx ends.
func (m *MemoryClient) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-m.ch:
			if err := handler(ctx, msg); err != nil {
				m.mu.Lock()
				m.failed++
				m.mu.Unlock()
			}
		}
	}
}

// Topic returns the bus topic.
func (m *MemoryClient) Topic() string { return m.topic }

// Pending returns the number of undelivered messages.
func (m *MemoryClient) Pending() int { return len(m.ch) }

// Failed returns how many deliveries the handler rejected.
func (m *MemoryClient) Failed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed
}

// Dropped returns how many undelivered messages were evicted by newer ones.
func (m *MemoryClient) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
