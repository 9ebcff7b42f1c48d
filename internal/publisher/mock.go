package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockPublisher records published messages in memory. It is safe for
// concurrent use.
type MockPublisher struct {
	mu        sync.Mutex
	published []PublishedMessage
	err       error
	closed    bool
	topicID   string
	notify    chan struct{}
}

// PublishedMessage is one message captured by MockPublisher.
type PublishedMessage struct {
	Data       interface{}
	Attributes map[string]string
}

// NewMockPublisher creates a new MockPublisher
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		topicID: "mock-topic",
		notify:  make(chan struct{}, 1),
	}
}

// TopicID returns the fixed mock topic name.
func (m *MockPublisher) TopicID() string {
	return m.topicID
}

// Publish records the message, or returns the configured error.
func (m *MockPublisher) Publish(ctx context.Context, data interface{}, attributes map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		m.signal()
		return "", err
	}
	m.published = append(m.published, PublishedMessage{
		Data:       data,
		Attributes: attributes,
	})
	id := fmt.Sprintf("mock-message-%d", len(m.published))
	m.mu.Unlock()

	m.signal()
	return id, nil
}

func (m *MockPublisher) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Close marks the publisher closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockPublisher) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Published returns a copy of every recorded message.
func (m *MockPublisher) Published() []PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PublishedMessage, len(m.published))
	copy(out, m.published)
	return out
}

// LastPublished returns the last published message or nil if none exists
func (m *MockPublisher) LastPublished() *PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.published) == 0 {
		return nil
	}
	msg := m.published[len(m.published)-1]
	return &msg
}

// WaitForPublished blocks until at least n messages were recorded or the
// timeout passes, and reports whether the count was reached.
func (m *MockPublisher) WaitForPublished(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		m.mu.Lock()
		got := len(m.published)
		m.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-m.notify:
		case <-deadline.C:
			return false
		}
	}
}

// Reset clears all published messages and errors
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
	m.err = nil
}

// SetError makes every following Publish call fail with err.
func (m *MockPublisher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
