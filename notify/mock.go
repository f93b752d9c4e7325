package notify

import (
	"context"
	"sync"
)

// Mock records messages instead of transmitting them. Tests and local
// development read codes back with LastCode.
type Mock struct {
	mu       sync.Mutex
	messages []Message
	// Err, when set, is returned by Send after the message is recorded.
	Err error
}

// NewMock returns a notifier that records every message in memory.
func NewMock() *Mock { return &Mock{} }

func (m *Mock) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return m.Err
}

// Messages returns a copy of every recorded message.
func (m *Mock) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// LastCode returns the code of the newest message sent to to.
func (m *Mock) LastCode(to string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].To == to {
			return m.messages[i].Code, true
		}
	}
	return "", false
}

// Reset forgets every recorded message.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}
