// Package notify delivers one-time codes over SMS and email providers.
//
// Providers implement [Notifier]. The engine resolves a provider by the name
// in its channel configuration through a [Registry]; business logic never
// switches on provider names.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownProvider is returned by Registry.Get for unregistered names.
var ErrUnknownProvider = errors.New("notify: unknown provider")

// Message is one outbound notification. Code is set for providers that record
// codes out of band (Mock); transmitting providers send Body only.
type Message struct {
	Channel string
	UserID  string
	To      string
	Subject string
	Body    string
	Code    string
}

// Notifier delivers a message. Implementations must honour ctx cancellation
// and report failures as errors without retrying.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Registry maps provider names to notifiers. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Notifier
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Notifier)}
}

// Register adds or replaces the provider under name.
func (r *Registry) Register(name string, n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = n
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Notifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return n, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
