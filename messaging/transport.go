package messaging

import (
	"context"
	"net/url"
	"sync"
)

// Receiver pulls envelopes from a broker.
type Receiver interface {
	// Get returns the envelopes available right now, usually zero or one.
	// It can be called again to poll for more.
	Get(ctx context.Context) ([]*Envelope, error)

	// Ack marks an envelope returned by Get as handled.
	Ack(ctx context.Context, env *Envelope) error

	// Reject gives up on an envelope returned by Get.
	Reject(ctx context.Context, env *Envelope) error
}

// Sender publishes envelopes to a broker.
type Sender interface {
	Send(ctx context.Context, env *Envelope) (*Envelope, error)
}

// Transport sends and receives through the same broker connection.
type Transport interface {
	Receiver
	Sender
}

// TransportFactory builds transports for the DSNs it recognizes.
type TransportFactory interface {
	Supports(dsn string, options map[string]interface{}) bool
	CreateTransport(dsn string, options map[string]interface{}, serializer Serializer) (Transport, error)
}

// Registry selects a TransportFactory by DSN.
type Registry struct {
	mu        sync.RWMutex
	factories []TransportFactory
}

// NewRegistry creates a registry with the given factories.
func NewRegistry(factories ...TransportFactory) *Registry {
	return &Registry{factories: factories}
}

// Register adds a factory. Factories are tried in registration order.
func (r *Registry) Register(f TransportFactory) {
	r.mu.Lock()
	r.factories = append(r.factories, f)
	r.mu.Unlock()
}

// Supports reports whether any registered factory handles the DSN.
func (r *Registry) Supports(dsn string, options map[string]interface{}) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.factories {
		if f.Supports(dsn, options) {
			return true
		}
	}
	return false
}

// CreateTransport builds a transport with the first factory that supports dsn.
func (r *Registry) CreateTransport(dsn string, options map[string]interface{}, serializer Serializer) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.factories {
		if f.Supports(dsn, options) {
			return f.CreateTransport(dsn, options, serializer)
		}
	}
	return nil, ConfigErrorf("no transport supports the DSN %q", redactDSN(dsn))
}

func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}
