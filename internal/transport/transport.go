// Package transport defines the boundary to the peer-to-peer messaging
// collaborator.
//
// The core only depends on the Client and Registry interfaces; the real
// network transport, its authentication layer, and peer discovery live
// outside this repository. Loopback is an in-process implementation used
// by tests and the demo daemon.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/arguslabs/argus-store/pkg/protocol"
)

// ErrUnknownProvider is returned when a message is addressed to a provider
// the transport does not know.
var ErrUnknownProvider = errors.New("transport: unknown provider")

// Client sends protocol messages to a provider and returns its response.
// Every call honors context cancellation; an expired context abandons the
// in-flight operation.
type Client interface {
	Store(ctx context.Context, provider string, req *protocol.Store) (*protocol.Store, error)
	Challenge(ctx context.Context, provider string, req *protocol.Challenge) (*protocol.Challenge, error)
	Retrieve(ctx context.Context, provider string, req *protocol.Retrieve) (*protocol.Retrieve, error)
}

// Registry lists the providers currently eligible for placement. Peer
// discovery and stake weighting are the registry collaborator's concern.
type Registry interface {
	Providers() []string
}

// Handler is the provider-side message surface.
type Handler interface {
	HandleStore(ctx context.Context, req *protocol.Store) (*protocol.Store, error)
	HandleChallenge(ctx context.Context, req *protocol.Challenge) (*protocol.Challenge, error)
	HandleRetrieve(ctx context.Context, req *protocol.Retrieve) (*protocol.Retrieve, error)
}

// Loopback is an in-process Client and Registry over locally registered
// handlers. Handlers run in their own goroutine so a slow provider cannot
// outlive the caller's context.
type Loopback struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewLoopback creates an empty loopback transport.
func NewLoopback() *Loopback {
	return &Loopback{handlers: make(map[string]Handler)}
}

// Register makes a handler reachable under the given provider identity.
func (l *Loopback) Register(provider string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[provider] = h
}

// Providers returns the registered provider identities in stable order.
func (l *Loopback) Providers() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.handlers))
	for id := range l.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *Loopback) handler(provider string) (Handler, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.handlers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return h, nil
}

// Store implements Client.
func (l *Loopback) Store(ctx context.Context, provider string, req *protocol.Store) (*protocol.Store, error) {
	h, err := l.handler(provider)
	if err != nil {
		return nil, err
	}
	return dispatch(ctx, func() (*protocol.Store, error) {
		return h.HandleStore(ctx, req)
	})
}

// Challenge implements Client.
func (l *Loopback) Challenge(ctx context.Context, provider string, req *protocol.Challenge) (*protocol.Challenge, error) {
	h, err := l.handler(provider)
	if err != nil {
		return nil, err
	}
	return dispatch(ctx, func() (*protocol.Challenge, error) {
		return h.HandleChallenge(ctx, req)
	})
}

// Retrieve implements Client.
func (l *Loopback) Retrieve(ctx context.Context, provider string, req *protocol.Retrieve) (*protocol.Retrieve, error) {
	h, err := l.handler(provider)
	if err != nil {
		return nil, err
	}
	return dispatch(ctx, func() (*protocol.Retrieve, error) {
		return h.HandleRetrieve(ctx, req)
	})
}

type result[T any] struct {
	resp T
	err  error
}

// dispatch runs fn concurrently and returns either its result or the
// context error, whichever comes first.
func dispatch[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	ch := make(chan result[T], 1)
	go func() {
		resp, err := fn()
		ch <- result[T]{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.resp, r.err
	}
}
