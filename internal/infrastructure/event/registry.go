package event

import (
	"sort"
	"sync"

	"github.com/orderflow/backend/internal/domain/shared"
)

// HandlerRegistry holds the subscribers and responders of a bus, keyed by
// message type. A type has any number of subscribers but at most one
// responder.
type HandlerRegistry struct {
	mu         sync.RWMutex
	handlers   map[string][]shared.HandlerFunc
	responders map[string]shared.RequestHandlerFunc
}

// NewHandlerRegistry creates a new handler registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers:   make(map[string][]shared.HandlerFunc),
		responders: make(map[string]shared.RequestHandlerFunc),
	}
}

// Register adds a subscriber for a message type
func (r *HandlerRegistry) Register(msgType string, handler shared.HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[msgType] = append(r.handlers[msgType], handler)
}

// SetResponder installs the responder for a request type, replacing any
// previous one. It reports whether a responder was replaced.
func (r *HandlerRegistry) SetResponder(msgType string, handler shared.RequestHandlerFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced := r.responders[msgType]
	r.responders[msgType] = handler
	return replaced
}

// GetHandlers returns the subscribers of a message type
func (r *HandlerRegistry) GetHandlers(msgType string) []shared.HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]shared.HandlerFunc(nil), r.handlers[msgType]...)
}

// GetResponder returns the responder of a request type
func (r *HandlerRegistry) GetResponder(msgType string) (shared.RequestHandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.responders[msgType]
	return h, ok
}

// SubscribedTypes returns every type with at least one subscriber, sorted
func (r *HandlerRegistry) SubscribedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.handlers)
}

// RequestTypes returns every type with a responder, sorted
func (r *HandlerRegistry) RequestTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.responders)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
