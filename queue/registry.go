/*
Handler registry - maps (partner, operation) pairs to payload shapes and
processing functions.

Registration happens once at startup; lookups are read-only afterwards, so
no locking is needed on the hot path.
*/
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// HandlerFunc processes one claimed item. payload is the decoded value
// produced by the registration's prototype. Returning a Permanent-wrapped
// error fails the item without further retries.
type HandlerFunc func(ctx context.Context, item Item, payload any) error

// Registration binds an operation to its payload shape and handler.
type Registration struct {
	Partner   string
	Operation string

	// PayloadType names the payload shape, stored on each item for
	// operator visibility.
	PayloadType string

	// NewPayload returns a pointer to a fresh payload value to decode into.
	// Nil means the operation carries no structured payload.
	NewPayload func() any

	Handle HandlerFunc
}

type Registry struct {
	regs map[string]Registration
}

func NewRegistry() *Registry {
	return &Registry{regs: make(map[string]Registration)}
}

func regKey(partner, operation string) string {
	return strings.ToLower(partner) + "/" + strings.ToLower(operation)
}

// Register adds a registration, replacing any previous one for the pair.
func (r *Registry) Register(reg Registration) {
	r.regs[regKey(reg.Partner, reg.Operation)] = reg
}

// Lookup resolves the registration for a pair.
func (r *Registry) Lookup(partner, operation string) (Registration, bool) {
	reg, ok := r.regs[regKey(partner, operation)]
	return reg, ok
}

// Decode validates and decodes raw into the operation's payload shape.
func (r *Registry) Decode(partner, operation string, raw json.RawMessage) (any, error) {
	reg, ok := r.Lookup(partner, operation)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownOperation, partner, operation)
	}
	if reg.NewPayload == nil {
		return nil, nil
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload for %s/%s", ErrInvalidPayload, partner, operation)
	}
	payload := reg.NewPayload()
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return payload, nil
}
