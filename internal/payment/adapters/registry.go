// Package adapters holds the payment provider implementations and the
// registry used to look them up by name.
package adapters

import (
	"strings"

	paymentdomain "github.com/creditrail/creditrail/internal/payment/domain"
)

// Registry maps provider names to their adapters.
type Registry struct {
	adapters map[string]paymentdomain.Adapter
}

func NewRegistry(adapters ...paymentdomain.Adapter) *Registry {
	r := &Registry{adapters: make(map[string]paymentdomain.Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[strings.ToLower(a.Name())] = a
	}
	return r
}

// Get resolves an adapter by provider name.
func (r *Registry) Get(name string) (paymentdomain.Adapter, error) {
	adapter, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, paymentdomain.ErrProviderNotFound
	}
	return adapter, nil
}
