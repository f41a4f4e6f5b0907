package payment

import (
	"fmt"
	"sort"
)

// Registry maps payment kinds to their configured gateway.
type Registry struct {
	gateways map[Kind]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[Kind]Gateway, len(gateways))}
	for _, gateway := range gateways {
		if gateway == nil {
			continue
		}
		r.gateways[gateway.Kind()] = gateway
	}
	return r
}

// Resolve returns the gateway registered for kind. A missing gateway is an
// error; the registry never substitutes another provider.
func (r *Registry) Resolve(kind Kind) (Gateway, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrGatewayUnavailable, kind)
	}
	gateway, ok := r.gateways[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGatewayUnavailable, kind)
	}
	return gateway, nil
}

func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.gateways))
	for kind := range r.gateways {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
