package payment

// Registry is the closed method→gateway dispatch table, built once at
// startup. Methods without a gateway (cash on delivery) are absent.
type Registry struct {
	byMethod map[Method]Gateway
	byID     map[string]Gateway
}

// NewRegistry builds a registry from the given bindings.
func NewRegistry(bindings map[Method]Gateway) *Registry {
	r := &Registry{
		byMethod: make(map[Method]Gateway, len(bindings)),
		byID:     make(map[string]Gateway, len(bindings)),
	}
	for m, g := range bindings {
		r.byMethod[m] = g
		r.byID[g.ID()] = g
	}
	return r
}

// ForMethod resolves the gateway for a method.
func (r *Registry) ForMethod(m Method) (Gateway, bool) {
	g, ok := r.byMethod[m]
	return g, ok
}

// ByID resolves a gateway by its identifier, as used in callback routes.
func (r *Registry) ByID(id string) (Gateway, bool) {
	g, ok := r.byID[id]
	return g, ok
}
