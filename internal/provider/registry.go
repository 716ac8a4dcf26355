package provider

import (
	"sort"

	"chatstream/internal/fault"
)

// Registry holds the compiled-in adapters and the configured active choice.
// It is constructed once at startup and passed by reference into request
// handling; there is no module-level client cache.
type Registry struct {
	active   string
	adapters map[string]Adapter
}

func NewRegistry(active string, adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Registry{active: active, adapters: m}
}

// Select resolves the active adapter. It fails with a provider-config error
// when the configured name is unrecognized or the adapter has no credential.
func (r *Registry) Select() (Adapter, error) {
	adapter, ok := r.adapters[r.active]
	if !ok {
		return nil, fault.Config("unknown provider %q", r.active)
	}
	if !adapter.Configured() {
		return nil, fault.Config("provider %q is not configured", r.active)
	}
	return adapter, nil
}

// Active returns the configured provider name without resolving it.
func (r *Registry) Active() string { return r.active }

// Status describes one adapter's configuration state, for diagnostics only.
type Status struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
	Model      string `json:"model"`
	Active     bool   `json:"active"`
}

// StatusAll reports configuration state for every known adapter.
func (r *Registry) StatusAll() []Status {
	out := make([]Status, 0, len(r.adapters))
	for name, a := range r.adapters {
		out = append(out, Status{
			Name:       name,
			Configured: a.Configured(),
			Model:      a.DefaultModel(),
			Active:     name == r.active,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
