package providers

import (
	"sync"

	"eval_harness/internal/config"
	"eval_harness/internal/eval"
)

// Registry resolves parsed specs to adapter instances and manages their
// lifecycle. Adapters are created lazily and shared across calls with the
// same vendor and connection settings.
type Registry struct {
	factory *Factory

	mu       sync.RWMutex
	parser   *Parser
	adapters map[string]Adapter
}

// NewRegistry creates a registry over the given factory.
func NewRegistry(factory *Factory) *Registry {
	return &Registry{
		factory:  factory,
		parser:   NewParser(factory.Vendors()),
		adapters: make(map[string]Adapter),
	}
}

// Parser returns the identifier parser for the currently known vendors.
func (r *Registry) Parser() *Parser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.parser
}

// ApplyEntries registers vendor aliases from a providers file (entries
// with an explicit type) and refreshes the parser. Called at startup and
// on config hot reload.
func (r *Registry) ApplyEntries(entries []config.ProviderEntry) error {
	for _, entry := range entries {
		if entry.Type == "" {
			continue
		}
		vendor := vendorToken(entry.ID)
		if vendor == entry.Type {
			continue
		}
		if err := r.factory.RegisterAlias(vendor, entry.Type); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.parser = NewParser(r.factory.Vendors())
	r.mu.Unlock()
	return nil
}

// Resolve returns the adapter for a spec, creating it on first use.
// Unknown (vendor, mode) combinations fail with a CapabilityError naming
// both sides.
func (r *Registry) Resolve(spec Spec, cfg *config.Effective) (Adapter, *eval.Error) {
	if !r.factory.Supports(spec.Vendor, spec.Mode) {
		return nil, eval.NewCapabilityError(spec.Vendor, string(spec.Mode))
	}

	key := spec.Vendor + "\x00" + cfg.BaseURL + "\x00" + cfg.APIKey

	r.mu.RLock()
	adapter, ok := r.adapters[key]
	r.mu.RUnlock()
	if ok {
		return adapter, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if adapter, ok := r.adapters[key]; ok {
		return adapter, nil
	}
	adapter, err := r.factory.Create(spec.Vendor, cfg)
	if err != nil {
		if evalErr, ok := err.(*eval.Error); ok {
			return nil, evalErr
		}
		return nil, eval.NewConfigError("", "cannot initialize vendor %q: %v", spec.Vendor, err)
	}
	r.adapters[key] = adapter
	return adapter, nil
}

// RequiresKey exposes the factory's key requirement for the resolver.
func (r *Registry) RequiresKey(vendor string) bool {
	return r.factory.RequiresKey(vendor)
}

// Close closes all instantiated adapters.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for key, adapter := range r.adapters {
		if err := adapter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.adapters, key)
	}
	return firstErr
}

func vendorToken(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return id[:i]
		}
	}
	return id
}
