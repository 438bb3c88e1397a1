package providers

import (
	"fmt"
	"sync"

	"eval_harness/internal/config"
)

// Creator builds an adapter instance for one resolved configuration.
type Creator func(cfg *config.Effective) (Adapter, error)

type registration struct {
	creator     Creator
	modes       []Mode
	requiresKey bool
}

// Factory creates adapters keyed by vendor type. New vendors register a
// creator; nothing else in the system branches on vendor names.
type Factory struct {
	mu   sync.RWMutex
	regs map[string]registration
}

// NewFactory returns a factory with the built-in adapters registered.
func NewFactory() *Factory {
	f := &Factory{regs: make(map[string]registration)}
	f.Register("openai", []Mode{ModeChat, ModeCompletion, ModeEmbedding}, true, NewOpenAIAdapter)
	f.Register("httpjson", []Mode{ModeChat, ModeCompletion}, false, NewHTTPJSONAdapter)
	f.Register("echo", []Mode{ModeChat, ModeCompletion}, false, NewEchoAdapter)
	return f
}

// Register adds a vendor type. requiresKey marks vendors that cannot run
// without an api_key; the resolver consults it before dispatch.
func (f *Factory) Register(vendor string, modes []Mode, requiresKey bool, creator Creator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[vendor] = registration{creator: creator, modes: modes, requiresKey: requiresKey}
}

// RegisterAlias registers vendor as another name for an existing type,
// e.g. "groq" as an OpenAI-compatible endpoint.
func (f *Factory) RegisterAlias(vendor, baseType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	base, ok := f.regs[baseType]
	if !ok {
		return fmt.Errorf("unknown adapter type %q for vendor %q", baseType, vendor)
	}
	f.regs[vendor] = base
	return nil
}

// Create builds an adapter for vendor with the given configuration.
func (f *Factory) Create(vendor string, cfg *config.Effective) (Adapter, error) {
	f.mu.RLock()
	reg, ok := f.regs[vendor]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported vendor type: %s", vendor)
	}
	adapter, err := reg.creator(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create adapter for %s: %w", vendor, err)
	}
	return adapter, nil
}

// Supports reports whether (vendor, mode) is a registered capability.
func (f *Factory) Supports(vendor string, mode Mode) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	reg, ok := f.regs[vendor]
	if !ok {
		return false
	}
	for _, m := range reg.modes {
		if m == mode {
			return true
		}
	}
	return false
}

// Known reports whether vendor is registered at all.
func (f *Factory) Known(vendor string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.regs[vendor]
	return ok
}

// RequiresKey reports whether vendor needs an api_key.
func (f *Factory) RequiresKey(vendor string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	reg, ok := f.regs[vendor]
	return ok && reg.requiresKey
}

// Vendors returns a copy of the vendor -> modes table, used to build the
// identifier parser.
func (f *Factory) Vendors() map[string][]Mode {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string][]Mode, len(f.regs))
	for vendor, reg := range f.regs {
		out[vendor] = append([]Mode(nil), reg.modes...)
	}
	return out
}
