package txcore

import "sync"

// TriggerResolution is what a TriggerProvider returns for a delta: an
// empty result means nothing further is required, a non-empty Patch is
// applied directly, and a non-nil Function is run as a transaction
// function inside the commit loop's nested frame.
type TriggerResolution struct {
	Patch    Patch
	Function TransactionFunction
}

// IsEmpty reports whether this resolution has no further work: no
// patch operations and no function to run. The commit loop (spec.md
// §4.3.5) stops once a resolution is empty.
func (t TriggerResolution) IsEmpty() bool {
	return len(t.Patch) == 0 && t.Function == nil
}

// TriggerProvider inspects a just-applied delta on a model and returns
// any further edits needed to keep it consistent.
type TriggerProvider interface {
	GetTriggers(modelURI ModelURI, delta Patch) (TriggerResolution, error)
}

// TriggerProviderFunc adapts a function into a TriggerProvider.
type TriggerProviderFunc func(modelURI ModelURI, delta Patch) (TriggerResolution, error)

func (f TriggerProviderFunc) GetTriggers(modelURI ModelURI, delta Patch) (TriggerResolution, error) {
	return f(modelURI, delta)
}

// TriggerProviderRegistry holds zero or more TriggerProviders, queried
// in registration order. The first non-empty result wins, generalizing
// the "first wins" rule spec.md §9 states for command providers to the
// trigger side as well.
type TriggerProviderRegistry struct {
	mu        sync.RWMutex
	providers []TriggerProvider
}

// NewTriggerProviderRegistry returns an empty registry.
func NewTriggerProviderRegistry() *TriggerProviderRegistry {
	return &TriggerProviderRegistry{}
}

// Register appends provider to the query order.
func (r *TriggerProviderRegistry) Register(provider TriggerProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, provider)
}

// GetTriggers queries each registered provider in order and returns the
// first non-empty resolution, or an empty resolution if none apply or
// no providers are registered.
func (r *TriggerProviderRegistry) GetTriggers(modelURI ModelURI, delta Patch) (TriggerResolution, error) {
	r.mu.RLock()
	providers := make([]TriggerProvider, len(r.providers))
	copy(providers, r.providers)
	r.mu.RUnlock()

	for _, provider := range providers {
		res, err := provider.GetTriggers(modelURI, delta)
		if err != nil {
			return TriggerResolution{}, err
		}
		if !res.IsEmpty() {
			return res, nil
		}
	}
	return TriggerResolution{}, nil
}
