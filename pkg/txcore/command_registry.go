package txcore

import "sync"

// ResolutionKind discriminates what a CommandProvider returned for a
// given command: a substitute wire payload, or a function to run
// recursively inside a nested frame.
type ResolutionKind int

const (
	// ResolutionSubstitute means send CommandOrPatch in place of the
	// original command, with no further recursion.
	ResolutionSubstitute ResolutionKind = iota
	// ResolutionFunction means run Function inside a pushed frame.
	ResolutionFunction
)

// CommandResolution is the tagged result of CommandProviderRegistry.GetCommands.
type CommandResolution struct {
	Kind     ResolutionKind
	Replace  CommandOrPatch
	Function TransactionFunction
}

// CommandProvider resolves a single command type into either a
// substitute payload or a transaction function.
type CommandProvider interface {
	// GetCommands resolves cmd for modelURI. ok is false if this
	// provider does not handle cmd.Type.
	GetCommands(modelURI ModelURI, cmd Command) (CommandResolution, bool)
}

// CommandProviderFunc adapts a function into a CommandProvider.
type CommandProviderFunc func(modelURI ModelURI, cmd Command) (CommandResolution, bool)

func (f CommandProviderFunc) GetCommands(modelURI ModelURI, cmd Command) (CommandResolution, bool) {
	return f(modelURI, cmd)
}

// CommandProviderRegistry is a read-mostly mapping from command type to
// provider. Insertion and lookup are non-blocking under a RWMutex; if
// multiple providers register for the same type, the first wins
// (spec.md §9, open question 4).
type CommandProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]CommandProvider
}

// NewCommandProviderRegistry returns an empty registry.
func NewCommandProviderRegistry() *CommandProviderRegistry {
	return &CommandProviderRegistry{providers: make(map[string]CommandProvider)}
}

// Register attaches provider to commandType if no provider is already
// registered for it. Returns false if a provider already owns the type.
func (r *CommandProviderRegistry) Register(commandType string, provider CommandProvider) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[commandType]; exists {
		return false
	}
	r.providers[commandType] = provider
	return true
}

// HasProvider reports whether commandType has a registered provider.
func (r *CommandProviderRegistry) HasProvider(commandType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[commandType]
	return ok
}

// GetCommands resolves cmd through its registered provider. ok is false
// if no provider is registered for cmd.Type.
func (r *CommandProviderRegistry) GetCommands(modelURI ModelURI, cmd Command) (CommandResolution, bool) {
	r.mu.RLock()
	provider, ok := r.providers[cmd.Type]
	r.mu.RUnlock()
	if !ok {
		return CommandResolution{}, false
	}
	return provider.GetCommands(modelURI, cmd)
}
