package txcore

import "context"

// Executor is the narrow capability surface a TransactionFunction or
// trigger handler receives. It deliberately omits everything about the
// concrete *TransactionContext (socket, frame stack, state machine) so
// plug-in code cannot reach around the protocol.
type Executor interface {
	Edit(ctx context.Context, cop CommandOrPatch) (ModelUpdateResult, error)
	Execute(ctx context.Context, cmd Command) (ModelUpdateResult, error)
	ApplyPatch(ctx context.Context, patch Patch) (ModelUpdateResult, error)
	OpenTransaction(ctx context.Context) (Executor, error)
	GetModelURI() ModelURI
}

// TransactionFunction performs further edits on the given executor and
// reports whether they all succeeded. A false return discards its frame
// and triggers auto-rollback of the whole transaction (spec.md §4.3.2).
type TransactionFunction func(ctx context.Context, exec Executor) (bool, error)
