package txcore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/odvcencio/modelgateway/pkg/bus"
	gwerrors "github.com/odvcencio/modelgateway/pkg/errors"
	"github.com/odvcencio/modelgateway/pkg/logging"
)

//go:generate mockgen -destination=mocks/mock_dialer.go -package=mocks github.com/odvcencio/modelgateway/pkg/txcore Dialer

// Dialer opens a transaction socket against Upstream for modelURI and
// returns the transaction URI Upstream assigned plus a WireConn ready
// for the UUID handshake. pkg/upstream.Client implements this over
// nhooyr.io/websocket; tests supply an in-process fake or MockDialer.
type Dialer interface {
	OpenTransactionSocket(ctx context.Context, modelURI ModelURI) (transactionURI string, conn WireConn, err error)
}

// Bus subjects for transaction lifecycle events, published best-effort
// (a publish failure never fails the transaction operation itself).
const (
	SubjectTxOpened     = "tx.opened"
	SubjectTxCommitted  = "tx.committed"
	SubjectTxRolledBack = "tx.rolledback"
)

// TransactionManager owns the at-most-one-open-transaction-per-model
// invariant (spec.md §3, §5) and is the entry point plug-ins and the
// gateway use to get a handle.
type TransactionManager struct {
	mu    sync.Mutex
	open  map[ModelURI]*TransactionContext
	dial  Dialer
	bus   bus.MessageBus
	logger *logging.Logger

	commandRegistry *CommandProviderRegistry
	triggerRegistry *TriggerProviderRegistry
}

// NewTransactionManager wires a Dialer and the two provider registries
// every opened transaction will share. msgBus may be nil, in which
// case lifecycle events are simply not published.
func NewTransactionManager(
	dial Dialer,
	commandRegistry *CommandProviderRegistry,
	triggerRegistry *TriggerProviderRegistry,
	msgBus bus.MessageBus,
	logger *logging.Logger,
) *TransactionManager {
	return &TransactionManager{
		open:            make(map[ModelURI]*TransactionContext),
		dial:            dial,
		bus:             msgBus,
		logger:          logger,
		commandRegistry: commandRegistry,
		triggerRegistry: triggerRegistry,
	}
}

// OpenTransaction returns a nested child of the already-open root
// transaction for modelURI if one exists, or dials a new root. Only one
// root transaction per model may be open at a time (spec.md §3
// invariant).
func (m *TransactionManager) OpenTransaction(ctx context.Context, modelURI ModelURI) (*TransactionContext, error) {
	modelURI = NormalizeModelURI(modelURI)

	m.mu.Lock()
	if existing, ok := m.open[modelURI]; ok {
		m.mu.Unlock()
		return openChild(ctx, existing)
	}
	m.mu.Unlock()

	transactionURI, conn, err := m.dial.OpenTransactionSocket(ctx, modelURI)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeUpstreamError, "opening transaction socket").
			WithContext("model_uri", string(modelURI))
	}

	tc := NewTransactionContext(modelURI, transactionURI, conn, m.commandRegistry, m.triggerRegistry, m.logger)

	m.mu.Lock()
	if existing, ok := m.open[modelURI]; ok {
		m.mu.Unlock()
		_ = conn.Close()
		return openChild(ctx, existing)
	}
	m.open[modelURI] = tc
	m.mu.Unlock()

	tc.SetOnClosed(func() {
		m.mu.Lock()
		if m.open[modelURI] == tc {
			delete(m.open, modelURI)
		}
		m.mu.Unlock()
	})

	if err := tc.Open(ctx); err != nil {
		m.mu.Lock()
		delete(m.open, modelURI)
		m.mu.Unlock()
		return nil, err
	}

	m.publish(SubjectTxOpened, modelURI, nil)
	return tc, nil
}

// openChild delegates to an already-open root's own OpenTransaction, per
// spec.md §4.4: a second caller for the same model URI gets a nested
// child proxy sharing the root's socket and frame stack, not the root
// handle itself (scenario S5). Executor.OpenTransaction always returns
// a *TransactionContext in this package's own implementation.
func openChild(ctx context.Context, existing *TransactionContext) (*TransactionContext, error) {
	child, err := existing.OpenTransaction(ctx)
	if err != nil {
		return nil, err
	}
	return child.(*TransactionContext), nil
}

// Lookup returns the currently open transaction for modelURI, if any.
func (m *TransactionManager) Lookup(modelURI ModelURI) (*TransactionContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.open[NormalizeModelURI(modelURI)]
	return tc, ok
}

// Commit commits the transaction for modelURI and publishes a
// lifecycle event. It is a thin wrapper so callers (e.g. an HTTP
// handler) don't need to juggle the manager's table directly.
func (m *TransactionManager) Commit(ctx context.Context, modelURI ModelURI) (ModelUpdateResult, error) {
	tc, ok := m.Lookup(modelURI)
	if !ok {
		return ModelUpdateResult{}, gwerrors.New(gwerrors.ErrCodeTxNotFound, fmt.Sprintf("no open transaction for %s", modelURI))
	}
	result, err := tc.Commit(ctx)
	if err == nil {
		m.publish(SubjectTxCommitted, modelURI, map[string]any{"success": result.Success})
	}
	return result, err
}

// Rollback rolls back the transaction for modelURI, if open.
func (m *TransactionManager) Rollback(ctx context.Context, modelURI ModelURI, reason string) {
	tc, ok := m.Lookup(modelURI)
	if !ok {
		return
	}
	tc.Rollback(ctx, reason)
	m.publish(SubjectTxRolledBack, modelURI, map[string]any{"reason": reason})
}

// OpenCount reports how many transactions are currently open, for metrics.
func (m *TransactionManager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

func (m *TransactionManager) publish(subject string, modelURI ModelURI, extra map[string]any) {
	if m.bus == nil {
		return
	}
	payload := map[string]any{"model_uri": string(modelURI)}
	for k, v := range extra {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = m.bus.Publish(context.Background(), subject, data)
}
