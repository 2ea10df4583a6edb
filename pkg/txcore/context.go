package txcore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gwerrors "github.com/odvcencio/modelgateway/pkg/errors"
	"github.com/odvcencio/modelgateway/pkg/logging"
	"github.com/odvcencio/modelgateway/pkg/metrics"
)

// DefaultIterationCap bounds the commit-loop's trigger quiescence
// search (spec.md §4.3.5). A transaction whose triggers keep producing
// non-empty deltas past this many rounds is rolled back rather than
// looped forever.
const DefaultIterationCap = 64

// DefaultReplyTimeout bounds how long a single execute waits for its
// one reply from Upstream before the transaction is rolled back. Close
// and roll-back messages are written without waiting for a reply.
const DefaultReplyTimeout = 30 * time.Second

type opFunc func(ctx context.Context) (ModelUpdateResult, error)

type opRequest struct {
	ctx      context.Context
	fn       opFunc
	resultCh chan opOutcome
}

type opOutcome struct {
	res ModelUpdateResult
	err error
}

// txCore holds everything a root TransactionContext and every nested
// child proxy it hands out (spec.md §4.3.4) share: one socket, one
// frame stack, one mailbox goroutine. Only that goroutine ever touches
// frames or conn directly; every other access goes through submit, or
// (for recursive command/trigger functions already running on that
// goroutine) through the do* methods directly.
type txCore struct {
	modelURI       ModelURI
	transactionURI string

	uuid    string
	uuidSet chan struct{} // closed once, when uuid is known

	conn WireConn

	commandRegistry *CommandProviderRegistry
	triggerRegistry *TriggerProviderRegistry

	logger *logging.Logger

	iterationCap int
	replyTimeout time.Duration

	mailbox chan opRequest
	done    chan struct{} // closed when the socket reaches Closed

	st         atomic.Int32 // state, read freely; only run() goroutine writes it
	frames     []ModelUpdateResult
	closeOnce  sync.Once
	onClosed   func(*txCore)
	closedAt   time.Time
	closeCause string
}

// TransactionContext is a handle onto a live edit session against one
// model. A root handle is returned by TransactionManager.OpenTransaction;
// nested handles come back from OpenTransaction called on any existing
// handle and proxy the same socket and frame stack (spec.md §4.3.4).
type TransactionContext struct {
	core    *txCore
	isChild bool
}

// NewTransactionContext wires a freshly dialed socket to modelURI and
// transactionURI. It does not perform the handshake; call Open to do
// that and start the mailbox goroutine.
func NewTransactionContext(
	modelURI ModelURI,
	transactionURI string,
	conn WireConn,
	commandRegistry *CommandProviderRegistry,
	triggerRegistry *TriggerProviderRegistry,
	logger *logging.Logger,
) *TransactionContext {
	core := &txCore{
		modelURI:        NormalizeModelURI(modelURI),
		transactionURI:  transactionURI,
		conn:            conn,
		commandRegistry: commandRegistry,
		triggerRegistry: triggerRegistry,
		logger:          logger,
		iterationCap:    DefaultIterationCap,
		replyTimeout:    DefaultReplyTimeout,
		mailbox:         make(chan opRequest),
		done:            make(chan struct{}),
		uuidSet:         make(chan struct{}),
	}
	core.st.Store(int32(stateConnecting))
	return &TransactionContext{core: core}
}

// SetOnClosed registers a callback invoked once, on the mailbox
// goroutine, when a commit or roll-back takes the transaction to
// Closed. The TransactionManager uses this to drop the context from its
// table.
func (tc *TransactionContext) SetOnClosed(fn func()) {
	if fn == nil {
		return
	}
	tc.core.onClosed = func(*txCore) { fn() }
}

// Open performs the UUID handshake (spec.md §4.3.6: AwaitingUUID ->
// Open) and starts the mailbox goroutine. It must be called exactly
// once, before any other method.
func (tc *TransactionContext) Open(ctx context.Context) error {
	core := tc.core
	core.st.Store(int32(stateAwaitingUUID))

	uuid, err := core.conn.ReadUUID(ctx)
	if err != nil {
		core.st.Store(int32(stateClosed))
		close(core.done)
		return gwerrors.Wrap(err, gwerrors.ErrCodeUpstreamError, "reading transaction uuid handshake")
	}
	core.uuid = uuid
	close(core.uuidSet)
	core.frames = []ModelUpdateResult{emptyFrameResult()}
	core.st.Store(int32(stateOpen))

	if core.logger != nil {
		core.logger.Info(logging.CategoryTransaction, "transaction_opened", fmt.Sprintf("model=%s uuid=%s", core.modelURI, core.uuid), nil)
	}

	go core.run()
	return nil
}

func (core *txCore) run() {
	for req := range core.mailbox {
		res, err := req.fn(req.ctx)
		req.resultCh <- opOutcome{res: res, err: err}
	}
}

// submit serializes fn onto the owning goroutine and blocks for its
// result. fn must not itself call submit (it would deadlock against
// its own goroutine) — use the do* methods directly for anything
// invoked from inside a TransactionFunction or trigger.
func (core *txCore) submit(ctx context.Context, fn opFunc) (ModelUpdateResult, error) {
	resultCh := make(chan opOutcome, 1)
	select {
	case core.mailbox <- opRequest{ctx: ctx, fn: fn, resultCh: resultCh}:
	case <-ctx.Done():
		return ModelUpdateResult{}, ctx.Err()
	case <-core.done:
		return closedResult, core.socketClosedErr()
	}
	select {
	case out := <-resultCh:
		return out.res, out.err
	case <-ctx.Done():
		return ModelUpdateResult{}, ctx.Err()
	}
}

func (core *txCore) socketClosedErr() error {
	msg := "transaction socket is closed"
	if core.closeCause != "" {
		msg = fmt.Sprintf("transaction socket is closed: %s", core.closeCause)
	}
	return gwerrors.New(gwerrors.ErrCodeSocketClosed, msg)
}

func (core *txCore) isOpenUnsafe() bool {
	return state(core.st.Load()) == stateOpen
}

// ---- frame stack (owning goroutine only) ----

func (core *txCore) pushFrame() {
	core.frames = append(core.frames, emptyFrameResult())
}

// popFrame pops the top frame, merges it into the new top (if any) as
// a side effect, and returns the popped frame's own aggregate
// (spec.md §4.3.3).
func (core *txCore) popFrame() ModelUpdateResult {
	n := len(core.frames)
	if n == 0 {
		panic("txcore: popFrame called on empty frame stack")
	}
	popped := core.frames[n-1]
	core.frames = core.frames[:n-1]
	if len(core.frames) > 0 {
		parent := len(core.frames) - 1
		core.frames[parent] = Merge(core.frames[parent], popped)
	}
	return popped
}

func (core *txCore) mergeIntoTop(result ModelUpdateResult) {
	if len(core.frames) == 0 {
		return
	}
	top := len(core.frames) - 1
	core.frames[top] = Merge(core.frames[top], result)
}

// ---- do* methods: run only on the owning goroutine, never submit ----

func (core *txCore) doEdit(ctx context.Context, cop CommandOrPatch) (ModelUpdateResult, error) {
	if cop.IsPatch() {
		return core.doApplyPatch(ctx, cop.Patch)
	}
	if cop.Command == nil {
		return ModelUpdateResult{}, gwerrors.New(gwerrors.ErrCodeInvalidInput, "edit: command is nil and kind is not patch")
	}
	return core.doExecute(ctx, *cop.Command)
}

// doExecute implements the command dispatch algorithm, spec.md §4.3.2.
func (core *txCore) doExecute(ctx context.Context, cmd Command) (ModelUpdateResult, error) {
	if !core.isOpenUnsafe() {
		return closedResult, core.socketClosedErr()
	}

	if core.commandRegistry != nil && core.commandRegistry.HasProvider(cmd.Type) {
		resolution, ok := core.commandRegistry.GetCommands(core.modelURI, cmd)
		if ok {
			metrics.CommandsDispatched.Inc()
			switch resolution.Kind {
			case ResolutionFunction:
				return core.runFunctionFrame(ctx, resolution.Function, gwerrors.ErrCodeCommandProviderFailure)
			case ResolutionSubstitute:
				return core.sendAndMerge(ctx, resolution.Replace)
			}
		}
	}

	return core.sendAndMerge(ctx, CommandOrPatch{Kind: CommandKindEMFCommand, Command: &cmd})
}

func (core *txCore) doApplyPatch(ctx context.Context, patch Patch) (ModelUpdateResult, error) {
	if len(patch) == 0 {
		// EmptyEdit: a no-op that never touches the wire (spec.md §7).
		return ModelUpdateResult{Success: true, Patch: Patch{}}, nil
	}
	if !core.isOpenUnsafe() {
		return closedResult, core.socketClosedErr()
	}
	return core.sendAndMerge(ctx, CommandOrPatch{Kind: CommandKindPatch, Patch: patch})
}

func (core *txCore) doOpenTransaction() (*TransactionContext, error) {
	if !core.isOpenUnsafe() {
		return nil, core.socketClosedErr()
	}
	core.pushFrame()
	return &TransactionContext{core: core, isChild: true}, nil
}

// runFunctionFrame pushes a frame, runs fn with an internal executor
// bound directly to this goroutine (no submit — fn is already running
// on the owning goroutine), pops the frame, and auto-rolls-back on
// failure (spec.md §4.3.2 step c/d, §7).
func (core *txCore) runFunctionFrame(ctx context.Context, fn TransactionFunction, failureCode gwerrors.ErrorCode) (ModelUpdateResult, error) {
	core.pushFrame()

	ok, ferr := func() (ok bool, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("transaction function panicked: %v", r)
			}
		}()
		return fn(ctx, &innerExecutor{core: core})
	}()

	popped := core.popFrame()

	if ferr != nil {
		core.doRollback(ferr.Error())
		return closedResult, gwerrors.Wrap(ferr, failureCode, "transaction function returned an error")
	}
	if !ok {
		core.doRollback("transaction function reported failure")
		return closedResult, gwerrors.New(failureCode, "transaction function reported failure")
	}
	return popped, nil
}

// sendAndMerge sends cop as a wire "execute", waits for the one reply,
// merges it into the current top frame, and auto-rolls-back on
// failure.
func (core *txCore) sendAndMerge(ctx context.Context, cop CommandOrPatch) (ModelUpdateResult, error) {
	reply, err := core.sendExecute(ctx, cop)
	if err != nil {
		core.doRollback(err.Error())
		return closedResult, err
	}
	core.mergeIntoTop(reply)
	if core.logger != nil {
		core.logger.Debug(logging.CategoryTransaction, "edit_applied", fmt.Sprintf("model=%s success=%t ops=%d", core.modelURI, reply.Success, len(reply.Patch)), nil)
	}
	return reply, nil
}

func (core *txCore) sendExecute(ctx context.Context, cop CommandOrPatch) (ModelUpdateResult, error) {
	var data []byte
	var err error
	if cop.IsPatch() {
		data, err = json.Marshal(cop.Patch)
	} else {
		data, err = json.Marshal(cop.Command)
	}
	if err != nil {
		return ModelUpdateResult{}, gwerrors.Wrap(err, gwerrors.ErrCodeBadPatch, "marshaling execute payload")
	}

	if err := core.conn.WriteMessage(ctx, WireMessage{
		Type:     WireTypeExecute,
		ModelURI: string(core.modelURI),
		Data:     data,
	}); err != nil {
		return ModelUpdateResult{}, gwerrors.Wrap(err, gwerrors.ErrCodeUpstreamError, "writing execute message")
	}

	return core.readReply(ctx)
}

func (core *txCore) readReply(ctx context.Context) (ModelUpdateResult, error) {
	replyCtx := ctx
	if core.replyTimeout > 0 {
		var cancel context.CancelFunc
		replyCtx, cancel = context.WithTimeout(ctx, core.replyTimeout)
		defer cancel()
	}

	msg, err := core.conn.ReadMessage(replyCtx)
	if err != nil {
		if replyCtx.Err() != nil {
			return ModelUpdateResult{}, gwerrors.Wrap(err, gwerrors.ErrCodeReplyTimeout, "waiting for upstream reply").WithRetryable(true)
		}
		return ModelUpdateResult{}, gwerrors.Wrap(err, gwerrors.ErrCodeUpstreamError, "reading upstream reply")
	}

	switch msg.Type {
	case WireTypeIncrementalUpdate, WireTypeSuccess:
		var result ModelUpdateResult
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &result); err != nil {
				return ModelUpdateResult{}, gwerrors.Wrap(err, gwerrors.ErrCodeUpstreamError, "decoding upstream reply payload")
			}
		} else {
			result.Success = true
		}
		return result, nil
	default:
		return ModelUpdateResult{}, gwerrors.New(gwerrors.ErrCodeUpstreamError, fmt.Sprintf("unexpected reply type %q from upstream", msg.Type))
	}
}

// commitRoot implements the commit algorithm, spec.md §4.3.5: pop the
// root frame, then repeatedly resolve triggers against the running
// delta until quiescent, bounded by iterationCap.
func (core *txCore) commitRoot(ctx context.Context) (ModelUpdateResult, error) {
	if !core.isOpenUnsafe() {
		return closedResult, nil
	}

	u := core.popFrame()
	delta := u.Patch

	iterations := 0
	for len(delta) > 0 {
		iterations++
		if core.iterationCap > 0 && iterations > core.iterationCap {
			core.doRollback("trigger quiescence loop exceeded iteration cap")
			return closedResult, gwerrors.New(gwerrors.ErrCodeIterationLimit, fmt.Sprintf("commit did not quiesce within %d iterations", core.iterationCap))
		}

		var triggerRes TriggerResolution
		if core.triggerRegistry != nil {
			var err error
			triggerRes, err = core.triggerRegistry.GetTriggers(core.modelURI, delta)
			if err != nil {
				core.doRollback(err.Error())
				return closedResult, gwerrors.Wrap(err, gwerrors.ErrCodeTriggerFailure, "trigger provider failed")
			}
		}
		if triggerRes.IsEmpty() {
			break
		}

		r, err := core.performTrigger(ctx, triggerRes)
		if err != nil {
			return closedResult, err
		}
		metrics.TriggersFired.Inc()
		u = Merge(u, r)
		delta = r.Patch
	}

	if err := core.sendClose(ctx); err != nil {
		return closedResult, err
	}

	core.st.Store(int32(stateClosingCommit))
	core.transitionClosed("")
	if core.logger != nil {
		core.logger.Info(logging.CategoryTransaction, "transaction_committed", fmt.Sprintf("model=%s uuid=%s success=%t", core.modelURI, core.uuid, u.Success), nil)
	}
	return u, nil
}

func (core *txCore) performTrigger(ctx context.Context, res TriggerResolution) (ModelUpdateResult, error) {
	if res.Function != nil {
		return core.runFunctionFrame(ctx, res.Function, gwerrors.ErrCodeTriggerFailure)
	}

	core.pushFrame()
	_, err := core.doApplyPatch(ctx, res.Patch)
	popped := core.popFrame()
	if err != nil {
		core.doRollback(err.Error())
		return closedResult, gwerrors.Wrap(err, gwerrors.ErrCodeTriggerFailure, "applying trigger patch")
	}
	return popped, nil
}

func (core *txCore) sendClose(ctx context.Context) error {
	if err := core.conn.WriteMessage(ctx, WireMessage{
		Type:     WireTypeClose,
		ModelURI: string(core.modelURI),
	}); err != nil {
		return gwerrors.Wrap(err, gwerrors.ErrCodeUpstreamError, "writing close message")
	}
	return nil
}

// doRollback is idempotent: the first caller sends the wire roll-back
// and tears the socket down, every later caller observes Closed and
// does nothing (spec.md §7: "at most one roll-back is ever sent").
func (core *txCore) doRollback(reason string) {
	if state(core.st.Load()) == stateClosed {
		return
	}
	core.closeOnce.Do(func() {
		core.st.Store(int32(stateClosingRollback))
		_ = core.conn.WriteMessage(context.Background(), WireMessage{
			Type:     WireTypeRollBack,
			ModelURI: string(core.modelURI),
		})
		core.frames = nil
		core.transitionClosed(reason)
		if core.logger != nil {
			core.logger.Warn(logging.CategoryTransaction, "transaction_rolled_back", fmt.Sprintf("model=%s uuid=%s reason=%s", core.modelURI, core.uuid, reason), nil)
		}
	})
}

func (core *txCore) transitionClosed(cause string) {
	core.closeCause = cause
	core.closedAt = time.Now()
	core.st.Store(int32(stateClosed))
	_ = core.conn.Close()
	close(core.done)
	if core.onClosed != nil {
		core.onClosed(core)
	}
}

// ---- public, outside-the-goroutine API (submit-based) ----

func (tc *TransactionContext) Edit(ctx context.Context, cop CommandOrPatch) (ModelUpdateResult, error) {
	return tc.core.submit(ctx, func(ctx context.Context) (ModelUpdateResult, error) {
		return tc.core.doEdit(ctx, cop)
	})
}

func (tc *TransactionContext) Execute(ctx context.Context, cmd Command) (ModelUpdateResult, error) {
	return tc.core.submit(ctx, func(ctx context.Context) (ModelUpdateResult, error) {
		return tc.core.doExecute(ctx, cmd)
	})
}

func (tc *TransactionContext) ApplyPatch(ctx context.Context, patch Patch) (ModelUpdateResult, error) {
	return tc.core.submit(ctx, func(ctx context.Context) (ModelUpdateResult, error) {
		return tc.core.doApplyPatch(ctx, patch)
	})
}

// OpenTransaction returns a nested proxy sharing this handle's socket
// and frame stack (spec.md §4.3.4).
func (tc *TransactionContext) OpenTransaction(ctx context.Context) (Executor, error) {
	var child *TransactionContext
	_, err := tc.core.submit(ctx, func(ctx context.Context) (ModelUpdateResult, error) {
		c, err := tc.core.doOpenTransaction()
		if err != nil {
			return ModelUpdateResult{}, err
		}
		child = c
		return ModelUpdateResult{}, nil
	})
	if err != nil {
		return nil, err
	}
	return child, nil
}

// Commit ends this handle. A root handle runs the full commit
// algorithm and closes the wire socket; a nested handle just pops its
// frame, merging into its parent (spec.md §4.3.4).
func (tc *TransactionContext) Commit(ctx context.Context) (ModelUpdateResult, error) {
	if tc.isChild {
		return tc.core.submit(ctx, func(ctx context.Context) (ModelUpdateResult, error) {
			return tc.core.popFrame(), nil
		})
	}
	return tc.core.submit(ctx, func(ctx context.Context) (ModelUpdateResult, error) {
		return tc.core.commitRoot(ctx)
	})
}

// Rollback ends the entire session, regardless of which handle (root
// or nested) it is called on, and is always best-effort (spec.md §4.3.4,
// §7): it never returns an error, since by the time the caller learns
// something went wrong the rollback is the recovery action itself.
func (tc *TransactionContext) Rollback(ctx context.Context, reason string) ModelUpdateResult {
	_, _ = tc.core.submit(ctx, func(ctx context.Context) (ModelUpdateResult, error) {
		tc.core.doRollback(reason)
		return ModelUpdateResult{Success: false}, nil
	})
	return ModelUpdateResult{Success: false}
}

func (tc *TransactionContext) GetModelURI() ModelURI { return tc.core.modelURI }

// IsOpen reports whether the socket can still accept edits. Safe to
// call from any goroutine without going through the mailbox.
func (tc *TransactionContext) IsOpen() bool {
	return state(tc.core.st.Load()) == stateOpen
}

// GetUUID returns the transaction UUID once known, and blocks until
// either it is set or ctx is done.
func (tc *TransactionContext) GetUUID(ctx context.Context) (string, error) {
	select {
	case <-tc.core.uuidSet:
		return tc.core.uuid, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// innerExecutor is handed to TransactionFunction and TriggerProvider
// callbacks that are already running on the owning goroutine (inside
// runFunctionFrame). It calls do* methods directly; going through
// submit here would deadlock the goroutine against itself.
type innerExecutor struct {
	core *txCore
}

func (e *innerExecutor) Edit(ctx context.Context, cop CommandOrPatch) (ModelUpdateResult, error) {
	return e.core.doEdit(ctx, cop)
}

func (e *innerExecutor) Execute(ctx context.Context, cmd Command) (ModelUpdateResult, error) {
	return e.core.doExecute(ctx, cmd)
}

func (e *innerExecutor) ApplyPatch(ctx context.Context, patch Patch) (ModelUpdateResult, error) {
	return e.core.doApplyPatch(ctx, patch)
}

func (e *innerExecutor) OpenTransaction(ctx context.Context) (Executor, error) {
	child, err := e.core.doOpenTransaction()
	if err != nil {
		return nil, err
	}
	return &innerExecutor{core: child.core}, nil
}

func (e *innerExecutor) GetModelURI() ModelURI { return e.core.modelURI }
