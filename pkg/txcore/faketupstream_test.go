package txcore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// fakeConn is an in-process WireConn standing in for a real Upstream
// transaction socket. Tests script its replies by pushing onto
// replies before triggering the call that will read them.
type fakeConn struct {
	mu      sync.Mutex
	uuid    string
	writes  []WireMessage
	replies chan WireMessage
	errs    chan error
	closed  bool
}

func newFakeConn(uuid string) *fakeConn {
	return &fakeConn{
		uuid:    uuid,
		replies: make(chan WireMessage, 16),
		errs:    make(chan error, 16),
	}
}

func (f *fakeConn) ReadUUID(ctx context.Context) (string, error) {
	return f.uuid, nil
}

func (f *fakeConn) ReadMessage(ctx context.Context) (WireMessage, error) {
	select {
	case err := <-f.errs:
		return WireMessage{}, err
	case msg := <-f.replies:
		return msg, nil
	case <-ctx.Done():
		return WireMessage{}, ctx.Err()
	}
}

func (f *fakeConn) WriteMessage(ctx context.Context, msg WireMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("fakeConn: write on closed connection")
	}
	f.writes = append(f.writes, msg)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) Writes() []WireMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]WireMessage, len(f.writes))
	copy(out, f.writes)
	return out
}

// pushSuccess enqueues a "success" reply carrying result.
func (f *fakeConn) pushSuccess(result ModelUpdateResult) {
	data, _ := json.Marshal(result)
	f.replies <- WireMessage{Type: WireTypeSuccess, Data: data}
}

// pushReplyPatch is a convenience for the common case of a reply that
// just carries a patch and succeeds.
func (f *fakeConn) pushReplyPatch(ops ...Operation) {
	f.pushSuccess(ModelUpdateResult{Success: true, Patch: Patch(ops)})
}
