package txcore

import (
	"context"
	"encoding/json"
)

// WireMessage is the envelope both directions exchange over a
// transaction WebSocket, per spec.md §6.
type WireMessage struct {
	Type     string          `json:"type"`
	ModelURI string          `json:"modeluri"`
	Data     json.RawMessage `json:"data"`
}

const (
	WireTypeExecute           = "execute"
	WireTypeClose             = "close"
	WireTypeRollBack          = "roll-back"
	WireTypeIncrementalUpdate = "incrementalUpdate"
	WireTypeSuccess           = "success"
)

// WireConn is the seam between the transaction coordinator and the
// physical WebSocket to Upstream. pkg/upstream provides the
// nhooyr.io/websocket-backed implementation; tests provide an
// in-process fake so the coordinator's dispatch, commit, and rollback
// algorithms can be exercised without a real socket.
type WireConn interface {
	// ReadUUID reads the first plain-text frame Upstream sends on a
	// freshly opened transaction socket — the transaction UUID.
	ReadUUID(ctx context.Context) (string, error)
	// ReadMessage reads the next WireMessage frame.
	ReadMessage(ctx context.Context) (WireMessage, error)
	// WriteMessage writes a WireMessage frame.
	WriteMessage(ctx context.Context, msg WireMessage) error
	// Close closes the underlying socket. Safe to call more than once.
	Close() error
}
