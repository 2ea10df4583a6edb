package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/modelgateway/pkg/logging"
	"github.com/odvcencio/modelgateway/pkg/txcore"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const wsPingInterval = 30 * time.Second

// clientMessage is what a client sends over the gateway-facing
// transaction socket: the same envelope shape Upstream uses
// internally (spec.md §4.3.1), reused so clients don't need a second
// protocol.
type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// handleWebSocket upgrades a client connection and bridges it to the
// model's TransactionContext: a read pump translates incoming
// execute/commit/rollback messages into coordinator calls, and a
// ping pump keeps the connection alive while edits are in flight.
// Both run under one errgroup so either side's failure tears the
// whole bridge down cleanly (grounded on the bidirectional-proxy
// pattern, adapted from goroutine+WaitGroup to errgroup.Group).
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	modelURI := txcore.ModelURI(chi.URLParam(r, "modelURI"))

	tc, ok := g.manager.Lookup(modelURI)
	if !ok {
		http.Error(w, "no open transaction for model", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if g.logger != nil {
			g.logger.Warn(logging.CategoryGateway, "ws_upgrade_failed", err.Error(), nil)
		}
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return g.wsReadPump(ctx, conn, tc) })
	group.Go(func() error { return g.wsPingPump(ctx, conn) })

	if err := group.Wait(); err != nil && g.logger != nil {
		g.logger.Debug(logging.CategoryGateway, "ws_bridge_closed", err.Error(), nil)
	}
}

func (g *Gateway) wsReadPump(ctx context.Context, conn *websocket.Conn, tc *txcore.TransactionContext) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = conn.WriteJSON(map[string]string{"error": "malformed message"})
			continue
		}

		result := g.dispatchClientMessage(ctx, tc, msg)
		if err := conn.WriteJSON(result); err != nil {
			return err
		}
	}
}

func (g *Gateway) dispatchClientMessage(ctx context.Context, tc *txcore.TransactionContext, msg clientMessage) any {
	switch msg.Type {
	case txcore.WireTypeExecute:
		var cmd txcore.Command
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			return map[string]string{"error": err.Error()}
		}
		result, err := tc.Execute(ctx, cmd)
		if err != nil {
			return map[string]string{"error": err.Error()}
		}
		return result
	case "applyPatch":
		var patch txcore.Patch
		if err := json.Unmarshal(msg.Data, &patch); err != nil {
			return map[string]string{"error": err.Error()}
		}
		result, err := tc.ApplyPatch(ctx, patch)
		if err != nil {
			return map[string]string{"error": err.Error()}
		}
		return result
	case txcore.WireTypeClose:
		result, err := tc.Commit(ctx)
		if err != nil {
			return map[string]string{"error": err.Error()}
		}
		return result
	case txcore.WireTypeRollBack:
		return tc.Rollback(ctx, "client requested rollback")
	default:
		return map[string]string{"error": "unknown message type"}
	}
}

func (g *Gateway) wsPingPump(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}
