package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	nhws "nhooyr.io/websocket"

	"github.com/odvcencio/modelgateway/pkg/logging"
)

// isWebSocketUpgrade reports whether r is asking to be upgraded to a
// WebSocket connection.
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// bridgeWebSocketToUpstream implements the generic WebSocket bridge
// spec.md §4.5 names as a distinct Gateway responsibility: on upgrade
// at any path not backstopped by a plug-in, dial the corresponding
// path on Upstream and pipe both directions frame-for-frame, binary-
// as-binary and text-as-text. This is separate from
// handleWebSocket's JSON-RPC-style front end onto an already-open
// TransactionContext at /ws/transaction/{modelURI}, which is a
// first-party gateway route and never falls through to here.
func (g *Gateway) bridgeWebSocketToUpstream(w http.ResponseWriter, r *http.Request) {
	target, err := g.upstream.WebSocketURL(r.URL.RequestURI())
	if err != nil {
		http.Error(w, "cannot derive upstream socket url", http.StatusBadGateway)
		return
	}

	client, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if g.logger != nil {
			g.logger.Warn(logging.CategoryGateway, "ws_bridge_upgrade_failed", err.Error(), nil)
		}
		return
	}
	defer client.Close()

	up, _, err := nhws.Dial(r.Context(), target, g.upstream.DialOpts)
	if err != nil {
		if g.logger != nil {
			g.logger.Warn(logging.CategoryGateway, "ws_bridge_dial_failed", err.Error(), nil)
		}
		_ = client.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "upstream unavailable"))
		return
	}
	defer up.Close(nhws.StatusNormalClosure, "bridge closed")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return pipeClientToUpstream(ctx, client, up) })
	group.Go(func() error { return pipeUpstreamToClient(ctx, up, client) })

	if err := group.Wait(); err != nil && g.logger != nil {
		g.logger.Debug(logging.CategoryGateway, "ws_bridge_closed", err.Error(), nil)
	}
}

// pipeClientToUpstream forwards every frame the client sends to
// Upstream, preserving binary vs. text framing.
func pipeClientToUpstream(ctx context.Context, client *websocket.Conn, up *nhws.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		mt, data, err := client.ReadMessage()
		if err != nil {
			return err
		}
		typ := nhws.MessageText
		if mt == websocket.BinaryMessage {
			typ = nhws.MessageBinary
		}
		if err := up.Write(ctx, typ, data); err != nil {
			return err
		}
	}
}

// pipeUpstreamToClient forwards every frame Upstream sends back to
// the client, preserving binary vs. text framing.
func pipeUpstreamToClient(ctx context.Context, up *nhws.Conn, client *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		typ, data, err := up.Read(ctx)
		if err != nil {
			return err
		}
		mt := websocket.TextMessage
		if typ == nhws.MessageBinary {
			mt = websocket.BinaryMessage
		}
		if err := client.WriteMessage(mt, data); err != nil {
			return err
		}
	}
}
