// Package upstream talks to the Upstream model-editing service: plain
// HTTP for CRUD-style model operations and a WebSocket per open
// transaction for the execute/close/roll-back dialogue.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	gwerrors "github.com/odvcencio/modelgateway/pkg/errors"
	"github.com/odvcencio/modelgateway/pkg/txcore"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

// Client is the gateway's handle onto Upstream. BaseURL is Upstream's
// HTTP origin (e.g. "http://localhost:8888"); transaction sockets are
// dialed against the same origin with the scheme flipped to ws(s).
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	DialOpts   *websocket.DialOptions
}

// NewClient returns a Client with sane defaults: a 30s HTTP client
// timeout and no extra dial options.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Do performs an HTTP request against Upstream at path (relative to
// BaseURL), forwarding body verbatim. OpenTransactionSocket uses it for
// the POST to /transaction; the gateway's pass-through forwarding goes
// through its own httputil.ReverseProxy, not through Do.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeGatewayForward, "building upstream request")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeUpstreamError, "forwarding request to upstream").WithRetryable(true)
	}
	return resp, nil
}

// openTransactionRequest is the envelope POSTed to /transaction: a
// fresh client UUID identifying this dialing session (spec.md §4.4).
type openTransactionRequest struct {
	Data string `json:"data"`
}

// openTransactionResponse is Upstream's reply to POST /transaction:
// the assigned transaction URI nested under "data" (spec.md §4.4, §6).
type openTransactionResponse struct {
	Data struct {
		URI string `json:"uri"`
	} `json:"data"`
}

// OpenTransactionSocket implements txcore.Dialer: it generates a fresh
// client UUID, asks Upstream to open a transaction against modelURI,
// then dials the WebSocket at the returned transaction URI.
func (c *Client) OpenTransactionSocket(ctx context.Context, modelURI txcore.ModelURI) (string, txcore.WireConn, error) {
	reqBody, err := json.Marshal(openTransactionRequest{Data: uuid.NewString()})
	if err != nil {
		return "", nil, gwerrors.Wrap(err, gwerrors.ErrCodeUpstreamError, "encoding open-transaction request")
	}

	q := url.Values{"modeluri": []string{string(modelURI)}}
	resp, err := c.Do(ctx, http.MethodPost, "/transaction?"+q.Encode(), bytes.NewReader(reqBody), nil)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return "", nil, gwerrors.New(gwerrors.ErrCodeUpstreamError, fmt.Sprintf("upstream refused to open transaction: %d %s", resp.StatusCode, string(b)))
	}

	var body openTransactionResponse
	if err := decodeJSON(resp.Body, &body); err != nil {
		return "", nil, gwerrors.Wrap(err, gwerrors.ErrCodeUpstreamError, "decoding open-transaction response")
	}
	if body.Data.URI == "" {
		return "", nil, gwerrors.New(gwerrors.ErrCodeUpstreamError, "upstream returned an empty transaction uri")
	}

	wsURL, err := toWebSocketURL(body.Data.URI)
	if err != nil {
		return "", nil, gwerrors.Wrap(err, gwerrors.ErrCodeUpstreamError, "deriving transaction socket url")
	}

	conn, _, err := websocket.Dial(ctx, wsURL, c.DialOpts)
	if err != nil {
		return "", nil, gwerrors.Wrap(err, gwerrors.ErrCodeUpstreamError, "dialing transaction socket").WithRetryable(true)
	}
	conn.SetReadLimit(16 << 20)

	return body.Data.URI, &wireConn{conn: conn}, nil
}

// WebSocketURL derives the ws(s) URL on Upstream's origin for
// pathAndQuery (e.g. r.URL.RequestURI()), for the generic client-to-
// Upstream WebSocket bridge (spec.md §4.5, testable property 7).
func (c *Client) WebSocketURL(pathAndQuery string) (string, error) {
	return toWebSocketURL(c.BaseURL + pathAndQuery)
}

// toWebSocketURL turns an http(s) transaction URI returned by Upstream
// into its ws(s) equivalent; ws(s) URIs pass through unchanged. Any
// other scheme is an error, and so is a relative URI: it is not joined
// against BaseURL.
func toWebSocketURL(transactionURI string) (string, error) {
	u, err := url.Parse(transactionURI)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a socket URL
	default:
		return "", fmt.Errorf("unsupported transaction uri scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// wireConn adapts *websocket.Conn (nhooyr.io/websocket) to txcore.WireConn.
type wireConn struct {
	conn *websocket.Conn
}

func (w *wireConn) ReadUUID(ctx context.Context) (string, error) {
	_, data, err := w.conn.Read(ctx)
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(string(data)), `"`), nil
}

func (w *wireConn) ReadMessage(ctx context.Context) (txcore.WireMessage, error) {
	var msg txcore.WireMessage
	if err := wsjson.Read(ctx, w.conn, &msg); err != nil {
		return txcore.WireMessage{}, err
	}
	return msg, nil
}

func (w *wireConn) WriteMessage(ctx context.Context, msg txcore.WireMessage) error {
	return wsjson.Write(ctx, w.conn, msg)
}

func (w *wireConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "transaction closed")
}
