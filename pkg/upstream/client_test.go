package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToWebSocketURLFlipsHTTPSchemes(t *testing.T) {
	ws, err := toWebSocketURL("http://upstream.local/transaction/1")
	require.NoError(t, err)
	assert.Equal(t, "ws://upstream.local/transaction/1", ws)

	wss, err := toWebSocketURL("https://upstream.local/transaction/1")
	require.NoError(t, err)
	assert.Equal(t, "wss://upstream.local/transaction/1", wss)
}

func TestToWebSocketURLPassesThroughExistingSocketSchemes(t *testing.T) {
	ws, err := toWebSocketURL("ws://upstream.local/transaction/1")
	require.NoError(t, err)
	assert.Equal(t, "ws://upstream.local/transaction/1", ws)
}

func TestToWebSocketURLRejectsUnknownScheme(t *testing.T) {
	_, err := toWebSocketURL("ftp://upstream.local/transaction/1")
	assert.Error(t, err)
}

func TestDoSendsHeadersAndForwardsMethodAndPath(t *testing.T) {
	var gotMethod, gotPath, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotHeader = r.Header.Get("X-Test")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	header := http.Header{"X-Test": []string{"yes"}}
	resp, err := c.Do(context.Background(), http.MethodPut, "/models/1", nil, header)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/models/1", gotPath)
	assert.Equal(t, "yes", gotHeader)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestOpenTransactionSocketFailsOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "boom")
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, _, err := c.OpenTransactionSocket(context.Background(), "model:/a/b")
	assert.Error(t, err)
}

func TestOpenTransactionSocketFailsOnEmptyTransactionURI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":{"uri":""}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, _, err := c.OpenTransactionSocket(context.Background(), "model:/a/b")
	assert.Error(t, err)
}

func TestOpenTransactionSocketSendsClientUUIDAndModelURIQuery(t *testing.T) {
	var gotQuery string
	var gotBody openTransactionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":{"uri":"ws://upstream.local/transaction/1"}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	// The socket dial itself will fail against this plain httptest
	// server; OpenTransactionSocket's handshake with Upstream is what
	// this test exercises.
	_, _, _ = c.OpenTransactionSocket(context.Background(), "model:/a/b")

	assert.Equal(t, "modeluri=model%3A%2Fa%2Fb", gotQuery)
	_, err := uuid.Parse(gotBody.Data)
	assert.NoError(t, err, "request body must carry a valid client UUID under data")
}

func TestOpenTransactionSocketFailsOnMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `not json`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, _, err := c.OpenTransactionSocket(context.Background(), "model:/a/b")
	assert.Error(t, err)
}
