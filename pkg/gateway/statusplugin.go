package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/modelgateway/pkg/txcore"
)

// NewStatusPlugin returns a first-party Plugin exposing gateway-only
// diagnostics at APIPrefix+"/gateway/status" — a path outside
// STANDARD_ROUTES, so it is always backstopped (served locally)
// regardless of ForwardToUpstream (spec.md §4.5). It doubles as the
// gateway's own example of the Plugin contract: RouterID for metrics,
// a chi.Router claiming its routes, mounted like any other plug-in.
func NewStatusPlugin(manager *txcore.TransactionManager) Plugin {
	r := chi.NewRouter()
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"openTransactions": manager.OpenCount()})
	})
	return Plugin{
		Prefix:   APIPrefix + "/gateway",
		Router:   r,
		RouterID: "gateway-status",
	}
}
