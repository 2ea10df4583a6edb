// Package gateway is the HTTP front door: it mounts plug-in
// sub-routers behind a backstop policy, forwards anything else
// straight through to Upstream (bridging WebSocket upgrades
// frame-for-frame), and serves a JSON-RPC-style front end onto open
// TransactionContexts at /ws/transaction/{modelURI}.
package gateway

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/odvcencio/modelgateway/pkg/logging"
	"github.com/odvcencio/modelgateway/pkg/metrics"
	"github.com/odvcencio/modelgateway/pkg/txcore"
	"github.com/odvcencio/modelgateway/pkg/upstream"
)

// APIPrefix is the root every plug-in route and Upstream's own REST
// surface live under (spec.md §4.5's "/api/v<version>"; this gateway
// speaks the "v2" exchange format named throughout spec.md §6).
const APIPrefix = "/api/v2"

// StandardRoutes are the paths, relative to APIPrefix, that Upstream
// is known to serve itself (spec.md §4.5's STANDARD_ROUTES).
var StandardRoutes = []string{
	"/models",
	"/modelelement",
	"/modeluris",
	"/server/ping",
	"/server/configure",
	"/subscribe",
	"/close",
	"/save",
	"/saveall",
	"/undo",
	"/redo",
	"/transaction",
	"/validation",
	"/validation/constraints",
	"/typeschema",
	"/uischema",
}

// isStandardRoute reports whether fullPath (as chi.Walk reports it,
// e.g. "/api/v2/models") names a STANDARD_ROUTE.
func isStandardRoute(fullPath string) bool {
	rel := strings.TrimPrefix(fullPath, APIPrefix)
	for _, s := range StandardRoutes {
		if rel == s {
			return true
		}
	}
	return false
}

// Plugin mounts its own sub-router under a path prefix, claiming every
// route beneath it. Whether a claimed route is actually served locally
// or still forwarded to Upstream is governed by BuildBackstop's
// default policy (spec.md §4.5), not by claiming alone.
type Plugin struct {
	// Prefix is where Router is mounted, conventionally under APIPrefix.
	Prefix string
	Router chi.Router
	// RouterID names this plug-in for diagnostics and the
	// RequestsBackstopped metric's "router" label. Defaults to Prefix
	// if left empty.
	RouterID string
	// ForwardToUpstream, when explicitly set to false, backstops this
	// router's STANDARD_ROUTES paths (serves them locally) instead of
	// the default of forwarding them to Upstream. Routes outside
	// STANDARD_ROUTES are always backstopped regardless of this flag.
	ForwardToUpstream *bool
}

// BuildBackstop walks each plugin's router and returns the backstop
// set: the full "METHOD /path" keys that must be served locally
// rather than forwarded to Upstream (spec.md §4.5's GLOSSARY
// definition of "Backstop" and its default policy, testable property
// 6). A route claimed by a plug-in but absent from this set is still
// forwarded to Upstream even though a plug-in is mounted over it.
func BuildBackstop(plugins []Plugin) map[string]bool {
	backstop := make(map[string]bool)
	for _, p := range plugins {
		forwardsByDefault := p.ForwardToUpstream == nil || *p.ForwardToUpstream
		prefix := strings.TrimSuffix(p.Prefix, "/")
		_ = chi.Walk(p.Router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			full := prefix + route
			if !isStandardRoute(full) || !forwardsByDefault {
				backstop[method+" "+full] = true
			}
			return nil
		})
	}
	return backstop
}

// Gateway is the top-level HTTP handler.
type Gateway struct {
	router        chi.Router
	upstream      *upstream.Client
	manager       *txcore.TransactionManager
	withMetrics   bool
	logger        *logging.Logger
	upstreamProxy http.Handler
	claimedRoutes []string
	backstop      map[string]bool
}

// New builds a Gateway that forwards anything not claimed by plugins
// to upstreamClient's origin, and mounts each plugin's sub-router at
// its prefix behind a backstop-policy middleware. chi.Walk over the
// final tree computes the claimed-route list, used by Routes for
// diagnostics and by tests asserting a plug-in actually claimed the
// path it registered.
func New(
	upstreamClient *upstream.Client,
	manager *txcore.TransactionManager,
	withMetrics bool,
	logger *logging.Logger,
	plugins []Plugin,
) (*Gateway, error) {
	g := &Gateway{
		upstream:    upstreamClient,
		manager:     manager,
		withMetrics: withMetrics,
		logger:      logger,
		backstop:    BuildBackstop(plugins),
	}

	target, err := url.Parse(upstreamClient.BaseURL)
	if err != nil {
		return nil, err
	}
	g.upstreamProxy = httputil.NewReverseProxy(target)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(g.logRequests)

	r.Get("/healthz", g.handleHealthz)
	if withMetrics {
		r.Get("/metrics", metrics.Handler().ServeHTTP)
	}

	r.Route("/transactions", func(tr chi.Router) {
		tr.Post("/", g.handleOpenTransaction)
		tr.Post("/{modelURI}/commit", g.handleCommit)
		tr.Post("/{modelURI}/rollback", g.handleRollback)
	})

	r.Route("/ws", func(wr chi.Router) {
		wr.Get("/transaction/{modelURI}", g.handleWebSocket)
	})

	for _, p := range plugins {
		routerID := p.RouterID
		if routerID == "" {
			routerID = p.Prefix
		}
		wrapped := chi.NewRouter()
		wrapped.Use(g.enforceBackstopPolicy(routerID))
		wrapped.Mount("/", p.Router)
		r.Mount(p.Prefix, wrapped)
	}

	_ = chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		g.claimedRoutes = append(g.claimedRoutes, method+" "+route)
		return nil
	})

	r.NotFound(g.forwardToUpstream)
	r.MethodNotAllowed(g.forwardToUpstream)

	g.router = r
	return g, nil
}

// enforceBackstopPolicy decides, per request, whether a plug-in's own
// handler runs or the request is forwarded to Upstream instead — the
// dispatch rule of spec.md §4.5: a path a plug-in claims is only
// actually served locally if it is in the backstop set.
func (g *Gateway) enforceBackstopPolicy(routerID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.backstop[r.Method+" "+r.URL.Path] {
				metrics.RequestsBackstopped.WithLabelValues(routerID).Inc()
				next.ServeHTTP(w, r)
				return
			}
			g.forwardToUpstream(w, r)
		})
	}
}

// Routes lists every method+path this gateway claims itself, for
// diagnostics and tests. Anything not in this list falls through to
// Upstream unless it is in the backstop set.
func (g *Gateway) Routes() []string {
	out := make([]string, len(g.claimedRoutes))
	copy(out, g.claimedRoutes)
	return out
}

// BackstopRoutes lists every "METHOD /path" this gateway serves
// locally instead of forwarding to Upstream, sorted for diagnostics.
func (g *Gateway) BackstopRoutes() []string {
	out := make([]string, 0, len(g.backstop))
	for k := range g.backstop {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// forwardToUpstream passes a request straight through to Upstream,
// unmodified, when no plug-in backstops it. A WebSocket upgrade is
// bridged frame-by-frame instead of reverse-proxied (spec.md §4.5,
// testable property 7); everything else goes through the HTTP
// reverse proxy.
func (g *Gateway) forwardToUpstream(w http.ResponseWriter, r *http.Request) {
	metrics.RequestsForwarded.WithLabelValues(r.Method).Inc()
	if isWebSocketUpgrade(r) {
		g.bridgeWebSocketToUpstream(w, r)
		return
	}
	g.upstreamProxy.ServeHTTP(w, r)
}

func (g *Gateway) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.logger != nil {
			g.logger.Debug(logging.CategoryGateway, "request_received", r.Method+" "+r.URL.Path, nil)
		}
		next.ServeHTTP(w, r)
	})
}
