// Package web exposes the face-trigger daemon's state over HTTP: a status
// page for people, the same snapshot as JSON for scripts, and optionally the
// Prometheus registry.
package web

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/face-trigger/internal/status"
)

// Server renders snapshots taken from a status.Tracker. Every request reads
// a fresh snapshot; nothing here blocks the control loop.
type Server struct {
	srv     *http.Server
	tracker *status.Tracker
}

// New builds the routes for addr. /metrics is optional: with a nil gatherer
// the path is not registered and answers 404.
func New(addr string, tracker *status.Tracker, gatherer prometheus.Gatherer) *Server {
	s := &Server{tracker: tracker}

	routes := map[string]http.Handler{
		"/":           http.HandlerFunc(s.page),
		"/index.html": http.HandlerFunc(s.page),
		"/index.json": http.HandlerFunc(s.statusJSON),
	}
	if gatherer != nil {
		routes["/metrics"] = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}

	mux := http.NewServeMux()
	for path, h := range routes {
		mux.Handle(path, h)
	}
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Handler exposes the routes without a listener so they can be mounted in
// httptest or driven directly by the pipeline tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe blocks until Shutdown; it then returns http.ErrServerClosed.
func (s *Server) ListenAndServe() error { return s.srv.ListenAndServe() }

// Serve is ListenAndServe on a listener the caller already holds.
func (s *Server) Serve(ln net.Listener) error { return s.srv.Serve(ln) }

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

// page serves the HTML view. "/" also catches unknown paths, which 404.
func (s *Server) page(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, s.tracker.Snapshot())
}

func (s *Server) statusJSON(w http.ResponseWriter, _ *http.Request) {
	body := status.FormatJSON(s.tracker.Snapshot())
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
