package gateway

import "net/http"

func (g *Gateway) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "turnstile-gateway",
		"version": g.cfg.Version,
	})
}

func (g *Gateway) readyz(w http.ResponseWriter, r *http.Request) {
	if g.ready != nil {
		if err := g.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
