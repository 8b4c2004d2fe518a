package gateway

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"turnstile.app/internal/auth"
	"turnstile.app/internal/obs"
	"turnstile.app/internal/reconcile"
)

const maxHoursBack = 720

type reconcileRequest struct {
	HoursBack *float64 `json:"hours_back"`
}

type reconcileResponse struct {
	Success bool             `json:"success"`
	Stats   *reconcile.Stats `json:"stats,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// reconcileOrders is the scheduler entry point. It authenticates with the
// shared cron secret rather than a user session and answers with the flat
// {success, stats} shape schedulers expect.
func (g *Gateway) reconcileOrders(w http.ResponseWriter, r *http.Request) {
	const name = "reconcile-orders"
	code := g.serveReconcile(w, r)
	obs.FunctionResults.WithLabelValues(name, string(code)).Inc()
}

func (g *Gateway) serveReconcile(w http.ResponseWriter, r *http.Request) Code {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, reconcileResponse{Error: "method not allowed"})
		return CodeValidationError
	}
	token, err := auth.ExtractBearerToken(r.Header.Get("Authorization"))
	if err != nil || !g.cronAuthorized(token) {
		writeJSON(w, http.StatusUnauthorized, reconcileResponse{Error: "unauthorized"})
		return CodeUnauthorized
	}

	hoursBack := g.cfg.ReconcileHoursBack
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<10))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, reconcileResponse{Error: "request body too large"})
		return CodeValidationError
	}
	if len(bytes.TrimSpace(body)) > 0 {
		var req reconcileRequest
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, reconcileResponse{Error: "malformed JSON body"})
			return CodeValidationError
		}
		if req.HoursBack != nil {
			if *req.HoursBack < 0 || *req.HoursBack > maxHoursBack {
				writeJSON(w, http.StatusBadRequest, reconcileResponse{Error: "hours_back must be between 0 and 720"})
				return CodeValidationError
			}
			hoursBack = *req.HoursBack
		}
	}

	if g.reconciler == nil {
		obs.Error("reconcile_unavailable", map[string]any{"request_id": RequestIDFromContext(r.Context())})
		writeJSON(w, http.StatusInternalServerError, reconcileResponse{Error: "reconciliation is not configured"})
		return CodeInternalError
	}
	stats, err := g.reconciler.Run(r.Context(), hoursBack)
	if err != nil {
		obs.Error("reconcile_failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"error":      err,
		})
		status, msg := http.StatusInternalServerError, "reconciliation failed"
		if errors.Is(err, reconcile.ErrInvalidHoursBack) {
			status, msg = http.StatusBadRequest, err.Error()
		}
		writeJSON(w, status, reconcileResponse{Error: msg})
		if status == http.StatusBadRequest {
			return CodeValidationError
		}
		return CodeInternalError
	}
	obs.Info("reconcile_complete", map[string]any{
		"request_id":    RequestIDFromContext(r.Context()),
		"reconciled":    stats.Reconciled,
		"expired_holds": stats.ExpiredHolds,
		"failed":        stats.Failed,
		"examined":      stats.Examined,
		"skipped":       stats.Skipped,
	})
	writeJSON(w, http.StatusOK, reconcileResponse{Success: true, Stats: &stats})
	return "ok"
}

func (g *Gateway) cronAuthorized(token string) bool {
	if g.cfg.CronSecret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(g.cfg.CronSecret)) == 1
}
