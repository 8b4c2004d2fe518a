package gateway

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"turnstile.app/internal/audit"
	"turnstile.app/internal/auth"
	"turnstile.app/internal/obs"
)

// request bodies validate their own shape before any table is touched.
type request interface {
	Validate() error
}

// call is the authenticated context of one function invocation.
type call struct {
	Function  string
	RequestID string
	Identity  auth.Identity
}

func (c call) userID() string { return c.Identity.UserID }

// function wraps an action with the shared pipeline: method check,
// authentication, identity resolution, per-user throttling, decoding and
// shape validation. The action performs authorization, state checks, the
// mutation and side effects, and returns the envelope data.
func function[T any, PT interface {
	*T
	request
}](g *Gateway, name string, action func(ctx context.Context, c call, req PT) (any, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := g.serveFunction(w, r, name, func(ctx context.Context, c call) (any, error) {
			req := PT(new(T))
			if err := decodeJSON(w, r, req); err != nil {
				return nil, invalid("%s", err.Error())
			}
			if err := req.Validate(); err != nil {
				var gerr *Error
				if errors.As(err, &gerr) {
					return nil, gerr
				}
				return nil, invalid("%s", err.Error())
			}
			return action(ctx, c, req)
		})
		obs.FunctionResults.WithLabelValues(name, string(code)).Inc()
	})
}

func (g *Gateway) serveFunction(w http.ResponseWriter, r *http.Request, name string, run func(context.Context, call) (any, error)) Code {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return CodeValidationError
	}

	token, err := auth.ExtractBearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return writeError(w, r, name, err)
	}
	identity, err := g.authn.Authenticate(r.Context(), token)
	if err != nil {
		return writeError(w, r, name, err)
	}

	if ok, wait := g.limiter.allow(identity.UserID); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		writeFailure(w, r, CodeRateLimited, "too many requests, slow down")
		return CodeRateLimited
	}

	rid := RequestIDFromContext(r.Context())
	ctx := auth.ContextWithIdentity(r.Context(), identity)
	ctx = audit.WithRequestID(ctx, rid)
	r = r.WithContext(ctx)

	data, err := run(ctx, call{Function: name, RequestID: rid, Identity: identity})
	if err != nil {
		return writeError(w, r, name, err)
	}
	writeOK(w, r, data)
	return "ok"
}
