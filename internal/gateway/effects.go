package gateway

import (
	"context"
	"fmt"

	"turnstile.app/internal/notify"
	"turnstile.app/internal/obs"
)

// bestEffort runs a related-row cleanup or log insert after the primary
// mutation succeeded. Its failure is logged and counted, never returned.
// The caller's cancellation does not reach it.
func (g *Gateway) bestEffort(ctx context.Context, c call, effect string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.PushTimeout)
	defer cancel()
	if err := protect(ctx, fn); err != nil {
		g.effectFailed(c, effect, err)
	}
}

// dispatch sends a push notification in the background, bounded by the push
// timeout. A slow or failing push never delays or fails the response.
func (g *Gateway) dispatch(ctx context.Context, c call, build func(context.Context) (notify.Notification, error)) {
	detached := context.WithoutCancel(ctx)
	g.effects.Add(1)
	go func() {
		defer g.effects.Done()
		ctx, cancel := context.WithTimeout(detached, g.cfg.PushTimeout)
		defer cancel()
		err := protect(ctx, func(ctx context.Context) error {
			n, err := build(ctx)
			if err != nil {
				return err
			}
			if len(n.UserIDs) == 0 {
				return nil
			}
			return g.notifier.Notify(ctx, n)
		})
		if err != nil {
			g.effectFailed(c, "push", err)
		}
	}()
}

func (g *Gateway) effectFailed(c call, effect string, err error) {
	obs.SideEffectFailures.WithLabelValues(effect).Inc()
	obs.Warn("side_effect_failed", map[string]any{
		"function":   c.Function,
		"effect":     effect,
		"request_id": c.RequestID,
		"user_id":    c.userID(),
		"error":      err,
	})
}

func protect(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}

// others returns ids without exclude.
func others(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
