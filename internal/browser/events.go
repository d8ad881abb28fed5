package browser

import (
	"context"
	"fmt"
	"time"

	"overlaynerd-mcp-server/internal/overlay"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// notifyBinding is the window function target runtimes call to reach the controller.
const notifyBinding = "__overlayNotify"

// visibilityHookJS reports every document becoming visible, with or without the overlay
// runtime installed, so focus moves between tabs reach the controller.
const visibilityHookJS = `() => {
	const w = window;
	if (w.__overlayVisibilityHook) return true;
	w.__overlayVisibilityHook = true;
	document.addEventListener('visibilitychange', () => {
		const fn = w.` + notifyBinding + `;
		if (document.visibilityState !== 'visible' || typeof fn !== 'function') return;
		Promise.resolve(fn({ action: 'visible' })).catch(() => null);
	});
	return true;
}`

// watchTargets follows page creation and destruction at the browser level.
func (h *Host) watchTargets(ctx context.Context, b *rod.Browser) error {
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b); err != nil {
		return fmt.Errorf("discover targets: %w", err)
	}

	wait := b.Context(ctx).EachEvent(
		func(ev *proto.TargetTargetCreated) {
			if ev.TargetInfo == nil || ev.TargetInfo.Type != proto.TargetTargetInfoTypePage {
				return
			}
			id := ev.TargetInfo.TargetID
			go func() {
				page, err := b.PageFromTarget(id)
				if err != nil {
					h.log.Debug().Str("target", string(id)).Err(err).Msg("attach to new page failed")
					return
				}
				h.track(page, "attached")
			}()
		},
		func(ev *proto.TargetTargetInfoChanged) {
			if ev.TargetInfo == nil {
				return
			}
			h.updateMeta(overlay.TargetID(ev.TargetInfo.TargetID), func(t Target) Target {
				t.URL = ev.TargetInfo.URL
				t.Title = ev.TargetInfo.Title
				return t
			})
		},
		func(ev *proto.TargetTargetDestroyed) {
			h.forget(overlay.TargetID(ev.TargetID))
		},
	)
	go wait()
	return nil
}

// track registers page once, exposes the inbound binding on it and starts its lifecycle
// stream. Tracking an already known page returns its metadata unchanged.
func (h *Host) track(page *rod.Page, status string) Target {
	id := overlay.TargetID(page.TargetID)

	h.mu.RLock()
	if rec, ok := h.targets[id]; ok {
		meta := rec.meta
		h.mu.RUnlock()
		return meta
	}
	h.mu.RUnlock()

	meta := Target{ID: id, Status: status, CreatedAt: time.Now()}
	if info, err := page.Info(); err == nil {
		meta.URL = info.URL
		meta.Title = info.Title
	}

	h.mu.Lock()
	if rec, ok := h.targets[id]; ok {
		h.mu.Unlock()
		return rec.meta
	}
	parent := h.ctx
	if parent == nil {
		parent = context.Background()
	}
	pctx, cancel := context.WithCancel(parent)
	rec := &targetRecord{meta: meta, page: page, cancel: cancel}
	h.targets[id] = rec
	inbound := h.inbound
	h.mu.Unlock()

	if inbound != nil {
		stop, err := page.Expose(notifyBinding, func(req gson.JSON) (interface{}, error) {
			msg := overlay.InboundMessage{Action: req.Get("action").Str()}
			h.log.Debug().Str("target", string(id)).Str("action", msg.Action).Msg("inbound message")
			return inbound.HandleInbound(pctx, id, msg), nil
		})
		if err != nil {
			h.log.Warn().Str("target", string(id)).Err(err).Msg("expose inbound binding failed")
		} else {
			h.mu.Lock()
			rec.stopExpose = stop
			h.mu.Unlock()
			h.hookVisibility(id, page)
		}
	}

	h.streamLifecycle(pctx, id, page)
	h.log.Debug().Str("target", string(id)).Str("url", meta.URL).Msg("tracking target")
	return meta
}

// hookVisibility installs the visibility listener into the current document and every
// future one of page.
func (h *Host) hookVisibility(id overlay.TargetID, page *rod.Page) {
	if _, err := page.EvalOnNewDocument("(" + visibilityHookJS + ")()"); err != nil {
		h.log.Warn().Str("target", string(id)).Err(err).Msg("register visibility hook failed")
		return
	}
	if _, err := page.Eval(visibilityHookJS); err != nil {
		h.log.Debug().Str("target", string(id)).Err(err).Msg("visibility hook on current document failed")
	}
}

// streamLifecycle turns main-frame navigations into navigation events. A committed
// navigation reports "loading"; the load event reports "complete".
func (h *Host) streamLifecycle(ctx context.Context, id overlay.TargetID, page *rod.Page) {
	wait := page.Context(ctx).EachEvent(
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame == nil || ev.Frame.ParentID != "" {
				return
			}
			h.updateMeta(id, func(t Target) Target {
				t.URL = ev.Frame.URL
				return t
			})
			h.publish(overlay.Event{Kind: overlay.EventNavigated, Target: id, Status: "loading"})
		},
		func(ev *proto.PageLoadEventFired) {
			h.publish(overlay.Event{Kind: overlay.EventNavigated, Target: id, Status: overlay.NavigationComplete})
		},
	)
	go wait()
}

// forget drops a destroyed target and reports its closure.
func (h *Host) forget(id overlay.TargetID) {
	h.mu.Lock()
	rec, ok := h.targets[id]
	if ok {
		delete(h.targets, id)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	// The page is gone, so only the local streams need stopping.
	rec.cancel()
	h.publish(overlay.Event{Kind: overlay.EventClosed, Target: id})
	h.log.Debug().Str("target", string(id)).Msg("target destroyed")
}
