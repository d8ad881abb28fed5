package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"overlaynerd-mcp-server/internal/overlay"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"
)

//go:embed js/runtime.js
var runtimeJS string

//go:embed js/dialog.js
var dialogJS string

// Marker keys the in-page scripts resolve with instead of throwing.
const (
	noListenerKey  = "__overlay_no_listener__"
	rootMissingKey = "__overlay_root_missing__"
)

const sendJS = `(req) => {
	const rt = window.__overlayRuntime;
	if (!rt || typeof rt.handle !== 'function') return { ` + noListenerKey + `: true };
	return Promise.resolve(rt.handle(req));
}`

// Send delivers req to the runtime installed in target and awaits its response.
func (h *Host) Send(ctx context.Context, target overlay.TargetID, req overlay.Request) (overlay.Response, error) {
	page, err := h.page(target)
	if err != nil {
		return overlay.Response{}, err
	}

	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           sendJS,
		JSArgs:       []interface{}{req},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return overlay.Response{}, classifyEvalError(target, err)
	}
	if res.Value.Get(noListenerKey).Bool() {
		return overlay.Response{}, overlay.ErrNoListener
	}

	var resp overlay.Response
	if err := decodeValue(res.Value, &resp); err != nil {
		return overlay.Response{}, fmt.Errorf("decode %s response: %w", req.Action, err)
	}
	return resp, nil
}

// Location returns the current URL of target.
func (h *Host) Location(ctx context.Context, target overlay.TargetID) (string, error) {
	page, err := h.page(target)
	if err != nil {
		return "", err
	}
	info, err := page.Context(ctx).Info()
	if err != nil {
		return "", classifyEvalError(target, err)
	}
	return info.URL, nil
}

// Install evaluates the target runtime in target's main world. Installing into a page
// that already hosts the runtime is a no-op.
func (h *Host) Install(ctx context.Context, target overlay.TargetID) error {
	loc, err := h.Location(ctx, target)
	if err != nil {
		return err
	}
	if overlay.IsDisallowed(loc, h.ov.Schemes()) {
		return fmt.Errorf("%w: %s", overlay.ErrDisallowedTarget, loc)
	}

	page, err := h.page(target)
	if err != nil {
		return err
	}
	if _, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      runtimeJS,
		JSArgs:  []interface{}{h.ov.RootID(), notifyBinding},
		ByValue: true,
	}); err != nil {
		return fmt.Errorf("install runtime: %w", classifyEvalError(target, err))
	}
	return nil
}

// RenderDialog renders d inside rootID and blocks until the user resolves it or ctx ends.
func (h *Host) RenderDialog(ctx context.Context, target overlay.TargetID, rootID string, d overlay.DialogDescriptor) (overlay.DialogResult, error) {
	page, err := h.page(target)
	if err != nil {
		return overlay.DialogResult{}, err
	}

	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           dialogJS,
		JSArgs:       []interface{}{rootID, d},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return overlay.DialogResult{}, classifyEvalError(target, err)
	}
	if res.Value.Get(rootMissingKey).Bool() {
		return overlay.DialogResult{}, fmt.Errorf("%w: #%s", overlay.ErrRootNotFound, rootID)
	}

	var out overlay.DialogResult
	if err := decodeValue(res.Value, &out); err != nil {
		return overlay.DialogResult{}, fmt.Errorf("decode dialog result: %w", err)
	}
	return out, nil
}

func decodeValue(v gson.JSON, out interface{}) error {
	if v.Nil() {
		return fmt.Errorf("empty value")
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// classifyEvalError maps CDP failures onto the overlay error taxonomy. A destroyed
// execution context means the document was replaced, so no runtime is listening.
func classifyEvalError(target overlay.TargetID, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Execution context was destroyed"),
		strings.Contains(msg, "Cannot find context with specified id"),
		strings.Contains(msg, "Cannot find default execution context"):
		return fmt.Errorf("%w: %s: %v", overlay.ErrNoListener, target, err)
	case strings.Contains(msg, "No target with given id"),
		strings.Contains(msg, "Session with given id not found"),
		strings.Contains(msg, "Target closed"):
		return fmt.Errorf("%w: %s: %v", overlay.ErrTargetGone, target, err)
	default:
		return fmt.Errorf("evaluate in %s: %w", target, err)
	}
}
