package mcp

import (
	"context"
	"fmt"
)

// LaunchBrowserTool starts or attaches to Chrome.
type LaunchBrowserTool struct {
	host BrowserHost
}

func (t *LaunchBrowserTool) Name() string { return "launch-browser" }
func (t *LaunchBrowserTool) Description() string {
	return `Launch Chrome (or attach to the configured debugger URL) so overlays can be injected.

CALL THIS FIRST when auto_start is disabled.
Idempotent: safe to call if already running.

Returns: {status: "started"|"already_connected", control_url}`
}
func (t *LaunchBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *LaunchBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.host.IsConnected() {
		return map[string]interface{}{
			"status":      "already_connected",
			"control_url": t.host.ControlURL(),
		}, nil
	}

	if err := t.host.Start(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":      "started",
		"control_url": t.host.ControlURL(),
	}, nil
}

// ShutdownBrowserTool stops the managed Chrome instance and forgets all targets.
type ShutdownBrowserTool struct {
	host BrowserHost
}

func (t *ShutdownBrowserTool) Name() string { return "shutdown-browser" }
func (t *ShutdownBrowserTool) Description() string {
	return `Stop Chrome and forget every tracked target.

Every target is reported as closed, so tracked overlay visibility is cleared.
The fact ledger persists after shutdown.`
}
func (t *ShutdownBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ShutdownBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := t.host.Shutdown(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status": "stopped",
	}, nil
}

// ListTargetsTool lists tracked pages with their overlay visibility.
type ListTargetsTool struct {
	host BrowserHost
	ctrl OverlayController
}

type targetView struct {
	ID             string `json:"id"`
	URL            string `json:"url,omitempty"`
	Title          string `json:"title,omitempty"`
	Status         string `json:"status,omitempty"`
	OverlayVisible bool   `json:"overlay_visible"`
	Focused        bool   `json:"focused"`
}

func (t *ListTargetsTool) Name() string { return "list-targets" }
func (t *ListTargetsTool) Description() string {
	return `List every page target the host tracks.

Returns: {targets: [{id, url, title, status, overlay_visible, focused}]}
Use the id as target_id for all overlay tools.`
}
func (t *ListTargetsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ListTargetsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	state := t.ctrl.Snapshot()
	targets := t.host.Targets()
	out := make([]targetView, 0, len(targets))
	for _, tg := range targets {
		out = append(out, targetView{
			ID:             string(tg.ID),
			URL:            tg.URL,
			Title:          tg.Title,
			Status:         tg.Status,
			OverlayVisible: state.Visible[tg.ID],
			Focused:        state.Focused == tg.ID,
		})
	}
	return map[string]interface{}{"targets": out}, nil
}

// OpenTargetTool opens a new page.
type OpenTargetTool struct {
	host BrowserHost
}

func (t *OpenTargetTool) Name() string { return "open-target" }
func (t *OpenTargetTool) Description() string {
	return `Open a new page target and wait for it to load.

Returns: {target: {id, url, title, status}}`
}
func (t *OpenTargetTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL to open (default about:blank)",
			},
		},
	}
}
func (t *OpenTargetTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	url := getStringArg(args, "url")
	if url == "" {
		url = "about:blank"
	}
	target, err := t.host.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"target": target}, nil
}

// ActivateTargetTool brings a target to the front, which hides the overlay on the previously
// focused target.
type ActivateTargetTool struct {
	host BrowserHost
}

func (t *ActivateTargetTool) Name() string { return "activate-target" }
func (t *ActivateTargetTool) Description() string {
	return `Bring a target to the front and make it the focused target.

The overlay on the previously focused target is destroyed in the background.`
}
func (t *ActivateTargetTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target_id": targetIDSchema(),
		},
		"required": []string{"target_id"},
	}
}
func (t *ActivateTargetTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id, err := requireTarget(args)
	if err != nil {
		return nil, err
	}
	if err := t.host.Activate(ctx, id); err != nil {
		return nil, fmt.Errorf("activate %s: %w", id, err)
	}
	return map[string]interface{}{"target_id": id, "status": "activated"}, nil
}

// CloseTargetTool closes a page target.
type CloseTargetTool struct {
	host BrowserHost
}

func (t *CloseTargetTool) Name() string { return "close-target" }
func (t *CloseTargetTool) Description() string {
	return `Close a page target. Its tracked overlay state is discarded.`
}
func (t *CloseTargetTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target_id": targetIDSchema(),
		},
		"required": []string{"target_id"},
	}
}
func (t *CloseTargetTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id, err := requireTarget(args)
	if err != nil {
		return nil, err
	}
	if err := t.host.Close(ctx, id); err != nil {
		return nil, fmt.Errorf("close %s: %w", id, err)
	}
	return map[string]interface{}{"target_id": id, "status": "closed"}, nil
}
