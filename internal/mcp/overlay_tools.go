package mcp

import (
	"context"
	"errors"
)

// ToggleOverlayTool is the user-action signal: it shows the overlay when hidden and hides it
// when shown.
type ToggleOverlayTool struct {
	ctrl OverlayController
}

func (t *ToggleOverlayTool) Name() string { return "toggle-overlay" }
func (t *ToggleOverlayTool) Description() string {
	return `Toggle the overlay on a target.

The runtime is probed and installed on demand. Only one toggle runs at a time across all
targets; a toggle requested while another is in flight is dropped, not queued.

Returns: {target_id, result, visible}
result is one of shown | hidden | dropped | unavailable | failed | superseded.`
}
func (t *ToggleOverlayTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target_id": targetIDSchema(),
		},
		"required": []string{"target_id"},
	}
}
func (t *ToggleOverlayTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id, err := requireTarget(args)
	if err != nil {
		return nil, err
	}
	result := t.ctrl.Toggle(ctx, id)
	return map[string]interface{}{
		"target_id": id,
		"result":    result.String(),
		"visible":   t.ctrl.Visible(id),
	}, nil
}

// OverlayStateTool reports tracked visibility, focus and the single-flight guard.
type OverlayStateTool struct {
	ctrl OverlayController
}

func (t *OverlayStateTool) Name() string { return "overlay-state" }
func (t *OverlayStateTool) Description() string {
	return `Inspect the controller: per-target visibility, the focused target and whether a toggle is in flight.`
}
func (t *OverlayStateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *OverlayStateTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return t.ctrl.Snapshot(), nil
}

// RequestConfirmationTool shows the confirmation dialog and waits for the user.
type RequestConfirmationTool struct {
	ctrl OverlayController
}

func (t *RequestConfirmationTool) Name() string { return "request-confirmation" }
func (t *RequestConfirmationTool) Description() string {
	return `Ask the user to confirm inside the overlay. Blocks until a button is pressed.

PREREQUISITE: the overlay must be shown on the target.
Returns: {confirmed: bool}. Only OK confirms.`
}
func (t *RequestConfirmationTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target_id": targetIDSchema(),
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Question shown to the user",
			},
		},
		"required": []string{"target_id", "message"},
	}
}
func (t *RequestConfirmationTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id, err := requireTarget(args)
	if err != nil {
		return nil, err
	}
	message := getStringArg(args, "message")
	if message == "" {
		return nil, errors.New("message is required")
	}
	ok, err := t.ctrl.RequestConfirmation(ctx, id, message)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"confirmed": ok}, nil
}

// RequestTextInputTool shows the text-input dialog and waits for the user.
type RequestTextInputTool struct {
	ctrl OverlayController
}

func (t *RequestTextInputTool) Name() string { return "request-text-input" }
func (t *RequestTextInputTool) Description() string {
	return `Ask the user for free text inside the overlay. Blocks until submitted or dismissed.

PREREQUISITE: the overlay must be shown on the target.
Returns: {text, submitted}. Dismissal yields an empty text with submitted=false.`
}
func (t *RequestTextInputTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target_id": targetIDSchema(),
			"prompt": map[string]interface{}{
				"type":        "string",
				"description": "Optional prompt shown above the field",
			},
		},
		"required": []string{"target_id"},
	}
}
func (t *RequestTextInputTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id, err := requireTarget(args)
	if err != nil {
		return nil, err
	}
	text, err := t.ctrl.RequestTextInput(ctx, id, getStringArg(args, "prompt"))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"text": text, "submitted": text != ""}, nil
}

// PlayAudioTool plays base64 audio through the target runtime.
type PlayAudioTool struct {
	ctrl OverlayController
}

func (t *PlayAudioTool) Name() string { return "play-audio" }
func (t *PlayAudioTool) Description() string {
	return `Play base64-encoded audio in the target. Any audio already playing is stopped first.
Blocks until playback ends.`
}
func (t *PlayAudioTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target_id": targetIDSchema(),
			"audio_content": map[string]interface{}{
				"type":        "string",
				"description": "Base64-encoded audio (e.g. MP3)",
			},
		},
		"required": []string{"target_id", "audio_content"},
	}
}
func (t *PlayAudioTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	id, err := requireTarget(args)
	if err != nil {
		return nil, err
	}
	if err := t.ctrl.PlayAudio(ctx, id, getStringArg(args, "audio_content")); err != nil {
		return nil, err
	}
	return map[string]interface{}{"target_id": id, "status": "played"}, nil
}
