// Package overlay coordinates the lifecycle of an on-page overlay that the controller
// injects into, and removes from, short-lived per-document targets over an unreliable
// request/response channel.
//
// The controller cannot observe the target directly. It infers liveness with a probe,
// installs the target runtime when the probe fails, tracks a derived visibility flag per
// target, and forces that flag back to hidden whenever a target is known to have reloaded,
// navigated, lost focus or closed.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TargetID identifies one addressable execution context. It is opaque to this package.
type TargetID string

// Action names a request understood by the target runtime.
type Action string

const (
	ActionPing       Action = "ping"
	ActionInjectChat Action = "injectChat"
	ActionCleanup    Action = "cleanup"
	ActionPlayAudio  Action = "play_audio"
)

// Request is a single message sent to a target runtime.
type Request struct {
	ID           string `json:"id"`
	Action       Action `json:"action"`
	AudioContent string `json:"audioContent,omitempty"`
}

// NewRequest returns a request with a fresh correlation id.
func NewRequest(action Action) Request {
	return Request{ID: uuid.NewString(), Action: action}
}

// Response is the payload a target runtime resolves a request with.
// Liveness probes answer with OK; every other action answers with Success.
type Response struct {
	OK      bool   `json:"ok,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// AckFor reports whether the response acknowledges a request for action. Only a
// liveness probe may be acknowledged by OK.
func (r Response) AckFor(action Action) error {
	if r.Success || (action == ActionPing && r.OK) {
		return nil
	}
	return &AckError{Message: r.Error}
}

// AckError is returned when a target resolved a request without acknowledging it.
type AckError struct {
	Message string
}

func (e *AckError) Error() string {
	if e.Message == "" {
		return "target did not acknowledge request"
	}
	return "target rejected request: " + e.Message
}

var (
	// ErrNoListener means the send reached the target but no runtime was listening.
	ErrNoListener = errors.New("no listener registered at target")
	// ErrTargetGone means the target is unknown to the host or has been closed.
	ErrTargetGone = errors.New("target is gone")
	// ErrDisallowedTarget means the target's location must never host the runtime.
	ErrDisallowedTarget = errors.New("target location does not allow injection")
	// ErrRootNotFound means the overlay root element is absent from the target document.
	ErrRootNotFound = errors.New("overlay root element not found")
)

// Channel is the asynchronous request/response transport to target runtimes.
// Send fails with ErrNoListener when nothing is registered at the target.
type Channel interface {
	Send(ctx context.Context, target TargetID, req Request) (Response, error)
}

// Installer places the target runtime into a target.
type Installer interface {
	// Location returns the target's current URL.
	Location(ctx context.Context, target TargetID) (string, error)
	// Install evaluates the runtime in the target. It fails for disallowed targets.
	Install(ctx context.Context, target TargetID) error
}

// InboundMessage is a message a target runtime sends to the controller.
type InboundMessage struct {
	Action string `json:"action"`
}

const (
	InboundPing    = "ping"
	InboundCleanup = "cleanup"
	InboundVisible = "visible"
)

// InboundHandler receives messages initiated by target runtimes.
type InboundHandler interface {
	HandleInbound(ctx context.Context, from TargetID, msg InboundMessage) Response
}

// IsDisallowed reports whether location starts with any of the given scheme prefixes.
func IsDisallowed(location string, schemes []string) bool {
	loc := strings.ToLower(strings.TrimSpace(location))
	for _, prefix := range schemes {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(loc, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

// ackOf sends req and folds a non-acknowledging response into the returned error.
func ackOf(ctx context.Context, ch Channel, target TargetID, req Request) error {
	resp, err := ch.Send(ctx, target, req)
	if err != nil {
		return fmt.Errorf("send %s: %w", req.Action, err)
	}
	if err := resp.AckFor(req.Action); err != nil {
		return fmt.Errorf("send %s: %w", req.Action, err)
	}
	return nil
}
