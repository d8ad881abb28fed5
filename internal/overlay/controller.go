package overlay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"overlaynerd-mcp-server/internal/config"

	"github.com/rs/zerolog"
)

// EventKind enumerates the lifecycle signals consumed from the host.
type EventKind string

const (
	EventActivated  EventKind = "activated"
	EventNavigated  EventKind = "navigated"
	EventClosed     EventKind = "closed"
	EventUserAction EventKind = "user_action"
)

// Event is one host signal. Status is only set for EventNavigated.
type Event struct {
	Kind   EventKind `json:"kind"`
	Target TargetID  `json:"target"`
	Status string    `json:"status,omitempty"`
}

// ErrEmptyAudio is returned by PlayAudio when there is nothing to play.
var ErrEmptyAudio = errors.New("audio content is empty")

// Deps are the capabilities a Controller is built from.
type Deps struct {
	Channel   Channel
	Installer Installer
	Renderer  DialogRenderer
	// Store defaults to a fresh MemoryStore.
	Store    Store
	Observer Observer
	Logger   zerolog.Logger
	// Sleep replaces the settle wait in tests.
	Sleep Sleeper
}

// State is a point-in-time view of the controller for inspection surfaces.
type State struct {
	Visible        map[TargetID]bool `json:"visible"`
	Focused        TargetID          `json:"focused,omitempty"`
	ToggleInFlight bool              `json:"toggle_in_flight"`
}

// Controller wires the verifier, toggler, reconciler and dialogs over one shared Store and
// dispatches host events to them.
type Controller struct {
	store      Store
	channel    Channel
	verifier   *Verifier
	toggler    *Toggler
	reconciler *Reconciler
	dialogs    *Dialogs
	log        zerolog.Logger

	wg sync.WaitGroup
}

func NewController(cfg config.OverlayConfig, deps Deps) *Controller {
	store := deps.Store
	if store == nil {
		store = NewMemoryStore()
	}
	obs := deps.Observer
	if obs == nil {
		obs = NopObserver{}
	}

	verifier := NewVerifier(deps.Channel, deps.Installer, VerifierOptions{
		DisallowedSchemes: cfg.Schemes(),
		ProbeTimeout:      cfg.ProbeTimeoutDuration(),
		SettleDelay:       cfg.SettleDelayDuration(),
		Sleep:             deps.Sleep,
		Observer:          obs,
		Logger:            deps.Logger,
	})

	return &Controller{
		store:      store,
		channel:    deps.Channel,
		verifier:   verifier,
		toggler:    NewToggler(store, verifier, deps.Channel, obs, deps.Logger),
		reconciler: NewReconciler(store, deps.Channel, obs, deps.Logger),
		dialogs: NewDialogs(deps.Renderer, DialogOptions{
			RootID:    cfg.RootID(),
			ConfirmID: cfg.ConfirmID(),
			InputID:   cfg.InputID(),
			Observer:  obs,
			Logger:    deps.Logger,
		}),
		log: deps.Logger.With().Str("component", "controller").Logger(),
	}
}

func (c *Controller) Verifier() *Verifier     { return c.verifier }
func (c *Controller) Reconciler() *Reconciler { return c.reconciler }
func (c *Controller) Dialogs() *Dialogs       { return c.dialogs }

// Toggle runs one user-initiated toggle synchronously.
func (c *Controller) Toggle(ctx context.Context, target TargetID) ToggleResult {
	return c.toggler.Toggle(ctx, target)
}

// Dispatch routes a host event. Navigation and closure are applied before Dispatch returns.
// Activation swaps focus before returning and sends the best-effort cleanup in the
// background. User actions start a toggle in the background, so a second action that
// arrives while it is suspended is dropped by the guard.
func (c *Controller) Dispatch(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventNavigated:
		c.reconciler.NavigationCompleted(ev.Target, ev.Status)
	case EventClosed:
		c.reconciler.TargetClosed(ev.Target)
	case EventActivated:
		prev, changed := c.reconciler.Focus(ev.Target)
		if !changed {
			return
		}
		c.background(func() {
			_ = c.reconciler.Deactivate(context.WithoutCancel(ctx), prev)
		})
	case EventUserAction:
		c.background(func() {
			c.toggler.Toggle(ctx, ev.Target)
		})
	default:
		c.log.Warn().Str("kind", string(ev.Kind)).Str("target", string(ev.Target)).Msg("unknown event")
	}
}

// Run dispatches events until ctx is done or events is closed, then waits for every
// background handler to finish.
func (c *Controller) Run(ctx context.Context, events <-chan Event) error {
	defer c.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.Dispatch(ctx, ev)
		}
	}
}

// Wait blocks until background handlers started by Dispatch have returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) background(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.log.Error().Interface("panic", r).Msg("event handler panicked")
			}
		}()
		fn()
	}()
}

// HandleInbound answers messages sent by a target runtime.
func (c *Controller) HandleInbound(ctx context.Context, from TargetID, msg InboundMessage) Response {
	switch msg.Action {
	case InboundPing:
		return Response{OK: true, Success: true}
	case InboundCleanup:
		c.background(func() {
			_ = c.reconciler.Dismiss(context.WithoutCancel(ctx), from)
		})
		return Response{Success: true}
	case InboundVisible:
		c.Dispatch(ctx, Event{Kind: EventActivated, Target: from})
		return Response{Success: true}
	default:
		c.log.Debug().Str("target", string(from)).Str("action", msg.Action).Msg("unknown inbound action")
		return Response{Error: fmt.Sprintf("unknown action %q", msg.Action)}
	}
}

// PlayAudio asks target to play base64-encoded audio, stopping any clip already playing.
func (c *Controller) PlayAudio(ctx context.Context, target TargetID, audioContent string) error {
	if audioContent == "" {
		return ErrEmptyAudio
	}
	if _, err := base64.StdEncoding.DecodeString(audioContent); err != nil {
		return fmt.Errorf("audio content is not base64: %w", err)
	}
	req := NewRequest(ActionPlayAudio)
	req.AudioContent = audioContent
	return ackOf(ctx, c.channel, target, req)
}

// RequestConfirmation forwards to the dialog side-channel.
func (c *Controller) RequestConfirmation(ctx context.Context, target TargetID, message string) (bool, error) {
	return c.dialogs.RequestConfirmation(ctx, target, message)
}

// RequestTextInput forwards to the dialog side-channel.
func (c *Controller) RequestTextInput(ctx context.Context, target TargetID, prompt string) (string, error) {
	return c.dialogs.RequestTextInput(ctx, target, prompt)
}

// Visible reports the tracked visibility of target.
func (c *Controller) Visible(target TargetID) bool {
	return c.store.Visible(target)
}

func (c *Controller) Snapshot() State {
	focused, _ := c.store.Focused()
	return State{
		Visible:        c.store.Snapshot(),
		Focused:        focused,
		ToggleInFlight: c.toggler.InFlight(),
	}
}
