package overlay

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ToggleResult describes how a toggle invocation ended.
type ToggleResult int

const (
	// ToggleShown means create-overlay was acknowledged and the target is now visible.
	ToggleShown ToggleResult = iota
	// ToggleHidden means destroy-overlay was acknowledged and the target is now hidden.
	ToggleHidden
	// ToggleDropped means another toggle held the guard; nothing was done.
	ToggleDropped
	// ToggleUnavailable means the runtime could not be established on the target.
	ToggleUnavailable
	// ToggleFailed means the show/hide request failed; state is unchanged.
	ToggleFailed
	// ToggleSuperseded means the request was acknowledged but a lifecycle reset for the
	// target landed first, so the reset stands.
	ToggleSuperseded
)

func (r ToggleResult) String() string {
	switch r {
	case ToggleShown:
		return "shown"
	case ToggleHidden:
		return "hidden"
	case ToggleDropped:
		return "dropped"
	case ToggleUnavailable:
		return "unavailable"
	case ToggleFailed:
		return "failed"
	case ToggleSuperseded:
		return "superseded"
	default:
		return fmt.Sprintf("toggle_result(%d)", int(r))
	}
}

// Presence is the part of the Verifier a Toggler depends on.
type Presence interface {
	EnsurePresent(ctx context.Context, target TargetID) bool
}

// Toggler flips per-target visibility under a process-wide single-flight guard.
// A toggle that arrives while any other toggle is running is dropped, not queued.
type Toggler struct {
	store    Store
	presence Presence
	channel  Channel
	observer Observer
	log      zerolog.Logger

	inFlight atomic.Bool
}

func NewToggler(store Store, presence Presence, ch Channel, obs Observer, log zerolog.Logger) *Toggler {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Toggler{
		store:    store,
		presence: presence,
		channel:  ch,
		observer: obs,
		log:      log.With().Str("component", "toggle").Logger(),
	}
}

// InFlight reports whether the single-flight guard is currently held.
func (tg *Toggler) InFlight() bool {
	return tg.inFlight.Load()
}

// Toggle handles one user-initiated show/hide request for target. Once it acquires the
// guard it runs to completion even if ctx is cancelled; only the Channel's own failure
// signalling ends a round-trip early.
func (tg *Toggler) Toggle(ctx context.Context, target TargetID) (result ToggleResult) {
	if !tg.inFlight.CompareAndSwap(false, true) {
		tg.log.Debug().Str("target", string(target)).Msg("toggle dropped, another toggle in flight")
		tg.observer.ToggleCompleted(target, ToggleDropped, 0)
		return ToggleDropped
	}

	started := time.Now()
	result = ToggleFailed
	defer func() {
		if r := recover(); r != nil {
			tg.log.Error().Str("target", string(target)).Interface("panic", r).Msg("toggle panicked")
			result = ToggleFailed
		}
		tg.inFlight.Store(false)
		tg.observer.ToggleCompleted(target, result, time.Since(started))
	}()

	return tg.run(context.WithoutCancel(ctx), target)
}

func (tg *Toggler) run(ctx context.Context, target TargetID) ToggleResult {
	if !tg.presence.EnsurePresent(ctx, target) {
		tg.log.Info().Str("target", string(target)).Msg("overlay unavailable on target")
		return ToggleUnavailable
	}

	rev := tg.store.Revision(target)
	wasVisible := tg.store.Visible(target)

	action, next, ok := ActionInjectChat, true, ToggleShown
	if wasVisible {
		action, next, ok = ActionCleanup, false, ToggleHidden
	}

	if err := ackOf(ctx, tg.channel, target, NewRequest(action)); err != nil {
		tg.log.Error().Str("target", string(target)).Str("action", string(action)).Err(err).Msg("show/hide request failed")
		return ToggleFailed
	}

	if !tg.store.Commit(target, next, rev) {
		tg.log.Info().Str("target", string(target)).Str("action", string(action)).Msg("target reset during toggle, keeping reset state")
		return ToggleSuperseded
	}

	tg.log.Info().Str("target", string(target)).Bool("visible", next).Msg("overlay toggled")
	return ok
}
