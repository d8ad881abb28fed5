package overlay

import (
	"context"

	"github.com/rs/zerolog"
)

// ReconcileReason names the lifecycle signal that forced a state correction.
type ReconcileReason string

const (
	ReasonDeactivated ReconcileReason = "deactivated"
	ReasonNavigated   ReconcileReason = "navigated"
	ReasonClosed      ReconcileReason = "closed"
	ReasonDismissed   ReconcileReason = "dismissed"
)

// NavigationComplete is the only navigation status that resets visibility.
const NavigationComplete = "complete"

// Reconciler forces VisibilityState back into agreement with reality when the host reports
// that a target lost focus, reloaded or closed. It never touches the single-flight guard.
type Reconciler struct {
	store    Store
	channel  Channel
	observer Observer
	log      zerolog.Logger
}

func NewReconciler(store Store, ch Channel, obs Observer, log zerolog.Logger) *Reconciler {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Reconciler{
		store:    store,
		channel:  ch,
		observer: obs,
		log:      log.With().Str("component", "reconciler").Logger(),
	}
}

// Focus records next as FocusedTarget and returns the target focus moved away from.
// changed is false when there was no previous focus or it equals next.
func (r *Reconciler) Focus(next TargetID) (prev TargetID, changed bool) {
	prev, had := r.store.SwapFocused(next)
	return prev, had && prev != next
}

// Deactivate hides the overlay on prev if it was shown there. The destroy request is best
// effort: its error is returned for logging only and the state is reset either way.
func (r *Reconciler) Deactivate(ctx context.Context, prev TargetID) error {
	if !r.store.Visible(prev) {
		return nil
	}
	err := ackOf(ctx, r.channel, prev, NewRequest(ActionCleanup))
	if err != nil {
		r.log.Debug().Str("target", string(prev)).Err(err).Msg("best-effort cleanup failed")
	}
	r.store.Reset(prev)
	r.observer.Reconciled(prev, ReasonDeactivated)
	return err
}

// ActivationChanged moves focus to next and deactivates the previous target.
func (r *Reconciler) ActivationChanged(ctx context.Context, next TargetID) error {
	prev, changed := r.Focus(next)
	if !changed {
		return nil
	}
	return r.Deactivate(ctx, prev)
}

// NavigationCompleted resets target to hidden once its document finished loading. No
// destroy request is sent, the reload already discarded the runtime.
func (r *Reconciler) NavigationCompleted(target TargetID, status string) bool {
	if status != NavigationComplete {
		r.log.Debug().Str("target", string(target)).Str("status", status).Msg("navigation in progress")
		return false
	}
	r.store.Reset(target)
	r.observer.Reconciled(target, ReasonNavigated)
	r.log.Debug().Str("target", string(target)).Msg("navigation completed, overlay state reset")
	return true
}

// TargetClosed drops every trace of target from VisibilityState.
func (r *Reconciler) TargetClosed(target TargetID) {
	r.store.Remove(target)
	r.observer.Reconciled(target, ReasonClosed)
	r.log.Debug().Str("target", string(target)).Msg("target closed, overlay state removed")
}

// Dismiss handles the overlay's own close control: the runtime asked to be torn down.
func (r *Reconciler) Dismiss(ctx context.Context, target TargetID) error {
	err := ackOf(ctx, r.channel, target, NewRequest(ActionCleanup))
	if err != nil {
		r.log.Debug().Str("target", string(target)).Err(err).Msg("dismiss cleanup failed")
	}
	r.store.Reset(target)
	r.observer.Reconciled(target, ReasonDismissed)
	return err
}
