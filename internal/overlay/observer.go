package overlay

import "time"

// Observer receives a callback for every outcome the core produces. Implementations must
// be safe for concurrent use and must not block.
type Observer interface {
	ToggleCompleted(target TargetID, result ToggleResult, elapsed time.Duration)
	Probed(target TargetID, outcome ProbeOutcome)
	Installed(target TargetID, err error)
	Reconciled(target TargetID, reason ReconcileReason)
	DialogCompleted(target TargetID, kind DialogKind, result DialogResult, err error)
}

// NopObserver discards everything.
type NopObserver struct{}

func (NopObserver) ToggleCompleted(TargetID, ToggleResult, time.Duration) {}
func (NopObserver) Probed(TargetID, ProbeOutcome) {}
func (NopObserver) Installed(TargetID, error) {}
func (NopObserver) Reconciled(TargetID, ReconcileReason) {}
func (NopObserver) DialogCompleted(TargetID, DialogKind, DialogResult, error) {}

// Observers fans callbacks out to several observers in order.
type Observers []Observer

func (obs Observers) ToggleCompleted(t TargetID, r ToggleResult, d time.Duration) {
	for _, o := range obs {
		o.ToggleCompleted(t, r, d)
	}
}

func (obs Observers) Probed(t TargetID, outcome ProbeOutcome) {
	for _, o := range obs {
		o.Probed(t, outcome)
	}
}

func (obs Observers) Installed(t TargetID, err error) {
	for _, o := range obs {
		o.Installed(t, err)
	}
}

func (obs Observers) Reconciled(t TargetID, reason ReconcileReason) {
	for _, o := range obs {
		o.Reconciled(t, reason)
	}
}

func (obs Observers) DialogCompleted(t TargetID, kind DialogKind, res DialogResult, err error) {
	for _, o := range obs {
		o.DialogCompleted(t, kind, res, err)
	}
}
