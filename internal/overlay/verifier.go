package overlay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ProbeOutcome is the tri-state result of a liveness check.
type ProbeOutcome int

const (
	// Responsive means the target runtime answered the probe.
	Responsive ProbeOutcome = iota
	// NeedsInjection means no runtime answered but the target may host one.
	NeedsInjection
	// Unreachable means the target is gone or its location is disallowed.
	Unreachable
)

func (o ProbeOutcome) String() string {
	switch o {
	case Responsive:
		return "responsive"
	case NeedsInjection:
		return "needs_injection"
	case Unreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("probe_outcome(%d)", int(o))
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration)

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Verifier establishes that the target runtime is present and listening.
type Verifier struct {
	channel   Channel
	installer Installer
	schemes   []string
	probeWait time.Duration
	settle    time.Duration
	sleep     Sleeper
	observer  Observer
	log       zerolog.Logger
}

// VerifierOptions tunes a Verifier. Zero values fall back to defaults.
type VerifierOptions struct {
	DisallowedSchemes []string
	ProbeTimeout      time.Duration
	SettleDelay       time.Duration
	Sleep             Sleeper
	Observer          Observer
	Logger            zerolog.Logger
}

func NewVerifier(ch Channel, inst Installer, opts VerifierOptions) *Verifier {
	v := &Verifier{
		channel:   ch,
		installer: inst,
		schemes:   opts.DisallowedSchemes,
		probeWait: opts.ProbeTimeout,
		settle:    opts.SettleDelay,
		sleep:     opts.Sleep,
		observer:  opts.Observer,
		log:       opts.Logger.With().Str("component", "verifier").Logger(),
	}
	if v.sleep == nil {
		v.sleep = sleepCtx
	}
	if v.observer == nil {
		v.observer = NopObserver{}
	}
	return v
}

// Probe sends one liveness ping. On failure it classifies the target's location so the
// caller can tell a runtime that is merely absent from a target that must not be touched.
func (v *Verifier) Probe(ctx context.Context, target TargetID) ProbeOutcome {
	outcome := v.probe(ctx, target)
	v.observer.Probed(target, outcome)
	return outcome
}

func (v *Verifier) probe(ctx context.Context, target TargetID) ProbeOutcome {
	if v.ping(ctx, target) == nil {
		return Responsive
	}
	loc, err := v.installer.Location(ctx, target)
	if err != nil {
		v.log.Debug().Str("target", string(target)).Err(err).Msg("location lookup failed")
		return Unreachable
	}
	if IsDisallowed(loc, v.schemes) {
		v.log.Debug().Str("target", string(target)).Str("location", loc).Msg("disallowed location")
		return Unreachable
	}
	return NeedsInjection
}

func (v *Verifier) ping(ctx context.Context, target TargetID) error {
	pctx := ctx
	if v.probeWait > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, v.probeWait)
		defer cancel()
	}
	return ackOf(pctx, v.channel, target, NewRequest(ActionPing))
}

// EnsurePresent reports whether the target runtime is ready to receive show/hide requests.
// An absent runtime is installed, given the settle delay to register its listener and then
// re-probed exactly once. EnsurePresent never panics and never returns an error.
func (v *Verifier) EnsurePresent(ctx context.Context, target TargetID) (ready bool) {
	defer func() {
		if r := recover(); r != nil {
			v.log.Error().Str("target", string(target)).Interface("panic", r).Msg("ensure present panicked")
			ready = false
		}
	}()

	switch v.Probe(ctx, target) {
	case Responsive:
		return true
	case Unreachable:
		return false
	}

	err := v.installer.Install(ctx, target)
	v.observer.Installed(target, err)
	if err != nil {
		level := v.log.Warn()
		if errors.Is(err, ErrDisallowedTarget) || errors.Is(err, ErrTargetGone) {
			level = v.log.Debug()
		}
		level.Str("target", string(target)).Err(err).Msg("install runtime failed")
		return false
	}

	v.sleep(ctx, v.settle)

	if err := v.ping(ctx, target); err != nil {
		v.observer.Probed(target, NeedsInjection)
		v.log.Warn().Str("target", string(target)).Err(err).Msg("runtime did not answer after install")
		return false
	}
	v.observer.Probed(target, Responsive)
	v.log.Debug().Str("target", string(target)).Msg("runtime installed")
	return true
}
