package overlay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var testLog = zerolog.Nop()

type sentRequest struct {
	Target TargetID
	Req    Request
}

// fakeChannel answers like a target runtime for every target marked present.
type fakeChannel struct {
	mu      sync.Mutex
	present map[TargetID]bool
	fail    map[Action]error
	reply   map[Action]Response
	gate    map[Action]chan struct{}
	onSend  func(TargetID, Request)
	sent    []sentRequest
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		present: map[TargetID]bool{},
		fail:    map[Action]error{},
		reply:   map[Action]Response{},
		gate:    map[Action]chan struct{}{},
	}
}

func (f *fakeChannel) Send(ctx context.Context, t TargetID, req Request) (Response, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sentRequest{Target: t, Req: req})
	present := f.present[t]
	err := f.fail[req.Action]
	resp, hasReply := f.reply[req.Action]
	gate := f.gate[req.Action]
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(t, req)
	}
	if gate != nil {
		<-gate
	}
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}
	if err != nil {
		return Response{}, err
	}
	if !present {
		return Response{}, ErrNoListener
	}
	if hasReply {
		return resp, nil
	}
	if req.Action == ActionPing {
		return Response{OK: true}, nil
	}
	return Response{Success: true}, nil
}

func (f *fakeChannel) setPresent(t TargetID, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present[t] = v
}

func (f *fakeChannel) count(t TargetID, a Action) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.Target == t && s.Req.Action == a {
			n++
		}
	}
	return n
}

func (f *fakeChannel) sentTo(t TargetID) []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Request
	for _, s := range f.sent {
		if s.Target == t {
			out = append(out, s.Req)
		}
	}
	return out
}

// fakeInstaller makes the channel's target present when installation succeeds.
type fakeInstaller struct {
	mu         sync.Mutex
	ch         *fakeChannel
	locations  map[TargetID]string
	locErr     error
	installErr error
	panicOn    bool
	inert      bool
	installs   map[TargetID]int
}

func newFakeInstaller(ch *fakeChannel) *fakeInstaller {
	return &fakeInstaller{ch: ch, locations: map[TargetID]string{}, installs: map[TargetID]int{}}
}

func (f *fakeInstaller) Location(_ context.Context, t TargetID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locErr != nil {
		return "", f.locErr
	}
	loc, ok := f.locations[t]
	if !ok {
		return "https://example.com/", nil
	}
	return loc, nil
}

func (f *fakeInstaller) Install(ctx context.Context, t TargetID) error {
	f.mu.Lock()
	f.installs[t]++
	panicOn, err, inert := f.panicOn, f.installErr, f.inert
	f.mu.Unlock()
	if panicOn {
		panic("install exploded")
	}
	if err != nil {
		return err
	}
	if !inert {
		f.ch.setPresent(t, true)
	}
	return nil
}

func (f *fakeInstaller) installCount(t TargetID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installs[t]
}

// recordingSleep records settle waits instead of sleeping.
type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
}

type fakeRenderer struct {
	mu     sync.Mutex
	result DialogResult
	err    error
	got    []DialogDescriptor
	roots  []string
}

func (f *fakeRenderer) RenderDialog(_ context.Context, _ TargetID, rootID string, d DialogDescriptor) (DialogResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, d)
	f.roots = append(f.roots, rootID)
	return f.result, f.err
}

// recordingObserver keeps the last toggle result and every reconcile reason.
type recordingObserver struct {
	NopObserver
	mu         sync.Mutex
	toggles    []ToggleResult
	reconciled []ReconcileReason
}

func (r *recordingObserver) ToggleCompleted(_ TargetID, res ToggleResult, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toggles = append(r.toggles, res)
}

func (r *recordingObserver) Reconciled(_ TargetID, reason ReconcileReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconciled = append(r.reconciled, reason)
}

type harness struct {
	ch       *fakeChannel
	inst     *fakeInstaller
	sleeper  *recordingSleep
	store    *MemoryStore
	verifier *Verifier
	toggler  *Toggler
	recon    *Reconciler
	obs      *recordingObserver
}

func newHarness() *harness {
	ch := newFakeChannel()
	inst := newFakeInstaller(ch)
	sl := &recordingSleep{}
	store := NewMemoryStore()
	obs := &recordingObserver{}
	v := NewVerifier(ch, inst, VerifierOptions{
		DisallowedSchemes: []string{"chrome://", "chrome-extension://", "edge://"},
		ProbeTimeout:      time.Second,
		SettleDelay:       500 * time.Millisecond,
		Sleep:             sl.sleep,
		Observer:          obs,
		Logger:            testLog,
	})
	return &harness{
		ch:       ch,
		inst:     inst,
		sleeper:  sl,
		store:    store,
		verifier: v,
		toggler:  NewToggler(store, v, ch, obs, testLog),
		recon:    NewReconciler(store, ch, obs, testLog),
		obs:      obs,
	}
}
