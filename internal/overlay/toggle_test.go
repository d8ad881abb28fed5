package overlay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToggleShowThenHide(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	// Unresponsive but injectable: install, reprobe, create-overlay.
	require.Equal(t, ToggleShown, h.toggler.Toggle(ctx, "T"))
	assert.True(t, h.store.Visible("T"))
	assert.Equal(t, 1, h.inst.installCount("T"))
	assert.Equal(t, 1, h.ch.count("T", ActionInjectChat))

	require.Equal(t, ToggleHidden, h.toggler.Toggle(ctx, "T"))
	assert.False(t, h.store.Visible("T"))
	assert.Equal(t, 1, h.ch.count("T", ActionCleanup))
	assert.Equal(t, 1, h.inst.installCount("T"), "second toggle finds the runtime present")
	assert.False(t, h.toggler.InFlight())
}

func TestToggleDisallowedTarget(t *testing.T) {
	h := newHarness()
	h.inst.locations["T"] = "chrome://settings"

	assert.Equal(t, ToggleUnavailable, h.toggler.Toggle(context.Background(), "T"))
	assert.False(t, h.store.Visible("T"))
	assert.False(t, h.store.Known("T"))
	assert.Zero(t, h.ch.count("T", ActionInjectChat))
	assert.False(t, h.toggler.InFlight())
}

func TestToggleNoOptimisticFlip(t *testing.T) {
	tests := []struct {
		name    string
		visible bool
		action  Action
		fail    error
		reply   *Response
	}{
		{name: "create send error", visible: false, action: ActionInjectChat, fail: errors.New("channel closed")},
		{name: "create rejected", visible: false, action: ActionInjectChat, reply: &Response{Success: false, Error: "root exists"}},
		{name: "destroy send error", visible: true, action: ActionCleanup, fail: ErrNoListener},
		{name: "destroy rejected", visible: true, action: ActionCleanup, reply: &Response{}},
		{name: "create answered like a ping", visible: false, action: ActionInjectChat, reply: &Response{OK: true}},
		{name: "destroy answered like a ping", visible: true, action: ActionCleanup, reply: &Response{OK: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.ch.setPresent("T", true)
			if tt.visible {
				require.True(t, h.store.Commit("T", true, h.store.Revision("T")))
			}
			if tt.fail != nil {
				h.ch.fail[tt.action] = tt.fail
			}
			if tt.reply != nil {
				h.ch.reply[tt.action] = *tt.reply
			}

			assert.Equal(t, ToggleFailed, h.toggler.Toggle(context.Background(), "T"))
			assert.Equal(t, tt.visible, h.store.Visible("T"))
			assert.False(t, h.toggler.InFlight())
		})
	}
}

func TestToggleReleasesGuardOnEveryPath(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		want  ToggleResult
	}{
		{
			name:  "verifier false",
			setup: func(h *harness) { h.inst.installErr = errors.New("rejected") },
			want:  ToggleUnavailable,
		},
		{
			name: "send fails",
			setup: func(h *harness) {
				h.ch.setPresent("T", true)
				h.ch.fail[ActionInjectChat] = errors.New("boom")
			},
			want: ToggleFailed,
		},
		{
			name: "channel panics mid toggle",
			setup: func(h *harness) {
				h.ch.setPresent("T", true)
				h.ch.onSend = func(_ TargetID, req Request) {
					if req.Action == ActionInjectChat {
						panic("transport bug")
					}
				}
			},
			want: ToggleFailed,
		},
		{
			name:  "success",
			setup: func(h *harness) { h.ch.setPresent("T", true) },
			want:  ToggleShown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			tt.setup(h)

			var got ToggleResult
			require.NotPanics(t, func() { got = h.toggler.Toggle(context.Background(), "T") })
			assert.Equal(t, tt.want, got)
			assert.False(t, h.toggler.InFlight(), "guard must be released")
			assert.Equal(t, []ToggleResult{tt.want}, h.obs.toggles)
		})
	}
}

func TestToggleDropsWhileInFlight(t *testing.T) {
	h := newHarness()
	h.ch.setPresent("A", true)
	h.ch.setPresent("B", true)

	gate := make(chan struct{})
	started := make(chan struct{})
	h.ch.gate[ActionInjectChat] = gate
	h.ch.onSend = func(target TargetID, req Request) {
		if target == "A" && req.Action == ActionInjectChat {
			close(started)
		}
	}

	done := make(chan ToggleResult)
	go func() { done <- h.toggler.Toggle(context.Background(), "A") }()
	<-started
	require.True(t, h.toggler.InFlight())

	assert.Equal(t, ToggleDropped, h.toggler.Toggle(context.Background(), "B"))
	assert.Empty(t, h.ch.sentTo("B"), "dropped toggle must not touch the channel")

	close(gate)
	assert.Equal(t, ToggleShown, <-done)

	assert.True(t, h.store.Visible("A"))
	assert.False(t, h.store.Visible("B"))
	assert.False(t, h.store.Known("B"))
	assert.False(t, h.toggler.InFlight())
	assert.Empty(t, h.ch.sentTo("B"), "nothing was queued for B")
}

func TestToggleLosesToNavigationMidFlight(t *testing.T) {
	h := newHarness()
	h.ch.setPresent("T", true)

	gate := make(chan struct{})
	started := make(chan struct{})
	h.ch.gate[ActionInjectChat] = gate
	h.ch.onSend = func(_ TargetID, req Request) {
		if req.Action == ActionInjectChat {
			close(started)
		}
	}

	done := make(chan ToggleResult)
	go func() { done <- h.toggler.Toggle(context.Background(), "T") }()
	<-started

	require.True(t, h.recon.NavigationCompleted("T", NavigationComplete))
	close(gate)

	assert.Equal(t, ToggleSuperseded, <-done)
	assert.False(t, h.store.Visible("T"), "reset from the reload must win over the stale ack")
}

func TestToggleIgnoresCallerCancellation(t *testing.T) {
	h := newHarness()
	h.ch.setPresent("T", true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, ToggleShown, h.toggler.Toggle(ctx, "T"))
	assert.True(t, h.store.Visible("T"))
}
