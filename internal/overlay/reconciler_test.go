package overlay

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func show(t *testing.T, h *harness, target TargetID) {
	t.Helper()
	h.ch.setPresent(target, true)
	require.Equal(t, ToggleShown, h.toggler.Toggle(context.Background(), target))
}

func TestActivationChangedHidesPrevious(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.recon.ActivationChanged(ctx, "A"))
	show(t, h, "A")

	require.NoError(t, h.recon.ActivationChanged(ctx, "B"))
	assert.False(t, h.store.Visible("A"))
	assert.Equal(t, 1, h.ch.count("A", ActionCleanup))
	assert.Zero(t, h.ch.count("B", ActionInjectChat), "activation never auto-shows")

	focused, ok := h.store.Focused()
	require.True(t, ok)
	assert.Equal(t, TargetID("B"), focused)
	assert.Equal(t, []ReconcileReason{ReasonDeactivated}, h.obs.reconciled)
}

func TestActivationChangedSkipsHiddenAndSameTarget(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.recon.ActivationChanged(ctx, "A"))
	require.NoError(t, h.recon.ActivationChanged(ctx, "B"))
	assert.Zero(t, h.ch.count("A", ActionCleanup), "hidden target needs no cleanup")

	show(t, h, "B")
	require.NoError(t, h.recon.ActivationChanged(ctx, "B"))
	assert.True(t, h.store.Visible("B"))
	assert.Zero(t, h.ch.count("B", ActionCleanup))
}

func TestActivationChangedSwallowsCleanupFailure(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.recon.ActivationChanged(ctx, "A"))
	show(t, h, "A")
	h.ch.setPresent("A", false)

	err := h.recon.ActivationChanged(ctx, "B")
	assert.ErrorIs(t, err, ErrNoListener, "failure is reported, never raised")
	assert.False(t, h.store.Visible("A"))
}

func TestNavigationCompletedResets(t *testing.T) {
	h := newHarness()
	show(t, h, "T")

	assert.False(t, h.recon.NavigationCompleted("T", "loading"))
	assert.True(t, h.store.Visible("T"), "loading does not reset")

	assert.True(t, h.recon.NavigationCompleted("T", NavigationComplete))
	assert.False(t, h.store.Visible("T"))
	assert.Zero(t, h.ch.count("T", ActionCleanup), "no destroy is sent on reload")
}

func TestNavigationWinsDuringOtherToggle(t *testing.T) {
	h := newHarness()
	show(t, h, "A")
	h.ch.setPresent("B", true)

	gate := make(chan struct{})
	started := make(chan struct{})
	h.ch.gate[ActionInjectChat] = gate
	h.ch.onSend = func(target TargetID, req Request) {
		if target == "B" && req.Action == ActionInjectChat {
			close(started)
		}
	}

	done := make(chan ToggleResult)
	go func() { done <- h.toggler.Toggle(context.Background(), "B") }()
	<-started

	h.recon.NavigationCompleted("A", NavigationComplete)
	assert.False(t, h.store.Visible("A"), "reconcile does not wait for the guard")

	close(gate)
	assert.Equal(t, ToggleShown, <-done)
	assert.False(t, h.store.Visible("A"))
	assert.True(t, h.store.Visible("B"))
}

func TestTargetClosedRemovesEntry(t *testing.T) {
	h := newHarness()
	show(t, h, "T1")

	h.recon.TargetClosed("T1")
	assert.False(t, h.store.Known("T1"))
	assert.NotContains(t, h.store.Snapshot(), TargetID("T1"))

	// The next document load gets a fresh id and starts hidden.
	h.ch.setPresent("T2", true)
	assert.False(t, h.store.Visible("T2"))
	assert.Equal(t, ToggleShown, h.toggler.Toggle(context.Background(), "T2"))
	assert.Equal(t, 1, h.ch.count("T2", ActionInjectChat))
}

func TestDismissResetsEvenWhenCleanupFails(t *testing.T) {
	h := newHarness()
	show(t, h, "T")
	h.ch.fail[ActionCleanup] = errors.New("runtime gone")

	assert.Error(t, h.recon.Dismiss(context.Background(), "T"))
	assert.False(t, h.store.Visible("T"))
	assert.Contains(t, h.obs.reconciled, ReasonDismissed)
}

func TestMemoryStoreRevisions(t *testing.T) {
	s := NewMemoryStore()
	rev := s.Revision("T")
	require.True(t, s.Commit("T", true, rev))

	stale := s.Revision("T")
	s.Reset("T")
	assert.False(t, s.Commit("T", true, stale))
	assert.False(t, s.Visible("T"))

	s.Remove("T")
	assert.False(t, s.Known("T"))
	assert.False(t, s.Commit("T", true, stale), "closed target cannot be resurrected by a stale commit")

	reopened := s.Revision("T")
	assert.NotEqual(t, stale, reopened, "revisions are never reused")

	prev, had := s.SwapFocused("A")
	assert.False(t, had)
	assert.Empty(t, prev)
	prev, had = s.SwapFocused("B")
	assert.True(t, had)
	assert.Equal(t, TargetID("A"), prev)
}

func TestMemoryStoreForgetsClosedTargets(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 1000; i++ {
		id := TargetID(fmt.Sprintf("T%d", i))
		require.True(t, s.Commit(id, true, s.Revision(id)))
		s.Reset(id)
		s.Remove(id)
	}
	assert.Empty(t, s.visible)
	assert.Empty(t, s.revision)
}

func TestMemoryStoreRemoveDuringToggle(t *testing.T) {
	s := NewMemoryStore()
	rev := s.Revision("T")
	s.Remove("T")

	assert.False(t, s.Commit("T", true, rev))
	assert.False(t, s.Known("T"))
	assert.Empty(t, s.revision)
}
