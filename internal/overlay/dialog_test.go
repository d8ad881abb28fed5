package overlay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDialogs(r DialogRenderer) *Dialogs {
	return NewDialogs(r, DialogOptions{
		RootID:    "aum-automation-chat-root",
		ConfirmID: "custom-confirm-popup",
		InputID:   "update-popup-overlay",
		Logger:    testLog,
	})
}

func TestRequestConfirmation(t *testing.T) {
	tests := []struct {
		name   string
		result DialogResult
		want   bool
	}{
		{"ok button", DialogResult{Action: DialogActionButton, Value: "true"}, true},
		{"update button", DialogResult{Action: DialogActionButton, Value: "false"}, false},
		{"dismissed", DialogResult{Action: DialogActionDismiss}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRenderer{result: tt.result}
			got, err := newTestDialogs(r).RequestConfirmation(context.Background(), "T", "Apply changes?")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			require.Len(t, r.got, 1)
			d := r.got[0]
			assert.Equal(t, "custom-confirm-popup", d.ID)
			assert.Equal(t, DialogConfirm, d.Kind)
			assert.Equal(t, "Apply changes?", d.Body)
			assert.Equal(t, []DialogButton{{"Update", "false"}, {"OK", "true"}}, d.Buttons)
			assert.Equal(t, "aum-automation-chat-root", r.roots[0])
		})
	}
}

func TestRequestConfirmationRootMissing(t *testing.T) {
	r := &fakeRenderer{err: ErrRootNotFound}
	got, err := newTestDialogs(r).RequestConfirmation(context.Background(), "T", "Apply?")
	assert.ErrorIs(t, err, ErrRootNotFound)
	assert.False(t, got)
}

func TestRequestConfirmationBadValue(t *testing.T) {
	r := &fakeRenderer{result: DialogResult{Action: DialogActionButton, Value: "maybe"}}
	_, err := newTestDialogs(r).RequestConfirmation(context.Background(), "T", "Apply?")
	assert.Error(t, err)
}

func TestRequestTextInput(t *testing.T) {
	r := &fakeRenderer{result: DialogResult{Action: DialogActionSubmit, Value: "make the header blue"}}
	got, err := newTestDialogs(r).RequestTextInput(context.Background(), "T", "")
	require.NoError(t, err)
	assert.Equal(t, "make the header blue", got)

	d := r.got[0]
	assert.Equal(t, "update-popup-overlay", d.ID)
	assert.Equal(t, DialogInput, d.Kind)
	assert.Equal(t, defaultInputPrompt, d.Body, "blank prompt uses the default copy")
	require.NotNil(t, d.Input)
	assert.Equal(t, "Enter", d.Input.SubmitKey)
	assert.Equal(t, "Enter your command here...", d.Input.Placeholder)
	assert.True(t, d.Dismissible)
}

func TestRequestTextInputDismissed(t *testing.T) {
	r := &fakeRenderer{result: DialogResult{Action: DialogActionDismiss}}
	got, err := newTestDialogs(r).RequestTextInput(context.Background(), "T", "Edit?")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDialogDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		d       DialogDescriptor
		wantErr bool
	}{
		{"missing id", DialogDescriptor{Kind: DialogConfirm, Buttons: []DialogButton{{"OK", "true"}}}, true},
		{"confirm without buttons", DialogDescriptor{ID: "x", Kind: DialogConfirm}, true},
		{"input without field", DialogDescriptor{ID: "x", Kind: DialogInput}, true},
		{"input without resolution", DialogDescriptor{ID: "x", Kind: DialogInput, Input: &InputField{}}, true},
		{"unknown kind", DialogDescriptor{ID: "x", Kind: "toast"}, true},
		{"confirm ok", DialogDescriptor{ID: "x", Kind: DialogConfirm, Buttons: []DialogButton{{"OK", "true"}}}, false},
		{"input ok", DialogDescriptor{ID: "x", Kind: DialogInput, Input: &InputField{SubmitKey: "Enter"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestShowRejectsInvalidDescriptorBeforeRendering(t *testing.T) {
	r := &fakeRenderer{}
	_, err := newTestDialogs(r).Show(context.Background(), "T", DialogDescriptor{Kind: DialogConfirm})
	assert.Error(t, err)
	assert.Empty(t, r.got)
}

// replacingRenderer keeps one open dialog per id and resolves a replaced one as dismissed,
// the way the in-page renderer does.
type replacingRenderer struct {
	mu       sync.Mutex
	open     map[string]chan DialogResult
	rendered chan string
}

func newReplacingRenderer() *replacingRenderer {
	return &replacingRenderer{open: map[string]chan DialogResult{}, rendered: make(chan string, 8)}
}

func (r *replacingRenderer) RenderDialog(ctx context.Context, _ TargetID, _ string, d DialogDescriptor) (DialogResult, error) {
	done := make(chan DialogResult, 1)
	r.mu.Lock()
	if prev, ok := r.open[d.ID]; ok {
		prev <- DialogResult{Action: DialogActionDismiss}
	}
	r.open[d.ID] = done
	r.mu.Unlock()
	r.rendered <- d.ID

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return DialogResult{}, ctx.Err()
	}
}

func (r *replacingRenderer) answer(id string, res DialogResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[id] <- res
	delete(r.open, id)
}

func (r *replacingRenderer) waitRendered(t *testing.T, id string) {
	t.Helper()
	select {
	case got := <-r.rendered:
		require.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatalf("dialog %s never rendered", id)
	}
}

func TestReRenderDismissesPreviousDialog(t *testing.T) {
	r := newReplacingRenderer()
	dl := newTestDialogs(r)
	ctx := context.Background()

	type answer struct {
		ok  bool
		err error
	}
	first, second := make(chan answer, 1), make(chan answer, 1)
	text := make(chan string, 1)

	go func() {
		v, _ := dl.RequestTextInput(ctx, "T", "Edit?")
		text <- v
	}()
	r.waitRendered(t, "update-popup-overlay")

	go func() {
		ok, err := dl.RequestConfirmation(ctx, "T", "Apply?")
		first <- answer{ok, err}
	}()
	r.waitRendered(t, "custom-confirm-popup")

	go func() {
		ok, err := dl.RequestConfirmation(ctx, "T", "Apply now?")
		second <- answer{ok, err}
	}()
	r.waitRendered(t, "custom-confirm-popup")

	select {
	case a := <-first:
		assert.NoError(t, a.err)
		assert.False(t, a.ok, "replaced confirmation resolves as declined")
	case <-time.After(time.Second):
		t.Fatal("replaced confirmation never resolved")
	}

	r.answer("custom-confirm-popup", DialogResult{Action: DialogActionButton, Value: "true"})
	a := <-second
	require.NoError(t, a.err)
	assert.True(t, a.ok)

	select {
	case v := <-text:
		t.Fatalf("input dialog with a different id must stay open, resolved with %q", v)
	default:
	}
	r.answer("update-popup-overlay", DialogResult{Action: DialogActionSubmit, Value: "shorter"})
	assert.Equal(t, "shorter", <-text)
}
