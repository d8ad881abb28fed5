package overlay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// DialogKind selects which terminal interactions a dialog offers.
type DialogKind string

const (
	DialogConfirm DialogKind = "confirm"
	DialogInput   DialogKind = "input"
)

// DialogButton is one terminal button. Clicking it resolves the dialog with Value.
type DialogButton struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// InputField configures the text field of an input dialog.
type InputField struct {
	Placeholder string `json:"placeholder,omitempty"`
	// SubmitKey resolves the dialog with the field value when pressed and the value is non-empty.
	SubmitKey string `json:"submitKey"`
	// Voice adds a dictation control when the target supports speech recognition.
	Voice     bool `json:"voice,omitempty"`
	Autofocus bool `json:"autofocus,omitempty"`
}

// DialogDescriptor declares a dialog. The target-side renderer owns all markup; re-rendering
// a descriptor whose ID is already open replaces that dialog.
type DialogDescriptor struct {
	ID          string         `json:"id"`
	Kind        DialogKind     `json:"kind"`
	Title       string         `json:"title,omitempty"`
	Body        string         `json:"body,omitempty"`
	Buttons     []DialogButton `json:"buttons,omitempty"`
	Input       *InputField    `json:"input,omitempty"`
	Dismissible bool           `json:"dismissible,omitempty"`
}

// Validate rejects descriptors that could never reach a terminal action.
func (d DialogDescriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("dialog id is required")
	}
	switch d.Kind {
	case DialogConfirm:
		if len(d.Buttons) == 0 {
			return errors.New("confirm dialog needs at least one button")
		}
	case DialogInput:
		if d.Input == nil {
			return errors.New("input dialog needs an input field")
		}
		if d.Input.SubmitKey == "" && len(d.Buttons) == 0 && !d.Dismissible {
			return errors.New("input dialog has no way to resolve")
		}
	default:
		return fmt.Errorf("unknown dialog kind %q", d.Kind)
	}
	return nil
}

// Terminal actions reported by the renderer.
const (
	DialogActionButton  = "button"
	DialogActionSubmit  = "submit"
	DialogActionDismiss = "dismiss"
)

// DialogResult is the terminal user action a dialog resolved with.
type DialogResult struct {
	Action string `json:"action"`
	Value  string `json:"value"`
}

// DialogRenderer renders a descriptor inside target's overlay root and blocks until the
// user takes a terminal action. It fails with ErrRootNotFound before mutating the document
// when the root element is absent.
type DialogRenderer interface {
	RenderDialog(ctx context.Context, target TargetID, rootID string, d DialogDescriptor) (DialogResult, error)
}

// DialogOptions names the DOM ids and copy used by the built-in dialogs.
type DialogOptions struct {
	RootID    string
	ConfirmID string
	InputID   string
	Observer  Observer
	Logger    zerolog.Logger
}

// Dialogs is the synchronous-looking dialog side-channel.
type Dialogs struct {
	renderer DialogRenderer
	opts     DialogOptions
	observer Observer
	log      zerolog.Logger
}

func NewDialogs(r DialogRenderer, opts DialogOptions) *Dialogs {
	obs := opts.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	return &Dialogs{
		renderer: r,
		opts:     opts,
		observer: obs,
		log:      opts.Logger.With().Str("component", "dialogs").Logger(),
	}
}

const (
	defaultInputTitle  = "AI Improvements"
	defaultInputPrompt = "Would you like to make any improvements or edits?"
	inputPlaceholder   = "Enter your command here..."
)

// ConfirmDescriptor builds the descriptor used by RequestConfirmation.
func (dl *Dialogs) ConfirmDescriptor(message string) DialogDescriptor {
	return DialogDescriptor{
		ID:   dl.opts.ConfirmID,
		Kind: DialogConfirm,
		Body: message,
		Buttons: []DialogButton{
			{Label: "Update", Value: "false"},
			{Label: "OK", Value: "true"},
		},
	}
}

// InputDescriptor builds the descriptor used by RequestTextInput.
func (dl *Dialogs) InputDescriptor(prompt string) DialogDescriptor {
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultInputPrompt
	}
	return DialogDescriptor{
		ID:    dl.opts.InputID,
		Kind:  DialogInput,
		Title: defaultInputTitle,
		Body:  prompt,
		Input: &InputField{
			Placeholder: inputPlaceholder,
			SubmitKey:   "Enter",
			Voice:       true,
			Autofocus:   true,
		},
		Dismissible: true,
	}
}

// RequestConfirmation asks the user to confirm message. Only the affirmative button yields true.
func (dl *Dialogs) RequestConfirmation(ctx context.Context, target TargetID, message string) (bool, error) {
	res, err := dl.Show(ctx, target, dl.ConfirmDescriptor(message))
	if err != nil {
		return false, err
	}
	if res.Action != DialogActionButton {
		return false, nil
	}
	ok, err := strconv.ParseBool(res.Value)
	if err != nil {
		return false, fmt.Errorf("confirmation value %q: %w", res.Value, err)
	}
	return ok, nil
}

// RequestTextInput asks the user for free text. Dismissing the dialog yields "".
func (dl *Dialogs) RequestTextInput(ctx context.Context, target TargetID, prompt string) (string, error) {
	res, err := dl.Show(ctx, target, dl.InputDescriptor(prompt))
	if err != nil {
		return "", err
	}
	if res.Action != DialogActionSubmit {
		return "", nil
	}
	return res.Value, nil
}

// Show renders any valid descriptor and waits for its terminal action.
func (dl *Dialogs) Show(ctx context.Context, target TargetID, d DialogDescriptor) (DialogResult, error) {
	if err := d.Validate(); err != nil {
		return DialogResult{}, fmt.Errorf("invalid dialog: %w", err)
	}
	res, err := dl.renderer.RenderDialog(ctx, target, dl.opts.RootID, d)
	dl.observer.DialogCompleted(target, d.Kind, res, err)
	if err != nil {
		dl.log.Warn().Str("target", string(target)).Str("dialog", d.ID).Err(err).Msg("dialog failed")
		return DialogResult{}, fmt.Errorf("render dialog %s: %w", d.ID, err)
	}
	dl.log.Info().Str("target", string(target)).Str("dialog", d.ID).Str("action", res.Action).Msg("dialog resolved")
	return res, nil
}
