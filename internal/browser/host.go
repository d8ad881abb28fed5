package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"overlaynerd-mcp-server/internal/config"
	"overlaynerd-mcp-server/internal/overlay"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

// Target describes the public metadata for a tracked page.
type Target struct {
	ID        overlay.TargetID `json:"id"`
	URL       string           `json:"url,omitempty"`
	Title     string           `json:"title,omitempty"`
	Status    string           `json:"status,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

type targetRecord struct {
	meta       Target
	page       *rod.Page
	stopExpose func() error
	cancel     context.CancelFunc
}

// Host owns the Chrome instance and maps CDP page targets onto overlay targets. It
// implements overlay.Channel, overlay.Installer and overlay.DialogRenderer, and turns CDP
// events into overlay lifecycle events.
type Host struct {
	cfg config.BrowserConfig
	ov  config.OverlayConfig
	log zerolog.Logger

	mu         sync.RWMutex
	browser    *rod.Browser
	targets    map[overlay.TargetID]*targetRecord
	controlURL string
	ctx        context.Context
	cancel     context.CancelFunc
	inbound    overlay.InboundHandler
	dispatch   Dispatcher

	events chan overlay.Event
}

// Dispatcher applies a host event before returning. Shutdown uses it to report closures
// without going through the bounded event buffer.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev overlay.Event)
}

func NewHost(cfg config.BrowserConfig, ov config.OverlayConfig, log zerolog.Logger) *Host {
	return &Host{
		cfg:     cfg,
		ov:      ov,
		log:     log.With().Str("component", "browser").Logger(),
		targets: make(map[overlay.TargetID]*targetRecord),
		events:  make(chan overlay.Event, 64),
	}
}

// Events streams lifecycle signals for the overlay controller. The channel is never closed.
func (h *Host) Events() <-chan overlay.Event {
	return h.events
}

// SetInboundHandler routes messages sent by target runtimes. It applies to pages tracked
// after the call.
func (h *Host) SetInboundHandler(handler overlay.InboundHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inbound = handler
}

// SetDispatcher makes Shutdown report closures synchronously through d.
func (h *Host) SetDispatcher(d Dispatcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dispatch = d
}

// Start connects to an existing Chrome or launches a new one using Rod's launcher.
func (h *Host) Start(ctx context.Context) error {
	if b := h.currentBrowser(); b != nil {
		if _, err := b.Version(); err == nil {
			return nil
		}
		h.log.Warn().Msg("stale browser connection detected, reconnecting")
		_ = h.Shutdown(ctx)
	}

	controlURL := h.cfg.DebuggerURL
	if controlURL == "" {
		url, err := h.launch()
		if err != nil {
			return err
		}
		controlURL = url
	}

	// The host outlives the request that started it.
	hostCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := rod.New().ControlURL(controlURL).Context(hostCtx)
	if err := b.Connect(); err != nil {
		cancel()
		return fmt.Errorf("connect to chrome: %w", err)
	}

	h.mu.Lock()
	h.browser = b
	h.controlURL = controlURL
	h.ctx = hostCtx
	h.cancel = cancel
	h.mu.Unlock()

	if err := h.watchTargets(hostCtx, b); err != nil {
		h.log.Warn().Err(err).Msg("target discovery unavailable")
	}

	pages, err := b.Pages()
	if err != nil {
		h.log.Warn().Err(err).Msg("list existing pages")
	}
	for _, p := range pages {
		h.track(p, "attached")
	}

	h.log.Info().Str("control_url", controlURL).Int("targets", len(pages)).Msg("browser connected")
	return nil
}

// launch starts Chrome from the configured command, or lets Rod locate a browser when no
// command is configured.
func (h *Host) launch() (string, error) {
	if len(h.cfg.Launch) == 0 {
		url, err := launcher.New().Headless(h.cfg.IsHeadless()).Launch()
		if err != nil {
			return "", fmt.Errorf("launch chrome: %w", err)
		}
		return url, nil
	}

	bin := h.cfg.Launch[0]
	l := launcher.New().Bin(bin).Headless(h.cfg.IsHeadless())
	for _, rawFlag := range h.cfg.Launch[1:] {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	url, err := l.Launch()
	if err == nil {
		return url, nil
	}
	// Fallback: let Rod pick the port and defaults.
	alt, altErr := launcher.New().Bin(bin).Headless(h.cfg.IsHeadless()).Launch()
	if altErr != nil {
		return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
	}
	return alt, nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (h *Host) ControlURL() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.controlURL
}

// IsConnected returns whether the browser is currently connected.
func (h *Host) IsConnected() bool {
	return h.currentBrowser() != nil
}

func (h *Host) currentBrowser() *rod.Browser {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.browser
}

// Shutdown stops event streams and closes the browser. Every tracked target is reported
// as closed.
func (h *Host) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	closed := make([]overlay.TargetID, 0, len(h.targets))
	for id, rec := range h.targets {
		rec.release()
		delete(h.targets, id)
		closed = append(closed, id)
	}
	cancel := h.cancel
	b := h.browser
	dispatch := h.dispatch
	h.cancel = nil
	h.browser = nil
	h.controlURL = ""
	h.mu.Unlock()

	for _, id := range closed {
		ev := overlay.Event{Kind: overlay.EventClosed, Target: id}
		if dispatch != nil {
			dispatch.Dispatch(ctx, ev)
			continue
		}
		h.offer(ev)
	}
	if cancel != nil {
		cancel()
	}

	var err error
	if b != nil {
		err = b.Close()
	}
	h.log.Info().Int("targets", len(closed)).Msg("browser shutdown complete")
	return err
}

func (r *targetRecord) release() {
	if r.stopExpose != nil {
		_ = r.stopExpose()
	}
	if r.cancel != nil {
		r.cancel()
	}
}

// Targets returns metadata for all tracked pages.
func (h *Host) Targets() []Target {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Target, 0, len(h.targets))
	for _, rec := range h.targets {
		out = append(out, rec.meta)
	}
	return out
}

// Open creates a new page and tracks it.
func (h *Host) Open(ctx context.Context, url string) (Target, error) {
	b := h.currentBrowser()
	if b == nil {
		return Target{}, errors.New("browser not connected")
	}
	if url == "" {
		url = "about:blank"
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return Target{}, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             h.cfg.GetViewportWidth(),
		Height:            h.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		h.log.Warn().Err(err).Msg("failed to set viewport")
	}

	// Best-effort load; the lifecycle stream reports completion.
	_ = page.Context(ctx).Timeout(h.cfg.AttachTimeout()).WaitLoad()

	return h.track(page, "active"), nil
}

// Activate brings target to the front and reports the focus change.
func (h *Host) Activate(ctx context.Context, id overlay.TargetID) error {
	page, err := h.page(id)
	if err != nil {
		return err
	}
	if _, err := page.Context(ctx).Activate(); err != nil {
		return fmt.Errorf("activate %s: %w", id, err)
	}
	h.publish(overlay.Event{Kind: overlay.EventActivated, Target: id})
	return nil
}

// Close closes the page behind target. The destroyed-target event reports closure.
func (h *Host) Close(ctx context.Context, id overlay.TargetID) error {
	page, err := h.page(id)
	if err != nil {
		return err
	}
	if err := page.Context(ctx).Close(); err != nil {
		return fmt.Errorf("close %s: %w", id, err)
	}
	return nil
}

func (h *Host) page(id overlay.TargetID) (*rod.Page, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.targets[id]
	if !ok || rec.page == nil {
		return nil, fmt.Errorf("%w: %s", overlay.ErrTargetGone, id)
	}
	return rec.page, nil
}

func (h *Host) updateMeta(id overlay.TargetID, fn func(Target) Target) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rec, ok := h.targets[id]; ok {
		rec.meta = fn(rec.meta)
	}
}

// publish delivers ev unless the host is shutting down.
func (h *Host) publish(ev overlay.Event) {
	h.mu.RLock()
	ctx := h.ctx
	h.mu.RUnlock()
	if ctx == nil {
		return
	}
	select {
	case h.events <- ev:
	case <-ctx.Done():
	}
}

// offer delivers ev only if the buffer has room. Used when no consumer may be left.
func (h *Host) offer(ev overlay.Event) {
	select {
	case h.events <- ev:
	default:
		h.log.Debug().Str("target", string(ev.Target)).Str("kind", string(ev.Kind)).Msg("event dropped, buffer full")
	}
}
