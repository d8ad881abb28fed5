package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"overlaynerd-mcp-server/internal/browser"
	"overlaynerd-mcp-server/internal/config"
	"overlaynerd-mcp-server/internal/mangle"
	mcpserver "overlaynerd-mcp-server/internal/mcp"
	"overlaynerd-mcp-server/internal/observability"
	"overlaynerd-mcp-server/internal/overlay"
	"overlaynerd-mcp-server/internal/recorder"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

type options struct {
	configPath  string
	ssePort     int
	metricsAddr string
	logLevel    string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("overlaynerd-mcp", pflag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "config.yaml", "Path to the OverlayNERD MCP config file")
	fs.IntVar(&opts.ssePort, "sse-port", 0, "Optional SSE port override (falls back to config)")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "Optional /metrics listen address override")
	fs.StringVar(&opts.logLevel, "log-level", "", "Optional log level override (debug|info|warn|error)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

// applyOverrides layers command-line flags over the loaded config.
func applyOverrides(cfg *config.Config, opts options) {
	if opts.ssePort != 0 {
		cfg.MCP.SSEPort = opts.ssePort
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.ListenAddr = opts.metricsAddr
	}
	if opts.logLevel != "" {
		cfg.Server.LogLevel = opts.logLevel
	}
}

// logOutput picks the log destination. In stdio mode stdout and stderr belong to the MCP
// protocol, so logs go to the configured file or nowhere.
func logOutput(cfg config.Config) (io.Writer, func(), error) {
	if cfg.MCP.SSEPort > 0 {
		return observability.ConsoleWriter(), func() {}, nil
	}
	if cfg.Server.LogFile == "" {
		return io.Discard, func() {}, nil
	}
	f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return io.Discard, func() {}, err
	}
	return f, func() { _ = f.Close() }, nil
}

type app struct {
	cfg     config.Config
	log     zerolog.Logger
	host    *browser.Host
	engine  *mangle.Engine
	metrics *observability.Metrics
	traces  *recorder.Recorder
	ctrl    *overlay.Controller
	server  *mcpserver.Server
}

func newApp(cfg config.Config, log zerolog.Logger) (*app, error) {
	engine, err := mangle.NewEngine(cfg.Mangle, log)
	if err != nil {
		return nil, fmt.Errorf("initialize mangle engine: %w", err)
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		engine:  engine,
		metrics: observability.NewMetrics(),
		host:    browser.NewHost(cfg.Browser, cfg.Overlay, log),
	}

	var channel overlay.Channel = a.host
	if cfg.Overlay.TraceDir != "" {
		rec, err := recorder.NewRecorder(cfg.Overlay.TraceDir)
		if err != nil {
			return nil, fmt.Errorf("initialize trace recorder: %w", err)
		}
		traceID, err := rec.Start("")
		if err != nil {
			return nil, fmt.Errorf("start trace: %w", err)
		}
		log.Info().Str("trace_id", traceID).Str("dir", cfg.Overlay.TraceDir).Msg("channel tracing enabled")
		a.traces = rec
		channel = recorder.NewTracingChannel(a.host, rec)
	}

	a.ctrl = overlay.NewController(cfg.Overlay, overlay.Deps{
		Channel:   channel,
		Installer: a.host,
		Renderer:  a.host,
		Observer:  overlay.Observers{a.metrics, mangle.NewFactObserver(engine)},
		Logger:    log,
	})
	a.host.SetInboundHandler(a.ctrl)
	a.host.SetDispatcher(a.ctrl)

	a.server, err = mcpserver.NewServer(cfg, a.host, a.ctrl, engine, log)
	if err != nil {
		return nil, fmt.Errorf("initialize MCP server: %w", err)
	}
	return a, nil
}

// run serves MCP until ctx is cancelled or the transport closes, then stops the controller,
// the metrics endpoint and the browser.
func (a *app) run(ctx context.Context) error {
	if a.cfg.Browser.AutoStart {
		if err := a.host.Start(ctx); err != nil {
			return fmt.Errorf("start browser host: %w", err)
		}
	} else {
		a.log.Info().Msg("browser auto-start disabled; use MCP tools to launch later")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.ctrl.Run(gctx, a.host.Events())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		g.Go(func() error {
			a.log.Info().Str("addr", addr).Msg("serving metrics")
			return a.metrics.Serve(gctx, addr)
		})
	}

	g.Go(func() error {
		defer cancel()
		var err error
		if port := a.cfg.MCP.SSEPort; port > 0 {
			a.log.Info().Int("port", port).Msg("starting MCP SSE server")
			err = a.server.StartSSE(gctx, port)
		} else {
			a.log.Info().Msg("starting MCP stdio server")
			err = a.server.Start(gctx)
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err := g.Wait()
	if shutdownErr := a.host.Shutdown(context.Background()); shutdownErr != nil {
		a.log.Warn().Err(shutdownErr).Msg("browser shutdown")
	}
	if a.traces != nil {
		_ = a.traces.Close()
	}
	return err
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		// Logging is not set up yet; stderr is the last resort.
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(&cfg, opts)

	out, closeLog, logErr := logOutput(cfg)
	defer closeLog()
	logger := observability.InitLogger(cfg.Server.Name, out, cfg.Server.LogLevel)
	if logErr != nil {
		logger.Warn().Err(logErr).Msg("log file unavailable; logging disabled")
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	if err := a.run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
}
