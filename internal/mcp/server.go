package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"overlaynerd-mcp-server/internal/browser"
	"overlaynerd-mcp-server/internal/config"
	"overlaynerd-mcp-server/internal/mangle"
	"overlaynerd-mcp-server/internal/overlay"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// BrowserHost is the part of browser.Host the tools drive.
type BrowserHost interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	IsConnected() bool
	ControlURL() string
	Targets() []browser.Target
	Open(ctx context.Context, url string) (browser.Target, error)
	Activate(ctx context.Context, id overlay.TargetID) error
	Close(ctx context.Context, id overlay.TargetID) error
}

// OverlayController is the part of overlay.Controller the tools drive.
type OverlayController interface {
	Toggle(ctx context.Context, target overlay.TargetID) overlay.ToggleResult
	Visible(target overlay.TargetID) bool
	Snapshot() overlay.State
	RequestConfirmation(ctx context.Context, target overlay.TargetID, message string) (bool, error)
	RequestTextInput(ctx context.Context, target overlay.TargetID, prompt string) (string, error)
	PlayAudio(ctx context.Context, target overlay.TargetID, audioContent string) error
}

// FactEngine is the read side of mangle.Engine.
type FactEngine interface {
	Evaluate(ctx context.Context, predicate string) ([]mangle.Fact, error)
	Query(ctx context.Context, query string) ([]mangle.QueryResult, error)
	Facts() []mangle.Fact
	FactsByPredicate(predicate string) []mangle.Fact
}

// Server wires the MCP runtime to the browser host, overlay controller and fact engine.
type Server struct {
	cfg       config.Config
	host      BrowserHost
	ctrl      OverlayController
	engine    FactEngine
	log       zerolog.Logger
	tools     map[string]Tool
	mcpServer *mcpserver.MCPServer
}

// Tool describes the contract for MCP tool implementations.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// NewServer constructs the MCP server and registers all tools. engine may be nil when the
// fact ledger is disabled.
func NewServer(cfg config.Config, host BrowserHost, ctrl OverlayController, engine FactEngine, log zerolog.Logger) (*Server, error) {
	if host == nil || ctrl == nil {
		return nil, errors.New("browser host and overlay controller are required")
	}

	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithRecovery(),
	)

	server := &Server{
		cfg:       cfg,
		host:      host,
		ctrl:      ctrl,
		engine:    engine,
		log:       log.With().Str("component", "mcp").Logger(),
		tools:     make(map[string]Tool),
		mcpServer: mcpSrv,
	}

	server.registerAllTools()
	server.registerAllResources()
	return server, nil
}

// Start serves MCP over stdio.
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE hosts the server over HTTP using SSE endpoints with graceful shutdown.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("SSE server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool executes a tool directly (used by tests).
func (s *Server) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool.Execute(ctx, args)
}

func (s *Server) registerAllTools() {
	// Browser host
	s.registerTool(&LaunchBrowserTool{host: s.host})
	s.registerTool(&ShutdownBrowserTool{host: s.host})
	s.registerTool(&ListTargetsTool{host: s.host, ctrl: s.ctrl})
	s.registerTool(&OpenTargetTool{host: s.host})
	s.registerTool(&ActivateTargetTool{host: s.host})
	s.registerTool(&CloseTargetTool{host: s.host})

	// Overlay
	s.registerTool(&ToggleOverlayTool{ctrl: s.ctrl})
	s.registerTool(&OverlayStateTool{ctrl: s.ctrl})
	s.registerTool(&RequestConfirmationTool{ctrl: s.ctrl})
	s.registerTool(&RequestTextInputTool{ctrl: s.ctrl})
	s.registerTool(&PlayAudioTool{ctrl: s.ctrl})

	// Fact ledger
	s.registerTool(&QueryOverlayFactsTool{engine: s.engine})
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool

	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		result, err := tool.Execute(ctx, args)
		if err != nil {
			s.log.Debug().Err(err).Str("tool", tool.Name()).Msg("tool failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("tool %s failed: %v", tool.Name(), err))},
				IsError: true,
			}, nil
		}

		payload := marshalToolPayload(tool.Name(), result)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
			IsError: false,
		}, nil
	}
}

func marshalToolPayload(toolName string, result interface{}) []byte {
	payload, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		return payload
	}

	fallback := map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf("tool %s returned non-serializable payload: %v", toolName, marshalErr),
	}
	payload, fallbackErr := json.Marshal(fallback)
	if fallbackErr == nil {
		return payload
	}

	return []byte(fmt.Sprintf(`{"success":false,"error":"tool %s failed to encode payload"}`, toolName))
}
