package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"overlay://about",
			"OverlayNERD About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("High-level server info and usage notes."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResource(
		mcp.NewResource(
			"overlay://state",
			"Overlay State",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Per-target overlay visibility, focused target and toggle guard."),
		),
		s.handleStateResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"overlay://target/{targetId}/facts{?predicate,limit}",
			"Target Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Recent overlay lifecycle facts for one target (optionally filtered by predicate)."),
		),
		s.handleTargetFactsResource,
	)
}

func jsonResource(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResource(request.Params.URI, map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"notes": []string{
			"toggle-overlay is the user action; activate-target, navigation and closing reset visibility.",
			"Only one toggle runs at a time. Concurrent toggles are dropped.",
			"Dialogs need a visible overlay on the target.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	})
}

func (s *Server) handleStateResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResource(request.Params.URI, s.ctrl.Snapshot())
}

func (s *Server) handleTargetFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.engine == nil {
		return nil, errNoEngine
	}

	targetID := argString(request.Params.Arguments["targetId"])
	if targetID == "" {
		return nil, fmt.Errorf("missing targetId")
	}
	predicate := argString(request.Params.Arguments["predicate"])
	limit := argInt(request.Params.Arguments["limit"])
	if limit <= 0 {
		limit = 25
	}
	if limit > 500 {
		limit = 500
	}

	facts := recentFacts(s.engine, targetID, predicate, limit)
	return jsonResource(request.Params.URI, map[string]interface{}{
		"target_id": targetID,
		"predicate": predicate,
		"limit":     limit,
		"count":     len(facts),
		"facts":     facts,
	})
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}

// argInt reads a URI template value, which arrives as a string or string slice.
func argInt(v any) int {
	n, err := strconv.Atoi(argString(v))
	if err != nil {
		return 0
	}
	return n
}
