package mcp

import (
	"fmt"

	"overlaynerd-mcp-server/internal/overlay"
)

func getStringArg(args map[string]interface{}, key string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func getIntArg(args map[string]interface{}, key string, fallback int) int {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// requireTarget extracts the mandatory target_id argument.
func requireTarget(args map[string]interface{}) (overlay.TargetID, error) {
	id := getStringArg(args, "target_id")
	if id == "" {
		return "", fmt.Errorf("target_id is required")
	}
	return overlay.TargetID(id), nil
}

func targetIDSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Target id from list-targets",
	}
}
