package mcp

import (
	"context"
	"errors"
	"fmt"

	"overlaynerd-mcp-server/internal/mangle"
)

var errNoEngine = errors.New("fact ledger disabled")

// QueryOverlayFactsTool reads the overlay fact ledger: derived predicates, single-atom
// queries, or the most recent raw facts.
type QueryOverlayFactsTool struct {
	engine FactEngine
}

func (t *QueryOverlayFactsTool) Name() string { return "query-overlay-facts" }
func (t *QueryOverlayFactsTool) Description() string {
	return `Query the overlay lifecycle fact ledger.

MODES (first one given wins):
- predicate: evaluate a derived predicate, e.g. overlay_shown, overlay_desync, probe_failed,
  install_failed, failed_toggle, dropped_toggle, dialog_dismissed
- query: single-atom Mangle query, e.g. toggle_result(T, "failed", S).
- neither: the most recent raw facts, optionally for one target_id

BASE FACTS: toggle_result(T,R,S) probe(T,O,S) installed(T,Ok,S) reconciled(T,Reason,S)
dialog(T,Kind,Action,S). S is a global sequence number.`
}
func (t *QueryOverlayFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Derived predicate to evaluate",
			},
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Single-atom Mangle query ending with a period",
			},
			"target_id": targetIDSchema(),
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum raw facts to return (default 50, max 500)",
			},
		},
	}
}
func (t *QueryOverlayFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.engine == nil {
		return nil, errNoEngine
	}

	if predicate := getStringArg(args, "predicate"); predicate != "" {
		facts, err := t.engine.Evaluate(ctx, predicate)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", predicate, err)
		}
		return map[string]interface{}{"predicate": predicate, "count": len(facts), "facts": facts}, nil
	}

	if query := getStringArg(args, "query"); query != "" {
		results, err := t.engine.Query(ctx, query)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"query": query, "count": len(results), "results": results}, nil
	}

	limit := getIntArg(args, "limit", 50)
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	facts := recentFacts(t.engine, getStringArg(args, "target_id"), "", limit)
	return map[string]interface{}{"count": len(facts), "facts": facts}, nil
}

// recentFacts returns up to limit of the newest buffered facts in chronological order,
// optionally restricted to one target (first argument) and predicate.
func recentFacts(engine FactEngine, target, predicate string, limit int) []mangle.Fact {
	if engine == nil || limit <= 0 {
		return []mangle.Fact{}
	}

	var source []mangle.Fact
	if predicate != "" {
		source = engine.FactsByPredicate(predicate)
	} else {
		source = engine.Facts()
	}

	out := make([]mangle.Fact, 0, min(limit, len(source)))
	for i := len(source) - 1; i >= 0 && len(out) < limit; i-- {
		f := source[i]
		if target != "" && (len(f.Args) == 0 || fmt.Sprintf("%v", f.Args[0]) != target) {
			continue
		}
		out = append(out, f)
	}

	// Oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
