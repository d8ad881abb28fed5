package mangle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"overlaynerd-mcp-server/internal/config"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"github.com/rs/zerolog"
)

// ErrNotReady is returned by queries when the engine is disabled or has no program.
var ErrNotReady = errors.New("engine not ready")

// Fact is one overlay lifecycle observation, or a fact derived from them.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult binds the named variables of a query atom to values.
type QueryResult map[string]interface{}

// Engine holds the overlay fact ledger and the Mangle program deriving diagnostics
// from it. The store is always derived from the current ledger, so evicted facts stop
// contributing to derived predicates.
type Engine struct {
	cfg config.MangleConfig
	log zerolog.Logger

	mu      sync.RWMutex
	program *analysis.ProgramInfo
	store   factstore.FactStore
	ledger  *ledger
}

func NewEngine(cfg config.MangleConfig, log zerolog.Logger) (*Engine, error) {
	e := &Engine{
		cfg:    cfg,
		log:    log.With().Str("component", "mangle").Logger(),
		store:  factstore.NewSimpleInMemoryStore(),
		ledger: newLedger(cfg.FactBufferLimit),
	}
	if cfg.Enable && cfg.SchemaPath != "" {
		if err := e.LoadSchema(cfg.SchemaPath); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// LoadSchema replaces the program with the one in the file at path.
func (e *Engine) LoadSchema(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	program, err := analyze(src, nil)
	if err != nil {
		return fmt.Errorf("schema %s: %w", path, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.program = program
	e.log.Debug().Str("path", path).Int("rules", len(program.Rules)).Msg("schema loaded")
	return nil
}

// AddRule extends the program with extra clauses. Declarations already loaded are
// visible to the new clauses.
func (e *Engine) AddRule(src string) error {
	if !e.cfg.Enable {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	known := make(map[ast.PredicateSym]ast.Decl)
	if e.program != nil {
		for sym, decl := range e.program.Decls {
			if decl != nil {
				known[sym] = *decl
			}
		}
	}
	extra, err := analyze([]byte(src), known)
	if err != nil {
		return fmt.Errorf("rule: %w", err)
	}

	if e.program == nil {
		e.program = extra
		return nil
	}
	for sym, decl := range extra.Decls {
		e.program.Decls[sym] = decl
	}
	e.program.Rules = append(e.program.Rules, extra.Rules...)
	return nil
}

func analyze(src []byte, known map[ast.PredicateSym]ast.Decl) (*analysis.ProgramInfo, error) {
	unit, err := parse.Unit(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if known == nil {
		known = make(map[ast.PredicateSym]ast.Decl)
	}
	program, err := analysis.AnalyzeOneUnit(unit, known)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	return program, nil
}

// AddFacts records facts in the ledger and re-derives the program.
func (e *Engine) AddFacts(ctx context.Context, facts []Fact) error {
	if !e.cfg.Enable {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.ledger.append(facts)
	if err := e.deriveLocked(); err != nil {
		e.log.Warn().Err(err).Int("facts", len(facts)).Msg("derivation failed")
		return fmt.Errorf("derive after insert: %w", err)
	}
	return nil
}

// deriveLocked replaces the store with one built from the ledger alone and evaluates
// the program over it, so negated rules see every later fact. Callers hold e.mu.
func (e *Engine) deriveLocked() error {
	store := factstore.NewSimpleInMemoryStore()
	for _, f := range e.ledger.facts {
		store.Add(atomOf(f))
	}
	if e.program != nil {
		if err := engine.EvalProgram(e.program, store); err != nil {
			return err
		}
	}
	e.store = store
	return nil
}

// Query matches a single atom such as `reconciled(T, "closed", S).` against base and
// derived facts. Constants filter; each named variable is bound in the result.
func (e *Engine) Query(ctx context.Context, src string) ([]QueryResult, error) {
	if !e.usable() {
		return nil, ErrNotReady
	}

	unit, err := parse.Unit(bytes.NewReader([]byte(src)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(unit.Clauses) == 0 {
		return nil, errors.New("empty query")
	}
	pattern := unit.Clauses[0].Head

	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]QueryResult, 0)
	err = e.store.GetFacts(pattern, func(atom ast.Atom) error {
		row := make(QueryResult)
		for i, term := range pattern.Args {
			v, ok := term.(ast.Variable)
			if !ok || v.Symbol == "_" || i >= len(atom.Args) {
				continue
			}
			row[v.Symbol] = valueOf(atom.Args[i])
		}
		results = append(results, row)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return results, nil
}

// Evaluate re-derives the program and returns every fact of predicate.
func (e *Engine) Evaluate(ctx context.Context, predicate string) ([]Fact, error) {
	if !e.usable() {
		return nil, ErrNotReady
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.deriveLocked(); err != nil {
		return nil, fmt.Errorf("derive: %w", err)
	}
	sym, ok := e.lookup(predicate)
	if !ok {
		return nil, fmt.Errorf("unknown predicate %q", predicate)
	}

	pattern := ast.Atom{Predicate: sym, Args: make([]ast.BaseTerm, sym.Arity)}
	for i := range pattern.Args {
		pattern.Args[i] = ast.Variable{Symbol: fmt.Sprintf("X%d", i)}
	}

	now := time.Now()
	facts := make([]Fact, 0)
	if err := e.store.GetFacts(pattern, func(atom ast.Atom) error {
		facts = append(facts, factOf(atom, now))
		return nil
	}); err != nil {
		return nil, fmt.Errorf("collect %s: %w", predicate, err)
	}
	return facts, nil
}

// lookup finds a declared or rule-defined predicate by name. Callers hold e.mu.
func (e *Engine) lookup(name string) (ast.PredicateSym, bool) {
	for sym := range e.program.Decls {
		if sym.Symbol == name {
			return sym, true
		}
	}
	for _, clause := range e.program.Rules {
		if clause.Head.Predicate.Symbol == name {
			return clause.Head.Predicate, true
		}
	}
	return ast.PredicateSym{}, false
}

// QueryTemporal returns buffered facts of predicate strictly between after and
// before. Zero times leave that side open.
func (e *Engine) QueryTemporal(predicate string, after, before time.Time) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.matching(predicate, window(after, before))
}

// FactsByPredicate returns buffered facts of one predicate, oldest first.
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.matching(predicate, nil)
}

// Facts returns a copy of the whole buffer.
func (e *Engine) Facts() []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.all()
}

// Ready reports whether the engine will not block startup: either disabled, or
// enabled with a program loaded.
func (e *Engine) Ready() bool {
	if !e.cfg.Enable {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.program != nil
}

func (e *Engine) usable() bool {
	if !e.cfg.Enable {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.program != nil
}
