package mangle

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/mangle/ast"
)

// atomOf converts a buffered fact into a ground atom for the store.
func atomOf(f Fact) ast.Atom {
	terms := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		terms[i] = constantOf(arg)
	}
	return ast.Atom{
		Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)},
		Args:      terms,
	}
}

// factOf converts a derived atom back into a Fact stamped at derivation time.
func factOf(atom ast.Atom, at time.Time) Fact {
	args := make([]interface{}, len(atom.Args))
	for i, term := range atom.Args {
		args[i] = valueOf(term)
	}
	return Fact{Predicate: atom.Predicate.Symbol, Args: args, Timestamp: at}
}

// constantOf maps Go values onto Mangle constants. Booleans become the strings
// "true" and "false" so schema rules can match them literally.
func constantOf(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case bool:
		return ast.String(strconv.FormatBool(val))
	case int:
		return ast.Number(int64(val))
	case int32:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case uint64:
		return ast.Number(int64(val))
	case float64:
		return ast.Float64(val)
	case fmt.Stringer:
		return ast.String(val.String())
	default:
		return ast.String(fmt.Sprint(v))
	}
}

func valueOf(term ast.BaseTerm) interface{} {
	c, ok := term.(ast.Constant)
	if !ok {
		if v, isVar := term.(ast.Variable); isVar {
			return v.Symbol
		}
		if term == nil {
			return nil
		}
		return fmt.Sprint(term)
	}
	switch c.Type {
	case ast.StringType:
		s, _ := c.StringValue()
		return s
	case ast.NumberType:
		if n, err := c.NumberValue(); err == nil {
			return n
		}
	case ast.Float64Type:
		if f, err := c.Float64Value(); err == nil {
			return f
		}
	}
	return c.String()
}
