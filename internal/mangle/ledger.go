package mangle

import "time"

// ledger is the bounded, predicate-indexed window of base facts the engine keeps.
// It is not safe for concurrent use; Engine guards it.
type ledger struct {
	limit int
	facts []Fact
	index map[string][]int
}

func newLedger(limit int) *ledger {
	return &ledger{
		limit: limit,
		facts: make([]Fact, 0, limit),
		index: make(map[string][]int),
	}
}

// append adds facts, evicting the oldest to stay within limit.
func (l *ledger) append(facts []Fact) {
	base := len(l.facts)
	l.facts = append(l.facts, facts...)

	if l.limit > 0 && len(l.facts) > l.limit {
		l.facts = append(l.facts[:0:0], l.facts[len(l.facts)-l.limit:]...)
		l.reindex()
		return
	}
	for i, f := range facts {
		l.index[f.Predicate] = append(l.index[f.Predicate], base+i)
	}
}

func (l *ledger) reindex() {
	l.index = make(map[string][]int, len(l.index))
	for i, f := range l.facts {
		l.index[f.Predicate] = append(l.index[f.Predicate], i)
	}
}

// matching returns facts for predicate accepted by keep, oldest first.
func (l *ledger) matching(predicate string, keep func(Fact) bool) []Fact {
	positions := l.index[predicate]
	out := make([]Fact, 0, len(positions))
	for _, pos := range positions {
		f := l.facts[pos]
		if keep == nil || keep(f) {
			out = append(out, f)
		}
	}
	return out
}

// window accepts facts strictly inside (after, before); a zero bound is open.
func window(after, before time.Time) func(Fact) bool {
	return func(f Fact) bool {
		if !after.IsZero() && !f.Timestamp.After(after) {
			return false
		}
		return before.IsZero() || f.Timestamp.Before(before)
	}
}

func (l *ledger) all() []Fact {
	out := make([]Fact, len(l.facts))
	copy(out, l.facts)
	return out
}
