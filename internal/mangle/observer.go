package mangle

import (
	"context"
	"sync/atomic"
	"time"

	"overlaynerd-mcp-server/internal/overlay"
)

// FactSink is the part of the Engine the observer writes to.
type FactSink interface {
	AddFacts(ctx context.Context, facts []Fact) error
}

// FactObserver records every overlay outcome as a base fact. Each fact carries a
// process-wide sequence number as its last argument so rules can order events.
type FactObserver struct {
	sink FactSink
	seq  atomic.Int64
}

func NewFactObserver(sink FactSink) *FactObserver {
	return &FactObserver{sink: sink}
}

func (o *FactObserver) emit(predicate string, args ...interface{}) {
	now := time.Now()
	args = append(args, o.seq.Add(1))
	_ = o.sink.AddFacts(context.Background(), []Fact{{
		Predicate: predicate,
		Args:      args,
		Timestamp: now,
	}})
}

func (o *FactObserver) ToggleCompleted(t overlay.TargetID, r overlay.ToggleResult, _ time.Duration) {
	o.emit("toggle_result", string(t), r.String())
}

func (o *FactObserver) Probed(t overlay.TargetID, outcome overlay.ProbeOutcome) {
	o.emit("probe", string(t), outcome.String())
}

func (o *FactObserver) Installed(t overlay.TargetID, err error) {
	o.emit("installed", string(t), err == nil)
}

func (o *FactObserver) Reconciled(t overlay.TargetID, reason overlay.ReconcileReason) {
	o.emit("reconciled", string(t), string(reason))
}

func (o *FactObserver) DialogCompleted(t overlay.TargetID, kind overlay.DialogKind, res overlay.DialogResult, err error) {
	action := res.Action
	if err != nil {
		action = "error"
	}
	o.emit("dialog", string(t), string(kind), action)
}
