package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"overlaynerd-mcp-server/internal/overlay"
)

func TestRecorderRotation(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < MaxRotatedFiles+2; i++ {
		if _, err := r.Start(""); err != nil {
			t.Fatal(err)
		}
		r.Log("test", "T", map[string]string{"msg": "hello"})
		time.Sleep(10 * time.Millisecond) // distinct mod times
	}
	_ = r.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != MaxRotatedFiles {
		t.Errorf("expected %d files, got %d", MaxRotatedFiles, len(entries))
	}
}

func TestRecorderStartAssignsTraceID(t *testing.T) {
	r, err := NewRecorder(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if r.TraceID() != "" {
		t.Error("expected empty trace id before Start")
	}

	id, err := r.Start("")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" || r.TraceID() != id {
		t.Errorf("expected generated trace id, got %q / %q", id, r.TraceID())
	}

	named, err := r.Start("fixed")
	if err != nil {
		t.Fatal(err)
	}
	if named != "fixed" {
		t.Errorf("expected fixed trace id, got %q", named)
	}
	_ = r.Close()
	if r.TraceID() != "" {
		t.Error("expected empty trace id after Close")
	}
}

func TestRecorderLogWithoutTrace(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir)
	if err != nil {
		t.Fatal(err)
	}
	r.Log("send", "T", nil)
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected no files, got %d", len(entries))
	}
}

type stubChannel struct {
	resp overlay.Response
	err  error
}

func (s stubChannel) Send(context.Context, overlay.TargetID, overlay.Request) (overlay.Response, error) {
	return s.resp, s.err
}

func readEvents(t *testing.T, dir string) []Event {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 trace file, got %d", len(entries))
	}
	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var out []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad trace line %q: %v", sc.Text(), err)
		}
		out = append(out, ev)
	}
	return out
}

func TestTracingChannel(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir)
	if err != nil {
		t.Fatal(err)
	}
	traceID, err := r.Start("")
	if err != nil {
		t.Fatal(err)
	}

	ok := NewTracingChannel(stubChannel{resp: overlay.Response{Success: true}}, r)
	req := overlay.NewRequest(overlay.ActionInjectChat)
	resp, err := ok.Send(context.Background(), "A", req)
	if err != nil || !resp.Success {
		t.Fatalf("expected passthrough success, got %+v %v", resp, err)
	}

	failing := NewTracingChannel(stubChannel{err: overlay.ErrNoListener}, r)
	if _, err := failing.Send(context.Background(), "B", overlay.NewRequest(overlay.ActionPing)); !errors.Is(err, overlay.ErrNoListener) {
		t.Fatalf("expected ErrNoListener passthrough, got %v", err)
	}
	_ = r.Close()

	events := readEvents(t, dir)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != "send" || events[0].Target != "A" || events[0].TraceID != traceID {
		t.Errorf("unexpected first event %+v", events[0])
	}
	data, _ := json.Marshal(events[0].Data)
	if !strings.Contains(string(data), req.ID) || !strings.Contains(string(data), `"action":"injectChat"`) {
		t.Errorf("first event missing request details: %s", data)
	}
	data, _ = json.Marshal(events[1].Data)
	if !strings.Contains(string(data), "no listener") {
		t.Errorf("second event missing error: %s", data)
	}
}
