package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxRotatedFiles is how many trace files survive in the directory, the open one included.
	MaxRotatedFiles = 3
	TraceDir        = "data/traces"
)

// Event is a single line in a channel trace.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	TraceID   string      `json:"trace_id"`
	Target    string      `json:"target,omitempty"`
	Data      interface{} `json:"data"`
}

type openTrace struct {
	id  string
	f   *os.File
	enc *json.Encoder
}

// Recorder appends channel traffic to rotating JSONL trace files.
type Recorder struct {
	dir string

	mu  sync.Mutex
	cur *openTrace
}

// NewRecorder creates a recorder rooted at dir, creating the directory if needed.
func NewRecorder(dir string) (*Recorder, error) {
	if dir == "" {
		dir = TraceDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("trace dir: %w", err)
	}
	return &Recorder{dir: dir}, nil
}

// Start closes the current trace and opens a new one. An empty traceID gets a fresh uuid.
func (r *Recorder) Start(traceID string) (string, error) {
	if traceID == "" {
		traceID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked()
	if err := prune(r.dir, MaxRotatedFiles-1); err != nil {
		return "", fmt.Errorf("rotate traces: %w", err)
	}

	name := fmt.Sprintf("trace_%s_%d.jsonl", traceID, time.Now().UnixMilli())
	f, err := os.Create(filepath.Join(r.dir, name))
	if err != nil {
		return "", err
	}
	r.cur = &openTrace{id: traceID, f: f, enc: json.NewEncoder(f)}
	return traceID, nil
}

// TraceID returns the id of the open trace, or "" when none is open.
func (r *Recorder) TraceID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return ""
	}
	return r.cur.id
}

// Log writes an event to the current trace. It is a no-op when no trace is open.
func (r *Recorder) Log(eventType, target string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return
	}
	_ = r.cur.enc.Encode(Event{
		Timestamp: time.Now(),
		Type:      eventType,
		TraceID:   r.cur.id,
		Target:    target,
		Data:      data,
	})
}

// Close finishes the current trace.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Recorder) closeLocked() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.f.Close()
	r.cur = nil
	return err
}

// prune leaves at most keep trace files in dir, removing the oldest by mod time.
func prune(dir string, keep int) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return err
	}
	if len(paths) <= keep {
		return nil
	}

	mod := make(map[string]time.Time, len(paths))
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil {
			mod[p] = info.ModTime()
		}
	}
	sort.Slice(paths, func(i, j int) bool { return mod[paths[i]].After(mod[paths[j]]) })

	for _, p := range paths[keep:] {
		_ = os.Remove(p)
	}
	return nil
}
