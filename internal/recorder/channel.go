package recorder

import (
	"context"
	"time"

	"overlaynerd-mcp-server/internal/overlay"
)

// SendRecord is the payload of a "send" trace event.
type SendRecord struct {
	RequestID  string            `json:"request_id"`
	Action     overlay.Action    `json:"action"`
	DurationMS int64             `json:"duration_ms"`
	Response   *overlay.Response `json:"response,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// TracingChannel records every round-trip through the wrapped channel.
type TracingChannel struct {
	next overlay.Channel
	rec  *Recorder
}

func NewTracingChannel(next overlay.Channel, rec *Recorder) *TracingChannel {
	return &TracingChannel{next: next, rec: rec}
}

func (c *TracingChannel) Send(ctx context.Context, target overlay.TargetID, req overlay.Request) (overlay.Response, error) {
	start := time.Now()
	resp, err := c.next.Send(ctx, target, req)

	entry := SendRecord{
		RequestID:  req.ID,
		Action:     req.Action,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry.Error = err.Error()
	} else {
		entry.Response = &resp
	}
	c.rec.Log("send", string(target), entry)
	return resp, err
}
