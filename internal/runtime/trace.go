package runtime

import (
	"sync"
	"time"

	"github.com/fastworkflow/fastworkflow/pkg/types"
)

// TraceCollector buffers the trace events of one invocation and fans each
// event out to the registered live sinks. It implements the pipeline's Tracer
// interface and stamps emission times.
//
// Sinks run synchronously under the collector's lock, so a slow streaming
// consumer applies backpressure to the pipeline and events keep their
// happened-before order on the wire.
type TraceCollector struct {
	mu     sync.Mutex
	events []types.TraceEvent
	sinks  []func(types.TraceEvent)
}

// NewTraceCollector returns a collector fanning out to the given sinks.
func NewTraceCollector(sinks ...func(types.TraceEvent)) *TraceCollector {
	return &TraceCollector{sinks: sinks}
}

// Emit records one event and forwards it to every sink.
func (c *TraceCollector) Emit(kind types.TraceKind, data map[string]any) {
	ev := types.TraceEvent{Kind: kind, Data: data, TS: time.Now().UTC()}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	for _, sink := range c.sinks {
		sink(ev)
	}
}

// Events returns a copy of the buffered events in emission order.
func (c *TraceCollector) Events() []types.TraceEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.TraceEvent, len(c.events))
	copy(out, c.events)
	return out
}
