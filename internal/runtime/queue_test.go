package runtime_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fastworkflow/fastworkflow/internal/runtime"
	"github.com/fastworkflow/fastworkflow/pkg/types"
)

func TestQueue_OrderAndTryGet(t *testing.T) {
	q := runtime.NewQueue[int](4)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := q.Put(ctx, i); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	if n := q.Len(); n != 3 {
		t.Errorf("Len = %d, want 3", n)
	}
	for want := 1; want <= 3; want++ {
		got, err := q.Get(ctx)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got != want {
			t.Errorf("Get = %d, want %d", got, want)
		}
	}
	if _, ok := q.TryGet(); ok {
		t.Error("TryGet on an empty queue returned an item")
	}
}

func TestQueue_HonorsContext(t *testing.T) {
	q := runtime.NewQueue[string](1)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Get(cancelled); !errors.Is(err, context.Canceled) {
		t.Errorf("Get err = %v, want context.Canceled", err)
	}

	if err := q.Put(context.Background(), "a"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	short, done := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer done()
	if err := q.Put(short, "b"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Put on a full queue err = %v, want context.DeadlineExceeded", err)
	}
}

func TestTraceCollector_FansOutInOrder(t *testing.T) {
	var seen []types.TraceKind
	tc := runtime.NewTraceCollector(func(ev types.TraceEvent) { seen = append(seen, ev.Kind) })

	tc.Emit(types.TraceStageEntry, map[string]any{"stage": "intent_detection"})
	tc.Emit(types.TraceDispatch, map[string]any{"command": "add_two_numbers"})

	events := tc.Events()
	if len(events) != 2 {
		t.Fatalf("Events = %d, want 2", len(events))
	}
	if events[0].Kind != types.TraceStageEntry || events[1].Kind != types.TraceDispatch {
		t.Errorf("event order = %q, %q", events[0].Kind, events[1].Kind)
	}
	if events[0].TS.IsZero() {
		t.Error("events not timestamped")
	}
	if len(seen) != 2 || seen[0] != types.TraceStageEntry || seen[1] != types.TraceDispatch {
		t.Errorf("sink saw %v", seen)
	}
}
