// Package observe carries run telemetry out of the engine. The runner emits
// one Event per lifecycle edge; sinks fan the stream out to logs, stores, or
// OpenTelemetry.
package observe

import (
	"context"
	"sync"
	"sync/atomic"
)

type Sink interface {
	Emit(ctx context.Context, event Event) error
}

type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Emit(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type NoopSink struct{}

func (NoopSink) Emit(context.Context, Event) error { return nil }

// MultiSink delivers each event to every downstream sink in order. The first
// sink error stops delivery for that event.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		filtered = append(filtered, s)
	}
	switch len(filtered) {
	case 0:
		return NoopSink{}
	case 1:
		return filtered[0]
	}
	return &MultiSink{sinks: filtered}
}

func (m *MultiSink) Emit(ctx context.Context, event Event) error {
	if m == nil {
		return nil
	}
	for _, sink := range m.sinks {
		if err := sink.Emit(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// FilterSink forwards only events the predicate accepts. Filtered events are
// swallowed silently.
func FilterSink(downstream Sink, keep func(Event) bool) Sink {
	if downstream == nil || keep == nil {
		return NoopSink{}
	}
	return SinkFunc(func(ctx context.Context, event Event) error {
		if !keep(event) {
			return nil
		}
		return downstream.Emit(ctx, event)
	})
}

// OnlyKinds narrows a sink to the given event kinds, e.g. routing just tool
// and approval activity to an audit log while runs and model calls go
// elsewhere.
func OnlyKinds(downstream Sink, kinds ...Kind) Sink {
	keep := make(map[Kind]struct{}, len(kinds))
	for _, k := range kinds {
		keep[k] = struct{}{}
	}
	return FilterSink(downstream, func(event Event) bool {
		_, ok := keep[event.Kind]
		return ok
	})
}

// AsyncSink decouples the turn loop from slow downstreams: Emit enqueues and
// returns immediately, and events beyond the buffer are dropped rather than
// blocking a run mid-turn. Dropped counts how many were lost.
type AsyncSink struct {
	downstream Sink
	queue      chan Event
	dropped    atomic.Int64
	once       sync.Once
}

func NewAsyncSink(downstream Sink, buffer int) *AsyncSink {
	if downstream == nil {
		downstream = NoopSink{}
	}
	if buffer <= 0 {
		buffer = 256
	}
	as := &AsyncSink{
		downstream: downstream,
		queue:      make(chan Event, buffer),
	}
	go as.loop()
	return as
}

func (s *AsyncSink) Emit(ctx context.Context, event Event) error {
	if s == nil {
		return nil
	}
	event.Normalize()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.queue <- event:
		return nil
	default:
		s.dropped.Add(1)
		return nil
	}
}

// Dropped reports how many events were discarded under backpressure.
func (s *AsyncSink) Dropped() int64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

func (s *AsyncSink) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() { close(s.queue) })
}

func (s *AsyncSink) loop() {
	for event := range s.queue {
		_ = s.downstream.Emit(context.Background(), event)
	}
}
