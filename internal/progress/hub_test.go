package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestHubDeliversToAllSinks verifies fan-out hits every registered sink.
func TestHubDeliversToAllSinks(t *testing.T) {
	t.Parallel()

	first := newStubSink()
	second := newStubSink()
	hub := NewHub(Config{BufferSize: 8}, first, second)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageJobStart))
	require.Eventually(t, func() bool {
		return len(first.Events()) == 1 && len(second.Events()) == 1
	}, time.Second, 10*time.Millisecond)
}

// TestHubDropsInvalidEvents asserts malformed events never reach sinks.
func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(Event{Stage: StageJobStart}) // missing job id and timestamp
	hub.Emit(sampleEvent(StageFetchDone))

	require.Eventually(t, func() bool {
		return len(sink.Events()) == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, StageFetchDone, sink.Events()[0].Stage)
}

// TestHubEmitNonBlockingWhenFull asserts Emit never blocks callers.
func TestHubEmitNonBlockingWhenFull(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageJobStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

// TestHubDrainsOnClose ensures Close delivers buffered events before returning.
func TestHubDrainsOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 16}, sink)

	for i := 0; i < 5; i++ {
		hub.Emit(sampleEvent(StageFetchDone))
	}
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Events(), 5)
	require.True(t, sink.Closed())
}

// TestHubEmitAfterCloseIsIgnored verifies the hub refuses events once
// shutdown begins.
func TestHubEmitAfterCloseIsIgnored(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(sampleEvent(StageJobStart))
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, sink.Events())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	valid := sampleEvent(StageFetchDone)
	require.NoError(t, valid.Validate())

	evt := valid
	evt.JobID = ""
	require.Error(t, evt.Validate())

	evt = valid
	evt.TS = time.Time{}
	require.Error(t, evt.Validate())

	evt = valid
	evt.Stage = "BOGUS"
	require.Error(t, evt.Validate())

	evt = valid
	evt.Outcome = ""
	require.Error(t, evt.Validate(), "fetch done requires an outcome")

	evt = sampleEvent(StageFetchStart)
	evt.URL = ""
	require.Error(t, evt.Validate())

	evt = valid
	evt.Dur = -time.Second
	require.Error(t, evt.Validate())
}

func TestClassifyStatusGrouping(t *testing.T) {
	t.Parallel()

	require.Equal(t, Status2xx, ClassifyStatus(200))
	require.Equal(t, Status3xx, ClassifyStatus(302))
	require.Equal(t, Status4xx, ClassifyStatus(403))
	require.Equal(t, Status5xx, ClassifyStatus(503))
	require.Equal(t, StatusOther, ClassifyStatus(0))
	require.Equal(t, StatusOther, ClassifyStatus(999))
}

type stubSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func sampleEvent(stage Stage) Event {
	evt := Event{
		JobID: "0198f9e2-0000-7000-8000-000000000000",
		TS:    time.Now().UTC(),
		Stage: stage,
		Host:  "example.com",
	}
	switch stage {
	case StageFetchStart, StageFetchRetry:
		evt.URL = "https://example.com/page"
		evt.Attempt = 1
	case StageFetchDone:
		evt.URL = "https://example.com/page"
		evt.Attempt = 1
		evt.Outcome = "success"
		evt.StatusClass = Status2xx
		evt.Dur = 120 * time.Millisecond
	}
	return evt
}
