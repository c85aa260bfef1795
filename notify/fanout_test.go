package notify

import (
	"errors"
	"sync"
	"testing"

	"vigil/correlate"
	"vigil/logger"
)

func init() {
	logger.Init("error")
}

type fakeSink struct {
	name    string
	gate    chan struct{}
	fail    error
	entered chan struct{}

	mu     sync.Mutex
	got    []correlate.Alert
	closed bool
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Publish(a correlate.Alert) error {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	if s.fail != nil {
		return s.fail
	}
	s.mu.Lock()
	s.got = append(s.got, a)
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.got))
	for i, a := range s.got {
		out[i] = a.ID
	}
	return out
}

func alert(id string) correlate.Alert {
	return correlate.Alert{ID: id, Type: correlate.TypeEntropy, Severity: correlate.SeverityMedium}
}

func TestFanoutDeliversToAllSinks(t *testing.T) {
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b"}
	f := NewFanout(8)
	f.Add(a)
	f.Add(b)

	f.Publish(alert("x"))
	f.Publish(alert("y"))
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for _, s := range []*fakeSink{a, b} {
		got := s.ids()
		if len(got) != 2 || got[0] != "x" || got[1] != "y" {
			t.Errorf("sink %s received %v, want [x y]", s.name, got)
		}
		if !s.closed {
			t.Errorf("sink %s was not closed", s.name)
		}
	}
}

func TestDropOldestUnderBackpressure(t *testing.T) {
	sink := &fakeSink{
		name:    "slow",
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 8),
	}
	f := NewFanout(2)
	f.Add(sink)

	f.Publish(alert("a1"))
	<-sink.entered // writer is now stuck inside Publish holding a1

	f.Publish(alert("a2"))
	f.Publish(alert("a3")) // queue full
	f.Publish(alert("a4")) // evicts a2

	close(sink.gate)
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got := sink.ids()
	if len(got) != 3 || got[0] != "a1" || got[1] != "a3" || got[2] != "a4" {
		t.Errorf("expected oldest queued alert dropped, got %v", got)
	}
}

func TestSinkErrorDoesNotStopDelivery(t *testing.T) {
	bad := &fakeSink{name: "bad", fail: ErrSinkUnavailable}
	good := &fakeSink{name: "good"}

	var mu sync.Mutex
	failures := map[string]int{}
	var lastErr error
	f := NewFanout(4, WithErrorHandler(func(sink string, err error) {
		mu.Lock()
		failures[sink]++
		lastErr = err
		mu.Unlock()
	}))
	f.Add(bad)
	f.Add(good)

	f.Publish(alert("x"))
	f.Publish(alert("y"))
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if got := good.ids(); len(got) != 2 {
		t.Errorf("good sink should receive both alerts, got %v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if failures["bad"] != 2 {
		t.Errorf("expected 2 recorded failures for bad sink, got %d", failures["bad"])
	}
	if failures["good"] != 0 {
		t.Errorf("good sink should not record failures, got %d", failures["good"])
	}
	if !errors.Is(lastErr, ErrSinkUnavailable) {
		t.Errorf("expected ErrSinkUnavailable, got %v", lastErr)
	}
}

func TestCloseDrainsQueues(t *testing.T) {
	sink := &fakeSink{name: "s"}
	f := NewFanout(16)
	f.Add(sink)

	for i := 0; i < 10; i++ {
		f.Publish(alert("a"))
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := len(sink.ids()); got != 10 {
		t.Errorf("expected all queued alerts drained on close, got %d", got)
	}
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	sink := &fakeSink{name: "s"}
	f := NewFanout(4)
	f.Add(sink)
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f.Publish(alert("late")) // must not panic
	f.Add(&fakeSink{name: "ignored"})
	if err := f.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if got := len(sink.ids()); got != 0 {
		t.Errorf("no alerts should be delivered after close, got %d", got)
	}
}

func TestLogSinkNeverFails(t *testing.T) {
	s := LogSink{}
	if s.Name() != "log" {
		t.Errorf("unexpected name %s", s.Name())
	}
	a := alert("x")
	a.Severity = correlate.SeverityCritical
	if err := s.Publish(a); err != nil {
		t.Errorf("Publish failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
