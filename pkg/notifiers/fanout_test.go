package notifiers

import (
	"context"
	"errors"
	"testing"
)

type stubNotifier struct {
	id       string
	typ      string
	err      error
	calls    int
	closed   bool
	closeErr error
}

func (s *stubNotifier) ID() string   { return s.id }
func (s *stubNotifier) Type() string { return s.typ }
func (s *stubNotifier) Notify(context.Context, Event) error {
	s.calls++
	return s.err
}
func (s *stubNotifier) Close() error {
	s.closed = true
	return s.closeErr
}

func TestFanoutNotifyAggregatesErrors(t *testing.T) {
	ok := &stubNotifier{id: "ok", typ: "http"}
	bad := &stubNotifier{id: "bad", typ: "http", err: errors.New("failed")}
	fanout := NewFanout([]Notifier{ok, nil, bad}, nil)

	if fanout.Size() != 2 {
		t.Fatalf("expected nil notifiers to be dropped, size=%d", fanout.Size())
	}
	count, err := fanout.Notify(context.Background(), Event{TaskID: "t"})
	if count != 1 {
		t.Fatalf("expected 1 success, got %d", count)
	}
	if err == nil {
		t.Fatalf("expected aggregated error")
	}
	if ok.calls != 1 || bad.calls != 1 {
		t.Fatalf("every notifier should be attempted: ok=%d bad=%d", ok.calls, bad.calls)
	}
}

func TestFanoutCloseClosesClosers(t *testing.T) {
	a := &stubNotifier{id: "a", typ: "pubsub"}
	b := &stubNotifier{id: "b", typ: "pubsub", closeErr: errors.New("stuck")}
	err := NewFanout([]Notifier{a, b}, nil).Close()
	if !a.closed || !b.closed {
		t.Fatalf("expected both notifiers closed")
	}
	if err == nil {
		t.Fatalf("expected close error to surface")
	}
}

func TestNilFanoutIsInert(t *testing.T) {
	var f *Fanout
	if n, err := f.Notify(context.Background(), Event{}); n != 0 || err != nil {
		t.Fatalf("nil fanout Notify = %d, %v", n, err)
	}
	if f.Size() != 0 || f.Close() != nil {
		t.Fatalf("nil fanout should be inert")
	}
}

func TestBuildAllWithDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()
	ns, err := BuildAll(context.Background(), reg, []NotifierConfig{
		{ID: "http", Type: TypeHTTP, HTTP: &HTTPNotifierConfig{URL: "https://example.com"}},
	}, nil)
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}
	if len(ns) != 1 || ns[0].Type() != TypeHTTP {
		t.Fatalf("unexpected notifiers %#v", ns)
	}

	if _, err := BuildAll(context.Background(), reg, []NotifierConfig{{ID: "x", Type: "kafka"}}, nil); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}
