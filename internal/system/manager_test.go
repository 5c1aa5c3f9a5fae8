package system

import (
	"context"
	"errors"
	"testing"
)

type recordingService struct {
	name  string
	log   *[]string
	fail  bool
	stops int
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(ctx context.Context) error {
	*s.log = append(*s.log, "start:"+s.name)
	if s.fail {
		return errors.New("boom")
	}
	return nil
}

func (s *recordingService) Stop(ctx context.Context) error {
	s.stops++
	*s.log = append(*s.log, "stop:"+s.name)
	return nil
}

func TestManager_StartStopOrder(t *testing.T) {
	var events []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&recordingService{name: name, log: &events}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("expected %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, events)
		}
	}
}

func TestManager_StartFailureRollsBack(t *testing.T) {
	var events []string
	m := NewManager()
	ok := &recordingService{name: "ok", log: &events}
	bad := &recordingService{name: "bad", log: &events, fail: true}
	never := &recordingService{name: "never", log: &events}
	for _, svc := range []Service{ok, bad, never} {
		if err := m.Register(svc); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	if ok.stops != 1 {
		t.Fatalf("started service not rolled back, stops=%d", ok.stops)
	}
	if never.stops != 0 {
		t.Fatal("unstarted service must not be stopped")
	}
}

func TestManager_RejectsDuplicateAndLateRegistration(t *testing.T) {
	var events []string
	m := NewManager()
	if err := m.Register(&recordingService{name: "a", log: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(&recordingService{name: "a", log: &events}); err == nil {
		t.Fatal("expected duplicate name to be rejected")
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop(context.Background())
	if err := m.Register(&recordingService{name: "b", log: &events}); err == nil {
		t.Fatal("expected registration after start to be rejected")
	}
}
