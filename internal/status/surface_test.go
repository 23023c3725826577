package status

import (
	"sync"
	"testing"
	"time"

	"gate-service/internal/domain/access"
)

func TestSurface_StartsIdle(t *testing.T) {
	s := NewSurface()
	if got := s.Current(); got.Status != access.PhaseIdle || got.Message != IdleMessage {
		t.Errorf("unexpected initial snapshot %+v", got)
	}
}

func TestSurface_PublishOverwrites(t *testing.T) {
	s := NewSurface()
	s.Publish(access.Snapshot{Status: access.PhaseProcessing, Message: "working"})
	s.Publish(access.Snapshot{Status: access.PhaseApproved, Message: "ok", Plate: "ABC1234"})

	got := s.Current()
	if got.Status != access.PhaseApproved || got.Plate != "ABC1234" {
		t.Errorf("expected latest snapshot, got %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be stamped")
	}
}

func TestSurface_SubscriberSeesLatestWithoutBlocking(t *testing.T) {
	s := NewSurface()
	ch, cancel := s.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Publish(access.Snapshot{Status: access.PhaseProcessing})
		}
		s.Publish(access.Snapshot{Status: access.PhaseDenied})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	got := <-ch
	if got.Status != access.PhaseDenied {
		t.Errorf("expected the newest snapshot, got %s", got.Status)
	}
}

func TestSurface_Unsubscribe(t *testing.T) {
	s := NewSurface()
	_, cancel := s.Subscribe()
	if s.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	cancel()
	cancel()
	if s.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", s.Subscribers())
	}
}

func TestSurface_ConcurrentReaders(t *testing.T) {
	s := NewSurface()
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					snap := s.Current()
					if snap.Status == "" {
						t.Error("observed empty snapshot")
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 1000; i++ {
		s.Publish(access.Snapshot{Status: access.PhaseCapturingDriver, Message: "m"})
	}
	close(stop)
	wg.Wait()
}
