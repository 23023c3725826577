// Package status holds the latest session snapshot for polling and streaming clients.
package status

import (
	"sync"
	"sync/atomic"
	"time"

	"gate-service/internal/domain/access"
)

const IdleMessage = "Please approach the sensor to start the capture."

// Idle is the snapshot shown between sessions.
func Idle() access.Snapshot {
	return access.Snapshot{
		Status:    access.PhaseIdle,
		Message:   IdleMessage,
		UpdatedAt: time.Now(),
	}
}

// Surface is a single overwritten snapshot. Snapshots are swapped atomically,
// so readers never block the writer and never observe a half-written record.
type Surface struct {
	current atomic.Pointer[access.Snapshot]

	mu     sync.RWMutex
	subs   map[int]chan access.Snapshot
	nextID int
}

func NewSurface() *Surface {
	s := &Surface{subs: make(map[int]chan access.Snapshot)}
	idle := Idle()
	s.current.Store(&idle)
	return s
}

func (s *Surface) Current() access.Snapshot {
	return *s.current.Load()
}

// Publish replaces the snapshot and notifies subscribers. A subscriber that has
// not consumed the previous snapshot gets it replaced by this one.
func (s *Surface) Publish(snap access.Snapshot) {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}
	s.current.Store(&snap)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		for {
			select {
			case ch <- snap:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Subscribe returns a channel that receives the current snapshot immediately
// and every later one. The returned func unsubscribes.
func (s *Surface) Subscribe() (<-chan access.Snapshot, func()) {
	ch := make(chan access.Snapshot, 1)
	ch <- s.Current()

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (s *Surface) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
