// Package session drives one access attempt at a time, from the presence edge
// reported by the hardware link to a terminal outcome and back to idle.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gate-service/internal/camera"
	"gate-service/internal/domain/access"
	"gate-service/internal/hardware"
	"gate-service/internal/identity"
	"gate-service/internal/matcher"
	"gate-service/internal/status"
	"gate-service/internal/vision"
)

const (
	DefaultDetectionTimeout = 10 * time.Second
	DefaultDisplayDelay     = 5 * time.Second
)

// Camera is the part of camera.Resource a session drives.
type Camera interface {
	Poll(ctx context.Context, timeout time.Duration, accept camera.AcceptFunc) (camera.Frame, error)
	SetSessionActive(active bool)
}

// Commander sends tokens to the gate microcontroller.
type Commander interface {
	SendCommand(cmd access.Command)
}

// StatusPublisher receives every snapshot the session produces.
type StatusPublisher interface {
	Publish(snap access.Snapshot)
}

// VehicleDirectory answers whether a plate belongs to a registered vehicle.
type VehicleDirectory interface {
	IsRegistered(ctx context.Context, plate string) (bool, error)
}

// Observer is told about every session that reached a terminal phase.
type Observer interface {
	OnOutcome(ctx context.Context, outcome access.Outcome)
}

type Config struct {
	Flow             access.Flow
	DetectionTimeout time.Duration
	DisplayDelay     time.Duration
	HighThreshold    float64
	LowThreshold     float64
}

func (c *Config) applyDefaults() {
	if c.Flow == "" {
		c.Flow = access.FlowVehicle
	}
	if c.DetectionTimeout <= 0 {
		c.DetectionTimeout = DefaultDetectionTimeout
	}
	if c.DisplayDelay <= 0 {
		c.DisplayDelay = DefaultDisplayDelay
	}
	if c.HighThreshold == 0 {
		c.HighThreshold = matcher.DefaultHighThreshold
	}
	if c.LowThreshold == 0 {
		c.LowThreshold = matcher.DefaultLowThreshold
	}
}

// Deps are the collaborators of a session. Vehicles is only consulted by the
// vehicle flow. ProbeEmbedder embeds the live probe and Matcher embeds
// candidates, so a cache can sit in front of the latter only.
type Deps struct {
	Camera        Camera
	Store         identity.Store
	Matcher       *matcher.Matcher
	ProbeEmbedder vision.Embedder
	Reader        vision.TextReader
	Inspect       camera.AcceptFunc
	Vehicles      VehicleDirectory
	Commander     Commander
	Status        StatusPublisher
	Observers     []Observer
}

// Orchestrator admits at most one session at a time. Every status update of a
// session is applied under mu and only while the session's generation is
// current, so a session abandoned on the absence edge can never overwrite a
// newer state. Commands are written outside mu: edge handling never waits on
// the serial transport.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	baseCtx    context.Context
	stop       context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	generation uint64
	active     bool
	cancel     context.CancelFunc

	// sendMu orders commands; it is never taken while holding mu.
	sendMu sync.Mutex
}

func New(cfg Config, deps Deps, log zerolog.Logger) *Orchestrator {
	cfg.applyDefaults()
	ctx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		log:     log,
		baseCtx: ctx,
		stop:    stop,
	}
}

// HandleEdge is the presence callback of the hardware link.
func (o *Orchestrator) HandleEdge(edge hardware.Edge) {
	switch edge {
	case hardware.EdgeArrived:
		o.start()
	case hardware.EdgeLeft:
		o.abort()
	}
}

func (o *Orchestrator) start() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active {
		o.log.Debug().Msg("presence edge ignored, session in progress")
		return
	}
	if o.baseCtx.Err() != nil {
		return
	}

	o.generation++
	o.active = true
	ctx, cancel := context.WithCancel(o.baseCtx)
	o.cancel = cancel
	o.deps.Camera.SetSessionActive(true)

	s := &run{
		o:       o,
		id:      uuid.NewString(),
		gen:     o.generation,
		flow:    o.cfg.Flow,
		started: time.Now(),
	}
	s.log = o.log.With().Str("session_id", s.id).Str("flow", string(s.flow)).Logger()
	s.log.Info().Msg("session started")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		s.execute(ctx)
	}()
}

func (o *Orchestrator) abort() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.active {
		return
	}
	o.generation++
	o.resetLocked()
	o.log.Info().Msg("absence detected, session aborted")
}

// resetLocked returns to idle. The caller holds mu.
func (o *Orchestrator) resetLocked() {
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.active = false
	o.deps.Camera.SetSessionActive(false)
	o.deps.Status.Publish(status.Idle())
}

// apply runs fn under mu if gen is still the current generation.
func (o *Orchestrator) apply(gen uint64, fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation {
		return false
	}
	fn()
	return true
}

func (o *Orchestrator) current(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return gen == o.generation
}

// send writes cmd if the session of gen is still current. A write that hangs
// only holds up later commands, never presence edges.
func (o *Orchestrator) send(gen uint64, cmd access.Command) {
	o.sendMu.Lock()
	defer o.sendMu.Unlock()
	if !o.current(gen) {
		return
	}
	o.deps.Commander.SendCommand(cmd)
}

// finish resets to idle when the session of gen is still current.
func (o *Orchestrator) finish(gen uint64) bool {
	return o.apply(gen, func() {
		o.generation++
		o.resetLocked()
	})
}

// Active reports whether a session is in progress.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Close cancels any running session and waits for it to exit.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.stop()
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Orchestrator) notify(outcome access.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, obs := range o.deps.Observers {
		obs.OnOutcome(ctx, outcome)
	}
}
