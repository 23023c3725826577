package hardware

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const distancePrefix = "DISTANCE:"

// ParseDistance extracts the centimeter reading from a DISTANCE:<int> line.
// Any other line, or a malformed integer, yields ok=false.
func ParseDistance(line string) (cm int, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(line), distancePrefix)
	if !found {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0, false
	}
	return v, true
}

type Edge int

const (
	EdgeNone Edge = iota
	// EdgeArrived fires when a sample drops below the threshold while absent.
	EdgeArrived
	// EdgeLeft fires when a sample is at or above the threshold while present.
	EdgeLeft
)

func (e Edge) String() string {
	switch e {
	case EdgeArrived:
		return "arrived"
	case EdgeLeft:
		return "left"
	}
	return "none"
}

// Presence turns distance samples into edges. Repeated samples on the same side
// of the threshold produce no further edges.
type Presence struct {
	threshold int
	present   atomic.Bool
}

func NewPresence(thresholdCM int) *Presence {
	return &Presence{threshold: thresholdCM}
}

// Observe must only be called from the telemetry reader.
func (p *Presence) Observe(cm int) Edge {
	if cm < p.threshold {
		if !p.present.Load() {
			p.present.Store(true)
			return EdgeArrived
		}
		return EdgeNone
	}
	if p.present.Load() {
		p.present.Store(false)
		return EdgeLeft
	}
	return EdgeNone
}

// Listen drains telemetry until ctx is done, calling handle for every presence
// edge. Transport errors are logged and the loop keeps reading.
func (l *Link) Listen(ctx context.Context, presence *Presence, handle func(Edge)) error {
	for {
		line, err := l.ReceiveLine(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrTransport) {
				l.log.Error().Err(err).Msg("telemetry read failed")
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			continue
		}

		cm, ok := ParseDistance(line)
		if !ok {
			continue
		}
		l.log.Debug().Int("distance_cm", cm).Msg("distance received")

		if edge := presence.Observe(cm); edge != EdgeNone {
			l.log.Info().Stringer("edge", edge).Int("distance_cm", cm).Msg("presence changed")
			handle(edge)
		}
	}
}
