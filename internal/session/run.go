package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gate-service/internal/camera"
	"gate-service/internal/domain/access"
	"gate-service/internal/identity"
	"gate-service/internal/matcher"
	"gate-service/internal/status"
	"gate-service/internal/utils"
	"gate-service/internal/vision"
)

var errNoDirectory = errors.New("session: vehicle directory not configured")

// run is one access attempt. It is owned by a single goroutine.
type run struct {
	o       *Orchestrator
	id      string
	gen     uint64
	flow    access.Flow
	started time.Time
	log     zerolog.Logger

	plate         string
	imageURL      string
	plateImageURL string
	tempKeys      []string
}

// result is a terminal phase and the command that announces it.
type result struct {
	phase    access.Phase
	command  access.Command
	message  string
	decision access.Decision
	match    *access.MatchResult
	imageKey string
}

func (s *run) execute(ctx context.Context) {
	defer s.cleanup()

	var (
		res result
		err error
	)
	switch s.flow {
	case access.FlowAnonymous:
		res, err = s.anonymous(ctx)
	default:
		res, err = s.vehicle(ctx)
	}
	if ctx.Err() != nil {
		s.log.Info().Msg("session abandoned")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("session failed")
		res = result{phase: access.PhaseError, command: access.CommandDeny, message: errorMessage(err)}
	}

	current := s.o.apply(s.gen, func() {
		s.publishLocked(res.phase, res.message)
	})
	if !current {
		s.log.Info().Str("phase", string(res.phase)).Msg("stale result discarded")
		return
	}
	timer := time.NewTimer(s.o.cfg.DisplayDelay)
	defer timer.Stop()
	s.o.send(s.gen, res.command)

	outcome := access.Outcome{
		SessionID:  s.id,
		Flow:       s.flow,
		Phase:      res.phase,
		Plate:      s.plate,
		Decision:   res.decision,
		Match:      res.match,
		Message:    res.message,
		ImageKey:   res.imageKey,
		StartedAt:  s.started,
		FinishedAt: time.Now(),
	}
	s.log.Info().
		Str("phase", string(res.phase)).
		Str("plate", s.plate).
		Str("command", string(res.command)).
		Dur("elapsed", outcome.FinishedAt.Sub(s.started)).
		Msg("session finished")
	s.o.wg.Add(1)
	go func() {
		defer s.o.wg.Done()
		s.o.notify(outcome)
	}()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	s.o.finish(s.gen)
}

func (s *run) vehicle(ctx context.Context) (result, error) {
	d := s.o.deps
	if d.Vehicles == nil {
		return result{}, errNoDirectory
	}

	s.enter(access.PhaseCapturingPlate, "Reading the license plate...")
	plate, frame, err := s.readPlate(ctx)
	if errors.Is(err, camera.ErrDetectionTimeout) {
		return result{
			phase:   access.PhaseNoPlateDetected,
			command: access.CommandDeny,
			message: "No license plate detected.",
		}, nil
	}
	if err != nil {
		return result{}, err
	}
	if err := ctx.Err(); err != nil {
		return result{}, err
	}
	s.plate = plate
	s.log.Info().Str("plate", plate).Msg("plate read")

	plateKey, err := s.hold(ctx, plate+"_plate_", frame.Data)
	if err != nil {
		return result{}, err
	}
	s.plateImageURL = status.ImageURL(access.CorpusTemp, plateKey)

	registered, err := d.Vehicles.IsRegistered(ctx, plate)
	if err != nil {
		return result{}, fmt.Errorf("vehicle lookup: %w", err)
	}
	if !registered {
		return result{
			phase:   access.PhaseVehicleNotRegistered,
			command: access.CommandNotRegistered,
			message: fmt.Sprintf("Vehicle %s is not registered.", plate),
		}, nil
	}
	s.enter(access.PhaseVehicleRegistered, fmt.Sprintf("Vehicle %s registered.", plate))

	s.enter(access.PhaseCapturingDriver, "Please look at the camera.")
	face, err := d.Camera.Poll(ctx, s.o.cfg.DetectionTimeout, d.Inspect)
	if errors.Is(err, camera.ErrDetectionTimeout) {
		return result{
			phase:   access.PhaseNoFaceDetected,
			command: access.CommandDeny,
			message: "No face detected.",
		}, nil
	}
	if err != nil {
		return result{}, err
	}
	if err := ctx.Err(); err != nil {
		return result{}, err
	}

	probeKey, err := s.hold(ctx, identity.CapturedPrefix(plate), face.Data)
	if err != nil {
		return result{}, err
	}
	s.imageURL = status.ImageURL(access.CorpusTemp, probeKey)
	s.processing()

	probe, err := d.ProbeEmbedder.Embed(ctx, face.Data)
	if err != nil {
		return result{}, fmt.Errorf("embed probe: %w", err)
	}

	var candidates []identity.Record
	rec, err := d.Store.Lookup(ctx, access.CorpusRegistered, plate)
	switch {
	case err == nil:
		candidates = append(candidates, rec)
	case !errors.Is(err, identity.ErrNotFound):
		return result{}, err
	}
	captured, err := d.Store.ListCandidates(ctx, access.CorpusCaptured, identity.CapturedPrefix(plate))
	if err != nil {
		return result{}, err
	}
	candidates = append(candidates, captured...)

	match, err := s.match(ctx, probe, candidates)
	if err != nil {
		return result{}, err
	}
	decision := matcher.SingleThreshold{High: s.o.cfg.HighThreshold}.Decide(&match)
	if decision == access.DecisionAccept {
		return result{
			phase:    access.PhaseApproved,
			command:  access.CommandGrant,
			message:  "Access granted: driver recognized.",
			decision: decision,
			match:    &match,
			imageKey: match.BestKey,
		}, nil
	}

	// Unknown drivers of registered vehicles are let through and remembered.
	key, err := d.Store.Persist(ctx, access.CorpusCaptured, identity.CapturedPrefix(plate), face.Data)
	if err != nil {
		return result{}, err
	}
	s.imageURL = status.ImageURL(access.CorpusCaptured, key)
	return result{
		phase:    access.PhaseApproved,
		command:  access.CommandGrant,
		message:  "Access granted: driver not previously registered.",
		decision: decision,
		match:    &match,
		imageKey: key,
	}, nil
}

func (s *run) anonymous(ctx context.Context) (result, error) {
	d := s.o.deps

	s.enter(access.PhaseCapturingDriver, "Please look at the camera.")
	face, err := d.Camera.Poll(ctx, s.o.cfg.DetectionTimeout, d.Inspect)
	if errors.Is(err, camera.ErrDetectionTimeout) {
		return result{
			phase:   access.PhaseNoFaceDetected,
			command: access.CommandDeny,
			message: "No face detected.",
		}, nil
	}
	if err != nil {
		return result{}, err
	}
	if err := ctx.Err(); err != nil {
		return result{}, err
	}

	tempKey, err := s.hold(ctx, "", face.Data)
	if err != nil {
		return result{}, err
	}
	s.imageURL = status.ImageURL(access.CorpusTemp, tempKey)
	s.processing()

	probe, err := d.ProbeEmbedder.Embed(ctx, face.Data)
	if err != nil {
		return result{}, fmt.Errorf("embed probe: %w", err)
	}
	candidates, err := d.Store.ListCandidates(ctx, access.CorpusCaptured, "")
	if err != nil {
		return result{}, err
	}
	match, err := s.match(ctx, probe, candidates)
	if err != nil {
		return result{}, err
	}

	policy := matcher.ThreeWay{High: s.o.cfg.HighThreshold, Low: s.o.cfg.LowThreshold}
	res := result{decision: policy.Decide(&match), match: &match}
	s.log.Info().
		Str("decision", string(res.decision)).
		Float64("score", match.BestScore).
		Int("candidates", match.Candidates).
		Msg("probe matched")

	switch res.decision {
	case access.DecisionEnroll:
		key, err := d.Store.Persist(ctx, access.CorpusCaptured, "", face.Data)
		if err != nil {
			return result{}, err
		}
		s.imageURL = status.ImageURL(access.CorpusCaptured, key)
		res.phase, res.command, res.imageKey = access.PhaseEnrolled, access.CommandDeny, key
		res.message = "First sighting: face enrolled."
	case access.DecisionAccept:
		s.imageURL = status.ImageURL(match.Corpus, match.BestKey)
		res.phase, res.command, res.imageKey = access.PhaseApproved, access.CommandGrant, match.BestKey
		res.message = "Access granted."
	case access.DecisionUncertain:
		key, err := d.Store.MoveToUnrecognized(ctx, tempKey)
		if err != nil {
			return result{}, err
		}
		s.forget(tempKey)
		s.imageURL = status.ImageURL(access.CorpusUnrecognized, key)
		res.phase, res.command, res.imageKey = access.PhaseDenied, access.CommandDeny, key
		res.message = "Access denied: identity could not be confirmed."
	default:
		res.phase, res.command = access.PhaseDenied, access.CommandDeny
		res.message = "Access denied."
	}
	return res, nil
}

// readPlate holds the camera until OCR yields a plate or the phase times out.
func (s *run) readPlate(ctx context.Context) (string, camera.Frame, error) {
	var plate string
	frame, err := s.o.deps.Camera.Poll(ctx, s.o.cfg.DetectionTimeout, func(ctx context.Context, f camera.Frame) (bool, error) {
		text, err := s.o.deps.Reader.ReadText(ctx, f.Data)
		if err != nil {
			return false, err
		}
		p, ok := utils.ExtractPlate(text)
		if ok {
			plate = p
		}
		return ok, nil
	})
	return plate, frame, err
}

// match fails when no candidate could be embedded, so an unreachable
// recognition service never reads as an unknown face. Nothing is decided for a
// session that was cancelled meanwhile.
func (s *run) match(ctx context.Context, probe vision.Vector, candidates []identity.Record) (access.MatchResult, error) {
	res, err := s.o.deps.Matcher.Match(ctx, probe, candidates)
	if err != nil {
		return res, fmt.Errorf("match %d candidates: %w", len(candidates), err)
	}
	return res, ctx.Err()
}

func (s *run) enter(phase access.Phase, message string) {
	s.o.apply(s.gen, func() {
		s.publishLocked(phase, message)
	})
	s.log.Debug().Str("phase", string(phase)).Msg("phase entered")
}

func (s *run) processing() {
	s.o.apply(s.gen, func() {
		s.publishLocked(access.PhaseProcessing, "Processing recognition...")
	})
	s.o.send(s.gen, access.CommandProcessing)
}

func (s *run) publishLocked(phase access.Phase, message string) {
	s.o.deps.Status.Publish(access.Snapshot{
		Status:        phase,
		Message:       message,
		ImageURL:      s.imageURL,
		PlateImageURL: s.plateImageURL,
		Plate:         s.plate,
		SessionID:     s.id,
	})
}

// hold stores an image in the temp area for the lifetime of the session.
func (s *run) hold(ctx context.Context, prefix string, image []byte) (string, error) {
	key, err := s.o.deps.Store.Persist(ctx, access.CorpusTemp, prefix, image)
	if err != nil {
		return "", err
	}
	s.tempKeys = append(s.tempKeys, key)
	return key, nil
}

func (s *run) forget(key string) {
	for i, k := range s.tempKeys {
		if k == key {
			s.tempKeys = append(s.tempKeys[:i], s.tempKeys[i+1:]...)
			return
		}
	}
}

func (s *run) cleanup() {
	if len(s.tempKeys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, key := range s.tempKeys {
		err := s.o.deps.Store.Discard(ctx, access.CorpusTemp, key)
		if err != nil && !errors.Is(err, identity.ErrNotFound) {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to discard temp image")
		}
	}
	s.tempKeys = nil
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, camera.ErrCaptureFailed):
		return "Error capturing the image."
	case errors.Is(err, identity.ErrPersistence):
		return "Error saving the image."
	case errors.Is(err, vision.ErrUnavailable), errors.Is(err, matcher.ErrNoEmbeddings):
		return "Recognition service unavailable."
	}
	return "Error processing the access request."
}
