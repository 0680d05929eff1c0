// Package capture wraps a device audio stream in a recording session state
// machine and keeps the capture trigger consistent with authorization state.
package capture

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is a recording session lifecycle state. States are mutually
// exclusive; all moves go through one transition function.
type State string

const (
	StateIdle               State = "idle"
	StateAwaitingPermission State = "awaiting_permission"
	StateArmed              State = "armed"
	StateRecording          State = "recording"
	StatePaused             State = "paused"
	StateFinalizing         State = "finalizing"
	StateComplete           State = "complete"
	StateError              State = "error"
)

var allowedTransitions = map[State][]State{
	StateIdle:               {StateAwaitingPermission},
	StateAwaitingPermission: {StateArmed, StateIdle},
	StateArmed:              {StateRecording},
	StateRecording:          {StatePaused, StateFinalizing},
	StatePaused:             {StateRecording, StateFinalizing},
	StateFinalizing:         {StateComplete},
	StateComplete:           {StateIdle},
	StateError:              {StateIdle},
}

// Artifact is the finalized output of one recording session.
type Artifact struct {
	Bytes     []byte
	MediaType string
	Duration  time.Duration
}

// Session drives one capture device through a bounded recording. At most
// one recording is active per Session; a redundant Start is a no-op.
type Session struct {
	device  Device
	ceiling time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu           sync.Mutex
	state        State
	pieces       [][]byte
	total        int
	deviceErr    error
	startedAt    time.Time
	recordedFor  time.Duration
	resumedAt    time.Time
	ceilingTimer *time.Timer
	finalized    *Artifact
}

// NewSession creates a session over the given device. The ceiling is a hard
// wall-clock bound: when it elapses the session stops itself regardless of
// device behavior.
func NewSession(device Device, ceiling time.Duration, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		device:  device,
		ceiling: ceiling,
		logger:  logger.With("component", "capture"),
		now:     time.Now,
		state:   StateIdle,
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition is the single place session state changes. Unlisted moves are
// rejected; moving into StateError is always allowed.
func (s *Session) transitionLocked(to State) error {
	if to == StateError {
		s.state = StateError
		return nil
	}
	for _, allowed := range allowedTransitions[s.state] {
		if allowed == to {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("invalid capture transition %s -> %s", s.state, to)
}

// Start requests device access and begins recording. Calling Start while a
// recording is in flight is a no-op.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		s.logger.Debug("start ignored", "state", string(s.state))
		return nil
	}
	if err := s.transitionLocked(StateAwaitingPermission); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	// Device access may block on a user grant; don't hold the lock.
	if err := s.device.Acquire(); err != nil {
		s.mu.Lock()
		_ = s.transitionLocked(StateError)
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(StateArmed); err != nil {
		return err
	}
	if err := s.device.Start(s.onPiece, s.onDeviceError); err != nil {
		_ = s.transitionLocked(StateError)
		return err
	}
	if err := s.transitionLocked(StateRecording); err != nil {
		return err
	}

	s.pieces = nil
	s.total = 0
	s.deviceErr = nil
	s.finalized = nil
	s.recordedFor = 0
	s.startedAt = s.now()
	s.resumedAt = s.startedAt
	if s.ceiling > 0 {
		s.ceilingTimer = time.AfterFunc(s.ceiling, func() {
			s.logger.Warn("recording ceiling reached", "ceiling", s.ceiling)
			_, _ = s.Stop()
		})
	}
	s.logger.Info("recording started", "media_type", s.device.MediaType())
	return nil
}

// Pause suspends accumulation without discarding captured data.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(StatePaused); err != nil {
		return err
	}
	s.recordedFor += s.now().Sub(s.resumedAt)
	return nil
}

// Resume continues a paused recording.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return fmt.Errorf("invalid capture transition %s -> %s", s.state, StateRecording)
	}
	if err := s.transitionLocked(StateRecording); err != nil {
		return err
	}
	s.resumedAt = s.now()
	return nil
}

// Stop releases the device and finalizes the session. Whatever was captured
// is concatenated into one artifact; a device error observed mid-recording
// is returned alongside the partial artifact rather than discarding it.
func (s *Session) Stop() (*Artifact, error) {
	s.mu.Lock()
	switch s.state {
	case StateRecording:
		s.recordedFor += s.now().Sub(s.resumedAt)
	case StatePaused:
	case StateError:
		// Device already failed; finalize whatever made it into the buffer.
	case StateComplete:
		// The ceiling timer already stopped the recording; hand over the
		// artifact it produced.
		artifact := s.finalized
		s.mu.Unlock()
		if artifact == nil {
			return nil, fmt.Errorf("no recording to stop in state %s", StateComplete)
		}
		return artifact, nil
	default:
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("no recording to stop in state %s", state)
	}
	if s.ceilingTimer != nil {
		s.ceilingTimer.Stop()
		s.ceilingTimer = nil
	}
	if s.state != StateError {
		if err := s.transitionLocked(StateFinalizing); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	deviceErr := s.deviceErr
	s.mu.Unlock()

	stopErr := s.device.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	artifact := &Artifact{
		Bytes:     concat(s.pieces, s.total),
		MediaType: s.device.MediaType(),
		Duration:  s.recordedFor,
	}
	s.pieces = nil
	s.total = 0
	s.finalized = artifact

	if s.state != StateError {
		if err := s.transitionLocked(StateComplete); err != nil {
			return nil, err
		}
	}
	s.logger.Info("recording finalized",
		"bytes", len(artifact.Bytes),
		"duration", artifact.Duration,
		"device_error", deviceErr != nil)

	if deviceErr != nil {
		if len(artifact.Bytes) == 0 {
			return nil, deviceErr
		}
		return artifact, deviceErr
	}
	if stopErr != nil && len(artifact.Bytes) == 0 {
		return nil, stopErr
	}
	return artifact, nil
}

// Reset returns a completed or failed session to idle for reuse.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateComplete, StateError:
		s.finalized = nil
		return s.transitionLocked(StateIdle)
	case StateIdle:
		return nil
	default:
		return fmt.Errorf("cannot reset capture session in state %s", s.state)
	}
}

func (s *Session) onPiece(piece []byte) {
	if len(piece) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// While paused the device may still deliver buffered frames; they are
	// dropped, matching a muted recorder.
	if s.state != StateRecording && s.state != StateFinalizing {
		return
	}
	buf := make([]byte, len(piece))
	copy(buf, piece)
	s.pieces = append(s.pieces, buf)
	s.total += len(buf)
}

func (s *Session) onDeviceError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deviceErr == nil {
		s.deviceErr = err
	}
	s.logger.Error("capture device failed", "error", err, "captured_bytes", s.total)
	_ = s.transitionLocked(StateError)
}

func concat(pieces [][]byte, total int) []byte {
	out := make([]byte, 0, total)
	for _, piece := range pieces {
		out = append(out, piece...)
	}
	return out
}
