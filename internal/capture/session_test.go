package capture

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeDevice hands control of piece and error delivery to the test.
type fakeDevice struct {
	mu         sync.Mutex
	acquireErr error
	onPiece    func([]byte)
	onError    func(error)
	started    bool
	stopped    bool
}

func (d *fakeDevice) Acquire() error { return d.acquireErr }

func (d *fakeDevice) Start(onPiece func([]byte), onError func(error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onPiece = onPiece
	d.onError = onError
	d.started = true
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}

func (d *fakeDevice) MediaType() string { return "audio/webm" }

func (d *fakeDevice) emit(piece []byte) {
	d.mu.Lock()
	onPiece := d.onPiece
	d.mu.Unlock()
	onPiece(piece)
}

func (d *fakeDevice) fail(err error) {
	d.mu.Lock()
	onError := d.onError
	d.mu.Unlock()
	onError(err)
}

func TestSessionRecordsAndFinalizes(t *testing.T) {
	device := &fakeDevice{}
	session := NewSession(device, 0, nil)

	if err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := session.State(); got != StateRecording {
		t.Fatalf("state = %s", got)
	}

	device.emit([]byte("abc"))
	device.emit([]byte("def"))

	artifact, err := session.Stop()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !bytes.Equal(artifact.Bytes, []byte("abcdef")) {
		t.Fatalf("artifact = %q", artifact.Bytes)
	}
	if artifact.MediaType != "audio/webm" {
		t.Fatalf("media type = %s", artifact.MediaType)
	}
	if got := session.State(); got != StateComplete {
		t.Fatalf("state = %s", got)
	}
	if !device.stopped {
		t.Fatal("device not released")
	}
}

func TestRedundantStartIsNoOp(t *testing.T) {
	device := &fakeDevice{}
	session := NewSession(device, 0, nil)

	if err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	device.emit([]byte("xyz"))

	if err := session.Start(); err != nil {
		t.Fatalf("redundant start should be a no-op, got %v", err)
	}

	artifact, err := session.Stop()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !bytes.Equal(artifact.Bytes, []byte("xyz")) {
		t.Fatalf("redundant start discarded data: %q", artifact.Bytes)
	}
}

func TestPauseKeepsAccumulatedData(t *testing.T) {
	device := &fakeDevice{}
	session := NewSession(device, 0, nil)

	if err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	device.emit([]byte("keep-"))

	if err := session.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	device.emit([]byte("dropped"))
	if got := session.State(); got != StatePaused {
		t.Fatalf("state = %s", got)
	}

	if err := session.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	device.emit([]byte("more"))

	artifact, err := session.Stop()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !bytes.Equal(artifact.Bytes, []byte("keep-more")) {
		t.Fatalf("artifact = %q", artifact.Bytes)
	}
}

func TestDeviceErrorKeepsPartialAudio(t *testing.T) {
	device := &fakeDevice{}
	session := NewSession(device, 0, nil)

	if err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	device.emit([]byte("partial"))
	device.fail(errors.New("stream torn down"))

	if got := session.State(); got != StateError {
		t.Fatalf("state = %s", got)
	}

	artifact, err := session.Stop()
	if err == nil {
		t.Fatal("expected the device error to surface")
	}
	if artifact == nil || !bytes.Equal(artifact.Bytes, []byte("partial")) {
		t.Fatalf("partial audio was dropped: %#v", artifact)
	}
}

func TestAcquireFailureSurfacesDistinctError(t *testing.T) {
	device := &fakeDevice{acquireErr: ErrPermissionDenied}
	session := NewSession(device, 0, nil)

	err := session.Start()
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("start = %v, want ErrPermissionDenied", err)
	}
	if got := session.State(); got != StateError {
		t.Fatalf("state = %s", got)
	}

	if err := session.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := session.State(); got != StateIdle {
		t.Fatalf("state after reset = %s", got)
	}
}

func TestCeilingStopsRecording(t *testing.T) {
	device := &fakeDevice{}
	session := NewSession(device, 20*time.Millisecond, nil)

	if err := session.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	device.emit([]byte("bounded"))

	deadline := time.Now().Add(2 * time.Second)
	for session.State() != StateComplete {
		if time.Now().After(deadline) {
			t.Fatalf("ceiling did not stop the session, state = %s", session.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !device.stopped {
		t.Fatal("ceiling stop did not release the device")
	}

	// A Stop racing the ceiling still hands back the finalized artifact.
	artifact, err := session.Stop()
	if err != nil {
		t.Fatalf("stop after ceiling: %v", err)
	}
	if !bytes.Equal(artifact.Bytes, []byte("bounded")) {
		t.Fatalf("artifact = %q", artifact.Bytes)
	}

	if err := session.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := session.Stop(); err == nil {
		t.Fatal("expected error stopping after reset")
	}
}

func TestStopWithoutRecording(t *testing.T) {
	session := NewSession(&fakeDevice{}, 0, nil)
	if _, err := session.Stop(); err == nil {
		t.Fatal("expected error stopping an idle session")
	}
}
