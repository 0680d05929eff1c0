package server

import (
	"bytes"
	"net/http"
	"os"
	"testing"
)

func newTestReceiver(t *testing.T, maxPiece, maxArtifact int64) *ChunkReceiver {
	t.Helper()
	receiver, err := NewChunkReceiver(t.TempDir(), maxPiece, maxArtifact, nil)
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}
	return receiver
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	return httpStatusFromError(err)
}

func TestWritePieceSequential(t *testing.T) {
	receiver := newTestReceiver(t, 0, 0)
	artifact := bytes.Repeat([]byte("abcdefgh"), 32) // 256 bytes

	received, err := receiver.WritePiece("sess-a", 0, 256, artifact[:100])
	if err != nil {
		t.Fatalf("first piece: %v", err)
	}
	if received != 100 {
		t.Fatalf("received = %d", received)
	}

	received, err = receiver.WritePiece("sess-a", 100, 256, artifact[100:200])
	if err != nil {
		t.Fatalf("second piece: %v", err)
	}
	if received != 200 {
		t.Fatalf("received = %d", received)
	}

	received, err = receiver.WritePiece("sess-a", 200, 256, artifact[200:])
	if err != nil {
		t.Fatalf("last piece: %v", err)
	}
	if received != 256 {
		t.Fatalf("received = %d", received)
	}

	path, complete, err := receiver.Complete("sess-a")
	if err != nil || !complete {
		t.Fatalf("complete = %v, %v", complete, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read assembled: %v", err)
	}
	if !bytes.Equal(data, artifact) {
		t.Fatal("assembled bytes differ from the original")
	}
}

func TestWritePieceRedeliveryIsIdempotent(t *testing.T) {
	receiver := newTestReceiver(t, 0, 0)
	artifact := bytes.Repeat([]byte("x"), 64)

	if _, err := receiver.WritePiece("sess-b", 0, 64, artifact[:32]); err != nil {
		t.Fatalf("piece: %v", err)
	}
	// Same range again, as after a lost acknowledgement.
	received, err := receiver.WritePiece("sess-b", 0, 64, artifact[:32])
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if received != 32 {
		t.Fatalf("received = %d", received)
	}

	if _, err := receiver.WritePiece("sess-b", 32, 64, artifact[32:]); err != nil {
		t.Fatalf("tail: %v", err)
	}
	path, complete, _ := receiver.Complete("sess-b")
	if !complete {
		t.Fatal("session incomplete after redelivery")
	}
	data, _ := os.ReadFile(path)
	if !bytes.Equal(data, artifact) {
		t.Fatal("redelivery corrupted the artifact")
	}
}

func TestWritePieceRejectsGap(t *testing.T) {
	receiver := newTestReceiver(t, 0, 0)

	if _, err := receiver.WritePiece("sess-c", 0, 100, make([]byte, 10)); err != nil {
		t.Fatalf("piece: %v", err)
	}
	_, err := receiver.WritePiece("sess-c", 50, 100, make([]byte, 10))
	if status := statusOf(t, err); status != http.StatusConflict {
		t.Fatalf("gap status = %d, want 409", status)
	}
}

func TestWritePieceLimits(t *testing.T) {
	receiver := newTestReceiver(t, 16, 100)

	_, err := receiver.WritePiece("sess-d", 0, 100, make([]byte, 32))
	if status := statusOf(t, err); status != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized piece status = %d, want 413", status)
	}

	_, err = receiver.WritePiece("sess-d", 0, 1000, make([]byte, 8))
	if status := statusOf(t, err); status != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized artifact status = %d, want 413", status)
	}

	_, err = receiver.WritePiece("sess-d", 96, 100, make([]byte, 8))
	if status := statusOf(t, err); status != http.StatusBadRequest {
		t.Fatalf("overrun status = %d, want 400", status)
	}
}

func TestWritePieceRejectsUnsafeSessionIDs(t *testing.T) {
	receiver := newTestReceiver(t, 0, 0)

	for _, id := range []string{"", "../../etc/passwd", "a/b", "x y", "id\x00"} {
		if _, err := receiver.WritePiece(id, 0, 10, make([]byte, 10)); err == nil {
			t.Fatalf("session id %q accepted", id)
		}
		if _, err := receiver.Offset(id); err == nil {
			t.Fatalf("offset for %q accepted", id)
		}
	}
}

func TestWritePieceTotalSizeMismatch(t *testing.T) {
	receiver := newTestReceiver(t, 0, 0)

	if _, err := receiver.WritePiece("sess-e", 0, 100, make([]byte, 10)); err != nil {
		t.Fatalf("piece: %v", err)
	}
	_, err := receiver.WritePiece("sess-e", 10, 200, make([]byte, 10))
	if status := statusOf(t, err); status != http.StatusConflict {
		t.Fatalf("mismatch status = %d, want 409", status)
	}
}

func TestOffsetSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	receiver, err := NewChunkReceiver(dir, 0, 0, nil)
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}
	if _, err := receiver.WritePiece("sess-f", 0, 100, make([]byte, 40)); err != nil {
		t.Fatalf("piece: %v", err)
	}

	// A fresh receiver over the same spool recovers the session state.
	restarted, err := NewChunkReceiver(dir, 0, 0, nil)
	if err != nil {
		t.Fatalf("restart receiver: %v", err)
	}
	received, err := restarted.Offset("sess-f")
	if err != nil {
		t.Fatalf("offset: %v", err)
	}
	if received != 40 {
		t.Fatalf("received after restart = %d, want 40", received)
	}

	if _, err := restarted.WritePiece("sess-f", 40, 100, make([]byte, 60)); err != nil {
		t.Fatalf("resume piece: %v", err)
	}
	_, complete, err := restarted.Complete("sess-f")
	if err != nil || !complete {
		t.Fatalf("complete = %v, %v", complete, err)
	}
}

func TestOffsetUnknownSessionIsZero(t *testing.T) {
	receiver := newTestReceiver(t, 0, 0)
	received, err := receiver.Offset("sess-never")
	if err != nil {
		t.Fatalf("offset: %v", err)
	}
	if received != 0 {
		t.Fatalf("received = %d", received)
	}
}

func TestDiscardRemovesSession(t *testing.T) {
	receiver := newTestReceiver(t, 0, 0)
	if _, err := receiver.WritePiece("sess-g", 0, 10, make([]byte, 10)); err != nil {
		t.Fatalf("piece: %v", err)
	}
	if err := receiver.Discard("sess-g"); err != nil {
		t.Fatalf("discard: %v", err)
	}
	received, err := receiver.Offset("sess-g")
	if err != nil || received != 0 {
		t.Fatalf("after discard: received=%d err=%v", received, err)
	}
}
