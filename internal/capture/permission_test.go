package capture

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeAuthorizer struct {
	mu      sync.Mutex
	state   AuthState
	changes chan AuthState
}

func newFakeAuthorizer(initial AuthState) *fakeAuthorizer {
	return &fakeAuthorizer{state: initial, changes: make(chan AuthState, 4)}
}

func (a *fakeAuthorizer) State() AuthState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *fakeAuthorizer) Changes() <-chan AuthState { return a.changes }

func (a *fakeAuthorizer) set(state AuthState) {
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
	a.changes <- state
}

type fakeTrigger struct {
	mu      sync.Mutex
	enabled bool
}

func (t *fakeTrigger) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrigger) isEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestGuardDerivesEnabledFromAuthorization(t *testing.T) {
	auth := newFakeAuthorizer(AuthGranted)
	trigger := &fakeTrigger{}
	guard := NewPermissionGuard(auth, trigger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go guard.Run(ctx)

	waitFor(t, trigger.isEnabled, "trigger not enabled for granted auth")

	auth.set(AuthDenied)
	waitFor(t, func() bool { return !trigger.isEnabled() }, "trigger not disabled after denial")

	auth.set(AuthGranted)
	waitFor(t, trigger.isEnabled, "trigger not re-enabled after grant")
}

func TestGuardReassertsAgainstExternalWrites(t *testing.T) {
	auth := newFakeAuthorizer(AuthDenied)
	trigger := &fakeTrigger{}
	guard := NewPermissionGuard(auth, trigger, nil)
	guard.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go guard.Run(ctx)

	waitFor(t, func() bool { return !trigger.isEnabled() }, "trigger not disabled initially")

	// Another writer flips the control on; the periodic re-assert wins.
	trigger.SetEnabled(true)
	waitFor(t, func() bool { return !trigger.isEnabled() }, "external enable was not reverted")
}

func TestGuardPromptIsNotGranted(t *testing.T) {
	auth := newFakeAuthorizer(AuthPrompt)
	trigger := &fakeTrigger{enabled: true}
	guard := NewPermissionGuard(auth, trigger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go guard.Run(ctx)

	waitFor(t, func() bool { return !trigger.isEnabled() }, "pending auth should disable the trigger")
}
