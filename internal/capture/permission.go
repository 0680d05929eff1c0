package capture

import (
	"context"
	"log/slog"
	"time"
)

// AuthState is the current capture authorization.
type AuthState string

const (
	AuthGranted AuthState = "granted"
	AuthDenied  AuthState = "denied"
	AuthPrompt  AuthState = "prompt"
)

// Authorizer reports whether capture is currently permitted and signals
// changes.
type Authorizer interface {
	State() AuthState
	Changes() <-chan AuthState
}

// Trigger is the capture-start control whose enabled affordance must track
// authorization.
type Trigger interface {
	SetEnabled(bool)
}

const defaultReassertInterval = 30 * time.Second

// PermissionGuard keeps the trigger's enabled state equal to "authorization
// currently permits capture". It is the single writer of that state: the
// value is always derived from the Authorizer, re-derived on change events,
// and re-asserted on a slow tick so an externally clobbered or wholesale
// replaced control converges back.
type PermissionGuard struct {
	auth     Authorizer
	trigger  Trigger
	interval time.Duration
	logger   *slog.Logger
}

// NewPermissionGuard creates a guard binding trigger to auth.
func NewPermissionGuard(auth Authorizer, trigger Trigger, logger *slog.Logger) *PermissionGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionGuard{
		auth:     auth,
		trigger:  trigger,
		interval: defaultReassertInterval,
		logger:   logger.With("component", "permission_guard"),
	}
}

// Run applies the derived state immediately and then keeps it bound until
// ctx is cancelled.
func (g *PermissionGuard) Run(ctx context.Context) {
	g.apply(g.auth.State())

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-g.auth.Changes():
			if !ok {
				return
			}
			g.logger.Debug("authorization changed", "state", string(state))
			g.apply(state)
		case <-ticker.C:
			g.apply(g.auth.State())
		}
	}
}

func (g *PermissionGuard) apply(state AuthState) {
	g.trigger.SetEnabled(state == AuthGranted)
}
