package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Phase is a state of the reconnection state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnected
	PhaseBackoff
	PhaseConnecting
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:       "idle",
	PhaseConnected:  "connected",
	PhaseBackoff:    "backoff",
	PhaseConnecting: "connecting",
	PhaseFailed:     "failed",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Transition describes one move of the state machine. Attempt is n in
// Backoff(n) and Connecting(n); Delay is set when entering Backoff.
type Transition struct {
	From    Phase
	To      Phase
	Attempt int
	Delay   time.Duration
	Err     error // Failure that caused the move, if any
}

// DialFunc establishes a new connection.
type DialFunc func(ctx context.Context) error

// Reconnector drives
//
//	Connected --failure--> Backoff(1)
//	Backoff(n) --timer--> Connecting(n)
//	Connecting(n) --success--> Connected
//	Connecting(n) --failure--> Backoff(n+1), or Failed once n >= MaxAttempts
//
// An *AuthError from dial moves straight to Failed. Failed is terminal.
type Reconnector struct {
	backoff      *Backoff
	onTransition func(Transition)
	sleep        func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	phase   Phase
	attempt int
}

// NewReconnector creates a state machine in PhaseIdle. onTransition, if
// set, is called synchronously for every move.
func NewReconnector(cfg ReconnectConfig, onTransition func(Transition)) *Reconnector {
	return &Reconnector{
		backoff:      NewBackoff(cfg),
		onTransition: onTransition,
		sleep:        sleepContext,
	}
}

// Phase returns the current phase.
func (r *Reconnector) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Attempt returns the current attempt number, 0 while connected.
func (r *Reconnector) Attempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

// Established records a successful initial connection.
func (r *Reconnector) Established() {
	r.move(PhaseConnected, 0, 0, nil)
}

// Fail moves to Failed without further attempts.
func (r *Reconnector) Fail(err error) {
	r.move(PhaseFailed, r.Attempt(), 0, err)
}

// Run handles the loss of an established connection. It returns nil once
// dial succeeds, the terminal error once the machine enters Failed, or
// ctx.Err() if ctx ends first.
func (r *Reconnector) Run(ctx context.Context, cause error, dial DialFunc) error {
	if r.Phase() == PhaseFailed {
		return ErrReconnectExhausted
	}

	n := 1
	err := cause
	for {
		delay := r.backoff.Delay(n)
		r.move(PhaseBackoff, n, delay, err)

		if serr := r.sleep(ctx, delay); serr != nil {
			return serr
		}

		r.move(PhaseConnecting, n, 0, nil)

		err = dial(ctx)
		if err == nil {
			r.move(PhaseConnected, 0, 0, nil)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var authErr *AuthError
		if errors.As(err, &authErr) {
			r.move(PhaseFailed, n, 0, err)
			return err
		}

		if limit := r.backoff.MaxAttempts(); limit > 0 && n >= limit {
			exhausted := fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, n, err)
			r.move(PhaseFailed, n, 0, exhausted)
			return exhausted
		}

		n++
	}
}

func (r *Reconnector) move(to Phase, attempt int, delay time.Duration, err error) {
	r.mu.Lock()
	from := r.phase
	r.phase = to
	r.attempt = attempt
	r.mu.Unlock()

	if r.onTransition != nil {
		r.onTransition(Transition{From: from, To: to, Attempt: attempt, Delay: delay, Err: err})
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
