package connection

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays.
type Backoff struct {
	cfg  ReconnectConfig
	rand func() float64 // [0,1)
}

// NewBackoff creates a Backoff from cfg, filling unset fields with defaults.
func NewBackoff(cfg ReconnectConfig) *Backoff {
	def := DefaultReconnectConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Factor < 1 {
		cfg.Factor = def.Factor
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.Jitter > 1 {
		cfg.Jitter = 1
	}
	return &Backoff{cfg: cfg, rand: rand.Float64}
}

// Delay returns the wait before reconnect attempt n (1-based).
//
// With a schedule, attempt n waits Schedule[n-1]; attempts past the end
// reuse the last entry. Otherwise the delay is BaseDelay * Factor^(n-1)
// capped at MaxDelay. Jitter spreads the result uniformly over
// ±Jitter of the delay.
func (b *Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}

	var d time.Duration
	if len(b.cfg.Schedule) > 0 {
		i := n - 1
		if i >= len(b.cfg.Schedule) {
			i = len(b.cfg.Schedule) - 1
		}
		d = b.cfg.Schedule[i]
	} else {
		f := float64(b.cfg.BaseDelay) * math.Pow(b.cfg.Factor, float64(n-1))
		if f > float64(b.cfg.MaxDelay) || math.IsInf(f, 0) {
			f = float64(b.cfg.MaxDelay)
		}
		d = time.Duration(f)
	}

	if b.cfg.Jitter > 0 && d > 0 {
		spread := float64(d) * b.cfg.Jitter
		d = time.Duration(float64(d) - spread + 2*spread*b.rand())
	}
	return d
}

// MaxAttempts returns the attempt ceiling, 0 meaning unlimited.
func (b *Backoff) MaxAttempts() int {
	return b.cfg.MaxAttempts
}
