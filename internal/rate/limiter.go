package rate

import (
	"context"
	"sync"
	"time"
)

// Config sets the refill rate and bucket size of a limiter.
type Config struct {
	RequestsPerSecond int
	Burst             int
}

// Limiter is a token bucket. A zero RequestsPerSecond disables limiting.
type Limiter struct {
	mu     sync.Mutex
	tokens float64
	rate   float64
	burst  float64
	last   time.Time
	now    func() time.Time
}

// New returns a limiter with a full bucket.
func New(cfg Config) *Limiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		tokens: float64(burst),
		rate:   float64(cfg.RequestsPerSecond),
		burst:  float64(burst),
		last:   time.Now(),
		now:    time.Now,
	}
}

// Allow takes a token if one is available.
func (l *Limiter) Allow() bool {
	if l.rate <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.last = now

	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

// Wait blocks until a token is taken or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	for !l.Allow() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.pause()):
		}
	}
	return nil
}

// pause estimates the time until the next token, bounded to keep Wait responsive.
func (l *Limiter) pause() time.Duration {
	d := time.Duration(float64(time.Second) / l.rate)
	if d > 250*time.Millisecond {
		d = 250 * time.Millisecond
	}
	if d < 5*time.Millisecond {
		d = 5 * time.Millisecond
	}
	return d
}

// Manager hands out one limiter per key (one per Investec client).
type Manager struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	defaults Config
}

// NewManager creates limiters lazily using defaults.
func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
	}
}

// Limiter returns the limiter for key, creating it on first use.
func (m *Manager) Limiter(key string) *Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.limiters[key]; ok {
		return l
	}
	l := New(m.defaults)
	m.limiters[key] = l
	return l
}

// Wait applies the limiter for key.
func (m *Manager) Wait(ctx context.Context, key string) error {
	return m.Limiter(key).Wait(ctx)
}
