// Package limiter bounds how many container encodes run at once.
package limiter

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrAcquireTimeout means no encode slot freed up within the queue timeout.
	ErrAcquireTimeout = errors.New("limiter: acquire timeout")
	// ErrLimitExceeded means every slot was taken and no waiting is configured.
	ErrLimitExceeded = errors.New("limiter: limit exceeded")
)

// Config controls admission.
type Config struct {
	MaxConcurrent int
	// QueueTimeout is how long Acquire waits for a slot. Zero rejects immediately.
	QueueTimeout time.Duration
	Metrics      *Metrics
}

// Limiter is a counting semaphore with metrics.
type Limiter struct {
	slots   chan struct{}
	timeout time.Duration
	metrics *Metrics
}

// New returns a Limiter. MaxConcurrent below one is treated as one.
func New(cfg Config) *Limiter {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Limiter{
		slots:   make(chan struct{}, cfg.MaxConcurrent),
		timeout: cfg.QueueTimeout,
		metrics: cfg.Metrics,
	}
}

// Capacity reports the configured slot count.
func (l *Limiter) Capacity() int {
	return cap(l.slots)
}

// Acquire takes a slot. The returned release func must be called exactly once.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.slots <- struct{}{}:
		return l.acquired(), nil
	default:
	}

	if l.timeout <= 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l.metrics.incRejected()
		return nil, ErrLimitExceeded
	}

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		return l.acquired(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		l.metrics.incTimeouts()
		return nil, ErrAcquireTimeout
	}
}

func (l *Limiter) acquired() func() {
	l.metrics.addActive(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.slots
			l.metrics.addActive(-1)
		})
	}
}

// Do runs fn while holding a slot and records its outcome. fn reports the
// number of bytes it produced.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) (int64, error)) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	n, err := fn(ctx)
	l.metrics.observe(n, err)
	return err
}
