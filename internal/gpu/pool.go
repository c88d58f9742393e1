package gpu

import (
	"context"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// releaseTimeout bounds the cleanup-hint command so reclaim can never hang
// the job teardown path.
const releaseTimeout = 30 * time.Second

// releaseRunner executes the device cleanup-hint command.
type releaseRunner func(ctx context.Context, name string, args ...string) error

// Pool is an explicit handle on the shared GPU resource. Capacity bounds how
// many jobs may hold a device at once; each job takes a Lease and reclaims
// it on every exit path.
type Pool struct {
	slots   chan struct{}
	cleanup []string
	runner  releaseRunner
	logger  *slog.Logger
}

// NewPool creates a pool with the given capacity. cleanupArgv, when
// non-empty, is executed on each reclaim to ask the external runtime to free
// device memory (a hint, not a requirement).
func NewPool(capacity int, cleanupArgv []string, logger *slog.Logger) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		slots:   make(chan struct{}, capacity),
		cleanup: cleanupArgv,
		runner:  execRelease,
		logger:  logger,
	}
}

// Acquire blocks until a device slot is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case p.slots <- struct{}{}:
		return &Lease{pool: p}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Lease is one job's hold on a device slot. Reclaim is idempotent and safe
// on every exit path; a second call is a no-op.
type Lease struct {
	pool *Pool
	once sync.Once
}

// Reclaim returns the slot and triggers the device cleanup hint. It never
// returns an error: its own failures are logged and do not alter the job's
// already-determined terminal state.
func (l *Lease) Reclaim(ctx context.Context) {
	if l == nil {
		return
	}
	l.once.Do(func() {
		defer func() { <-l.pool.slots }()

		if len(l.pool.cleanup) == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(withoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := l.pool.runner(ctx, l.pool.cleanup[0], l.pool.cleanup[1:]...); err != nil {
			l.pool.logger.WarnContext(ctx, "gpu cleanup hint failed", "err", err)
		}
	})
}

// withoutCancel keeps reclaim running even when the job context was already
// cancelled; the cleanup hint must fire on the cancellation path too.
func withoutCancel(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}

func execRelease(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.Run()
}

// NewPoolForTests constructs a pool with an injected release runner.
func NewPoolForTests(capacity int, cleanupArgv []string, runner releaseRunner, logger *slog.Logger) *Pool {
	p := NewPool(capacity, cleanupArgv, logger)
	if runner != nil {
		p.runner = runner
	}
	return p
}
