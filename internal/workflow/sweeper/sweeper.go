// Package sweeper runs periodic deadline passes in the background.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"onboarding/pkg/requestcontext"
)

// Pass is one periodic maintenance step, such as timing out expired waits or
// expiring stale forms.
type Pass interface {
	Name() string
	Run(ctx context.Context, now time.Time) error
}

// PassFunc adapts a function to Pass.
type PassFunc struct {
	PassName string
	Fn       func(ctx context.Context, now time.Time) error
}

func (p PassFunc) Name() string { return p.PassName }

func (p PassFunc) Run(ctx context.Context, now time.Time) error { return p.Fn(ctx, now) }

// Sweeper ticks every interval and runs each pass in order. A failing pass is
// logged and does not stop the others.
type Sweeper struct {
	passes   []Pass
	interval time.Duration
	logger   *slog.Logger
	clock    func() time.Time
}

type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Sweeper) {
		s.clock = clock
	}
}

func New(interval time.Duration, passes []Pass, opts ...Option) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s := &Sweeper{
		passes:   passes,
		interval: interval,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until ctx is cancelled. The first pass runs immediately so waits
// that expired while the process was down are handled on startup.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes every pass once at the current clock time.
func (s *Sweeper) RunOnce(ctx context.Context) {
	now := s.clock().UTC()
	passCtx := requestcontext.WithTime(ctx, now)
	for _, p := range s.passes {
		if err := p.Run(passCtx, now); err != nil {
			s.logger.ErrorContext(ctx, "sweep pass failed",
				"pass", p.Name(),
				"error", err,
			)
		}
	}
}
