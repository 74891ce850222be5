package task

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultFailureThreshold is the number of consecutive failed ticks after
// which a sampler reports itself degraded.
const DefaultFailureThreshold = 3

// TickFunc performs one sampling pass.
type TickFunc func(ctx context.Context) error

// SamplerOptions configures a Sampler.
type SamplerOptions struct {
	Interval         time.Duration
	FailureThreshold int
	// Immediate runs the first tick as soon as Run starts instead of after one interval.
	Immediate bool
	Logger    *logrus.Logger
}

// Sampler calls a TickFunc periodically until its context is canceled.
//
// A failing tick is logged and retried on the next period. After
// FailureThreshold consecutive failures the sampler is flagged degraded; the
// flag clears on the next successful tick.
type Sampler struct {
	name      string
	tick      TickFunc
	threshold int
	immediate bool
	logger    *logrus.Logger

	interval atomic.Int64
	reset    chan struct{}
	failures atomic.Int32
	degraded atomic.Bool
	ticks    atomic.Uint64
}

// NewSampler creates a sampler. The interval must be positive.
func NewSampler(name string, tick TickFunc, opts *SamplerOptions) (*Sampler, error) {
	if tick == nil {
		return nil, fmt.Errorf("sampler %s: tick function cannot be nil", name)
	}
	if opts == nil || opts.Interval <= 0 {
		return nil, fmt.Errorf("sampler %s: interval must be > 0", name)
	}
	threshold := opts.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	s := &Sampler{
		name:      name,
		tick:      tick,
		threshold: threshold,
		immediate: opts.Immediate,
		logger:    logger,
		reset:     make(chan struct{}, 1),
	}
	s.interval.Store(int64(opts.Interval))
	return s, nil
}

// Name returns the sampler name.
func (s *Sampler) Name() string {
	return s.name
}

// Interval returns the current sampling period.
func (s *Sampler) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// SetInterval changes the sampling period. A running loop picks up the new
// period immediately.
func (s *Sampler) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("sampler %s: interval must be > 0", s.name)
	}
	s.interval.Store(int64(d))
	select {
	case s.reset <- struct{}{}:
	default:
	}
	s.logger.WithFields(logrus.Fields{
		"task":     s.name,
		"interval": d,
	}).Debug("Sampling interval changed")
	return nil
}

// Degraded reports whether the last FailureThreshold ticks all failed.
func (s *Sampler) Degraded() bool {
	return s.degraded.Load()
}

// Failures returns the number of consecutive failed ticks.
func (s *Sampler) Failures() int {
	return int(s.failures.Load())
}

// Ticks returns the number of ticks performed.
func (s *Sampler) Ticks() uint64 {
	return s.ticks.Load()
}

// RunOnce performs a single tick with failure accounting.
func (s *Sampler) RunOnce(ctx context.Context) error {
	s.ticks.Add(1)
	err := s.tick(ctx)
	if err == nil {
		s.failures.Store(0)
		if s.degraded.CompareAndSwap(true, false) {
			s.logger.WithField("task", s.name).Info("Sampling recovered")
		}
		return nil
	}

	n := s.failures.Add(1)
	s.logger.WithError(err).WithFields(logrus.Fields{
		"task":     s.name,
		"failures": n,
	}).Warn("Sampling tick failed, retrying next period")
	if int(n) >= s.threshold && s.degraded.CompareAndSwap(false, true) {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"task":     s.name,
			"failures": n,
		}).Error("Sampling degraded")
	}
	return err
}

// Run ticks until ctx is canceled. It always returns nil; failures are
// reported through logging and Degraded.
func (s *Sampler) Run(ctx context.Context) error {
	if s.immediate {
		_ = s.RunOnce(ctx)
	}

	timer := time.NewTimer(s.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.reset:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.Interval())
		case <-timer.C:
			_ = s.RunOnce(ctx)
			timer.Reset(s.Interval())
		}
	}
}
