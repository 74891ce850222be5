// Package peripheral assembles the GATT runtime, the enabled services, a
// host stack and a hardware driver into one running BLE peripheral.
package peripheral

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesvc/internal/gatt"
	"github.com/srg/blesvc/internal/hal"
	"github.com/srg/blesvc/internal/host"
	"github.com/srg/blesvc/internal/services/battery"
	"github.com/srg/blesvc/internal/services/button"
	"github.com/srg/blesvc/internal/services/dis"
	"github.com/srg/blesvc/internal/services/gpio"
	"github.com/srg/blesvc/internal/task"
	"github.com/srg/blesvc/pkg/config"
)

// ErrClosed is returned by operations on a closed Peripheral.
var ErrClosed = errors.New("peripheral closed")

// Peripheral is a configured BLE peripheral. Services that are disabled in
// the configuration are nil.
type Peripheral struct {
	cfg    *config.Config
	stack  host.Stack
	rt     *gatt.Runtime
	logger *logrus.Logger

	Battery *battery.Service
	Button  *button.Service
	DIS     *dis.Service
	GPIO    *gpio.Service

	restart chan struct{}

	mu     sync.Mutex
	group  *task.Group
	closed bool
}

// New builds the runtime and the enabled services on stack and hw, and
// publishes every service table to the stack. hw may be nil, in which case
// services hold their values but sample and drive nothing.
func New(cfg *config.Config, stack host.Stack, hw hal.Hardware, logger *logrus.Logger) (*Peripheral, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if stack == nil {
		return nil, fmt.Errorf("host stack cannot be nil")
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	policy, err := gatt.ParseNotifyPolicy(cfg.NotifyPolicy)
	if err != nil {
		return nil, err
	}

	p := &Peripheral{
		cfg:     cfg,
		stack:   stack,
		logger:  logger,
		restart: make(chan struct{}, 1),
		rt: gatt.NewRuntime(&gatt.RuntimeOptions{
			MaxCharacteristics: cfg.MaxCharacteristics,
			Policy:             policy,
			Notifier:           stack,
			Logger:             logger,
		}),
	}

	if err := p.buildServices(hw); err != nil {
		return nil, err
	}

	for _, table := range p.rt.Services() {
		if err := stack.RegisterService(table, p.rt); err != nil {
			return nil, fmt.Errorf("failed to publish service %s: %w", table.UUID, err)
		}
		logger.WithFields(logrus.Fields{
			"service":         table.UUID,
			"name":            table.Name,
			"characteristics": len(table.Characteristics),
		}).Debug("Service published")
	}

	if p.Button != nil {
		p.Button.RegisterHandler(p.onPress)
	}
	return p, nil
}

func (p *Peripheral) buildServices(hw hal.Hardware) error {
	cfg := p.cfg
	var err error

	// Nil hw must reach the services as nil interfaces, not typed nils.
	var (
		pins hal.Pins
		adc  hal.ADC
	)
	if hw != nil {
		pins, adc = hw, hw
	}

	if cfg.Battery.Enabled {
		p.Battery, err = battery.New(p.rt, adc, &battery.Options{
			Channel:          cfg.Battery.Channel,
			Samples:          cfg.Battery.Samples,
			Interval:         cfg.Battery.Interval,
			FailureThreshold: cfg.FailureThreshold,
			Logger:           p.logger,
		})
		if err != nil {
			return err
		}
	}
	if cfg.Button.Enabled {
		p.Button, err = button.New(p.rt, pins, &button.Options{
			ButtonPin:        cfg.Button.Pin,
			LEDPin:           cfg.Button.LEDPin,
			Inverted:         cfg.Button.Inverted,
			PullUp:           cfg.Button.PullUp,
			Interval:         cfg.Button.Interval,
			FailureThreshold: cfg.FailureThreshold,
			Logger:           p.logger,
		})
		if err != nil {
			return err
		}
	}
	if cfg.DIS.Enabled {
		p.DIS, err = dis.New(p.rt, cfg.Identity, &dis.Options{
			MaxLen: cfg.DIS.MaxLen,
			Logger: p.logger,
		})
		if err != nil {
			return err
		}
	}
	if cfg.GPIO.Enabled {
		p.GPIO, err = gpio.New(p.rt, hw, &gpio.Options{
			TotalPins:        cfg.GPIO.TotalPins,
			Interval:         cfg.GPIO.Interval,
			FailureThreshold: cfg.FailureThreshold,
			Logger:           p.logger,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Runtime returns the GATT runtime backing the peripheral.
func (p *Peripheral) Runtime() *gatt.Runtime {
	return p.rt
}

// Stack returns the host stack the peripheral publishes on.
func (p *Peripheral) Stack() host.Stack {
	return p.stack
}

// Samplers returns the samplers of the enabled services that have hardware.
func (p *Peripheral) Samplers() []*task.Sampler {
	var out []*task.Sampler
	if p.Battery != nil && p.Battery.Sampler() != nil {
		out = append(out, p.Battery.Sampler())
	}
	if p.Button != nil && p.Button.Sampler() != nil {
		out = append(out, p.Button.Sampler())
	}
	if p.GPIO != nil && p.GPIO.Sampler() != nil {
		out = append(out, p.GPIO.Sampler())
	}
	return out
}

// Start launches the sampling tasks and the button event dispatcher. They
// run until ctx is canceled or Close is called.
func (p *Peripheral) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.group != nil {
		return fmt.Errorf("peripheral already started")
	}

	p.group = task.NewGroup(ctx, p.logger)
	for _, s := range p.Samplers() {
		p.group.Go(s.Name(), func(ctx context.Context) {
			_ = s.Run(ctx)
			p.logger.WithFields(logrus.Fields{
				"task":     s.Name(),
				"ticks":    s.Ticks(),
				"degraded": s.Degraded(),
			}).Debug("Sampling stopped")
		})
	}
	if p.Button != nil {
		p.group.Go("button-events", p.Button.Events().Run)
	}
	return nil
}

// Advertise advertises the device name and services until ctx is done.
// With a non-zero advertise window each run stops after the window and
// resumes on the next button press. A button press during a run restarts
// its window.
func (p *Peripheral) Advertise(ctx context.Context) error {
	name := p.cfg.DeviceName
	for {
		restarted, err := p.advertiseOnce(ctx, name)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("advertising failed: %w", err)
		}
		if restarted {
			p.logger.Info("Advertising restarted by button press")
			continue
		}

		p.logger.WithField("window", p.cfg.AdvertiseWindow).Info("Advertising window elapsed, waiting for button press")
		select {
		case <-ctx.Done():
			return nil
		case <-p.restart:
			p.logger.Info("Advertising resumed by button press")
		}
	}
}

func (p *Peripheral) advertiseOnce(ctx context.Context, name string) (bool, error) {
	var (
		actx   context.Context
		cancel context.CancelFunc
	)
	if p.cfg.AdvertiseWindow > 0 {
		actx, cancel = context.WithTimeout(ctx, p.cfg.AdvertiseWindow)
	} else {
		actx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan error, 1)
	task.Go(actx, "advertise", func(ctx context.Context) {
		done <- p.stack.Advertise(ctx, name)
	})

	select {
	case err := <-done:
		return false, err
	case <-p.restart:
		cancel()
		<-done
		return true, nil
	}
}

func (p *Peripheral) onPress(ev button.Event) {
	p.logger.WithFields(logrus.Fields{
		"count": ev.Count,
		"at":    ev.At.Format(time.RFC3339),
	}).Info("Button pressed")
	select {
	case p.restart <- struct{}{}:
	default:
	}
}

// Close stops every task and closes the host stack. It is safe to call
// more than once.
func (p *Peripheral) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	group := p.group
	p.mu.Unlock()

	if group != nil {
		group.Close()
	}
	if err := p.stack.Close(); err != nil {
		return fmt.Errorf("failed to close host stack: %w", err)
	}
	return nil
}
