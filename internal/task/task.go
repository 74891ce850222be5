// Package task runs the peripheral's background work: named goroutines
// grouped under one cancelable context, and periodic sampling loops.
package task

import (
	"context"
	"runtime/pprof"
	"sync"

	"github.com/sirupsen/logrus"
)

// Go starts fn in a goroutine labeled with name, so it shows up by name in
// pprof goroutine dumps. If parent is nil, context.Background() is used.
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}
	labels := pprof.Labels("task", name)
	go pprof.Do(parent, labels, func(ctx context.Context) {
		fn(ctx)
	})
}

// Group manages the lifecycle of a set of named tasks sharing one context.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *logrus.Logger
}

// NewGroup creates a Group whose tasks stop when parent is canceled or
// Cancel is called.
func NewGroup(parent context.Context, logger *logrus.Logger) *Group {
	if parent == nil {
		parent = context.Background()
	}
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Group{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Context returns the group's context.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Go starts fn as a named task of the group.
func (g *Group) Go(name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	Go(g.ctx, name, func(ctx context.Context) {
		defer func() {
			g.logger.WithField("task", name).Debug("Task exited")
			g.wg.Done()
		}()
		g.logger.WithField("task", name).Debug("Task started")
		fn(ctx)
	})
}

// Cancel signals every task to stop.
func (g *Group) Cancel() {
	g.cancel()
}

// Wait blocks until every task has returned.
func (g *Group) Wait() {
	g.logger.Debug("Waiting for tasks to complete...")
	g.wg.Wait()
	g.logger.Debug("All tasks completed")
}

// Close cancels the group and waits for its tasks.
func (g *Group) Close() {
	g.Cancel()
	g.Wait()
}
