package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RunContext tracks the stress run in progress. Records passing through
// its Handler carry a "run" group (id, mode, elapsed) while a run is
// active and are left alone otherwise.
type RunContext struct {
	mu    sync.RWMutex
	id    string
	mode  string
	start time.Time
}

// NewRunContext returns an idle RunContext.
func NewRunContext() *RunContext {
	return &RunContext{}
}

// Start marks run id of the given mode as active.
func (c *RunContext) Start(id, mode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
	c.mode = mode
	c.start = time.Now()
}

// Stop marks the RunContext idle again.
func (c *RunContext) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = ""
	c.mode = ""
}

func (c *RunContext) attr() (slog.Attr, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.id == "" {
		return slog.Attr{}, false
	}
	return slog.Group("run",
		slog.String("id", c.id),
		slog.String("mode", c.mode),
		slog.Duration("elapsed", time.Since(c.start)),
	), true
}

// Handler wraps inner so that records logged during a run are stamped
// with it.
func (c *RunContext) Handler(inner slog.Handler) slog.Handler {
	return &runHandler{inner: inner, run: c}
}

type runHandler struct {
	inner slog.Handler
	run   *RunContext
}

func (h *runHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *runHandler) Handle(ctx context.Context, r slog.Record) error {
	if a, ok := h.run.attr(); ok {
		r = r.Clone()
		r.AddAttrs(a)
	}
	return h.inner.Handle(ctx, r)
}

func (h *runHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &runHandler{inner: h.inner.WithAttrs(attrs), run: h.run}
}

func (h *runHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &runHandler{inner: h.inner.WithGroup(name), run: h.run}
}
