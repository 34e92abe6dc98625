package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/rs/zerolog"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// ShutdownHooks collects the resources to release once the server has stopped
// accepting requests. Hooks run in reverse registration order, so a resource
// is released before the resources it was built from.
type ShutdownHooks struct {
	hooks []hook
}

// AddContext registers a hook that honours the shutdown deadline carried by
// its context. Nil hooks are ignored.
func (s *ShutdownHooks) AddContext(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}

	s.hooks = append(s.hooks, hook{name: name, fn: fn})
}

// AddClose registers a resource to be closed. Nil closers are ignored.
func (s *ShutdownHooks) AddClose(name string, closer io.Closer) {
	if closer == nil {
		return
	}

	s.AddContext(name, func(context.Context) error { return closer.Close() })
}

// Len reports the number of registered hooks.
func (s *ShutdownHooks) Len() int {
	return len(s.hooks)
}

// Execute runs every hook, continuing past failures, and returns the joined
// failures.
func (s *ShutdownHooks) Execute(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	var errs []error
	for _, h := range slices.Backward(s.hooks) {
		hookLog := logger.With().Str("hook", h.name).Logger()

		if err := h.fn(ctx); err != nil {
			hookLog.Warn().Err(err).Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}

		hookLog.Debug().Msg("shutdown hook complete")
	}

	return errors.Join(errs...)
}
