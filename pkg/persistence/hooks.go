package persistence

import (
	"context"
	"log/slog"
)

// CommitHooks collects post-commit callbacks for a unit of work.
type CommitHooks struct {
	hooks []func(ctx context.Context)
}

// Add appends a hook.
func (h *CommitHooks) Add(hook func(ctx context.Context)) {
	h.hooks = append(h.hooks, hook)
}

// Len returns the number of pending hooks.
func (h *CommitHooks) Len() int {
	return len(h.hooks)
}

// Run invokes the hooks in registration order. Hooks added while running are run too.
// A panicking hook is logged and does not stop the others.
func (h *CommitHooks) Run(ctx context.Context, logger *slog.Logger) {
	for i := 0; i < len(h.hooks); i++ {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "Post-commit hook panicked", "panic", r)
				}
			}()

			h.hooks[i](ctx)
		}()
	}

	h.hooks = nil
}

// Discard drops the hooks of a rolled back unit of work.
func (h *CommitHooks) Discard() {
	h.hooks = nil
}
