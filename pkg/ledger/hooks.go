package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// AbortFunc compensates a side effect made inside a unit that was rolled back
type AbortFunc func(ctx context.Context) error

type hooksKey struct{}

// unitHooks collects the compensations registered in one open unit. A
// nested unit hands its hooks to the parent when it succeeds, so they run
// if the outermost unit fails to commit.
type unitHooks struct {
	parent *unitHooks

	mu      sync.Mutex
	onAbort []AbortFunc
}

// OnAbort registers fn against the innermost unit open in ctx. fn runs if
// that unit, or any unit it is merged into, is rolled back or fails to
// commit. It reports false when ctx carries no open unit.
func OnAbort(ctx context.Context, fn AbortFunc) bool {
	h, ok := ctx.Value(hooksKey{}).(*unitHooks)
	if !ok {
		return false
	}
	h.add(fn)
	return true
}

func beginHooks(ctx context.Context) (context.Context, *unitHooks) {
	parent, _ := ctx.Value(hooksKey{}).(*unitHooks)
	h := &unitHooks{parent: parent}
	return context.WithValue(ctx, hooksKey{}, h), h
}

func (h *unitHooks) add(fns ...AbortFunc) {
	h.mu.Lock()
	h.onAbort = append(h.onAbort, fns...)
	h.mu.Unlock()
}

func (h *unitHooks) take() []AbortFunc {
	h.mu.Lock()
	defer h.mu.Unlock()
	fns := h.onAbort
	h.onAbort = nil
	return fns
}

// commit discards the hooks of a top-level unit, or moves them to the parent
func (h *unitHooks) commit() {
	fns := h.take()
	if h.parent != nil {
		h.parent.add(fns...)
	}
}

// abort runs the hooks newest first and returns cause joined with any
// compensation failure. Hooks run even if ctx was cancelled.
func (h *unitHooks) abort(ctx context.Context, cause error) error {
	fns := h.take()
	if len(fns) == 0 {
		return cause
	}

	ctx = context.WithoutCancel(ctx)
	errs := []error{cause}
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensation failed: %w", err))
		}
	}
	if len(errs) == 1 {
		return cause
	}
	return errors.Join(errs...)
}
