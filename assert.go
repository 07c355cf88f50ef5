//go:build !rhi_noassert

package rhi

import (
	"fmt"
	"log/slog"
)

// assertionsEnabled reports whether invariant violations panic.
const assertionsEnabled = true

// violated logs a broken invariant and panics with an *InvariantError.
// It never returns in this build; builds with the rhi_noassert tag get
// the error back instead.
func violated(l *slog.Logger, op, format string, args ...any) error {
	err := &InvariantError{Op: op, Detail: fmt.Sprintf(format, args...)}
	l.Error("rhi: invariant violated", "op", op, "detail", err.Detail)
	panic(err)
}
