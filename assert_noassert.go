//go:build rhi_noassert

package rhi

import (
	"fmt"
	"log/slog"
)

// assertionsEnabled reports whether invariant violations panic.
const assertionsEnabled = false

// violated logs a broken invariant and returns it as an *InvariantError.
func violated(l *slog.Logger, op, format string, args ...any) error {
	err := &InvariantError{Op: op, Detail: fmt.Sprintf(format, args...)}
	l.Error("rhi: invariant violated", "op", op, "detail", err.Detail)
	return err
}
