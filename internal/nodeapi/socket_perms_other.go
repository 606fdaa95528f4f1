//go:build !linux

package nodeapi

import "log/slog"

// applySocketPermissions is a no-op on non-Linux platforms.
func applySocketPermissions(_, _ string, _ *slog.Logger) {}
