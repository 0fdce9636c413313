// Package tool wraps the native audio utilities (ffprobe, ffmpeg) as
// out-of-process commands with hard deadlines and reason-coded faults.
package tool

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"soniq/core/fault"
)

// classifyRunError turns a failed command run into a classified fault.
// Deadline expiry and a missing binary are environmental; anything the tool
// itself rejected is a content defect carrying defectReason.
func classifyRunError(ctx context.Context, toolName string, defectReason fault.Reason, runErr error, stderr string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fault.Transient(fault.ReasonToolTimeout, toolName+" exceeded its deadline", runErr)
	}
	if ctx.Err() == context.Canceled {
		return fault.Transient(fault.ReasonDeadlineExceeded, toolName+" canceled by job deadline", runErr)
	}
	if errors.Is(runErr, exec.ErrNotFound) {
		return fault.Transient(fault.ReasonStoreUnavailable, toolName+" binary not found", runErr)
	}

	msg := toolName + " failed: " + firstStderrLine(stderr)
	if strings.Contains(stderr, "Invalid data found") {
		return fault.Permanent(fault.ReasonCorruptedInput, msg, runErr)
	}
	return fault.Permanent(defectReason, msg, runErr)
}

// firstStderrLine keeps diagnostics compact: ffmpeg dumps pages of output.
func firstStderrLine(stderr string) string {
	s := strings.TrimSpace(stderr)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "no diagnostic output"
	}
	return s
}
