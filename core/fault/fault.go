// Package fault defines the closed set of reason-coded failures the pipeline
// can produce. The orchestrator decides mark-failed vs retry purely from the
// Transient flag; everything else in the system wraps errors with %w as usual.
package fault

import (
	"errors"
	"fmt"
)

// Reason is a machine-readable failure code. The set is closed on purpose:
// classification logic switches over these and must stay exhaustive.
type Reason string

const (
	// 永久性失败：内容本身有问题，重试没有意义
	ReasonInvalidDuration   Reason = "InvalidDuration"
	ReasonDurationExceeded  Reason = "DurationExceeded"
	ReasonInvalidSampleRate Reason = "InvalidSampleRate"
	ReasonInvalidChannels   Reason = "InvalidChannels"
	ReasonUnsupportedCodec  Reason = "UnsupportedCodec"
	ReasonCorruptedInput    Reason = "CorruptedInput"
	ReasonUnsupportedStream Reason = "UnsupportedStream"
	ReasonRenderFailed      Reason = "RenderFailed"
	ReasonUnsupportedSchema Reason = "UnsupportedSchema"

	// 瞬时性失败：环境问题，应该重试
	ReasonAdmissionDenied     Reason = "AdmissionDenied"
	ReasonToolTimeout         Reason = "ToolTimeout"
	ReasonDownloadFailed      Reason = "DownloadFailed"
	ReasonUploadFailed        Reason = "UploadFailed"
	ReasonConcurrencyConflict Reason = "ConcurrencyConflict"
	ReasonStoreUnavailable    Reason = "StoreUnavailable"
	ReasonDeadlineExceeded    Reason = "DeadlineExceeded"
)

// Fault is a classified pipeline failure.
type Fault struct {
	Reason    Reason
	Message   string
	Retryable bool
	Err       error // underlying cause, may be nil
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Reason, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Reason, f.Message)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Permanent creates a non-retryable fault.
func Permanent(reason Reason, msg string, err error) *Fault {
	return &Fault{Reason: reason, Message: msg, Retryable: false, Err: err}
}

// Transient creates a retryable fault.
func Transient(reason Reason, msg string, err error) *Fault {
	return &Fault{Reason: reason, Message: msg, Retryable: true, Err: err}
}

// As extracts a Fault from an error chain.
func As(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsRetryable reports whether the pipeline should retry after err.
// Unclassified errors are treated as retryable: safer to retry a few times
// and dead-letter than to silently drop data.
func IsRetryable(err error) bool {
	if f, ok := As(err); ok {
		return f.Retryable
	}
	return true
}

// ReasonOf returns the reason code of a classified error, or empty string.
func ReasonOf(err error) Reason {
	if f, ok := As(err); ok {
		return f.Reason
	}
	return ""
}
