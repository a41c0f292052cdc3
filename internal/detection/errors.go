package detection

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures at the coordinator boundary
type ErrorKind string

const (
	KindModelLoad         ErrorKind = "model_load"
	KindNotReady          ErrorKind = "not_ready"
	KindConcurrentRequest ErrorKind = "concurrent_request"
	KindImageAcquisition  ErrorKind = "image_acquisition"
	KindImageDecode       ErrorKind = "image_decode"
	KindInference         ErrorKind = "inference"
	KindSinkNotification  ErrorKind = "sink_notification"
)

// Sentinels for errors.Is. A *Error matches the sentinel of its kind.
var (
	ErrModelLoad         = errors.New("model could not be loaded")
	ErrNotReady          = errors.New("model is not ready")
	ErrConcurrentRequest = errors.New("an inference is already in progress")
	ErrImageAcquisition  = errors.New("image could not be acquired")
	ErrImageDecode       = errors.New("image could not be decoded")
	ErrInference         = errors.New("inference failed")
	ErrSinkNotification  = errors.New("notification sink failed")
)

var sentinels = map[ErrorKind]error{
	KindModelLoad:         ErrModelLoad,
	KindNotReady:          ErrNotReady,
	KindConcurrentRequest: ErrConcurrentRequest,
	KindImageAcquisition:  ErrImageAcquisition,
	KindImageDecode:       ErrImageDecode,
	KindInference:         ErrInference,
	KindSinkNotification:  ErrSinkNotification,
}

// Error is a classified failure
type Error struct {
	Kind     ErrorKind
	SourceID string
	Err      error
}

// NewError wraps err with a kind and the source it concerns
func NewError(kind ErrorKind, sourceID string, err error) *Error {
	return &Error{Kind: kind, SourceID: sourceID, Err: err}
}

func (e *Error) Error() string {
	msg := sentinels[e.Kind].Error()
	if e.SourceID != "" {
		msg = fmt.Sprintf("%s (source %s)", msg, e.SourceID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for this error's kind
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// KindOf extracts the kind of a classified error
func KindOf(err error) (ErrorKind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}

// ErrorContext describes a failed request for error observers
type ErrorContext struct {
	SourceID string `json:"source_id,omitempty"`
	Message  string `json:"message"`
	State    string `json:"state,omitempty"`
}
