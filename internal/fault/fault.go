// Package fault defines the error kinds shared across routerag and a helper
// for bounding calls to external collaborators.
//
// Components wrap these sentinels with context using fmt.Errorf("...: %w");
// callers classify failures with [errors.Is].
package fault

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClassification means a query could not be routed.
	ErrClassification = errors.New("classification failure")

	// ErrUpstreamUnavailable means a collaborator (weather API, model,
	// embedder) could not be reached or answered with a server error.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamTimeout means a collaborator did not answer within the
	// per-call deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrIndexUnavailable means the vector index could not serve a request.
	// The operation may be retried.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrUnreadableDocument means a document yielded no extractable text.
	ErrUnreadableDocument = errors.New("unreadable document")

	// ErrUnsupportedFormat means a document format has no text extractor.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrLocationNotFound means the weather service does not know a place.
	ErrLocationNotFound = errors.New("location not found")

	// ErrEvaluation means scoring could not be completed.
	ErrEvaluation = errors.New("evaluation failure")
)

// Retryable reports whether err is worth retrying unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrIndexUnavailable) ||
		errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrUpstreamTimeout)
}

// Kind returns a short stable label for err, used in metrics and API
// responses. Unknown errors are labelled "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrClassification):
		return "classification_failure"
	case errors.Is(err, ErrUpstreamTimeout):
		return "upstream_timeout"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrIndexUnavailable):
		return "index_unavailable"
	case errors.Is(err, ErrUnreadableDocument):
		return "unreadable_document"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrLocationNotFound):
		return "location_not_found"
	case errors.Is(err, ErrEvaluation):
		return "evaluation_failure"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

// Call runs fn under a child context bounded by timeout. When the child
// deadline fires before fn returns, the error is reported as
// [ErrUpstreamTimeout]. Cancellation of the parent context is passed
// through unchanged so callers can tell the two apart.
func Call[T any](ctx context.Context, timeout time.Duration, name string, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(callCtx)
	if err == nil {
		return v, nil
	}
	if ctx.Err() != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", name, ctx.Err())
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		var zero T
		return zero, fmt.Errorf("%s: no response within %s: %w", name, timeout, ErrUpstreamTimeout)
	}
	return v, err
}
