package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
)

// ErrPermanent marks a delivery failure that no retry can fix, such as a
// structurally valid payload with unusable contents. Wrap with %w.
var ErrPermanent = errors.New("permanent delivery failure")

// ClassifyDeliveryError decides whether a delivery failure is worth retrying
// and names the failure kind for logs and metrics.
//
// Malformed payloads can never succeed on a later attempt; everything that
// smells like a transport or upstream problem is retryable. Unknown errors
// default to retryable — the retry ceiling bounds the damage, and dropping a
// deliverable message is worse than three wasted attempts.
func ClassifyDeliveryError(err error) (retryable bool, kind string) {
	if err == nil {
		return false, ""
	}

	if errors.Is(err, ErrPermanent) {
		return false, "invalid_payload"
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return false, "json_decode_error"
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	return true, "delivery_error"
}

// TruncateError bounds an error message for use in a message header.
func TruncateError(err error, max int) string {
	msg := err.Error()
	if len(msg) > max {
		return msg[:max]
	}
	return msg
}
