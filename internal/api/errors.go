package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// RemoteError is a non-2xx Gmail API response that was not recoverable by
// the transport's retry policy. It preserves the remote status, reason and
// message verbatim so callers can branch programmatically.
type RemoteError struct {
	StatusCode int
	Reason     string // first error reason from the envelope, e.g. "notFound"
	Message    string // server-provided message
	Body       []byte // raw response body
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gmail api: %d %s: %s", e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("gmail api: status %d", e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the remote API.
func IsNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}

// IsInvalidArgument reports whether err is a 400 from the remote API.
func IsInvalidArgument(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.StatusCode == http.StatusBadRequest
}

// errorEnvelope mirrors the Gmail error response body.
type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"errors"`
		Status string `json:"status"`
	} `json:"error"`
}

// newRemoteError decodes the Gmail error envelope from body. A body that is
// not the standard envelope still yields a usable error with the raw bytes.
func newRemoteError(statusCode int, body []byte) *RemoteError {
	re := &RemoteError{StatusCode: statusCode, Body: body}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		re.Message = env.Error.Message
		if len(env.Error.Errors) > 0 {
			re.Reason = env.Error.Errors[0].Reason
		}
		if re.Reason == "" {
			re.Reason = env.Error.Status
		}
	}
	return re
}
