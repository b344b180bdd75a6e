package gmailkit

import (
	"errors"

	"github.com/maildock/gmailkit/internal/api"
)

var (
	// ErrLabelNotFound is returned when a label path or ID does not resolve
	// to an existing label.
	ErrLabelNotFound = errors.New("label not found")

	// ErrLabelHasChildren is returned by a non-cascading delete of a label
	// that still has nested labels under it.
	ErrLabelHasChildren = errors.New("label has child labels")

	// ErrSend is returned when the server rejects an outgoing message. The
	// draft is unaffected and can be corrected and sent again.
	ErrSend = errors.New("send rejected")

	// Done signals the end of a message iteration.
	Done = errors.New("no more messages")
)

// RemoteError is a non-recoverable Gmail API failure, preserving the remote
// status code, reason and message.
type RemoteError = api.RemoteError

// IsNotFound reports whether err is a 404 from the remote API.
func IsNotFound(err error) bool {
	return api.IsNotFound(err)
}
