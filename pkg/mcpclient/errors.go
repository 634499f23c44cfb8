package mcpclient

import (
	"errors"
	"fmt"

	"github.com/go-json-experiment/json/jsontext"
)

// Sentinel errors for protocol failure modes.
// Callers should use errors.Is() to check for these.
var (
	// ErrUnreachable indicates the target could not be reached or did
	// not respond within the per-call timeout. Retryable.
	ErrUnreachable = errors.New("mcpclient: target unreachable")

	// ErrMalformed indicates the target responded with bytes that do
	// not decode into a JSON-RPC 2.0 envelope. Not retryable.
	ErrMalformed = errors.New("mcpclient: malformed response")

	// ErrClosed indicates the transport has been closed.
	ErrClosed = errors.New("mcpclient: transport closed")
)

// RemoteError is a JSON-RPC error envelope returned by the target.
// It satisfies errors.Is(err, ErrRemote) via the Is method so callers
// can branch on the class without unpacking.
type RemoteError struct {
	Code    int
	Message string
	Data    jsontext.Value
}

// ErrRemote is the class sentinel for RemoteError values.
var ErrRemote = errors.New("mcpclient: remote error")

func (e *RemoteError) Error() string {
	return fmt.Sprintf("mcpclient: remote error %d: %s", e.Code, e.Message)
}

func (e *RemoteError) Is(target error) bool { return target == ErrRemote }

// unreachable wraps a transport failure with the sentinel.
func unreachable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// malformed wraps a decode failure with the sentinel.
func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
