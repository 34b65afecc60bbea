// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package h1conn

import "github.com/pkg/errors"

func newError(format string, args ...any) error {
	format = "h1conn: " + format
	return errors.Errorf(format, args...)
}

// ErrorCode classifies why a Stream or Connection stopped.
type ErrorCode uint8

const (
	// ErrCodeSuccess means no error occurred.
	ErrCodeSuccess ErrorCode = iota

	// ErrCodeConnectionClosed means the connection was closed, or was
	// already closing, before the operation could complete.
	ErrCodeConnectionClosed

	// ErrCodeSwitchedProtocols means a prior stream switched protocols
	// and new requests are no longer accepted.
	ErrCodeSwitchedProtocols

	// ErrCodeProtocolError means the peer sent malformed or
	// out-of-sequence HTTP/1.1 framing.
	ErrCodeProtocolError

	// ErrCodeUnexpectedData means bytes arrived after the last stream
	// completed and no stream was active to receive them.
	ErrCodeUnexpectedData

	// ErrCodeOutgoingLengthIncorrect means a request body source read
	// more or fewer bytes than it declared via Content-Length or a
	// chunk's declared size.
	ErrCodeOutgoingLengthIncorrect

	// ErrCodeCallbackError means a user callback returned an error.
	ErrCodeCallbackError

	// ErrCodeCancelled means the stream was cancelled by connection
	// shutdown or explicit close without a more specific cause.
	ErrCodeCancelled

	// ErrCodeIdleTimeout means the connection's idle timeout elapsed.
	ErrCodeIdleTimeout

	// ErrCodeTransportError means the boundary adapter reported a
	// failure in the underlying byte pipeline (a socket error, a
	// downstream transform erroring out, and so on) rather than the
	// core itself detecting a framing problem.
	ErrCodeTransportError
)

// String implements fmt.Stringer.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeSuccess:
		return "Success"
	case ErrCodeConnectionClosed:
		return "ConnectionClosed"
	case ErrCodeSwitchedProtocols:
		return "SwitchedProtocols"
	case ErrCodeProtocolError:
		return "ProtocolError"
	case ErrCodeUnexpectedData:
		return "UnexpectedData"
	case ErrCodeOutgoingLengthIncorrect:
		return "OutgoingLengthIncorrect"
	case ErrCodeCallbackError:
		return "CallbackError"
	case ErrCodeCancelled:
		return "Cancelled"
	case ErrCodeIdleTimeout:
		return "IdleTimeout"
	case ErrCodeTransportError:
		return "TransportError"
	default:
		return "Unknown"
	}
}

// CodedError pairs an ErrorCode with the underlying cause, so callers
// can both switch on the code and inspect/wrap the original error.
type CodedError struct {
	Code  ErrorCode
	cause error
}

func newCodedError(code ErrorCode, cause error) *CodedError {
	return &CodedError{Code: code, cause: cause}
}

func (e *CodedError) Error() string {
	if e.cause == nil {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.cause.Error()
}

func (e *CodedError) Unwrap() error {
	return e.cause
}

var (
	// ErrActivateTwice is returned by Stream.Activate when called more
	// than once on the same stream. It is a caller-misuse error: it
	// never changes connection state.
	ErrActivateTwice = errors.New("h1conn: stream already activated")

	// ErrConnectionClosed is returned by MakeRequest once the
	// connection has stopped accepting new requests because it is
	// closed or closing.
	ErrConnectionClosed = newCodedError(ErrCodeConnectionClosed, nil)

	// ErrSwitchedProtocols is returned by MakeRequest, and delivered to
	// streams queued behind an upgrade request, once a 101 response has
	// been decoded on this connection.
	ErrSwitchedProtocols = newCodedError(ErrCodeSwitchedProtocols, nil)

	// ErrStreamCancelled is the cause reported to a stream's OnComplete
	// when it was cancelled via Stream.Cancel.
	ErrStreamCancelled = newCodedError(ErrCodeCancelled, nil)
)
