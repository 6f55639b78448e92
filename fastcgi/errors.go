package fastcgi

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies a request-local failure. A failure the request
// itself detects finalises it with app_status=1 after writing a diagnostic
// to its err stream, and never crashes the manager. KindEncoding errors are
// the exception: Stream.WriteText returns them to its caller and does not
// finalise the request.
type ErrorKind int

const (
	// KindWireMalformed covers header parse and name-value length failures.
	KindWireMalformed ErrorKind = iota
	// KindRecordOutOfOrder covers a record whose type doesn't match the
	// request's current state.
	KindRecordOutOfOrder
	// KindBodyParse covers url-encoded/multipart/cookie parse failures.
	KindBodyParse
	// KindEncoding covers output-stream character encoding failures.
	KindEncoding
)

func (k ErrorKind) String() string {
	switch k {
	case KindWireMalformed:
		return "wire-malformed"
	case KindRecordOutOfOrder:
		return "record-out-of-order"
	case KindBodyParse:
		return "body-parse"
	case KindEncoding:
		return "encoding"
	default:
		return "unknown"
	}
}

// RequestError is a request-local, non-fatal (to the manager) error. It
// always carries the FullID of the offending request so the manager's
// diagnostic log line can identify it.
type RequestError struct {
	Kind ErrorKind
	ID   FullID
	err  error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("fastcgi: request %v: %s: %v", e.ID, e.Kind, e.err)
}

func (e *RequestError) Unwrap() error { return e.err }

func newRequestError(kind ErrorKind, id FullID, cause error, msgAndArgs ...interface{}) *RequestError {
	msg := kind.String()
	if len(msgAndArgs) > 0 {
		msg = fmt.Sprintf(msgAndArgs[0].(string), msgAndArgs[1:]...)
	}
	return &RequestError{Kind: kind, ID: id, err: errors.Wrap(cause, msg)}
}

// recordOutOfOrderError builds a KindRecordOutOfOrder error describing the
// offending transition.
func recordOutOfOrderError(id FullID, state State, got RecType) *RequestError {
	cause := errors.Errorf("state %s does not accept record type %s", state, got)
	return newRequestError(KindRecordOutOfOrder, id, cause)
}

// TransceiverError is a fatal, process-wide error (poll/read/write failures
// other than EPIPE) that causes the I/O thread to return from handler().
type TransceiverError struct {
	err error
}

func (e *TransceiverError) Error() string { return "fastcgi: transceiver: " + e.err.Error() }
func (e *TransceiverError) Unwrap() error { return e.err }

func newTransceiverError(cause error, msg string) *TransceiverError {
	return &TransceiverError{err: errors.Wrap(cause, msg)}
}
