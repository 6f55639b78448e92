package fastcgi

import (
	"io"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// stagingSize is the size of a Stream's write-coalescing buffer.
const stagingSize = 8192

// dumpChunkSize is the chunk size used when draining an io.Reader via
// DumpReader.
const dumpChunkSize = 32768

// CharsetEncoder is the external transcoding facet a Stream calls on to
// turn text into the bytes it frames. A nil encoder assumes the caller
// already supplies UTF-8/ASCII bytes and performs no transcoding.
type CharsetEncoder interface {
	// Encode returns the wire bytes for s, or an error if s cannot be
	// represented; an encoding failure fails the request.
	Encode(s string) ([]byte, error)
}

// Stream is the user-facing sink for one of a request's STDOUT/STDERR
// record streams. It coalesces small writes into stagingSize-byte
// batches and frames them as records no larger than maxContentLength bytes;
// Dump bypasses coalescing entirely for pre-encoded binary payloads.
type Stream struct {
	t       *Transceiver
	id      FullID
	recType RecType

	staging [stagingSize]byte
	n       int

	closed  bool
	encoder CharsetEncoder
}

// newStream constructs a Stream bound to id's connection/request and
// record type. Requests own one for STDOUT and one for STDERR.
func newStream(t *Transceiver, id FullID, recType RecType) *Stream {
	return &Stream{t: t, id: id, recType: recType}
}

// SetEncoder installs the charset transcoding facet used by WriteText.
// Write and WriteString pass bytes through without transcoding.
func (s *Stream) SetEncoder(e CharsetEncoder) { s.encoder = e }

// Write implements io.Writer. Writing to a closed/completed stream
// discards the data silently rather than returning an error: the request
// is responsible for not writing after END_REQUEST.
func (s *Stream) Write(p []byte) (int, error) {
	if s.closed {
		return len(p), nil
	}
	total := len(p)
	for len(p) > 0 {
		n := copy(s.staging[s.n:], p)
		s.n += n
		p = p[n:]
		if s.n == stagingSize {
			s.flushStaged()
		}
	}
	return total, nil
}

// WriteString is a convenience wrapper around Write.
func (s *Stream) WriteString(str string) (int, error) {
	return s.Write([]byte(str))
}

// WriteText encodes s via the installed CharsetEncoder (UTF-8 passthrough
// if none is installed) and writes the result. An encoding failure is
// reported so the caller can fail the request.
func (s *Stream) WriteText(str string) error {
	var b []byte
	if s.encoder != nil {
		enc, err := s.encoder.Encode(str)
		if err != nil {
			return newRequestError(KindEncoding, s.id, err, "encoding text for %s", s.recType)
		}
		b = enc
	} else {
		if !utf8.ValidString(str) {
			return newRequestError(KindEncoding, s.id, errUTF8Invalid, "encoding text for %s", s.recType)
		}
		b = []byte(str)
	}
	_, err := s.Write(b)
	return err
}

// Dump bypasses the staging buffer entirely, framing b directly as record
// payload. Used for binary content (images, file bodies) that needs no
// character transcoding.
func (s *Stream) Dump(b []byte) {
	if s.closed || len(b) == 0 {
		return
	}
	// Any bytes already staged must go out first to preserve ordering.
	s.flushStaged()
	emitRecord(s.t, s.recType, s.id, b, false)
}

// DumpReader pulls from r in dumpChunkSize chunks until EOF, dumping each
// chunk as it arrives.
func (s *Stream) DumpReader(r io.Reader) error {
	buf := make([]byte, dumpChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.Dump(buf[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Flush serialises any staged bytes into one or more records.
func (s *Stream) Flush() {
	if s.closed {
		return
	}
	s.flushStaged()
}

func (s *Stream) flushStaged() {
	if s.n == 0 {
		return
	}
	emitRecord(s.t, s.recType, s.id, s.staging[:s.n], false)
	s.n = 0
}

// finish flushes remaining staged bytes, emits the empty terminator record
// for this stream's type (flagging the connection close if requested on the
// very last byte written), and marks the stream closed so further writes
// are silently discarded.
func (s *Stream) finish(closeFD bool) {
	if s.closed {
		return
	}
	s.flushStaged()
	emitRecord(s.t, s.recType, s.id, nil, closeFD)
	s.closed = true
}

var errUTF8Invalid = errors.New("fastcgi: invalid utf-8 in stream write")
