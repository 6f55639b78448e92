package fastcgi

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// RecType is a FastCGI record type, as defined by the Open Market FastCGI
// specification.
type RecType uint8

const (
	TypeBeginRequest    RecType = 1
	TypeAbortRequest    RecType = 2
	TypeEndRequest      RecType = 3
	TypeParams          RecType = 4
	TypeStdin           RecType = 5
	TypeStdout          RecType = 6
	TypeStderr          RecType = 7
	TypeData            RecType = 8
	TypeGetValues       RecType = 9
	TypeGetValuesResult RecType = 10
	TypeUnknownType     RecType = 11
)

// String implements fmt.Stringer.
func (t RecType) String() string {
	switch t {
	case TypeBeginRequest:
		return "FCGI_BEGIN_REQUEST"
	case TypeAbortRequest:
		return "FCGI_ABORT_REQUEST"
	case TypeEndRequest:
		return "FCGI_END_REQUEST"
	case TypeParams:
		return "FCGI_PARAMS"
	case TypeStdin:
		return "FCGI_STDIN"
	case TypeStdout:
		return "FCGI_STDOUT"
	case TypeStderr:
		return "FCGI_STDERR"
	case TypeData:
		return "FCGI_DATA"
	case TypeGetValues:
		return "FCGI_GET_VALUES"
	case TypeGetValuesResult:
		return "FCGI_GET_VALUES_RESULT"
	case TypeUnknownType:
		return "FCGI_UNKNOWN_TYPE"
	default:
		return "FCGI_UNKNOWN_TYPE"
	}
}

// Role is the role the front-end assigns a request in BEGIN_REQUEST.
type Role uint16

const (
	RoleResponder  Role = 1
	RoleAuthorizer Role = 2
	RoleFilter     Role = 3
)

func (r Role) String() string {
	switch r {
	case RoleResponder:
		return "Responder"
	case RoleAuthorizer:
		return "Authorizer"
	case RoleFilter:
		return "Filter"
	default:
		return "Unknown"
	}
}

// Protocol status values carried in END_REQUEST.
const (
	StatusRequestComplete uint8 = 0
	StatusCantMultiplex   uint8 = 1
	StatusOverloaded      uint8 = 2
	StatusUnknownRole     uint8 = 3
)

const (
	version uint8 = 1

	// maxContentLength is the largest content_length a single record may
	// carry; records are chunked at this boundary.
	maxContentLength = 65535

	// maxPadding is the largest padding_length a record may carry.
	maxPadding = 255

	// headerLen is the fixed size, in bytes, of a record header.
	headerLen = 8
)

// Header is the fixed 8-byte record header that precedes every FastCGI
// record. All multi-byte integer fields are big-endian on the wire.
type Header struct {
	Version       uint8
	Type          RecType
	RequestID     uint16
	ContentLength uint16
	PaddingLength uint8
	Reserved      uint8
}

// Init populates h for a record of the given type, request id, and content
// length, choosing the padding that rounds the total record length to a
// multiple of 8.
func (h *Header) Init(t RecType, reqID uint16, contentLength int) {
	h.Version = version
	h.Type = t
	h.RequestID = reqID
	h.ContentLength = uint16(contentLength)
	h.PaddingLength = uint8(-contentLength & 7)
	h.Reserved = 0
}

// MarshalBinary encodes the header into its 8-byte wire form.
func (h *Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, headerLen)
	b[0] = h.Version
	b[1] = byte(h.Type)
	binary.BigEndian.PutUint16(b[2:4], h.RequestID)
	binary.BigEndian.PutUint16(b[4:6], h.ContentLength)
	b[6] = h.PaddingLength
	b[7] = h.Reserved
	return b, nil
}

// UnmarshalHeader decodes a Header from an 8-byte buffer. The buffer is
// copied into a fixed-size aligned array before any field access so that
// callers may pass unaligned slices safely.
func UnmarshalHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < headerLen {
		return h, errors.Errorf("fastcgi: short header: need %d bytes, got %d", headerLen, len(b))
	}
	var aligned [headerLen]byte
	copy(aligned[:], b[:headerLen])

	h.Version = aligned[0]
	h.Type = RecType(aligned[1])
	h.RequestID = binary.BigEndian.Uint16(aligned[2:4])
	h.ContentLength = binary.BigEndian.Uint16(aligned[4:6])
	h.PaddingLength = aligned[6]
	h.Reserved = aligned[7]

	if h.Version != version {
		return h, errors.Errorf("fastcgi: unsupported protocol version %d", h.Version)
	}
	return h, nil
}

// BeginRequestBody is the 8-byte payload of a BEGIN_REQUEST record.
type BeginRequestBody struct {
	Role     Role
	KeepConn bool
}

// KeepConnFlag is bit 0 of the BEGIN_REQUEST flags byte.
const KeepConnFlag uint8 = 1 << 0

func (b *BeginRequestBody) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint16(buf[0:2], uint16(b.Role))
	if b.KeepConn {
		buf[2] = KeepConnFlag
	}
	return buf, nil
}

// UnmarshalBeginRequestBody decodes a BEGIN_REQUEST body.
func UnmarshalBeginRequestBody(b []byte) (BeginRequestBody, error) {
	var body BeginRequestBody
	if len(b) < 8 {
		return body, errors.Errorf("fastcgi: short begin-request body: %d bytes", len(b))
	}
	body.Role = Role(binary.BigEndian.Uint16(b[0:2]))
	body.KeepConn = b[2]&KeepConnFlag != 0
	return body, nil
}

// EndRequestBody is the 8-byte payload of an END_REQUEST record.
type EndRequestBody struct {
	AppStatus      int32
	ProtocolStatus uint8
}

func (b *EndRequestBody) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(b.AppStatus))
	buf[4] = b.ProtocolStatus
	return buf, nil
}

// UnmarshalEndRequestBody decodes an END_REQUEST body.
func UnmarshalEndRequestBody(b []byte) (EndRequestBody, error) {
	var body EndRequestBody
	if len(b) < 8 {
		return body, errors.Errorf("fastcgi: short end-request body: %d bytes", len(b))
	}
	body.AppStatus = int32(binary.BigEndian.Uint32(b[0:4]))
	body.ProtocolStatus = b[4]
	return body, nil
}

// UnknownTypeBody is the 8-byte payload of an UNKNOWN_TYPE record.
type UnknownTypeBody struct {
	Type RecType
}

func (b *UnknownTypeBody) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 8)
	buf[0] = byte(b.Type)
	return buf, nil
}

// UnmarshalUnknownTypeBody decodes an UNKNOWN_TYPE body.
func UnmarshalUnknownTypeBody(b []byte) (UnknownTypeBody, error) {
	var body UnknownTypeBody
	if len(b) < 8 {
		return body, errors.Errorf("fastcgi: short unknown-type body: %d bytes", len(b))
	}
	body.Type = RecType(b[0])
	return body, nil
}
