package fastcgi

import (
	"testing"

	"golang.org/x/sys/unix"
)

// newLoopbackTransceiver builds a Transceiver with one connection already
// registered over a real socketpair, bypassing listen/accept entirely so
// tests can drive the wire protocol directly. The listening fd is set to -1:
// poll(2) ignores negative fds, so Handler's accept branch never fires.
func newLoopbackTransceiver(t *testing.T, pusher Pusher) (tr *Transceiver, peerFD int, connFD int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	connFD, peerFD = fds[0], fds[1]
	if err := unix.SetNonblock(connFD, true); err != nil {
		t.Fatalf("SetNonblock(conn): %v", err)
	}
	if err := unix.SetNonblock(peerFD, true); err != nil {
		t.Fatalf("SetNonblock(peer): %v", err)
	}

	tr, err = NewTransceiver(-1, pusher)
	if err != nil {
		t.Fatalf("NewTransceiver: %v", err)
	}
	tr.conns[connFD] = &connState{fd: connFD}

	t.Cleanup(func() {
		_ = unix.Close(peerFD)
	})
	return tr, peerFD, connFD
}

// readAllNonblocking drains every byte currently available on fd without
// blocking, retrying briefly to give the transceiver's own writes time to
// land (this runs over a real kernel socket buffer, not a mock).
func readAllNonblocking(t *testing.T, fd int) []byte {
	t.Helper()
	var out []byte
	var buf [4096]byte
	empty := 0
	for empty < 50 {
		n, err := unix.Read(fd, buf[:])
		if n > 0 {
			out = append(out, buf[:n]...)
			empty = 0
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || n == 0 {
			empty++
			continue
		}
		t.Fatalf("read: %v", err)
	}
	return out
}

func writeAll(t *testing.T, fd int, b []byte) {
	t.Helper()
	for len(b) > 0 {
		n, err := unix.Write(fd, b)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				continue
			}
			t.Fatalf("write: %v", err)
		}
		b = b[n:]
	}
}

func beginRequestRecord(reqID uint16, role Role, keepConn bool) []byte {
	body := BeginRequestBody{Role: role, KeepConn: keepConn}
	bb, _ := body.MarshalBinary()
	return frameOne(TypeBeginRequest, reqID, bb)
}

func paramsRecord(reqID uint16, pairs [][2]string) []byte {
	return frameOne(TypeParams, reqID, EncodeNameValuePairs(pairs))
}

func emptyRecord(recType RecType, reqID uint16) []byte {
	return frameOne(recType, reqID, nil)
}

// decodeRecords splits a raw byte stream into (header, content) pairs,
// stopping at the first short/incomplete record.
func decodeRecords(t *testing.T, b []byte) []Header {
	t.Helper()
	var out []Header
	for len(b) >= headerLen {
		h, err := UnmarshalHeader(b)
		if err != nil {
			t.Fatalf("decodeRecords: %v", err)
		}
		total := headerLen + int(h.ContentLength) + int(h.PaddingLength)
		if len(b) < total {
			t.Fatalf("decodeRecords: truncated record, need %d have %d", total, len(b))
		}
		out = append(out, h)
		b = b[total:]
	}
	return out
}
