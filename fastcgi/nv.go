package fastcgi

import (
	"encoding/binary"
)

// encodeNameValueLen appends the length-prefix encoding of n to b: a single
// byte if n < 128, else a 4-byte big-endian value with the top bit set (the
// stored length occupies the low 31 bits).
func encodeNameValueLen(b []byte, n int) []byte {
	if n < 128 {
		return append(b, byte(n))
	}
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(n)|(1<<31))
	return append(b, tmp[:]...)
}

// EncodeNameValuePairs encodes a sequence of name/value pairs using the
// minimal-length form for each length prefix, in iteration order.
func EncodeNameValuePairs(pairs [][2]string) []byte {
	var buf []byte
	for _, kv := range pairs {
		buf = encodeNameValueLen(buf, len(kv[0]))
		buf = encodeNameValueLen(buf, len(kv[1]))
		buf = append(buf, kv[0]...)
		buf = append(buf, kv[1]...)
	}
	return buf
}

// decodeNameValueLen reads one length prefix from buf, returning the decoded
// length and the number of bytes it consumed. It returns ok=false if buf is
// too short to contain even the length prefix.
func decodeNameValueLen(buf []byte) (n int, consumed int, ok bool) {
	if len(buf) == 0 {
		return 0, 0, false
	}
	if buf[0]&0x80 == 0 {
		return int(buf[0]), 1, true
	}
	if len(buf) < 4 {
		return 0, 0, false
	}
	v := binary.BigEndian.Uint32(buf[:4])
	v &^= 1 << 31
	return int(v), 4, true
}

// ProcessParamRecord decodes the first complete name-value entry at the
// start of buf. It returns consumed == 0, ok == false when buf does not yet
// contain a full entry (caller should wait for more bytes). err is always
// nil: declared lengths that exceed what buf holds are reported as an
// incomplete entry, never as malformed input.
//
// This is a decoder over a byte stream that may span several PARAMS
// records; callers are expected to accumulate undigested bytes between
// calls.
func ProcessParamRecord(buf []byte) (consumed int, name, value string, ok bool, err error) {
	nameLen, n1, ok1 := decodeNameValueLen(buf)
	if !ok1 {
		return 0, "", "", false, nil
	}
	rest := buf[n1:]
	valueLen, n2, ok2 := decodeNameValueLen(rest)
	if !ok2 {
		return 0, "", "", false, nil
	}
	rest = rest[n2:]

	total := n1 + n2 + nameLen + valueLen
	if total > len(buf) {
		// Not malformed yet — simply incomplete; more bytes may arrive in a
		// later PARAMS record.
		return 0, "", "", false, nil
	}

	name = string(rest[:nameLen])
	value = string(rest[nameLen : nameLen+valueLen])
	return total, name, value, true, nil
}
