package httpbody

import (
	"bytes"

	"github.com/pkg/errors"
)

// URLDecoder incrementally parses application/x-www-form-urlencoded bodies
// (`key=value[&key=value]*`) across arbitrary record boundaries. Percent
// escapes and the whole key/value token are only decoded once a complete
// token (delimited by '&', or end-of-stream for the last one) has been
// assembled, so a '%' split across two Feed calls, with the rest of the
// escape arriving in the next one, decodes correctly.
type URLDecoder struct {
	buf  []byte
	dest *MultiMap
}

// NewURLDecoder returns a decoder that adds decoded (key, value) pairs to
// dest as complete tokens are recognised.
func NewURLDecoder(dest *MultiMap) *URLDecoder {
	return &URLDecoder{dest: dest}
}

// Feed appends b to the pending buffer and commits every complete
// '&'-delimited token it now contains.
func (d *URLDecoder) Feed(b []byte) error {
	d.buf = append(d.buf, b...)
	for {
		idx := bytes.IndexByte(d.buf, '&')
		if idx < 0 {
			break
		}
		tok := d.buf[:idx]
		d.buf = d.buf[idx+1:]
		if err := d.commit(tok); err != nil {
			return err
		}
	}
	return nil
}

// Close commits any trailing token left after the final '&' (or the whole
// body, if it contained none). Call it once the stream's terminating empty
// record has been seen.
func (d *URLDecoder) Close() error {
	if len(d.buf) == 0 {
		return nil
	}
	tok := d.buf
	d.buf = nil
	return d.commit(tok)
}

func (d *URLDecoder) commit(tok []byte) error {
	if len(tok) == 0 {
		return nil
	}
	key := tok
	var val []byte
	if i := bytes.IndexByte(tok, '='); i >= 0 {
		key = tok[:i]
		val = tok[i+1:]
	}
	dk, err := percentDecode(key)
	if err != nil {
		return errors.Wrap(err, "decoding url-encoded key")
	}
	dv, err := percentDecode(val)
	if err != nil {
		return errors.Wrap(err, "decoding url-encoded value")
	}
	d.dest.Add(string(dk), string(dv))
	return nil
}

// ParseQueryString decodes a complete, non-incremental url-encoded string
// (used for QUERY_STRING, which always arrives whole in one PARAMS entry)
// into dest.
func ParseQueryString(qs string, dest *MultiMap) error {
	d := NewURLDecoder(dest)
	if err := d.Feed([]byte(qs)); err != nil {
		return err
	}
	return d.Close()
}

func percentDecode(b []byte) ([]byte, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		switch b[i] {
		case '+':
			out = append(out, ' ')
		case '%':
			if i+2 >= len(b) {
				return nil, errors.New("premature end of percent escape")
			}
			hi, ok1 := hexVal(b[i+1])
			lo, ok2 := hexVal(b[i+2])
			if !ok1 || !ok2 {
				return nil, errors.Errorf("invalid percent escape %q", b[i:i+3])
			}
			out = append(out, byte(hi<<4|lo))
			i += 2
		default:
			out = append(out, b[i])
		}
	}
	return out, nil
}

func hexVal(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	default:
		return 0, false
	}
}
