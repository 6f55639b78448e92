package httpbody

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime/quotedprintable"
	"time"

	"github.com/pkg/errors"

	"fastfcgi/boyermoore"
)

// fileThreshold decides, per entry, whether its body is written to a temp
// file rather than kept in memory: any entry whose Content-Disposition
// carries a filename attribute is file-backed.
func fileThreshold(filename string) bool { return filename != "" }

type mpSubstate int

const (
	mpHeader mpSubstate = iota
	mpBody
	mpDone
)

// MultipartParser incrementally decodes one multipart/form-data (or nested
// multipart/mixed) body across arbitrary Feed-call boundaries. The
// boundary scan uses a Boyer-Moore searcher armed with "\r\n--" + boundary,
// and only the trailing bytes that could still be a partial match of that
// needle are ever held back across calls — everything else is flushed to
// the current entry's sink (memory or temp file) immediately, so a large
// file entry is never buffered whole.
type MultipartParser struct {
	host   string
	pid    int
	now    func() time.Time
	opener entryTempFileOpener

	searcher *boyermoore.Searcher
	state    mpSubstate

	pending []byte // unconsumed bytes, header text or body lookbehind
	cur     *entryBuilder

	Parts []*Entry
	err   error
}

type entryBuilder struct {
	name             string
	filename         string
	contentType      string
	charset          string
	transferEncoding string
	headers          map[string][]string

	entry  *Entry
	nested *MultipartParser // non-nil when contentType is multipart/mixed

	// qp/b64 buffer any bytes not yet consumed by the transfer-encoding
	// decoder (a base64 quantum or quoted-printable escape can itself be
	// split across Feed calls).
	encBuf []byte
}

// NewMultipartParser returns a parser for a multipart body delimited by
// boundary (without the leading "--"). host, pid and now feed the temp-file
// naming scheme for any file-backed entries it creates.
func NewMultipartParser(boundary, host string, pid int, now func() time.Time) *MultipartParser {
	needle := append([]byte("\r\n--"), boundary...)
	p := &MultipartParser{
		host:     host,
		pid:      pid,
		now:      now,
		opener:   createTempFile,
		searcher: boyermoore.NewSearcher(needle),
		state:    mpBody,
	}
	// The wire body begins directly with "--boundary", with no preceding
	// CRLF; prepending a synthetic CRLF lets the needle (which always
	// starts "\r\n--") match the very first boundary the same way it
	// matches every subsequent one.
	p.pending = []byte("\r\n")
	return p
}

// Feed supplies the next chunk of raw body bytes (as delivered by one
// STDIN/FCGI_DATA record).
func (p *MultipartParser) Feed(b []byte) error {
	if p.err != nil {
		return p.err
	}
	if p.state == mpDone {
		return nil
	}
	p.pending = append(p.pending, b...)
	if err := p.run(); err != nil {
		p.err = err
		return err
	}
	return nil
}

// Close finalises parsing once the terminating empty STDIN record has been
// seen. A well-formed body will already be in mpDone; any entry still open
// at this point is a malformed-body error.
func (p *MultipartParser) Close() error {
	if p.err != nil {
		return p.err
	}
	if p.state != mpDone {
		return errors.New("multipart body ended before closing boundary")
	}
	return nil
}

func (p *MultipartParser) run() error {
	for {
		switch p.state {
		case mpHeader:
			idx := bytes.Index(p.pending, []byte("\r\n\r\n"))
			if idx < 0 {
				return nil
			}
			block := p.pending[:idx]
			p.pending = p.pending[idx+4:]
			if err := p.startEntry(block); err != nil {
				return err
			}
			p.state = mpBody

		case mpBody:
			pos := p.searcher.Search(p.pending)
			if pos < 0 {
				needleLen := len(p.searcher.Needle())
				safe := len(p.pending) - (needleLen - 1)
				if safe > 0 {
					if err := p.sink(p.pending[:safe]); err != nil {
						return err
					}
					p.pending = p.pending[safe:]
				}
				return nil
			}

			needleLen := len(p.searcher.Needle())
			rest := p.pending[pos+needleLen:]
			if len(rest) < 2 {
				// Not enough bytes yet to know whether this boundary
				// terminates or continues; wait for more.
				if pos > 0 {
					if err := p.sink(p.pending[:pos]); err != nil {
						return err
					}
					p.pending = p.pending[pos:]
				}
				return nil
			}

			if pos > 0 {
				if err := p.sink(p.pending[:pos]); err != nil {
					return err
				}
			}

			switch {
			case rest[0] == '-' && rest[1] == '-':
				if err := p.finishEntry(); err != nil {
					return err
				}
				p.pending = nil
				p.state = mpDone
				return nil
			case rest[0] == '\r' && rest[1] == '\n':
				if err := p.finishEntry(); err != nil {
					return err
				}
				p.pending = rest[2:]
				p.state = mpHeader
			default:
				return errors.New("multipart boundary not followed by -- or CRLF")
			}

		case mpDone:
			return nil
		}
	}
}

func (p *MultipartParser) startEntry(headerBlock []byte) error {
	h, err := ParseHeaderBlock(headerBlock)
	if err != nil {
		return errors.Wrap(err, "parsing multipart entry header")
	}

	disp := h.Get("Content-Disposition")
	_, dispParams := ParseContentType(disp)
	name := dispParams["name"]
	filename := dispParams["filename"]

	ctypeHeader := h.Get("Content-Type")
	ctype, ctypeParams := ParseContentType(ctypeHeader)
	if ctype == "" {
		ctype = "text/plain"
	}

	eb := &entryBuilder{
		name:             name,
		filename:         filename,
		contentType:      ctype,
		charset:          ctypeParams["charset"],
		transferEncoding: h.Get("Content-Transfer-Encoding"),
		headers:          map[string][]string(h),
	}

	entry := &Entry{
		Name:             name,
		Filename:         filename,
		ContentType:      ctype,
		Charset:          eb.charset,
		TransferEncoding: eb.transferEncoding,
		Headers:          h,
	}
	eb.entry = entry

	if HasPrefixFold(ctype, "multipart/mixed") {
		boundary := ctypeParams["boundary"]
		if boundary == "" {
			return errors.New("nested multipart/mixed entry missing boundary parameter")
		}
		eb.nested = NewMultipartParser(boundary, p.host, p.pid, p.now)
		entry.MixedParts = []*Entry{} // non-nil marks IsMixed() true
	} else if fileThreshold(filename) {
		tf, err := p.opener(p.host, p.pid, p.now(), headerBlock, filename, ctype)
		if err != nil {
			return errors.Wrap(err, "opening multipart temp file")
		}
		entry.file = tf
	}

	p.cur = eb
	return nil
}

// sink routes raw body bytes for the currently open entry through any
// transfer-encoding decode, then to memory, temp file, or a nested parser.
func (p *MultipartParser) sink(b []byte) error {
	if p.cur == nil || len(b) == 0 {
		return nil // preamble bytes before the first part; discard
	}
	decoded, err := p.cur.decode(b)
	if err != nil {
		return err
	}
	if len(decoded) == 0 {
		return nil
	}

	eb := p.cur
	switch {
	case eb.nested != nil:
		return eb.nested.Feed(decoded)
	case eb.entry.file != nil:
		return eb.entry.writeFile(decoded)
	default:
		eb.entry.appendMemory(decoded)
		return nil
	}
}

func (p *MultipartParser) finishEntry() error {
	eb := p.cur
	p.cur = nil
	if eb == nil {
		return nil
	}
	if err := eb.flushEncoding(p); err != nil {
		return err
	}

	if eb.nested != nil {
		eb.entry.MixedParts = eb.nested.Parts
	}

	p.Parts = append(p.Parts, eb.entry)
	return nil
}

// decode applies the entry's Content-Transfer-Encoding, buffering any
// trailing bytes that don't yet form a complete decodable unit.
func (eb *entryBuilder) decode(b []byte) ([]byte, error) {
	switch lowerTE(eb.transferEncoding) {
	case "base64":
		eb.encBuf = append(eb.encBuf, b...)
		usable := len(eb.encBuf) - len(eb.encBuf)%4
		if usable == 0 {
			return nil, nil
		}
		chunk := eb.encBuf[:usable]
		eb.encBuf = append([]byte(nil), eb.encBuf[usable:]...)
		out := make([]byte, base64.StdEncoding.DecodedLen(len(chunk)))
		n, err := base64.StdEncoding.Decode(out, chunk)
		if err != nil {
			return nil, errors.Wrap(err, "decoding base64 multipart entry")
		}
		return out[:n], nil

	case "quoted-printable":
		eb.encBuf = append(eb.encBuf, b...)
		// quotedprintable needs a full logical line to resolve a
		// trailing soft break or escape; hold back a short tail that
		// might still be mid-escape.
		keep := 3
		if len(eb.encBuf) <= keep {
			return nil, nil
		}
		usable := eb.encBuf[:len(eb.encBuf)-keep]
		eb.encBuf = append([]byte(nil), eb.encBuf[len(usable):]...)
		r := quotedprintable.NewReader(bytes.NewReader(usable))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.Wrap(err, "decoding quoted-printable multipart entry")
		}
		return out, nil

	default:
		return b, nil
	}
}

func (eb *entryBuilder) flushEncoding(p *MultipartParser) error {
	if len(eb.encBuf) == 0 {
		return nil
	}
	rest := eb.encBuf
	eb.encBuf = nil

	switch lowerTE(eb.transferEncoding) {
	case "base64":
		out := make([]byte, base64.StdEncoding.DecodedLen(len(rest)))
		n, err := base64.StdEncoding.Decode(out, rest)
		if err != nil {
			return errors.Wrap(err, "decoding final base64 multipart entry block")
		}
		rest = out[:n]
	case "quoted-printable":
		r := quotedprintable.NewReader(bytes.NewReader(rest))
		out, err := io.ReadAll(r)
		if err != nil {
			return errors.Wrap(err, "decoding final quoted-printable multipart entry block")
		}
		rest = out
	}

	switch {
	case eb.nested != nil:
		return eb.nested.Feed(rest)
	case eb.entry.file != nil:
		return eb.entry.writeFile(rest)
	default:
		eb.entry.appendMemory(rest)
		return nil
	}
}

func lowerTE(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
