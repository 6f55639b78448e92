package httpbody

import (
	"bufio"
	"bytes"
	"net/textproto"
	"strings"

	"github.com/pkg/errors"
)

// ParseHeaderBlock parses a block of RFC-822 style headers (as accumulated
// up to the blank line terminating a multipart entry's header section)
// into a normalised name -> value map. Header-name normalisation
// ("capitalise each word") and continuation-line folding are delegated to
// net/textproto's MIME header reader, whose CanonicalMIMEHeaderKey already
// implements exactly that capitalisation rule.
func ParseHeaderBlock(block []byte) (textproto.MIMEHeader, error) {
	r := bufio.NewReader(bytes.NewReader(append(block, "\r\n"...)))
	tp := textproto.NewReader(r)
	h, err := tp.ReadMIMEHeader()
	if err != nil && len(h) == 0 {
		return nil, errors.Wrap(err, "parsing multipart entry headers")
	}
	return h, nil
}

// stripComments removes RFC-2822 parenthetical comments from s, honouring
// quoted strings (a '(' inside a quoted string is not a comment) and
// nested parentheses.
func stripComments(s string) string {
	var out strings.Builder
	depth := 0
	inQuotes := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' && depth == 0:
			inQuotes = !inQuotes
			out.WriteByte(c)
		case c == '(' && !inQuotes:
			depth++
		case c == ')' && !inQuotes && depth > 0:
			depth--
		case depth == 0:
			out.WriteByte(c)
		}
	}
	return out.String()
}

// splitParams splits a Content-Type-style value on ';', honouring balanced
// double-quoted spans.
func splitParams(s string) []string {
	var parts []string
	inQuotes := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case ';':
			if !inQuotes {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// ParseContentType extracts the media type and parameter map (e.g.
// `boundary`, `charset`) from a Content-Type value, first stripping
// RFC-2822 comments and then splitting parameters while respecting
// quoted-string boundaries.
func ParseContentType(v string) (mediaType string, params map[string]string) {
	v = stripComments(v)
	parts := splitParams(v)
	params = make(map[string]string)
	if len(parts) == 0 {
		return "", params
	}
	mediaType = strings.ToLower(strings.TrimSpace(parts[0]))

	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		eq := strings.IndexByte(p, '=')
		if eq < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(p[:eq]))
		val := strings.TrimSpace(p[eq+1:])
		val = unquote(val)
		params[key] = val
	}
	return mediaType, params
}

// unquote strips balanced double quotes and resolves RFC-822 quoted-pair
// ('\' escapes) inside them; a value with no surrounding quotes is returned
// unchanged.
func unquote(v string) string {
	if len(v) < 2 || v[0] != '"' || v[len(v)-1] != '"' {
		return v
	}
	inner := v[1 : len(v)-1]
	var out strings.Builder
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) {
			i++
		}
		out.WriteByte(inner[i])
	}
	return out.String()
}

// HasPrefixFold reports whether v, case-insensitively, begins with prefix —
// used to match CONTENT_TYPE values like "multipart/form-data; boundary=..."
// against their bare media-type prefix.
func HasPrefixFold(v, prefix string) bool {
	if len(v) < len(prefix) {
		return false
	}
	return strings.EqualFold(v[:len(prefix)], prefix)
}
