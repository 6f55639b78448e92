package httpbody

import (
	"strings"

	"github.com/pkg/errors"
)

// Cookie is one decoded Cookie: header entry. $Version/$Domain/$Path
// tokens following a cookie's name=value pair in the header are folded
// directly onto it.
type Cookie struct {
	Name    string
	Value   string
	Version string
	Domain  string
	Path    string
}

// CookieSet holds every cookie decoded from one Cookie: header, preserving
// insertion order and allowing multiple values per name, plus the "global"
// carrier that accumulates $-attributes seen before any named cookie.
type CookieSet struct {
	keys   []string
	values map[string][]*Cookie
	global Cookie
}

// NewCookieSet returns an empty CookieSet.
func NewCookieSet() *CookieSet {
	return &CookieSet{values: make(map[string][]*Cookie)}
}

// Values returns every cookie decoded under name, in insertion order.
func (s *CookieSet) Values(name string) []*Cookie {
	return s.values[name]
}

// Keys returns every distinct cookie name in first-insertion order.
func (s *CookieSet) Keys() []string { return s.keys }

// Global returns the attribute carrier that accumulated any $Version/
// $Domain/$Path tokens that appeared before the first named cookie.
func (s *CookieSet) Global() Cookie { return s.global }

func (s *CookieSet) add(c *Cookie) {
	if _, ok := s.values[c.Name]; !ok {
		s.keys = append(s.keys, c.Name)
	}
	s.values[c.Name] = append(s.values[c.Name], c)
}

// ParseCookieHeader parses the value of an HTTP Cookie header: a list of
// name=value pairs separated by ';' (or, tolerantly, ','), where values may
// be double-quoted, and tokens whose name starts with '$' set an attribute
// on the most recently emitted cookie (or the CookieSet's global carrier,
// if none has been emitted yet) rather than introducing a new cookie.
func ParseCookieHeader(header string) (*CookieSet, error) {
	set := NewCookieSet()
	var last *Cookie

	for _, tok := range splitCookieTokens(header) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		name, value, err := splitCookieToken(tok)
		if err != nil {
			return nil, err
		}

		if strings.HasPrefix(name, "$") {
			target := &set.global
			if last != nil {
				target = last
			}
			applyAttribute(target, strings.ToLower(name[1:]), value)
			continue
		}

		c := &Cookie{Name: name, Value: value}
		set.add(c)
		last = c
	}

	return set, nil
}

func applyAttribute(c *Cookie, attr, value string) {
	switch attr {
	case "version":
		c.Version = value
	case "domain":
		c.Domain = value
	case "path":
		c.Path = value
	}
}

// splitCookieTokens splits on ';' or ',' while treating double-quoted spans
// as opaque (a separator inside a balanced quoted value does not split).
func splitCookieTokens(s string) []string {
	var toks []string
	inQuotes := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case ';', ',':
			if !inQuotes {
				toks = append(toks, s[start:i])
				start = i + 1
			}
		}
	}
	toks = append(toks, s[start:])
	return toks
}

// splitCookieToken splits "name=value" (value may be double-quoted with the
// quotes stripped) into its parts.
func splitCookieToken(tok string) (name, value string, err error) {
	i := strings.IndexByte(tok, '=')
	if i < 0 {
		return strings.TrimSpace(tok), "", nil
	}
	name = strings.TrimSpace(tok[:i])
	value = strings.TrimSpace(tok[i+1:])
	if len(value) >= 2 && value[0] == '"' {
		if value[len(value)-1] != '"' {
			return "", "", errors.Errorf("unterminated quoted cookie value: %q", value)
		}
		value = value[1 : len(value)-1]
	}
	return name, value, nil
}
