package fastcgi

import "fastfcgi/fastcgi/httpbody"

// EnvMap is an insertion-ordered string-to-string map holding a request's
// CGI environment variables.
type EnvMap struct {
	keys   []string
	values map[string]string
}

// NewEnvMap returns an empty EnvMap.
func NewEnvMap() *EnvMap {
	return &EnvMap{values: make(map[string]string)}
}

func (m *EnvMap) set(key, value string) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value stored for key, if any.
func (m *EnvMap) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns every key in first-insertion order.
func (m *EnvMap) Keys() []string { return m.keys }

// PostMap is an insertion-ordered string-keyed map of multipart entry
// slices, used for a request's form-data and multipart/mixed results.
type PostMap struct {
	keys   []string
	values map[string][]*httpbody.Entry
}

// NewPostMap returns an empty PostMap.
func NewPostMap() *PostMap {
	return &PostMap{values: make(map[string][]*httpbody.Entry)}
}

// Add appends e to the list of entries stored under name.
func (m *PostMap) Add(name string, e *httpbody.Entry) {
	if _, ok := m.values[name]; !ok {
		m.keys = append(m.keys, name)
	}
	m.values[name] = append(m.values[name], e)
}

// Values returns every entry stored under name, in insertion order.
func (m *PostMap) Values(name string) []*httpbody.Entry { return m.values[name] }

// Keys returns every distinct name in first-insertion order.
func (m *PostMap) Keys() []string { return m.keys }
