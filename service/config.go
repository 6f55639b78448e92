package service

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// JSONConfig is a Config backed by a raw JSON document, unmarshalled with
// json-iterator for its drop-in encoding/json compatibility and lower
// allocation overhead on the small, frequently-re-parsed config segments a
// service container passes around.
type JSONConfig struct {
	raw []byte
}

// LoadJSONConfig wraps data as a JSONConfig, validating that it parses as
// JSON.
func LoadJSONConfig(data []byte) (*JSONConfig, error) {
	if !jsoniter.Valid(data) {
		return nil, errors.New("invalid json config document")
	}
	return &JSONConfig{raw: data}, nil
}

// Get returns the named top-level section as its own JSONConfig, or nil if
// absent or the document isn't an object.
func (c *JSONConfig) Get(name string) Config {
	if c == nil {
		return nil
	}
	var m map[string]jsoniter.RawMessage
	if err := jsoniter.Unmarshal(c.raw, &m); err != nil {
		return nil
	}
	sub, ok := m[name]
	if !ok {
		return nil
	}
	return &JSONConfig{raw: sub}
}

// Unmarshal decodes the section's raw JSON into out.
func (c *JSONConfig) Unmarshal(out interface{}) error {
	if c == nil || len(c.raw) == 0 {
		return errNoConfig
	}
	return jsoniter.Unmarshal(c.raw, out)
}
