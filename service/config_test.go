package service

import "testing"

type fooConfig struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestLoadJSONConfigRejectsInvalidJSON(t *testing.T) {
	if _, err := LoadJSONConfig([]byte("{not json")); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestJSONConfigUnmarshal(t *testing.T) {
	cfg, err := LoadJSONConfig([]byte(`{"name":"demo","count":3}`))
	if err != nil {
		t.Fatalf("LoadJSONConfig: %v", err)
	}
	var out fooConfig
	if err := cfg.Unmarshal(&out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Name != "demo" || out.Count != 3 {
		t.Fatalf("got %+v", out)
	}
}

func TestJSONConfigGetSection(t *testing.T) {
	cfg, err := LoadJSONConfig([]byte(`{"http":{"address":":8080"},"other":1}`))
	if err != nil {
		t.Fatalf("LoadJSONConfig: %v", err)
	}
	sub := cfg.Get("http")
	if sub == nil {
		t.Fatal("expected an \"http\" section")
	}
	var out struct {
		Address string `json:"address"`
	}
	if err := sub.Unmarshal(&out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Address != ":8080" {
		t.Fatalf("got %q", out.Address)
	}
}

func TestJSONConfigGetMissingSection(t *testing.T) {
	cfg, err := LoadJSONConfig([]byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("LoadJSONConfig: %v", err)
	}
	if sub := cfg.Get("missing"); sub != nil {
		t.Fatalf("expected nil for a missing section, got %v", sub)
	}
}

func TestJSONConfigUnmarshalOnNilReceiver(t *testing.T) {
	var cfg *JSONConfig
	var out fooConfig
	if err := cfg.Unmarshal(&out); err != errNoConfig {
		t.Fatalf("expected errNoConfig, got %v", err)
	}
}
