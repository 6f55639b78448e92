package httpbody

import "testing"

func TestParseContentTypeBoundary(t *testing.T) {
	mt, params := ParseContentType(`multipart/form-data; boundary="----abc123"`)
	if mt != "multipart/form-data" {
		t.Fatalf("media type: got %q", mt)
	}
	if params["boundary"] != "----abc123" {
		t.Fatalf("boundary: got %q", params["boundary"])
	}
}

func TestParseContentTypeWithComment(t *testing.T) {
	mt, params := ParseContentType(`text/plain (this is ignored); charset=utf-8`)
	if mt != "text/plain" {
		t.Fatalf("media type: got %q", mt)
	}
	if params["charset"] != "utf-8" {
		t.Fatalf("charset: got %q", params["charset"])
	}
}

func TestParseContentTypeQuotedSemicolon(t *testing.T) {
	mt, params := ParseContentType(`multipart/mixed; boundary="a;b"`)
	if mt != "multipart/mixed" {
		t.Fatalf("media type: got %q", mt)
	}
	if params["boundary"] != "a;b" {
		t.Fatalf("boundary with embedded semicolon: got %q", params["boundary"])
	}
}

func TestParseContentTypeNoParams(t *testing.T) {
	mt, params := ParseContentType("application/octet-stream")
	if mt != "application/octet-stream" {
		t.Fatalf("media type: got %q", mt)
	}
	if len(params) != 0 {
		t.Fatalf("expected no params, got %v", params)
	}
}

func TestHasPrefixFold(t *testing.T) {
	if !HasPrefixFold("MULTIPART/Form-Data; boundary=x", "multipart/form-data") {
		t.Fatal("expected case-insensitive prefix match")
	}
	if HasPrefixFold("text/plain", "multipart/form-data") {
		t.Fatal("unexpected match")
	}
	if HasPrefixFold("short", "much longer prefix") {
		t.Fatal("a shorter value cannot have a longer prefix")
	}
}

func TestParseHeaderBlock(t *testing.T) {
	block := []byte("Content-Disposition: form-data; name=\"file\"; filename=\"a.txt\"\r\nContent-Type: text/plain\r\n")
	h, err := ParseHeaderBlock(block)
	if err != nil {
		t.Fatalf("ParseHeaderBlock: %v", err)
	}
	if h.Get("Content-Type") != "text/plain" {
		t.Fatalf("Content-Type: got %q", h.Get("Content-Type"))
	}
	if h.Get("Content-Disposition") == "" {
		t.Fatal("expected a Content-Disposition header")
	}
}
