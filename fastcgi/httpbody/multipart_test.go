package httpbody

import (
	"bytes"
	"os"
	"testing"
	"time"
)

func fixedNow() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func buildFormDataBody(boundary string) string {
	var b bytes.Buffer
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Disposition: form-data; name=\"field1\"\r\n")
	b.WriteString("\r\n")
	b.WriteString("value1")
	b.WriteString("\r\n--" + boundary + "\r\n")
	b.WriteString("Content-Disposition: form-data; name=\"file1\"; filename=\"a.txt\"\r\n")
	b.WriteString("Content-Type: text/plain\r\n")
	b.WriteString("\r\n")
	b.WriteString("file contents here")
	b.WriteString("\r\n--" + boundary + "--\r\n")
	return b.String()
}

func TestMultipartParserFormFields(t *testing.T) {
	body := buildFormDataBody("X-BOUNDARY")
	p := NewMultipartParser("X-BOUNDARY", "testhost", 1234, fixedNow)

	// Feed it in small pieces to exercise boundary-spanning reassembly.
	const chunkLen = 7
	raw := []byte(body)
	for i := 0; i < len(raw); i += chunkLen {
		end := i + chunkLen
		if end > len(raw) {
			end = len(raw)
		}
		if err := p.Feed(raw[i:end]); err != nil {
			t.Fatalf("Feed at %d: %v", i, err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(p.Parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(p.Parts))
	}

	field := p.Parts[0]
	if field.Name != "field1" || field.IsFile() {
		t.Fatalf("field1: got name=%q isFile=%v", field.Name, field.IsFile())
	}
	if string(field.Bytes()) != "value1" {
		t.Fatalf("field1 body: got %q", field.Bytes())
	}

	file := p.Parts[1]
	if file.Name != "file1" || file.Filename != "a.txt" || !file.IsFile() {
		t.Fatalf("file1: got name=%q filename=%q isFile=%v", file.Name, file.Filename, file.IsFile())
	}
	defer file.Close()

	data, err := os.ReadFile(file.TempPath())
	if err != nil {
		t.Fatalf("reading temp file: %v", err)
	}
	if string(data) != "file contents here" {
		t.Fatalf("file1 body: got %q", data)
	}
}

func TestMultipartParserNestedMixed(t *testing.T) {
	inner := buildFormDataBody("INNER")
	var outer bytes.Buffer
	outer.WriteString("--OUTER\r\n")
	outer.WriteString("Content-Disposition: form-data; name=\"attachments\"\r\n")
	outer.WriteString("Content-Type: multipart/mixed; boundary=INNER\r\n")
	outer.WriteString("\r\n")
	outer.WriteString(inner)
	outer.WriteString("\r\n--OUTER--\r\n")

	p := NewMultipartParser("OUTER", "testhost", 1, fixedNow)
	if err := p.Feed(outer.Bytes()); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(p.Parts) != 1 {
		t.Fatalf("expected 1 outer part, got %d", len(p.Parts))
	}
	outerEntry := p.Parts[0]
	if !outerEntry.IsMixed() {
		t.Fatal("expected the attachments entry to be a mixed container")
	}
	if len(outerEntry.MixedParts) != 2 {
		t.Fatalf("expected 2 nested parts, got %d", len(outerEntry.MixedParts))
	}
	defer func() {
		for _, sub := range outerEntry.MixedParts {
			sub.Close()
		}
	}()
	if outerEntry.MixedParts[0].Name != "field1" {
		t.Fatalf("nested part 0: got name %q", outerEntry.MixedParts[0].Name)
	}
}

func TestMultipartParserBase64Entry(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("--B\r\n")
	b.WriteString("Content-Disposition: form-data; name=\"data\"\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n")
	b.WriteString("\r\n")
	// base64("hello world!") == "aGVsbG8gd29ybGQh"
	b.WriteString("aGVsbG8gd29ybGQh")
	b.WriteString("\r\n--B--\r\n")

	p := NewMultipartParser("B", "testhost", 1, fixedNow)
	// Split in the middle of the base64 quantum to exercise buffering.
	raw := b.Bytes()
	mid := len(raw) / 2
	if err := p.Feed(raw[:mid]); err != nil {
		t.Fatalf("Feed 1: %v", err)
	}
	if err := p.Feed(raw[mid:]); err != nil {
		t.Fatalf("Feed 2: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(p.Parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(p.Parts))
	}
	if string(p.Parts[0].Bytes()) != "hello world!" {
		t.Fatalf("decoded body: got %q", p.Parts[0].Bytes())
	}
}

func TestMultipartParserMalformedBodyNoClosingBoundary(t *testing.T) {
	p := NewMultipartParser("X", "testhost", 1, fixedNow)
	if err := p.Feed([]byte("--X\r\nContent-Disposition: form-data; name=\"a\"\r\n\r\nvalue")); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := p.Close(); err == nil {
		t.Fatal("expected an error for a body missing its closing boundary")
	}
}
