package fastcgi

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	var h Header
	h.Init(TypeStdout, 7, 300)

	b, err := h.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(b) != headerLen {
		t.Fatalf("expected %d bytes, got %d", headerLen, len(b))
	}

	got, err := UnmarshalHeader(b)
	if err != nil {
		t.Fatalf("UnmarshalHeader: %v", err)
	}
	if got.Type != TypeStdout || got.RequestID != 7 || got.ContentLength != 300 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	// 8 + 300 + padding must be a multiple of 8.
	total := headerLen + int(got.ContentLength) + int(got.PaddingLength)
	if total%8 != 0 {
		t.Fatalf("record length %d not 8-aligned", total)
	}
}

func TestHeaderInitZeroPadding(t *testing.T) {
	var h Header
	h.Init(TypeStdin, 1, 16)
	if h.PaddingLength != 0 {
		t.Fatalf("expected zero padding for an already-aligned length, got %d", h.PaddingLength)
	}
}

func TestUnmarshalHeaderShort(t *testing.T) {
	if _, err := UnmarshalHeader([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a short header buffer")
	}
}

func TestUnmarshalHeaderBadVersion(t *testing.T) {
	var h Header
	h.Init(TypeStdout, 0, 0)
	b, _ := h.MarshalBinary()
	b[0] = 9
	if _, err := UnmarshalHeader(b); err == nil {
		t.Fatal("expected an error for an unsupported version")
	}
}

func TestBeginRequestBodyRoundTrip(t *testing.T) {
	body := BeginRequestBody{Role: RoleFilter, KeepConn: true}
	b, err := body.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	got, err := UnmarshalBeginRequestBody(b)
	if err != nil {
		t.Fatalf("UnmarshalBeginRequestBody: %v", err)
	}
	if got.Role != RoleFilter || !got.KeepConn {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestEndRequestBodyRoundTrip(t *testing.T) {
	body := EndRequestBody{AppStatus: -1, ProtocolStatus: StatusOverloaded}
	b, err := body.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	got, err := UnmarshalEndRequestBody(b)
	if err != nil {
		t.Fatalf("UnmarshalEndRequestBody: %v", err)
	}
	if got.AppStatus != -1 || got.ProtocolStatus != StatusOverloaded {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestUnknownTypeBodyRoundTrip(t *testing.T) {
	body := UnknownTypeBody{Type: RecType(200)}
	b, _ := body.MarshalBinary()
	got, err := UnmarshalUnknownTypeBody(b)
	if err != nil {
		t.Fatalf("UnmarshalUnknownTypeBody: %v", err)
	}
	if got.Type != RecType(200) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
