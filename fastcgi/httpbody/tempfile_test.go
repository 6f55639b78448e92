package httpbody

import (
	"os"
	"testing"
	"time"
)

func TestCreateTempFileWriteAndUnlinkOnClose(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	tf, err := createTempFile("host", 42, now, []byte("headers"), "upload.bin", "application/octet-stream")
	if err != nil {
		t.Fatalf("createTempFile: %v", err)
	}
	if err := tf.write([]byte("payload")); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(tf.path)
	if err != nil {
		t.Fatalf("reading back temp file: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("expected \"payload\", got %q", data)
	}

	if err := tf.close(false); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(tf.path); !os.IsNotExist(err) {
		t.Fatalf("expected the temp file to be unlinked, stat error: %v", err)
	}
}

func TestCreateTempFilePersistentSurvivesClose(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	tf, err := createTempFile("host", 42, now, []byte("h"), "keep.bin", "application/octet-stream")
	if err != nil {
		t.Fatalf("createTempFile: %v", err)
	}
	path := tf.path
	if err := tf.close(true); err != nil {
		t.Fatalf("close: %v", err)
	}
	defer os.Remove(path)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected the persisted temp file to remain, stat error: %v", err)
	}
}

func TestTempFileNameDeterministicAndBounded(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	a := tempFileName("host", 1, now, []byte("same"), "f.txt", "text/plain")
	b := tempFileName("host", 1, now, []byte("same"), "f.txt", "text/plain")
	if a != b {
		t.Fatalf("expected deterministic names for identical inputs: %q vs %q", a, b)
	}
	c := tempFileName("host", 1, now, []byte("different"), "f.txt", "text/plain")
	if a == c {
		t.Fatal("expected different header blocks to produce different names")
	}
	if len(a) > tempFileNameMaxLen {
		t.Fatalf("name exceeds max length: %d", len(a))
	}
}

func TestTempDirIsModeRestricted(t *testing.T) {
	dir, err := TempDir()
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("expected a directory")
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		t.Fatalf("expected no group/other permissions, got %o", perm)
	}
}
