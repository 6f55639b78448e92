package httpbody

import (
	"net/textproto"
	"time"
)

// Entry is one decoded multipart/form-data (or nested multipart/mixed)
// entry: a named value carrying either an inline in-memory body or a
// file-backed body. Which kind an entry is decided purely by the presence
// of a filename attribute on its Content-Disposition header.
type Entry struct {
	Name             string
	Filename         string
	ContentType      string
	Charset          string
	TransferEncoding string
	Headers          textproto.MIMEHeader

	// MixedParts holds the decoded sub-entries when ContentType is
	// multipart/mixed; in that case memory/file below are unused.
	MixedParts []*Entry

	memory     []byte
	file       *tempFile
	persistent bool
}

// IsFile reports whether the entry's body lives in a temp file rather than
// in memory.
func (e *Entry) IsFile() bool { return e.file != nil }

// IsMixed reports whether the entry is a nested multipart/mixed container.
func (e *Entry) IsMixed() bool { return e.MixedParts != nil }

// Bytes returns the entry's in-memory body. It is only meaningful when
// IsFile and IsMixed are both false.
func (e *Entry) Bytes() []byte { return e.memory }

// TempPath returns the path of the backing temp file, or "" if the entry is
// not file-backed.
func (e *Entry) TempPath() string {
	if e.file == nil {
		return ""
	}
	return e.file.path
}

// MakePersistent marks the entry's temp file to survive Close; by default
// the file is unlinked when the entry is released.
func (e *Entry) MakePersistent() { e.persistent = true }

// Close releases the entry's temp file, if any, unlinking it unless
// MakePersistent was called.
func (e *Entry) Close() error {
	if e.file == nil {
		return nil
	}
	return e.file.close(e.persistent)
}

// NewInlineEntry builds an in-memory entry directly, for sources (such as
// the url-encoded body parser) that produce name/value pairs rather than
// full MIME parts.
func NewInlineEntry(name, contentType string, body []byte) *Entry {
	return &Entry{Name: name, ContentType: contentType, memory: body}
}

func (e *Entry) appendMemory(b []byte) {
	e.memory = append(e.memory, b...)
}

func (e *Entry) writeFile(b []byte) error {
	return e.file.write(b)
}

// entryTempFileOpener is the subset of createTempFile's signature an
// entryBuilder needs, bound ahead of time so tests can stub it out.
type entryTempFileOpener func(host string, pid int, now time.Time, headerBlock []byte, filename, contentType string) (*tempFile, error)
