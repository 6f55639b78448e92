package httpbody

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// tempFileDirName is the fixed subdirectory of os.TempDir() multipart file
// entries are written under.
const tempFileDirName = "mosh-fcgi"

// tempFileNameMaxLen is the maximum length, in bytes, of the generated
// temp-file basename.
const tempFileNameMaxLen = 255

// TempDir returns (creating if necessary, mode 0700) the directory
// multipart file entries are written into.
func TempDir() (string, error) {
	dir := filepath.Join(os.TempDir(), tempFileDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", errors.Wrap(err, "creating multipart temp directory")
	}
	return dir, nil
}

// tempFileName builds the basename `$host.$pid-$utc_timestamp-$sha1hex`,
// truncated to tempFileNameMaxLen bytes.
func tempFileName(host string, pid int, now time.Time, headerBlock []byte, filename, contentType string) string {
	h := sha1.New()
	h.Write(headerBlock)
	h.Write([]byte(filename))
	h.Write([]byte(contentType))
	sum := hex.EncodeToString(h.Sum(nil))

	name := fmt.Sprintf("%s.%d-%s-%s", host, pid, now.UTC().Format("20060102.150405000000"), sum)
	if len(name) > tempFileNameMaxLen {
		name = name[:tempFileNameMaxLen]
	}
	return name
}

// tempFile wraps the *os.File backing a multipart file entry's body.
type tempFile struct {
	f    *os.File
	path string
}

func createTempFile(host string, pid int, now time.Time, headerBlock []byte, filename, contentType string) (*tempFile, error) {
	dir, err := TempDir()
	if err != nil {
		return nil, err
	}
	name := tempFileName(host, pid, now, headerBlock, filename, contentType)
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "creating multipart temp file")
	}
	return &tempFile{f: f, path: path}, nil
}

func (t *tempFile) write(b []byte) error {
	_, err := t.f.Write(b)
	return errors.Wrap(err, "writing multipart temp file")
}

// close closes the underlying file and, unless persistent, unlinks it.
func (t *tempFile) close(persistent bool) error {
	err := t.f.Close()
	if !persistent {
		if rerr := os.Remove(t.path); rerr != nil && err == nil {
			err = rerr
		}
	}
	return errors.Wrap(err, "closing multipart temp file")
}
