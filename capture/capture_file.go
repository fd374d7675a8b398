// Package capture records bus image streams to disk and reads them back.
//
// A capture file is a sequence of BSON documents: one Metadata document
// followed by zero or more frame documents. Files still being written carry
// the .prog extension and are renamed to .capture once complete, so a reader
// that only touches .capture files never sees a torn document.
package capture

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/simbotics/simsense/msgs"
)

const (
	// InProgressFileExt is the extension of files a Recorder is still writing.
	InProgressFileExt = ".prog"
	// CompletedFileExt is the extension of finished capture files.
	CompletedFileExt = ".capture"

	captureFileSchema = 1

	filePathReservedChars = ":"
)

// Metadata is the first document in every capture file.
type Metadata struct {
	Schema      int       `bson:"schema" json:"schema"`
	Topic       string    `bson:"topic" json:"topic"`
	MessageType string    `bson:"message_type" json:"message_type"`
	WorldName   string    `bson:"world_name" json:"world_name"`
	CapturedAt  time.Time `bson:"captured_at" json:"captured_at"`
	PartID      string    `bson:"part_id" json:"part_id"`
}

// CaptureFile provides read access to one capture file. Metadata is read
// eagerly on open; frame documents stream through ReadNext.
type CaptureFile struct {
	path              string
	size              int64
	metadata          Metadata
	initialReadOffset int64

	lock       sync.Mutex
	file       *os.File
	readOffset int64
}

// IsCaptureFile reports whether path names a completed capture file.
func IsCaptureFile(path string) bool {
	return filepath.Ext(path) == CompletedFileExt
}

// OpenCaptureFile opens the capture file at path and reads its metadata
// document. It accepts in-progress files too, so a .prog left behind by a
// crashed run can still be inspected.
func OpenCaptureFile(path string) (*CaptureFile, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	finfo, err := f.Stat()
	if err != nil {
		return nil, multierr.Combine(err, f.Close())
	}
	raw, err := bson.NewFromIOReader(f)
	if err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "failed to read capture metadata from %s", path), f.Close())
	}
	var md Metadata
	if err := bson.Unmarshal(raw, &md); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "failed to decode capture metadata from %s", path), f.Close())
	}
	offset := int64(len(raw))
	return &CaptureFile{
		path:              path,
		size:              finfo.Size(),
		metadata:          md,
		initialReadOffset: offset,
		file:              f,
		readOffset:        offset,
	}, nil
}

// ReadMetadata returns the metadata document the file opened with.
func (f *CaptureFile) ReadMetadata() Metadata {
	return f.metadata
}

// ReadNext returns the next frame document. It returns io.EOF once the file
// is exhausted and io.ErrUnexpectedEOF on a torn trailing document.
func (f *CaptureFile) ReadNext() (msgs.ImageStamped, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	var frame msgs.ImageStamped
	if _, err := f.file.Seek(f.readOffset, io.SeekStart); err != nil {
		return frame, err
	}
	raw, err := bson.NewFromIOReader(f.file)
	if err != nil {
		return frame, err
	}
	if err := bson.Unmarshal(raw, &frame); err != nil {
		return frame, err
	}
	f.readOffset += int64(len(raw))
	return frame, nil
}

// Reset moves the read pointer back to the first frame document.
func (f *CaptureFile) Reset() {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.readOffset = f.initialReadOffset
}

// Size returns the file's size in bytes at open time.
func (f *CaptureFile) Size() int64 {
	return f.size
}

// Path returns the file's path.
func (f *CaptureFile) Path() string {
	return f.path
}

// Close closes the underlying file.
func (f *CaptureFile) Close() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.file.Close()
}

// Delete closes and removes the file.
func (f *CaptureFile) Delete() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := f.file.Close(); err != nil {
		return err
	}
	return os.Remove(f.path)
}

// ReadAllFromPath opens the capture file at path and returns its metadata
// and every frame document it holds. A torn trailing document ends the read
// without error, matching what a crashed writer leaves behind.
func ReadAllFromPath(path string) (Metadata, []msgs.ImageStamped, error) {
	f, err := OpenCaptureFile(path)
	if err != nil {
		return Metadata{}, nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	var frames []msgs.ImageStamped
	for {
		next, err := f.ReadNext()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return f.ReadMetadata(), nil, err
		}
		frames = append(frames, next)
	}
	return f.ReadMetadata(), frames, nil
}

// FilePathWithReplacedReservedChars substitutes characters that are unsafe in
// file names, such as the colons RFC 3339 timestamps carry.
func FilePathWithReplacedReservedChars(path string) string {
	return strings.ReplaceAll(path, filePathReservedChars, "_")
}
