package fatvol

import (
	"io"
	"os"
)

// BlockDevice is the minimal random-access byte source every decoder in
// this package reads through. It never exposes write access: this library
// is read-only by design (spec's non-goal on write support).
type BlockDevice interface {
	// ReadAt reads len(p) bytes starting at byte offset off, relative to
	// the start of the volume (not the start of the underlying file).
	ReadAt(p []byte, off int64) (n int, err error)

	// Size returns the total addressable size of the volume, in bytes.
	Size() int64

	// Close releases any resources the device holds open.
	Close() error
}

// FileDevice adapts an *os.File (or any io.ReaderAt+io.Closer) into a
// BlockDevice, honoring an optional volumeOffset when the filesystem
// begins partway into the file (e.g. a partition embedded in a disk image).
type FileDevice struct {
	ra           io.ReaderAt
	closer       io.Closer
	volumeOffset int64
	size         int64
}

// OpenFileDevice opens path for reading and wraps it as a BlockDevice. The
// filesystem is assumed to start at volumeOffset within the file and run
// for size bytes (size may be -1 to mean "to the end of the file").
func OpenFileDevice(path string, volumeOffset int64, size int64) (*FileDevice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapError(DomainDevice, CodeIO, "open device file", err)
	}

	if size < 0 {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, wrapError(DomainDevice, CodeIO, "stat device file", err)
		}

		size = info.Size() - volumeOffset
	}

	return &FileDevice{
		ra:           f,
		closer:       f,
		volumeOffset: volumeOffset,
		size:         size,
	}, nil
}

// NewFileDevice wraps an already-open io.ReaderAt (and optional io.Closer)
// as a BlockDevice. Used by callers that already manage the file handle,
// and by tests that back a device with an in-memory byte slice.
func NewFileDevice(ra io.ReaderAt, closer io.Closer, volumeOffset int64, size int64) *FileDevice {
	return &FileDevice{
		ra:           ra,
		closer:       closer,
		volumeOffset: volumeOffset,
		size:         size,
	}
}

func (fd *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > fd.size {
		return 0, newError(DomainDevice, CodeOutOfRange, "read offset outside volume")
	}

	n, err := fd.ra.ReadAt(p, fd.volumeOffset+off)
	if err != nil && err != io.EOF {
		return n, wrapError(DomainDevice, CodeIO, "read device", err)
	}

	return n, err
}

func (fd *FileDevice) Size() int64 {
	return fd.size
}

func (fd *FileDevice) Close() error {
	if fd.closer == nil {
		return nil
	}

	return fd.closer.Close()
}

// memoryDevice backs a BlockDevice with an in-memory byte slice, used by
// tests to build synthetic volumes without touching the filesystem.
type memoryDevice struct {
	data []byte
}

func newMemoryDevice(data []byte) *memoryDevice {
	return &memoryDevice{data: data}
}

func (md *memoryDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(md.data)) {
		return 0, newError(DomainDevice, CodeOutOfRange, "read offset outside volume")
	}

	n := copy(p, md.data[off:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

func (md *memoryDevice) Size() int64 {
	return int64(len(md.data))
}

func (md *memoryDevice) Close() error {
	return nil
}
