package blockdev

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/exp/mmap"

	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

// FileDevice is a flash image stored in a regular file. Reads go through a
// read-only shared memory map; writes and erases go through the file
// descriptor, which the kernel keeps coherent with the mapping.
type FileDevice struct {
	mu     sync.RWMutex
	path   string
	geo    Geometry
	file   *os.File
	reader *mmap.ReaderAt
	sync   bool
}

// CreateImage writes an erased image of the given size. An existing file is
// replaced.
func CreateImage(path string, unitSize int, size int64) error {
	geo := Geometry{UnitSize: unitSize, Size: size}
	if err := geo.Validate(); err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create image %s: %w", path, err)
	}
	defer file.Close()

	unit := make([]byte, unitSize)
	for i := range unit {
		unit[i] = ErasedByte
	}
	for off := int64(0); off < size; off += int64(unitSize) {
		if _, err := file.WriteAt(unit, off); err != nil {
			return fmt.Errorf("failed to initialize image %s: %w", path, err)
		}
	}
	return file.Sync()
}

// OpenFileDevice opens an existing image. The image size must be a multiple
// of unitSize. With syncWrites set every program and erase is fsynced.
func OpenFileDevice(path string, unitSize int, syncWrites bool) (*FileDevice, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat image %s: %w", path, err)
	}
	geo := Geometry{UnitSize: unitSize, Size: info.Size()}
	if err := geo.Validate(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	reader, err := mmap.Open(path)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to map image %s: %w", path, err)
	}

	return &FileDevice{
		path:   path,
		geo:    geo,
		file:   file,
		reader: reader,
		sync:   syncWrites,
	}, nil
}

// Erase wipes one unit.
func (d *FileDevice) Erase(unit int) error {
	if err := checkUnit(d.geo, unit); err != nil {
		return err
	}
	erased := make([]byte, d.geo.UnitSize)
	for i := range erased {
		erased[i] = ErasedByte
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return status.IOError(fmt.Sprintf("erase unit %d", unit), os.ErrClosed)
	}
	if _, err := d.file.WriteAt(erased, int64(unit)*int64(d.geo.UnitSize)); err != nil {
		return status.IOError(fmt.Sprintf("erase unit %d", unit), err)
	}
	return d.flush()
}

// Read returns length bytes at offset.
func (d *FileDevice) Read(offset int64, length int) ([]byte, error) {
	if err := checkRange(d.geo, offset, length); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.reader == nil {
		return nil, status.IOError("read", os.ErrClosed)
	}
	out := make([]byte, length)
	if _, err := d.reader.ReadAt(out, offset); err != nil {
		return nil, status.IOError(fmt.Sprintf("read 0x%x", offset), err)
	}
	return out, nil
}

// Write programs data at offset with NOR semantics.
func (d *FileDevice) Write(offset int64, data []byte) error {
	if err := checkRange(d.geo, offset, len(data)); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reader == nil || d.file == nil {
		return status.IOError("program", os.ErrClosed)
	}

	current := make([]byte, len(data))
	if _, err := d.reader.ReadAt(current, offset); err != nil {
		return status.IOError(fmt.Sprintf("read-before-program 0x%x", offset), err)
	}
	if err := program(current, data); err != nil {
		return err
	}
	if _, err := d.file.WriteAt(current, offset); err != nil {
		return status.IOError(fmt.Sprintf("program 0x%x", offset), err)
	}
	return d.flush()
}

func (d *FileDevice) flush() error {
	if !d.sync {
		return nil
	}
	if err := d.file.Sync(); err != nil {
		return status.IOError("sync", err)
	}
	return nil
}

func (d *FileDevice) UnitSize() int { return d.geo.UnitSize }
func (d *FileDevice) Size() int64   { return d.geo.Size }

// Path returns the image path.
func (d *FileDevice) Path() string { return d.path }

// Close releases the mapping and the file.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	if d.reader != nil {
		firstErr = d.reader.Close()
		d.reader = nil
	}
	if d.file != nil {
		if err := d.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.file = nil
	}
	return firstErr
}

var _ Device = (*FileDevice)(nil)
