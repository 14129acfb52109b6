// Package blockdev is the only layer that touches physical flash addresses.
//
// Flash is modelled as NOR memory: an erase sets every byte of an erase unit
// to 0xFF and a write (program) can only clear bits. Callers are responsible
// for writing into erased regions; the one exception is state markers, which
// are rewritten in place by clearing further bits.
package blockdev

import (
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

// ErasedByte is the value of every byte in a freshly erased unit.
const ErasedByte = 0xFF

// ErrProgramViolation is returned when a write would have to set a bit that
// is currently cleared. Real NOR parts silently keep the 0; the emulators
// report it so that engine bugs surface in tests.
var ErrProgramViolation = errors.New("program would set cleared bits (erase required)")

// Device is the erase/read/write contract the storage engine consumes.
// Implementations never retry; faults propagate to the caller.
type Device interface {
	// Erase wipes one erase unit to ErasedByte.
	Erase(unit int) error
	// Read returns exactly length bytes starting at offset.
	Read(offset int64, length int) ([]byte, error)
	// Write programs data at offset.
	Write(offset int64, data []byte) error
	// UnitSize is the erase-unit size in bytes.
	UnitSize() int
	// Size is the total device size in bytes.
	Size() int64
}

// Geometry describes a device's shape.
type Geometry struct {
	UnitSize int
	Size     int64
}

// Units returns the number of erase units.
func (g Geometry) Units() int {
	return int(g.Size / int64(g.UnitSize))
}

// Validate checks that the geometry is usable.
func (g Geometry) Validate() error {
	if g.UnitSize <= 0 || g.UnitSize%8 != 0 {
		return fmt.Errorf("%w: unit size %d must be a positive multiple of 8", status.ErrInvalidArgument, g.UnitSize)
	}
	if g.Size <= 0 || g.Size%int64(g.UnitSize) != 0 {
		return fmt.Errorf("%w: device size %d must be a positive multiple of unit size %d", status.ErrInvalidArgument, g.Size, g.UnitSize)
	}
	return nil
}

func checkRange(g Geometry, offset int64, length int) error {
	if offset < 0 || length < 0 || offset+int64(length) > g.Size {
		return fmt.Errorf("%w: [0x%x, 0x%x) outside device of 0x%x bytes", status.ErrOutOfRange, offset, offset+int64(length), g.Size)
	}
	return nil
}

func checkUnit(g Geometry, unit int) error {
	if unit < 0 || unit >= g.Units() {
		return fmt.Errorf("%w: unit %d outside device of %d units", status.ErrOutOfRange, unit, g.Units())
	}
	return nil
}

// program applies NOR programming of src onto dst.
func program(dst, src []byte) error {
	for i, b := range src {
		if dst[i]&b != b {
			return status.IOError("program", ErrProgramViolation)
		}
	}
	copy(dst, src)
	return nil
}

// IsErased reports whether every byte of b is ErasedByte.
func IsErased(b []byte) bool {
	for _, v := range b {
		if v != ErasedByte {
			return false
		}
	}
	return true
}

// UnitOffset returns the device offset of an erase unit.
func UnitOffset(dev Device, unit int) int64 {
	return int64(unit) * int64(dev.UnitSize())
}
