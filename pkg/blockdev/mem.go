package blockdev

import (
	"sync"
)

// MemDevice is an in-memory NOR flash emulator. It counts erases per unit so
// wear distribution can be inspected.
type MemDevice struct {
	mu      sync.RWMutex
	geo     Geometry
	data    []byte
	erases  []uint64
	writes  uint64
	written uint64
}

// NewMemDevice creates an erased device.
func NewMemDevice(unitSize int, size int64) (*MemDevice, error) {
	geo := Geometry{UnitSize: unitSize, Size: size}
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = ErasedByte
	}
	return &MemDevice{
		geo:    geo,
		data:   data,
		erases: make([]uint64, geo.Units()),
	}, nil
}

// Erase wipes one unit.
func (d *MemDevice) Erase(unit int) error {
	if err := checkUnit(d.geo, unit); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	start := int64(unit) * int64(d.geo.UnitSize)
	region := d.data[start : start+int64(d.geo.UnitSize)]
	for i := range region {
		region[i] = ErasedByte
	}
	d.erases[unit]++
	return nil
}

// Read returns a copy of length bytes at offset.
func (d *MemDevice) Read(offset int64, length int) ([]byte, error) {
	if err := checkRange(d.geo, offset, length); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]byte, length)
	copy(out, d.data[offset:offset+int64(length)])
	return out, nil
}

// Write programs data at offset.
func (d *MemDevice) Write(offset int64, data []byte) error {
	if err := checkRange(d.geo, offset, len(data)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := program(d.data[offset:offset+int64(len(data))], data); err != nil {
		return err
	}
	d.writes++
	d.written += uint64(len(data))
	return nil
}

func (d *MemDevice) UnitSize() int { return d.geo.UnitSize }
func (d *MemDevice) Size() int64   { return d.geo.Size }

// EraseCount returns how many times a unit has been erased.
func (d *MemDevice) EraseCount(unit int) uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if unit < 0 || unit >= len(d.erases) {
		return 0
	}
	return d.erases[unit]
}

// Stats returns the number of program operations and bytes programmed.
func (d *MemDevice) Stats() (writes, bytes uint64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.writes, d.written
}

// Snapshot returns a copy of the raw contents, e.g. to clone a device in a
// power-loss drill.
func (d *MemDevice) Snapshot() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]byte, len(d.data))
	copy(out, d.data)
	return out
}

// Corrupt overwrites bytes without NOR rules. Tests use it to simulate bit rot.
func (d *MemDevice) Corrupt(offset int64, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.data[offset:], data)
}

var _ Device = (*MemDevice)(nil)
