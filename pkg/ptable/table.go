// Package ptable reads and writes the fixed on-device partition directory.
//
// The table lives in its own erase unit at a fixed device offset:
//
//	header  (48 bytes)  magic "FKPT" | version | count | table UUID | reserved
//	entries (32 bytes)  0x50AA | type | subtype | offset | size | label[16] | flags
//	digest  (32 bytes)  BLAKE2b-256 over header and entries
//
// It is read once at startup; partitions never move or resize at runtime.
package ptable

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/dd0wney/cluso-flashkv/pkg/blockdev"
	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

const (
	Magic      = 0x54504B46 // "FKPT" little endian
	Version    = 1
	entryMagic = 0x50AA

	headerSize = 48
	entrySize  = 32
	digestSize = blake2b.Size256
)

// MaxEntries returns how many partitions fit in a table unit.
func MaxEntries(unitSize int) int {
	return (unitSize - headerSize - digestSize) / entrySize
}

// Table maps partition names to device ranges.
type Table struct {
	id     uuid.UUID
	offset int64
	geo    blockdev.Geometry
	parts  []Partition
	byName map[string]int
}

// New validates partitions against the device geometry and builds a table
// with a fresh identity. The table itself occupies the erase unit at offset.
func New(parts []Partition, geo blockdev.Geometry, offset int64) (*Table, error) {
	t, err := build(uuid.New(), parts, geo, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", status.ErrInvalidArgument, err)
	}
	return t, nil
}

func build(id uuid.UUID, parts []Partition, geo blockdev.Geometry, offset int64) (*Table, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	if offset < 0 || offset%int64(geo.UnitSize) != 0 || offset+int64(geo.UnitSize) > geo.Size {
		return nil, fmt.Errorf("table offset 0x%x is not a unit boundary inside the device", offset)
	}
	if len(parts) > MaxEntries(geo.UnitSize) {
		return nil, fmt.Errorf("%d partitions exceed the table capacity of %d", len(parts), MaxEntries(geo.UnitSize))
	}

	t := &Table{
		id:     id,
		offset: offset,
		geo:    geo,
		parts:  append([]Partition(nil), parts...),
		byName: make(map[string]int, len(parts)),
	}

	tableEnd := offset + int64(geo.UnitSize)
	for i, p := range t.parts {
		if err := validateName(p.Name); err != nil {
			return nil, err
		}
		if _, dup := t.byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate partition name %q", p.Name)
		}
		if p.Size <= 0 || p.Offset < 0 || p.Offset%int64(geo.UnitSize) != 0 || p.Size%int64(geo.UnitSize) != 0 {
			return nil, fmt.Errorf("partition %q (0x%x+0x%x) is not aligned to the 0x%x unit size", p.Name, p.Offset, p.Size, geo.UnitSize)
		}
		if p.End() > geo.Size {
			return nil, fmt.Errorf("partition %q ends at 0x%x past the device end 0x%x", p.Name, p.End(), geo.Size)
		}
		if p.Offset < tableEnd && offset < p.End() {
			return nil, fmt.Errorf("partition %q overlaps the partition table", p.Name)
		}
		t.byName[p.Name] = i
	}

	sorted := append([]Partition(nil), t.parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Offset < sorted[i-1].End() {
			return nil, fmt.Errorf("partitions %q and %q overlap", sorted[i-1].Name, sorted[i].Name)
		}
	}
	return t, nil
}

func validateName(name string) error {
	if name == "" || len(name) > MaxNameLen {
		return fmt.Errorf("partition name %q must be 1..%d bytes", name, MaxNameLen)
	}
	if bytes.IndexByte([]byte(name), 0) >= 0 {
		return fmt.Errorf("partition name %q contains NUL", name)
	}
	return nil
}

// Find is a case-sensitive exact lookup.
func (t *Table) Find(name string) (Partition, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Partition{}, false
	}
	return t.parts[i], true
}

// Partitions returns the entries in table order.
func (t *Table) Partitions() []Partition {
	return append([]Partition(nil), t.parts...)
}

// ID returns the identity stamped into the table when it was created.
func (t *Table) ID() uuid.UUID { return t.id }

// Offset returns the device offset of the table unit.
func (t *Table) Offset() int64 { return t.offset }

// Geometry returns the device geometry the table was validated against.
func (t *Table) Geometry() blockdev.Geometry { return t.geo }

// Encode serializes the table. The result is shorter than a unit; the rest
// of the unit stays erased.
func (t *Table) Encode() []byte {
	buf := make([]byte, headerSize+len(t.parts)*entrySize+digestSize)
	for i := range buf {
		buf[i] = blockdev.ErasedByte
	}

	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint16(buf[4:6], Version)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(len(t.parts)))
	copy(buf[8:24], t.id[:])

	for i, p := range t.parts {
		e := buf[headerSize+i*entrySize : headerSize+(i+1)*entrySize]
		binary.LittleEndian.PutUint16(e[0:2], entryMagic)
		e[2] = byte(p.Type)
		e[3] = byte(p.Subtype)
		binary.LittleEndian.PutUint32(e[4:8], uint32(p.Offset))
		binary.LittleEndian.PutUint32(e[8:12], uint32(p.Size))
		label := e[12:28]
		for j := range label {
			label[j] = 0
		}
		copy(label, p.Name)
		binary.LittleEndian.PutUint32(e[28:32], uint32(p.Flags))
	}

	body := len(buf) - digestSize
	sum := blake2b.Sum256(buf[:body])
	copy(buf[body:], sum[:])
	return buf
}

var errShort = errors.New("table truncated")

// Decode parses an encoded table. Any integrity or consistency failure is
// reported as ErrTableCorrupt.
func Decode(b []byte, geo blockdev.Geometry, offset int64) (*Table, error) {
	t, err := decode(b, geo, offset)
	if err != nil {
		return nil, status.NewError("load table").Context("offset 0x%x", offset).Cause(fmt.Errorf("%w: %w", status.ErrTableCorrupt, err)).Err()
	}
	return t, nil
}

func decode(b []byte, geo blockdev.Geometry, offset int64) (*Table, error) {
	if len(b) < headerSize {
		return nil, errShort
	}
	if binary.LittleEndian.Uint32(b[0:4]) != Magic {
		return nil, fmt.Errorf("bad magic 0x%08x", binary.LittleEndian.Uint32(b[0:4]))
	}
	if v := binary.LittleEndian.Uint16(b[4:6]); v != Version {
		return nil, fmt.Errorf("unsupported version %d", v)
	}
	count := int(binary.LittleEndian.Uint16(b[6:8]))
	if count > MaxEntries(geo.UnitSize) {
		return nil, fmt.Errorf("entry count %d exceeds capacity", count)
	}
	body := headerSize + count*entrySize
	if len(b) < body+digestSize {
		return nil, errShort
	}
	sum := blake2b.Sum256(b[:body])
	if !bytes.Equal(sum[:], b[body:body+digestSize]) {
		return nil, errors.New("digest mismatch")
	}

	var id uuid.UUID
	copy(id[:], b[8:24])

	parts := make([]Partition, 0, count)
	for i := 0; i < count; i++ {
		e := b[headerSize+i*entrySize : headerSize+(i+1)*entrySize]
		if binary.LittleEndian.Uint16(e[0:2]) != entryMagic {
			return nil, fmt.Errorf("entry %d has bad magic", i)
		}
		label := e[12:28]
		if n := bytes.IndexByte(label, 0); n >= 0 {
			label = label[:n]
		}
		parts = append(parts, Partition{
			Name:    string(label),
			Type:    Type(e[2]),
			Subtype: Subtype(e[3]),
			Offset:  int64(binary.LittleEndian.Uint32(e[4:8])),
			Size:    int64(binary.LittleEndian.Uint32(e[8:12])),
			Flags:   Flags(binary.LittleEndian.Uint32(e[28:32])),
		})
	}
	return build(id, parts, geo, offset)
}

// Load reads the table from the device at offset.
func Load(dev blockdev.Device, offset int64) (*Table, error) {
	geo := blockdev.Geometry{UnitSize: dev.UnitSize(), Size: dev.Size()}
	if offset < 0 || offset%int64(geo.UnitSize) != 0 || offset+int64(geo.UnitSize) > geo.Size {
		return nil, status.NewError("load table").Context("offset 0x%x", offset).Cause(status.ErrOutOfRange).Err()
	}
	raw, err := dev.Read(offset, geo.UnitSize)
	if err != nil {
		return nil, status.NewError("load table").Context("offset 0x%x", offset).Cause(err).Err()
	}
	return Decode(raw, geo, offset)
}

// Write erases the table unit and programs the encoded table.
func Write(dev blockdev.Device, t *Table) error {
	unit := int(t.offset / int64(dev.UnitSize()))
	if err := dev.Erase(unit); err != nil {
		return status.NewError("write table").Cause(err).Err()
	}
	if err := dev.Write(t.offset, t.Encode()); err != nil {
		return status.NewError("write table").Cause(err).Err()
	}
	return nil
}
