package recordlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/dd0wney/cluso-flashkv/pkg/blockdev"
	"github.com/dd0wney/cluso-flashkv/pkg/pools"
)

// Unit header layout:
//
//	[0:4]   state u32
//	[4:8]   unit sequence u32
//	[8]     format version
//	[9:28]  reserved (erased)
//	[28:32] crc32 over [4:28]
const (
	unitHeaderSize = 32
	formatVersion  = 1
)

type unitState uint32

const (
	unitEmpty   unitState = 0xFFFFFFFF
	unitActive  unitState = 0xFFFFFFFE
	unitFull    unitState = 0xFFFFFFFC
	unitFreeing unitState = 0xFFFFFFF8
)

func (s unitState) String() string {
	switch s {
	case unitEmpty:
		return "empty"
	case unitActive:
		return "active"
	case unitFull:
		return "full"
	case unitFreeing:
		return "freeing"
	default:
		return fmt.Sprintf("0x%08x", uint32(s))
	}
}

func (s unitState) known() bool {
	switch s {
	case unitActive, unitFull, unitFreeing:
		return true
	}
	return false
}

func stateBytes(s unitState) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(s))
	return b
}

func encodeUnitHeader(seq uint32) []byte {
	b := pools.NewBufferBuilder(unitHeaderSize)
	defer b.Release()
	b.WriteUint32LE(uint32(unitActive))
	b.WriteUint32LE(seq)
	b.WriteByte(formatVersion)
	b.Fill(blockdev.ErasedByte, 19)
	b.WriteUint32LE(crc32.ChecksumIEEE(b.Bytes()[4:28]))
	return append([]byte(nil), b.Bytes()...)
}

type unitHeader struct {
	state unitState
	seq   uint32
}

var errBadUnitHeader = errors.New("bad unit header")

func parseUnitHeader(b []byte) (unitHeader, error) {
	h := unitHeader{
		state: unitState(binary.LittleEndian.Uint32(b[0:4])),
		seq:   binary.LittleEndian.Uint32(b[4:8]),
	}
	if !h.state.known() || b[8] != formatVersion {
		return h, errBadUnitHeader
	}
	if crc32.ChecksumIEEE(b[4:28]) != binary.LittleEndian.Uint32(b[28:32]) {
		return h, errBadUnitHeader
	}
	return h, nil
}

// Record header layout:
//
//	[0]     state
//	[1]     flags
//	[2]     namespace length
//	[3]     key length
//	[4:8]   value length (logical)
//	[8:12]  stored length
//	[12:20] record sequence u64
//	[20:24] crc32 over namespace|key|stored
//	[24:28] reserved (erased)
//	[28:32] crc32 over [1:28]
//
// The body follows the header and is padded to recordAlign with erased bytes
// that are never programmed.
const (
	recordHeaderSize = 32
	recordAlign      = 8
)

const (
	recEmpty   byte = 0xFF
	recWriting byte = 0xFE
	recValid   byte = 0xFC
	recErased  byte = 0xF8
)

const flagSnappy byte = 1 << 0

// MaxNameLen bounds namespace and key lengths.
const MaxNameLen = 15

type recordHeader struct {
	state     byte
	flags     byte
	nsLen     uint8
	keyLen    uint8
	valueLen  uint32
	storedLen uint32
	seq       uint64
	dataCRC   uint32
}

func (h recordHeader) bodyLen() int {
	return int(h.nsLen) + int(h.keyLen) + int(h.storedLen)
}

func (h recordHeader) span() int {
	return align(recordHeaderSize + h.bodyLen())
}

func align(n int) int {
	return (n + recordAlign - 1) / recordAlign * recordAlign
}

var errBadRecordHeader = errors.New("bad record header")

func parseRecordHeader(b []byte) (recordHeader, error) {
	h := recordHeader{
		state:     b[0],
		flags:     b[1],
		nsLen:     b[2],
		keyLen:    b[3],
		valueLen:  binary.LittleEndian.Uint32(b[4:8]),
		storedLen: binary.LittleEndian.Uint32(b[8:12]),
		seq:       binary.LittleEndian.Uint64(b[12:20]),
		dataCRC:   binary.LittleEndian.Uint32(b[20:24]),
	}
	if crc32.ChecksumIEEE(b[1:28]) != binary.LittleEndian.Uint32(b[28:32]) {
		return h, errBadRecordHeader
	}
	if h.nsLen == 0 || h.nsLen > MaxNameLen || h.keyLen == 0 || h.keyLen > MaxNameLen {
		return h, errBadRecordHeader
	}
	return h, nil
}

// encodeRecord builds header and body in the Writing state. Padding is not
// included; the caller advances its cursor by h.span().
func encodeRecord(h recordHeader, body []byte) []byte {
	b := pools.NewBufferBuilder(recordHeaderSize + len(body))
	defer b.Release()

	b.WriteByte(recWriting)
	b.WriteByte(h.flags)
	b.WriteByte(h.nsLen)
	b.WriteByte(h.keyLen)
	b.WriteUint32LE(h.valueLen)
	b.WriteUint32LE(h.storedLen)
	b.WriteUint64LE(h.seq)
	b.WriteUint32LE(h.dataCRC)
	b.Fill(blockdev.ErasedByte, 4)
	b.WriteUint32LE(crc32.ChecksumIEEE(b.Bytes()[1:28]))
	b.Write(body)

	return append([]byte(nil), b.Bytes()...)
}

// newRecord prepares header and body for a caller value.
func newRecord(ns, key string, stored []byte, valueLen int, flags byte, seq uint64) (recordHeader, []byte) {
	body := make([]byte, 0, len(ns)+len(key)+len(stored))
	body = append(body, ns...)
	body = append(body, key...)
	body = append(body, stored...)
	h := recordHeader{
		flags:     flags,
		nsLen:     uint8(len(ns)),
		keyLen:    uint8(len(key)),
		valueLen:  uint32(valueLen),
		storedLen: uint32(len(stored)),
		seq:       seq,
		dataCRC:   crc32.ChecksumIEEE(body),
	}
	return h, body
}
