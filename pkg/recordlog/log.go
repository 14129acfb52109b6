// Package recordlog is the key-value engine of one partition.
//
// A partition is a run of erase units. Records are appended to the active
// unit and replaced copy-on-write: the new record is written and committed
// before the old one is marked erased. Every state change clears bits, so it
// is a single program operation that either lands or does not. Space held
// by erased records is reclaimed by relocating the live records of a unit
// and erasing it, inline with the write that needs the space.
package recordlog

import (
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-flashkv/pkg/blockdev"
	"github.com/dd0wney/cluso-flashkv/pkg/index"
	"github.com/dd0wney/cluso-flashkv/pkg/logging"
	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

// Region is the slice of the device a log owns.
type Region struct {
	Name   string
	Offset int64
	Size   int64
}

// Options tune a log.
type Options struct {
	// Compress stores values snappy-compressed when that makes them smaller.
	Compress bool
	// ReservedUnits are kept erased so that reclamation always has a
	// destination. Values below 1 are raised to 1.
	ReservedUnits int
	// ReadOnly refuses mutations and skips on-flash repairs during recovery.
	ReadOnly bool
	Logger   logging.Logger
	Observer Observer
}

type unitInfo struct {
	state unitState
	seq   uint32
	used  int // write cursor from the unit start, header included
	valid int // bytes of authoritative records
}

// Log is the record log of one partition.
type Log struct {
	mu sync.RWMutex

	dev      blockdev.Device
	region   Region
	unitSize int
	opts     Options
	logger   logging.Logger
	observer Observer

	units      []unitInfo
	active     int // -1 when no unit is active
	lastActive int // round-robin cursor for wear leveling
	unitSeq    uint32
	nextSeq    uint64
	index      *index.Index

	stats counters
}

type counters struct {
	writes     uint64
	deletes    uint64
	reclaims   uint64
	relocated  uint64
	unitErases uint64
	repairs    uint64
}

// Open mounts the log, scanning the region and repairing whatever an
// interrupted operation left behind.
func Open(dev blockdev.Device, region Region, opts Options) (*Log, error) {
	unitSize := dev.UnitSize()
	if region.Offset < 0 || region.Offset%int64(unitSize) != 0 || region.Size%int64(unitSize) != 0 ||
		region.Offset+region.Size > dev.Size() {
		return nil, status.NewError("open").Partition(region.Name).
			Context("region 0x%x+0x%x", region.Offset, region.Size).Cause(status.ErrOutOfRange).Err()
	}
	if opts.ReservedUnits < 1 {
		opts.ReservedUnits = 1
	}
	n := int(region.Size / int64(unitSize))
	if n < opts.ReservedUnits+1 {
		return nil, status.NewError("open").Partition(region.Name).
			Context("%d units, need at least %d", n, opts.ReservedUnits+1).Cause(status.ErrInvalidArgument).Err()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	l := &Log{
		dev:        dev,
		region:     region,
		unitSize:   unitSize,
		opts:       opts,
		logger:     logging.OrNop(opts.Logger).With(logging.Component("recordlog"), logging.Partition(region.Name)),
		observer:   opts.Observer,
		units:      make([]unitInfo, n),
		active:     -1,
		lastActive: -1,
		nextSeq:    1,
		index:      index.New(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.recover(); err != nil {
		return nil, err
	}
	return l, nil
}

// Name returns the partition name.
func (l *Log) Name() string { return l.region.Name }

func (l *Log) unitAddr(unit int) int64 {
	return l.region.Offset + int64(unit)*int64(l.unitSize)
}

func (l *Log) payloadCap() int { return l.unitSize - unitHeaderSize }

// MaxValueSize returns the largest value that fits one unit next to a
// namespace and key of maximum length.
func (l *Log) MaxValueSize() int {
	return l.payloadCap() - recordHeaderSize - 2*MaxNameLen
}

func validateName(what, s string) error {
	if len(s) == 0 || len(s) > MaxNameLen {
		return fmt.Errorf("%w: %s %q must be 1..%d bytes", status.ErrInvalidArgument, what, s, MaxNameLen)
	}
	return nil
}

func validateBlob(ns, key string) error {
	if err := validateName("namespace", ns); err != nil {
		return err
	}
	return validateName("key", key)
}

// Stat reports whether a key exists and the length of its value.
func (l *Log) Stat(ns, key string) (int, bool, error) {
	if err := validateBlob(ns, key); err != nil {
		return 0, false, status.NewError("stat").Partition(l.region.Name).Blob(ns, key).Cause(err).Err()
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	loc, ok := l.index.Lookup(ns, key)
	if !ok {
		return 0, false, nil
	}
	return int(loc.Size), true, nil
}

// Write stores value under (ns, key), replacing any previous value.
func (l *Log) Write(ns, key string, value []byte) error {
	fail := func(err error) error {
		return status.NewError("write").Partition(l.region.Name).Blob(ns, key).Cause(err).Err()
	}
	if err := validateBlob(ns, key); err != nil {
		return fail(err)
	}
	if l.opts.ReadOnly {
		return fail(status.ErrReadOnly)
	}

	stored, flags := value, byte(0)
	if l.opts.Compress && len(value) > 0 {
		if enc := snappy.Encode(nil, value); len(enc) < len(value) {
			stored, flags = enc, flagSnappy
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	h, body := newRecord(ns, key, stored, len(value), flags, 0)
	if h.span() > l.payloadCap() {
		return fail(fmt.Errorf("%w: value of %d bytes does not fit a %d byte unit", status.ErrInvalidArgument, len(value), l.unitSize))
	}
	if err := l.ensureSpace(h.span()); err != nil {
		return fail(err)
	}

	h.seq = l.nextSeq
	l.nextSeq++
	loc, err := l.appendRecord(h, body)
	if err != nil {
		return fail(err)
	}
	l.commit(ns, key, loc)
	l.stats.writes++
	return nil
}

// appendRecord programs a record into the active unit and commits it.
func (l *Log) appendRecord(h recordHeader, body []byte) (index.Location, error) {
	u := &l.units[l.active]
	off := u.used
	addr := l.unitAddr(l.active) + int64(off)
	span := h.span()

	if err := l.dev.Write(addr, encodeRecord(h, body)); err != nil {
		// Whatever landed must never be followed by another record.
		l.abandonActive()
		return index.Location{}, status.IOError("program record", err)
	}
	u.used += span
	l.observer.BytesWritten(l.region.Name, recordHeaderSize+len(body))

	if err := l.dev.Write(addr, []byte{recValid}); err != nil {
		l.abandonActive()
		return index.Location{}, status.IOError("commit record", err)
	}
	u.valid += span

	return index.Location{
		Unit:   uint32(l.active),
		Offset: uint32(off),
		Span:   uint32(span),
		Size:   h.valueLen,
		Seq:    h.seq,
	}, nil
}

// commit points the index at loc and retires the record it replaces.
func (l *Log) commit(ns, key string, loc index.Location) {
	prev, replaced := l.index.Put(ns, key, loc)
	if !replaced {
		return
	}
	l.units[prev.Unit].valid -= int(prev.Span)
	if err := l.markErased(prev); err != nil {
		// The replacement is committed and carries the higher sequence, so
		// recovery resolves the duplicate.
		l.logger.Warn("failed to retire superseded record",
			logging.Unit(int(prev.Unit)), logging.Offset(int64(prev.Offset)), logging.Error(err))
	}
}

func (l *Log) markErased(loc index.Location) error {
	return l.dev.Write(l.unitAddr(int(loc.Unit))+int64(loc.Offset), []byte{recErased})
}

// abandonActive closes the active unit after a failed program so that no
// record is appended behind partially written bytes.
func (l *Log) abandonActive() {
	if l.active < 0 {
		return
	}
	if err := l.setUnitState(l.active, unitFull); err != nil {
		l.logger.Warn("failed to close unit", logging.Unit(l.active), logging.Error(err))
	}
	l.units[l.active].state = unitFull
	l.active = -1
}

// Read returns the value of (ns, key). expectedSize must equal the stored
// length as reported by Stat.
func (l *Log) Read(ns, key string, expectedSize int) ([]byte, error) {
	fail := func(err error) ([]byte, error) {
		return nil, status.NewError("read").Partition(l.region.Name).Blob(ns, key).Cause(err).Err()
	}
	if err := validateBlob(ns, key); err != nil {
		return fail(err)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	loc, ok := l.index.Lookup(ns, key)
	if !ok {
		return fail(status.ErrKeyNotFound)
	}
	if expectedSize != int(loc.Size) {
		return fail(fmt.Errorf("%w: stored %d bytes, caller expects %d", status.ErrSizeMismatch, loc.Size, expectedSize))
	}
	value, err := l.load(ns, key, loc)
	if err != nil {
		return fail(err)
	}
	return value, nil
}

// Get returns the value of (ns, key) without a size check.
func (l *Log) Get(ns, key string) ([]byte, error) {
	fail := func(err error) ([]byte, error) {
		return nil, status.NewError("get").Partition(l.region.Name).Blob(ns, key).Cause(err).Err()
	}
	if err := validateBlob(ns, key); err != nil {
		return fail(err)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	loc, ok := l.index.Lookup(ns, key)
	if !ok {
		return fail(status.ErrKeyNotFound)
	}
	value, err := l.load(ns, key, loc)
	if err != nil {
		return fail(err)
	}
	return value, nil
}

// load reads and verifies the record at loc. Callers hold the lock.
func (l *Log) load(ns, key string, loc index.Location) ([]byte, error) {
	raw, err := l.dev.Read(l.unitAddr(int(loc.Unit))+int64(loc.Offset), int(loc.Span))
	if err != nil {
		return nil, status.IOError("read record", err)
	}
	h, err := parseRecordHeader(raw)
	if err != nil || h.state != recValid || h.span() != int(loc.Span) {
		return nil, fmt.Errorf("%w: header at unit %d offset %d", status.ErrCorrupt, loc.Unit, loc.Offset)
	}
	body := raw[recordHeaderSize : recordHeaderSize+h.bodyLen()]
	if crc32.ChecksumIEEE(body) != h.dataCRC {
		return nil, fmt.Errorf("%w: data checksum mismatch", status.ErrCorrupt)
	}
	if string(body[:h.nsLen]) != ns || string(body[h.nsLen:int(h.nsLen)+int(h.keyLen)]) != key {
		return nil, fmt.Errorf("%w: record identity mismatch", status.ErrCorrupt)
	}

	stored := body[int(h.nsLen)+int(h.keyLen):]
	var value []byte
	if h.flags&flagSnappy != 0 {
		value, err = snappy.Decode(nil, stored)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", status.ErrCorrupt, err)
		}
	} else {
		value = append([]byte(nil), stored...)
	}
	if len(value) != int(h.valueLen) {
		return nil, fmt.Errorf("%w: value length %d, header says %d", status.ErrCorrupt, len(value), h.valueLen)
	}
	return value, nil
}

// Delete removes (ns, key).
func (l *Log) Delete(ns, key string) error {
	fail := func(err error) error {
		return status.NewError("delete").Partition(l.region.Name).Blob(ns, key).Cause(err).Err()
	}
	if err := validateBlob(ns, key); err != nil {
		return fail(err)
	}
	if l.opts.ReadOnly {
		return fail(status.ErrReadOnly)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.deleteLocked(ns, key); err != nil {
		return fail(err)
	}
	return nil
}

func (l *Log) deleteLocked(ns, key string) error {
	loc, ok := l.index.Lookup(ns, key)
	if !ok {
		return status.ErrKeyNotFound
	}
	if err := l.markErased(loc); err != nil {
		return status.IOError("erase record", err)
	}
	l.index.Remove(ns, key)
	l.units[loc.Unit].valid -= int(loc.Span)
	l.stats.deletes++
	return nil
}

// DeleteNamespace removes every key of ns and returns how many were removed.
func (l *Log) DeleteNamespace(ns string) (int, error) {
	fail := func(err error) error {
		return status.NewError("delete namespace").Partition(l.region.Name).Namespace(ns).Cause(err).Err()
	}
	if err := validateName("namespace", ns); err != nil {
		return 0, fail(err)
	}
	if l.opts.ReadOnly {
		return 0, fail(status.ErrReadOnly)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for _, key := range l.index.Keys(ns) {
		if err := l.deleteLocked(ns, key); err != nil {
			return removed, fail(err)
		}
		removed++
	}
	return removed, nil
}

// Namespaces lists namespaces that hold at least one key.
func (l *Log) Namespaces() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.index.Namespaces()
}

// Keys lists the keys of ns.
func (l *Log) Keys(ns string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.index.Keys(ns)
}

// Format erases every unit of the region. The log stays mounted and empty.
func (l *Log) Format() error {
	if l.opts.ReadOnly {
		return status.NewError("format").Partition(l.region.Name).Cause(status.ErrReadOnly).Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.units {
		if err := l.eraseUnit(i); err != nil {
			l.resync()
			return status.NewError("format").Partition(l.region.Name).Context("unit %d", i).Cause(err).Err()
		}
	}
	l.index.Reset()
	l.logger.Info("partition formatted", logging.Count(len(l.units)))
	return nil
}

// Rescan rebuilds the log from flash as Open does. The log is held
// exclusively while it runs, so callers already holding it see either the
// old state or the rescanned one.
func (l *Log) Rescan() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active, l.lastActive = -1, -1
	return l.recover()
}

// resync brings the in-memory state back in line with flash after a
// mutation failed partway. When the medium cannot be scanned either, every
// unit still holding data is closed with nothing live in it, so the next
// reclaim erases it.
func (l *Log) resync() {
	l.active, l.lastActive = -1, -1
	err := l.recover()
	if err == nil {
		return
	}
	l.logger.Error("rescan after failed mutation", logging.Error(err))
	l.index.Reset()
	l.active = -1
	for i := range l.units {
		if l.units[i].state != unitEmpty {
			l.units[i].state = unitFull
			l.units[i].used = l.unitSize
		}
		l.units[i].valid = 0
	}
}
