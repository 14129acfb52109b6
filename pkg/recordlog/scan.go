package recordlog

import (
	"errors"

	"github.com/dd0wney/cluso-flashkv/pkg/blockdev"
	"github.com/dd0wney/cluso-flashkv/pkg/index"
	"github.com/dd0wney/cluso-flashkv/pkg/logging"
	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

// scanState carries what recovery learns about one unit.
type scanState struct {
	broken bool // walk stopped at a corrupt header or dirty tail
}

// recover rebuilds the index and unit table from flash. Writable logs also
// repair the medium: torn unit headers are erased, uncommitted records and
// superseded duplicates are marked erased, interrupted reclaims are finished
// and surplus active units are closed.
func (l *Log) recover() error {
	timer := logging.StartTimer(l.logger, "partition scanned")
	l.index.Reset()
	repairs := 0
	scans := make([]scanState, len(l.units))

	for unit := range l.units {
		n, err := l.scanUnit(unit, &scans[unit])
		if err != nil {
			timer.EndError(err)
			return status.NewError("init").Partition(l.region.Name).Context("unit %d", unit).Cause(err).Err()
		}
		repairs += n
	}

	// Accounting follows the index, which holds only the winners.
	for i := range l.units {
		l.units[i].valid = 0
	}
	var maxSeq uint64
	l.index.Range(func(_, _ string, loc index.Location) bool {
		l.units[loc.Unit].valid += int(loc.Span)
		if loc.Seq > maxSeq {
			maxSeq = loc.Seq
		}
		return true
	})
	if maxSeq >= l.nextSeq {
		l.nextSeq = maxSeq + 1
	}

	n, err := l.settleUnits(scans)
	if err != nil {
		timer.EndError(err)
		return status.NewError("init").Partition(l.region.Name).Cause(err).Err()
	}
	repairs += n

	if repairs > 0 {
		l.stats.repairs += uint64(repairs)
		l.observer.Recovered(l.region.Name, repairs)
		l.logger.Warn("recovered interrupted operations", logging.Count(repairs))
	}
	timer.End()
	return nil
}

// scanUnit walks one unit and feeds its committed records to the index.
func (l *Log) scanUnit(unit int, st *scanState) (int, error) {
	raw, err := l.dev.Read(l.unitAddr(unit), l.unitSize)
	if err != nil {
		return 0, status.IOError("scan", err)
	}
	l.units[unit] = unitInfo{state: unitEmpty}
	if blockdev.IsErased(raw) {
		return 0, nil
	}

	hdr, err := parseUnitHeader(raw[:unitHeaderSize])
	if err != nil {
		// No record is written before its unit header completes, so a unit
		// with a bad header holds nothing worth keeping.
		l.logger.Warn("erasing unit with invalid header", logging.Unit(unit))
		if l.opts.ReadOnly {
			l.units[unit] = unitInfo{state: unitFull, used: l.unitSize}
			return 0, nil
		}
		if err := l.eraseUnit(unit); err != nil {
			return 0, err
		}
		return 1, nil
	}

	l.units[unit] = unitInfo{state: hdr.state, seq: hdr.seq, used: unitHeaderSize}
	if hdr.seq >= l.unitSeq {
		l.unitSeq = hdr.seq + 1
	}

	repairs := 0
	off := unitHeaderSize
	for off+recordHeaderSize <= l.unitSize {
		rh := raw[off : off+recordHeaderSize]
		if blockdev.IsErased(rh) {
			if !blockdev.IsErased(raw[off:]) {
				st.broken = true
				l.logger.Warn("dirty bytes after last record", logging.Unit(unit), logging.Offset(int64(off)))
			}
			break
		}
		h, err := parseRecordHeader(rh)
		if err != nil || off+h.span() > l.unitSize {
			st.broken = true
			l.logger.Warn("corrupt record header", logging.Unit(unit), logging.Offset(int64(off)))
			break
		}
		span := h.span()

		switch h.state {
		case recValid:
			n, err := l.admit(unit, off, h, raw[off+recordHeaderSize:off+recordHeaderSize+int(h.nsLen)+int(h.keyLen)])
			if err != nil {
				return repairs, err
			}
			repairs += n
		case recWriting:
			// Never committed: the previous value, if any, stays authoritative.
			l.logger.Info("discarding uncommitted record", logging.Unit(unit), logging.Offset(int64(off)), logging.Seq(h.seq))
			if h.seq >= l.nextSeq {
				l.nextSeq = h.seq + 1
			}
			if !l.opts.ReadOnly {
				if err := l.dev.Write(l.unitAddr(unit)+int64(off), []byte{recErased}); err != nil {
					return repairs, status.IOError("discard record", err)
				}
			}
			repairs++
		case recErased:
			if h.seq >= l.nextSeq {
				l.nextSeq = h.seq + 1
			}
		default:
			st.broken = true
		}
		if st.broken {
			break
		}
		off += span
	}

	l.units[unit].used = off
	if st.broken {
		l.units[unit].used = l.unitSize
	}
	return repairs, nil
}

// admit resolves a committed record against the index by sequence number.
func (l *Log) admit(unit, off int, h recordHeader, name []byte) (int, error) {
	ns, key := string(name[:h.nsLen]), string(name[h.nsLen:])
	loc := index.Location{
		Unit:   uint32(unit),
		Offset: uint32(off),
		Span:   uint32(h.span()),
		Size:   h.valueLen,
		Seq:    h.seq,
	}

	prev, exists := l.index.Lookup(ns, key)
	if !exists {
		l.index.Put(ns, key, loc)
		return 0, nil
	}

	loser := loc
	if loc.Seq > prev.Seq {
		loser = prev
		l.index.Put(ns, key, loc)
	}
	l.logger.Info("resolved duplicate record",
		logging.Namespace(ns), logging.Key(key), logging.Seq(loser.Seq))
	if !l.opts.ReadOnly {
		if err := l.markErased(loser); err != nil {
			return 0, status.IOError("retire duplicate", err)
		}
	}
	return 1, nil
}

// settleUnits finishes interrupted reclaims and leaves at most one active unit.
func (l *Log) settleUnits(scans []scanState) (int, error) {
	repairs := 0
	newest := -1
	for i, u := range l.units {
		if u.state != unitActive {
			continue
		}
		if scans[i].broken {
			if !l.opts.ReadOnly {
				if err := l.setUnitState(i, unitFull); err != nil {
					return repairs, err
				}
			}
			l.units[i].state = unitFull
			repairs++
			continue
		}
		if newest < 0 || u.seq > l.units[newest].seq {
			newest = i
		}
	}
	for i, u := range l.units {
		if u.state == unitActive && i != newest {
			if !l.opts.ReadOnly {
				if err := l.setUnitState(i, unitFull); err != nil {
					return repairs, err
				}
			}
			l.units[i].state = unitFull
			repairs++
		}
	}
	l.active = newest

	// Round-robin resumes after the most recently activated unit.
	for i, u := range l.units {
		if u.state != unitEmpty && (l.lastActive < 0 || u.seq >= l.units[l.lastActive].seq) {
			l.lastActive = i
		}
	}

	if l.opts.ReadOnly {
		return repairs, nil
	}
	for i, u := range l.units {
		if u.state != unitFreeing {
			continue
		}
		l.logger.Info("resuming interrupted reclaim", logging.Unit(i))
		if err := l.reclaim(i); err != nil {
			if !errors.Is(err, status.ErrPartitionFull) {
				return repairs, err
			}
			// The unit stays Freeing and is picked up by the next reclaim.
			l.logger.Warn("deferred interrupted reclaim", logging.Unit(i), logging.Error(err))
			continue
		}
		repairs++
	}
	return repairs, nil
}
