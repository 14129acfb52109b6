package recordlog

import (
	"fmt"
	"sort"
	"time"

	"github.com/dd0wney/cluso-flashkv/pkg/index"
	"github.com/dd0wney/cluso-flashkv/pkg/logging"
	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

func (l *Log) setUnitState(unit int, s unitState) error {
	if err := l.dev.Write(l.unitAddr(unit), stateBytes(s)); err != nil {
		return status.IOError(fmt.Sprintf("mark unit %d %s", unit, s), err)
	}
	l.units[unit].state = s
	return nil
}

func (l *Log) eraseUnit(unit int) error {
	if err := l.dev.Erase(int(l.unitAddr(unit) / int64(l.unitSize))); err != nil {
		return status.IOError(fmt.Sprintf("erase unit %d", unit), err)
	}
	l.units[unit] = unitInfo{state: unitEmpty}
	if l.active == unit {
		l.active = -1
	}
	l.stats.unitErases++
	l.observer.UnitErased(l.region.Name)
	return nil
}

func (l *Log) room(unit int) int {
	return l.unitSize - l.units[unit].used
}

// dead returns bytes of a unit that hold nothing authoritative. The unused
// tail of a closed unit counts as dead; the tail of the active unit does not.
func (l *Log) dead(unit int) int {
	u := l.units[unit]
	switch u.state {
	case unitEmpty:
		return 0
	case unitActive:
		return u.used - unitHeaderSize - u.valid
	default:
		return l.payloadCap() - u.valid
	}
}

func (l *Log) emptyUnits() int {
	n := 0
	for _, u := range l.units {
		if u.state == unitEmpty {
			n++
		}
	}
	return n
}

func (l *Log) validBytes() int {
	n := 0
	for _, u := range l.units {
		n += u.valid
	}
	return n
}

// capacity is the payload space usable for records while keeping the
// reserved units erased.
func (l *Log) capacity() int {
	return (len(l.units) - l.opts.ReservedUnits) * l.payloadCap()
}

// nextEmpty picks the first erased unit after the last activated one, so
// activations rotate through the region.
func (l *Log) nextEmpty() int {
	n := len(l.units)
	for i := 1; i <= n; i++ {
		u := (l.lastActive + i + n) % n
		if l.units[u].state == unitEmpty {
			return u
		}
	}
	return -1
}

// activate writes a fresh unit header and makes the unit the append target.
func (l *Log) activate(unit int) error {
	if err := l.dev.Write(l.unitAddr(unit), encodeUnitHeader(l.unitSeq)); err != nil {
		// A torn header is erased by the next scan.
		l.units[unit] = unitInfo{state: unitFull, seq: l.unitSeq, used: l.unitSize}
		return status.IOError(fmt.Sprintf("activate unit %d", unit), err)
	}
	l.units[unit] = unitInfo{state: unitActive, seq: l.unitSeq, used: unitHeaderSize}
	l.unitSeq++
	l.active = unit
	l.lastActive = unit
	l.logger.Debug("unit activated", logging.Unit(unit))
	return nil
}

func (l *Log) closeActive() error {
	if l.active < 0 {
		return nil
	}
	unit := l.active
	l.active = -1
	return l.setUnitState(unit, unitFull)
}

// maxSpaceAttempts bounds the close/activate/reclaim loop of ensureSpace.
func (l *Log) maxSpaceAttempts() int { return 2*len(l.units) + 2 }

// ensureSpace leaves an active unit with at least span bytes of room.
func (l *Log) ensureSpace(span int) error {
	for attempt := 0; attempt < l.maxSpaceAttempts(); attempt++ {
		if l.active >= 0 && l.room(l.active) >= span {
			return nil
		}
		if l.emptyUnits() > l.opts.ReservedUnits {
			if err := l.closeActive(); err != nil {
				return err
			}
			if err := l.activate(l.nextEmpty()); err != nil {
				return err
			}
			continue
		}

		if l.validBytes()+span > l.capacity() {
			return fmt.Errorf("%w: %d bytes live, %d requested, capacity %d",
				status.ErrPartitionFull, l.validBytes(), span, l.capacity())
		}
		victim := l.pickVictim()
		if victim < 0 {
			if l.active >= 0 && l.dead(l.active) > 0 {
				// Erased records in the active unit become reclaimable once it is closed.
				if err := l.closeActive(); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("%w: nothing to reclaim", status.ErrPartitionFull)
		}
		if err := l.reclaim(victim); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: no room for %d bytes after %d attempts", status.ErrPartitionFull, span, l.maxSpaceAttempts())
}

// pickVictim returns the closed unit with the most dead bytes, the oldest
// on ties, or -1 when no closed unit holds dead bytes.
func (l *Log) pickVictim() int {
	victim := -1
	for i, u := range l.units {
		if u.state != unitFull && u.state != unitFreeing {
			continue
		}
		d := l.dead(i)
		if d == 0 {
			continue
		}
		if victim < 0 || d > l.dead(victim) || (d == l.dead(victim) && u.seq < l.units[victim].seq) {
			victim = i
		}
	}
	return victim
}

type relocation struct {
	ns, key string
	loc     index.Location
}

func (l *Log) liveRecords(unit int) []relocation {
	var out []relocation
	l.index.Range(func(ns, key string, loc index.Location) bool {
		if int(loc.Unit) == unit {
			out = append(out, relocation{ns: ns, key: key, loc: loc})
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].loc.Offset < out[j].loc.Offset })
	return out
}

// reclaim relocates the authoritative records of victim and erases it.
// Relocated copies carry new sequence numbers, so after an interruption the
// copies win over the originals and the reclaim can be resumed.
func (l *Log) reclaim(victim int) error {
	start := time.Now()
	live := l.liveRecords(victim)
	need := 0
	for _, r := range live {
		need += int(r.loc.Span)
	}

	if l.active == victim {
		if err := l.closeActive(); err != nil {
			return err
		}
	}
	if l.active < 0 || l.room(l.active) < need {
		if err := l.closeActive(); err != nil {
			return err
		}
		spare := l.nextEmpty()
		if spare < 0 {
			return fmt.Errorf("%w: no erased unit to reclaim into", status.ErrPartitionFull)
		}
		if err := l.activate(spare); err != nil {
			return err
		}
	}

	if l.units[victim].state != unitFreeing {
		if err := l.setUnitState(victim, unitFreeing); err != nil {
			return err
		}
	}

	for _, r := range live {
		if err := l.relocate(r); err != nil {
			return err
		}
	}
	if err := l.eraseUnit(victim); err != nil {
		return err
	}

	l.stats.reclaims++
	l.stats.relocated += uint64(len(live))
	l.observer.Reclaimed(l.region.Name, len(live), time.Since(start))
	l.logger.Debug("unit reclaimed",
		logging.Unit(victim), logging.Count(len(live)), logging.Latency(time.Since(start)))
	return nil
}

// relocate copies one record into the active unit under a new sequence.
func (l *Log) relocate(r relocation) error {
	raw, err := l.dev.Read(l.unitAddr(int(r.loc.Unit))+int64(r.loc.Offset), int(r.loc.Span))
	if err != nil {
		return status.IOError("read record", err)
	}
	h, err := parseRecordHeader(raw)
	if err != nil {
		return fmt.Errorf("%w: relocating %s/%s: %w", status.ErrCorrupt, r.ns, r.key, err)
	}
	body := raw[recordHeaderSize : recordHeaderSize+h.bodyLen()]

	h.seq = l.nextSeq
	l.nextSeq++
	loc, err := l.appendRecord(h, body)
	if err != nil {
		return err
	}
	// The source record sits in a unit that is about to be erased; only the
	// accounting and the index move.
	l.index.Put(r.ns, r.key, loc)
	l.units[r.loc.Unit].valid -= int(r.loc.Span)
	return nil
}

// Compact reclaims every unit that holds dead bytes.
func (l *Log) Compact() error {
	if l.opts.ReadOnly {
		return status.NewError("compact").Partition(l.region.Name).Cause(status.ErrReadOnly).Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active >= 0 && l.dead(l.active) > 0 {
		if err := l.closeActive(); err != nil {
			return status.NewError("compact").Partition(l.region.Name).Cause(err).Err()
		}
	}

	var victims []int
	for i, u := range l.units {
		if (u.state == unitFull || u.state == unitFreeing) && l.dead(i) > 0 {
			victims = append(victims, i)
		}
	}
	sort.Slice(victims, func(i, j int) bool { return l.units[victims[i]].seq < l.units[victims[j]].seq })

	for _, v := range victims {
		if l.units[v].state == unitEmpty || l.units[v].state == unitActive {
			continue
		}
		if err := l.reclaim(v); err != nil {
			return status.NewError("compact").Partition(l.region.Name).Context("unit %d", v).Cause(err).Err()
		}
	}
	return nil
}
