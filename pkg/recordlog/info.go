package recordlog

// EntryInfo counts records the way a fixed-slot directory would: how many
// minimal entries the partition holds, how many are in use and how many more
// would fit.
type EntryInfo struct {
	Total int `json:"total"`
	Used  int `json:"used"`
	Free  int `json:"free"`
}

// UnitInfo summarizes the erase units of a partition by state.
type UnitInfo struct {
	Total   int `json:"total"`
	Empty   int `json:"empty"`
	Active  int `json:"active"`
	Full    int `json:"full"`
	Freeing int `json:"freeing"`
	Size    int `json:"size"`
}

// Counters are cumulative since the log was opened.
type Counters struct {
	Writes     uint64 `json:"writes"`
	Deletes    uint64 `json:"deletes"`
	Reclaims   uint64 `json:"reclaims"`
	Relocated  uint64 `json:"relocated"`
	UnitErases uint64 `json:"unit_erases"`
	Repairs    uint64 `json:"repairs"`
}

// Info is a point-in-time view of a partition.
type Info struct {
	Name       string    `json:"name"`
	Entries    EntryInfo `json:"entries"`
	Units      UnitInfo  `json:"units"`
	Namespaces int       `json:"namespaces"`
	Capacity   int64     `json:"capacity_bytes"`
	Valid      int64     `json:"valid_bytes"`
	Dead       int64     `json:"dead_bytes"`
	Free       int64     `json:"free_bytes"`
	NextSeq    uint64    `json:"next_seq"`
	Compressed bool      `json:"compressed"`
	ReadOnly   bool      `json:"read_only"`
	Counters   Counters  `json:"counters"`
}

// minRecordSpan is the footprint of the smallest possible record.
var minRecordSpan = align(recordHeaderSize + 2)

// Info reports occupancy and counters.
func (l *Log) Info() Info {
	l.mu.RLock()
	defer l.mu.RUnlock()

	info := Info{
		Name:       l.region.Name,
		Namespaces: len(l.index.Namespaces()),
		Capacity:   int64(l.capacity()),
		NextSeq:    l.nextSeq,
		Compressed: l.opts.Compress,
		ReadOnly:   l.opts.ReadOnly,
		Units:      UnitInfo{Total: len(l.units), Size: l.unitSize},
		Counters: Counters{
			Writes:     l.stats.writes,
			Deletes:    l.stats.deletes,
			Reclaims:   l.stats.reclaims,
			Relocated:  l.stats.relocated,
			UnitErases: l.stats.unitErases,
			Repairs:    l.stats.repairs,
		},
	}
	for i, u := range l.units {
		switch u.state {
		case unitEmpty:
			info.Units.Empty++
		case unitActive:
			info.Units.Active++
		case unitFull:
			info.Units.Full++
		case unitFreeing:
			info.Units.Freeing++
		}
		info.Valid += int64(u.valid)
		info.Dead += int64(l.dead(i))
	}
	info.Free = info.Capacity - info.Valid
	if info.Free < 0 {
		info.Free = 0
	}

	info.Entries.Used = l.index.Len()
	info.Entries.Free = int(info.Free) / minRecordSpan
	info.Entries.Total = info.Entries.Used + info.Entries.Free
	return info
}

// UsedRatio is the share of capacity held by live records.
func (i Info) UsedRatio() float64 {
	if i.Capacity == 0 {
		return 0
	}
	return float64(i.Valid) / float64(i.Capacity)
}
