package ptable

import (
	"fmt"
	"strconv"
	"strings"
)

// Type is the coarse partition type.
type Type uint8

const (
	TypeApp  Type = 0x00
	TypeData Type = 0x01
)

// Subtype refines Type. Values follow the common flash-map conventions.
type Subtype uint8

const (
	SubtypeAppFactory Subtype = 0x00
	SubtypeAppOTA0    Subtype = 0x10
	SubtypeAppTest    Subtype = 0x20

	SubtypeDataOTA      Subtype = 0x00
	SubtypeDataPHY      Subtype = 0x01
	SubtypeDataNVS      Subtype = 0x02
	SubtypeDataCoredump Subtype = 0x03
	SubtypeDataNVSKeys  Subtype = 0x04
	SubtypeDataEfuse    Subtype = 0x05
	SubtypeDataFAT      Subtype = 0x81
	SubtypeDataSPIFFS   Subtype = 0x82
)

// Flags are per-partition attribute bits.
type Flags uint32

const (
	FlagReadOnly Flags = 1 << 1
)

// MaxNameLen is the longest partition label.
const MaxNameLen = 16

// Partition is a named, immutable byte range of the device.
type Partition struct {
	Name    string
	Type    Type
	Subtype Subtype
	Offset  int64
	Size    int64
	Flags   Flags
}

// End returns the first offset past the partition.
func (p Partition) End() int64 { return p.Offset + p.Size }

// ReadOnly reports whether writes and erases must be refused.
func (p Partition) ReadOnly() bool { return p.Flags&FlagReadOnly != 0 }

// IsKV reports whether the partition holds a key-value record log.
func (p Partition) IsKV() bool { return p.Type == TypeData && p.Subtype == SubtypeDataNVS }

// Units returns the number of erase units the partition spans.
func (p Partition) Units(unitSize int) int { return int(p.Size / int64(unitSize)) }

func (p Partition) String() string {
	return fmt.Sprintf("%s(%s/%s @0x%x+0x%x)", p.Name, p.Type, SubtypeName(p.Type, p.Subtype), p.Offset, p.Size)
}

func (t Type) String() string {
	switch t {
	case TypeApp:
		return "app"
	case TypeData:
		return "data"
	default:
		return fmt.Sprintf("0x%02x", uint8(t))
	}
}

// ParseType accepts "app", "data" or a number.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "app":
		return TypeApp, nil
	case "data", "":
		return TypeData, nil
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown partition type %q", s)
	}
	return Type(v), nil
}

var dataSubtypes = map[string]Subtype{
	"ota":      SubtypeDataOTA,
	"phy":      SubtypeDataPHY,
	"nvs":      SubtypeDataNVS,
	"coredump": SubtypeDataCoredump,
	"nvs_keys": SubtypeDataNVSKeys,
	"efuse":    SubtypeDataEfuse,
	"fat":      SubtypeDataFAT,
	"spiffs":   SubtypeDataSPIFFS,
}

// ParseSubtype resolves a subtype name in the context of a type. An empty
// data subtype means nvs.
func ParseSubtype(t Type, s string) (Subtype, error) {
	name := strings.ToLower(s)
	switch t {
	case TypeData:
		if name == "" {
			return SubtypeDataNVS, nil
		}
		if st, ok := dataSubtypes[name]; ok {
			return st, nil
		}
	case TypeApp:
		switch {
		case name == "factory" || name == "":
			return SubtypeAppFactory, nil
		case name == "test":
			return SubtypeAppTest, nil
		case strings.HasPrefix(name, "ota_"):
			n, err := strconv.Atoi(strings.TrimPrefix(name, "ota_"))
			if err == nil && n >= 0 && n < 16 {
				return SubtypeAppOTA0 + Subtype(n), nil
			}
		}
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown %s subtype %q", t, s)
	}
	return Subtype(v), nil
}

// SubtypeName is the inverse of ParseSubtype.
func SubtypeName(t Type, st Subtype) string {
	if t == TypeData {
		for name, v := range dataSubtypes {
			if v == st {
				return name
			}
		}
	}
	if t == TypeApp {
		switch {
		case st == SubtypeAppFactory:
			return "factory"
		case st == SubtypeAppTest:
			return "test"
		case st >= SubtypeAppOTA0 && st < SubtypeAppOTA0+16:
			return fmt.Sprintf("ota_%d", st-SubtypeAppOTA0)
		}
	}
	return fmt.Sprintf("0x%02x", uint8(st))
}
