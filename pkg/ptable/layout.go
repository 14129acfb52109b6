package ptable

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-flashkv/pkg/blockdev"
)

// ByteSize is a YAML byte count: a plain integer, a hex literal ("0x6000"),
// or a K/M suffixed size ("24K", "1M").
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar", node.Line)
	}
	v, err := ParseByteSize(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*b = v
	return nil
}

// MarshalYAML renders sizes in hex.
func (b ByteSize) MarshalYAML() (any, error) {
	return fmt.Sprintf("0x%x", int64(b)), nil
}

// ParseByteSize parses the ByteSize notations.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "K"), strings.HasSuffix(s, "k"):
		mult, s = 1024, s[:len(s)-1]
	case strings.HasSuffix(s, "M"), strings.HasSuffix(s, "m"):
		mult, s = 1024*1024, s[:len(s)-1]
	}
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return ByteSize(v * mult), nil
}

// LayoutEntry is one partition of a human-written layout.
type LayoutEntry struct {
	Name     string   `yaml:"name" validate:"required,max=16"`
	Type     string   `yaml:"type,omitempty"`
	Subtype  string   `yaml:"subtype,omitempty"`
	Offset   ByteSize `yaml:"offset,omitempty"`
	Size     ByteSize `yaml:"size" validate:"gt=0"`
	ReadOnly bool     `yaml:"readonly,omitempty"`
}

// Layout is the YAML description of a partition table.
type Layout struct {
	Partitions []LayoutEntry `yaml:"partitions" validate:"dive"`
}

// ParseLayout decodes a YAML layout document.
func ParseLayout(data []byte) (Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return Layout{}, fmt.Errorf("failed to parse layout: %w", err)
	}
	return l, nil
}

// Resolve turns the layout into partitions. Entries without an offset are
// placed after the previous entry (or after the table unit), rounded up to
// the unit size.
func (l Layout) Resolve(geo blockdev.Geometry, tableOffset int64) ([]Partition, error) {
	unit := int64(geo.UnitSize)
	cursor := tableOffset + unit
	parts := make([]Partition, 0, len(l.Partitions))

	for _, e := range l.Partitions {
		typ, err := ParseType(e.Type)
		if err != nil {
			return nil, fmt.Errorf("partition %q: %w", e.Name, err)
		}
		sub, err := ParseSubtype(typ, e.Subtype)
		if err != nil {
			return nil, fmt.Errorf("partition %q: %w", e.Name, err)
		}

		offset := int64(e.Offset)
		if offset == 0 {
			offset = (cursor + unit - 1) / unit * unit
		}
		size := (int64(e.Size) + unit - 1) / unit * unit

		var flags Flags
		if e.ReadOnly {
			flags |= FlagReadOnly
		}
		p := Partition{Name: e.Name, Type: typ, Subtype: sub, Offset: offset, Size: size, Flags: flags}
		parts = append(parts, p)
		if p.End() > cursor {
			cursor = p.End()
		}
	}
	return parts, nil
}

// Build resolves the layout and validates it into a table.
func (l Layout) Build(geo blockdev.Geometry, tableOffset int64) (*Table, error) {
	parts, err := l.Resolve(geo, tableOffset)
	if err != nil {
		return nil, err
	}
	return New(parts, geo, tableOffset)
}

// LayoutOf renders a table back into a layout with explicit offsets.
func LayoutOf(t *Table) Layout {
	var l Layout
	for _, p := range t.Partitions() {
		l.Partitions = append(l.Partitions, LayoutEntry{
			Name:     p.Name,
			Type:     p.Type.String(),
			Subtype:  SubtypeName(p.Type, p.Subtype),
			Offset:   ByteSize(p.Offset),
			Size:     ByteSize(p.Size),
			ReadOnly: p.ReadOnly(),
		})
	}
	return l
}
