package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-flashkv/pkg/api"
	"github.com/dd0wney/cluso-flashkv/pkg/recordlog"
	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Width(14)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// partitionColumns are the widths of the partition listing.
var partitionColumns = []int{18, 6, 10, 12, 12, 10}

func row(cells ...string) string {
	rendered := make([]string, len(cells))
	for i, cell := range cells {
		rendered[i] = lipgloss.NewStyle().Width(partitionColumns[i]).Render(cell)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func printPartitions(w io.Writer, list api.PartitionList) {
	fmt.Fprintln(w, titleStyle.Render("Partition table "+list.TableID))
	fmt.Fprintln(w, headerStyle.Render(row("NAME", "TYPE", "SUBTYPE", "OFFSET", "SIZE", "STATE")))
	for _, p := range list.Partitions {
		state := mutedStyle.Render("-")
		switch {
		case p.KV && p.Initialized:
			state = successStyle.Render("mounted")
		case p.KV:
			state = "idle"
		}
		name := p.Name
		if p.ReadOnly {
			name += " (ro)"
		}
		fmt.Fprintln(w, row(name, p.Type, p.Subtype,
			fmt.Sprintf("0x%06x", p.Offset), humanBytes(p.Size), state))
	}
}

func printInfo(w io.Writer, info recordlog.Info) {
	field := func(label, value string) {
		fmt.Fprintln(w, labelStyle.Render(label)+value)
	}

	fmt.Fprintln(w, titleStyle.Render("Partition "+info.Name))
	field("entries", fmt.Sprintf("%d used, %d free of %d", info.Entries.Used, info.Entries.Free, info.Entries.Total))
	field("units", fmt.Sprintf("%d x %s: %d active, %d full, %d empty, %d freeing",
		info.Units.Total, humanBytes(int64(info.Units.Size)),
		info.Units.Active, info.Units.Full, info.Units.Empty, info.Units.Freeing))
	field("namespaces", fmt.Sprintf("%d", info.Namespaces))
	field("bytes", fmt.Sprintf("%s valid, %s dead, %s free of %s",
		humanBytes(info.Valid), humanBytes(info.Dead), humanBytes(info.Free), humanBytes(info.Capacity)))
	field("next seq", fmt.Sprintf("%d", info.NextSeq))

	var flags []string
	if info.Compressed {
		flags = append(flags, "compressed")
	}
	if info.ReadOnly {
		flags = append(flags, "read-only")
	}
	if len(flags) > 0 {
		field("flags", strings.Join(flags, ", "))
	}

	c := info.Counters
	field("counters", fmt.Sprintf("writes=%d deletes=%d reclaims=%d relocated=%d erases=%d repairs=%d",
		c.Writes, c.Deletes, c.Reclaims, c.Relocated, c.UnitErases, c.Repairs))
}

func printList(w io.Writer, title string, items []string) {
	fmt.Fprintln(w, titleStyle.Render(title))
	if len(items) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  (none)"))
		return
	}
	for _, item := range items {
		fmt.Fprintln(w, "  "+item)
	}
}

func printSuccess(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, successStyle.Render("✓ ")+fmt.Sprintf(format, args...))
}

// printError reports err with its status name, e.g. "Error [KeyNotFound]: ...".
func printError(w io.Writer, err error) {
	fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("Error [%s]:", status.CodeOf(err)))+" "+err.Error())
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 2; m /= unit {
		div *= unit
		exp++
	}
	value := float64(n) / float64(div)
	if value == float64(int64(value)) {
		return fmt.Sprintf("%d%ciB", int64(value), "KMG"[exp])
	}
	return fmt.Sprintf("%.1f%ciB", value, "KMG"[exp])
}
