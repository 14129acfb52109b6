package main

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-flashkv/pkg/api"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF")).
			MarginLeft(2).
			MarginTop(1)

	crumbStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FFFF")).
			MarginLeft(2)

	contentStyle = lipgloss.NewStyle().
			MarginLeft(2).
			MarginTop(1)

	valueBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true).
			MarginLeft(2)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			MarginLeft(2)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

func partitionRows(list api.PartitionList) []table.Row {
	rows := make([]table.Row, 0, len(list.Partitions))
	for _, p := range list.Partitions {
		mode := "rw"
		if p.ReadOnly {
			mode = "ro"
		}
		state := "-"
		switch {
		case p.KV && p.Initialized:
			state = "mounted"
		case p.KV:
			state = "idle"
		}
		rows = append(rows, table.Row{p.Name, p.Subtype, fmt.Sprintf("%d", p.Size), mode, state})
	}
	return rows
}

func (m model) breadcrumb() string {
	parts := []string{"partitions"}
	if m.view >= namespacesView {
		parts = append(parts, m.partition)
	}
	if m.view >= keysView {
		parts = append(parts, m.namespace)
	}
	if m.view == valueView {
		parts = append(parts, m.key)
	}
	return strings.Join(parts, " / ")
}

func (m model) View() string {
	var b strings.Builder

	title := "flashkv " + m.client.String()
	if m.list.TableID != "" {
		title += "  table " + m.list.TableID
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(crumbStyle.Render(m.breadcrumb()))
	b.WriteString("\n")

	var body string
	switch m.view {
	case partitionsView:
		body = m.partitions.View()
	case namespacesView:
		body = m.namespaces.View()
	case keysView:
		body = m.keys.View()
	case valueView:
		body = fmt.Sprintf("%d bytes\n", len(m.value)) + valueBoxStyle.Render(renderValue(m.value))
	}
	b.WriteString(contentStyle.Render(body))
	b.WriteString("\n")

	if m.editing {
		b.WriteString(contentStyle.Render(m.input.View()))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	} else if m.status != "" {
		b.WriteString(successStyle.Render(m.status))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render(m.help.View(keys)))
	return b.String()
}

// renderValue shows printable text as is and anything else as a hex dump.
func renderValue(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	if utf8.Valid(data) && strings.IndexFunc(string(data), func(r rune) bool {
		return !unicode.IsPrint(r) && !unicode.IsSpace(r)
	}) < 0 {
		return string(data)
	}
	return strings.TrimRight(hex.Dump(data), "\n")
}
