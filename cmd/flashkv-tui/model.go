package main

import (
	"context"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/dd0wney/cluso-flashkv/pkg/api"
	"github.com/dd0wney/cluso-flashkv/pkg/client"
)

type view int

const (
	partitionsView view = iota
	namespacesView
	keysView
	valueView
)

// namespaceItem adapts a namespace name to the list delegate.
type namespaceItem string

func (n namespaceItem) Title() string       { return string(n) }
func (n namespaceItem) Description() string { return "" }
func (n namespaceItem) FilterValue() string { return string(n) }

type model struct {
	ctx    context.Context
	client *client.Client

	view       view
	partitions table.Model
	namespaces list.Model
	keys       table.Model
	input      textinput.Model
	help       help.Model
	editing    bool

	list      api.PartitionList
	partition string
	namespace string
	key       string
	value     []byte

	status string
	err    error
	width  int
	height int
}

func newModel(ctx context.Context, c *client.Client) model {
	partitions := table.New(
		table.WithColumns([]table.Column{
			{Title: "Name", Width: 16},
			{Title: "Subtype", Width: 10},
			{Title: "Size", Width: 10},
			{Title: "Mode", Width: 6},
			{Title: "State", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	keysTable := table.New(
		table.WithColumns([]table.Column{
			{Title: "Key", Width: 18},
			{Title: "Bytes", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = false
	namespaces := list.New(nil, delegate, 60, 16)
	namespaces.SetShowHelp(false)

	input := textinput.New()
	input.CharLimit = 256
	input.Width = 50

	return model{
		ctx:        ctx,
		client:     c,
		partitions: partitions,
		namespaces: namespaces,
		keys:       keysTable,
		input:      input,
		help:       help.New(),
	}
}

func (m model) Init() tea.Cmd {
	return loadPartitions(m.ctx, m.client, "")
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		body := max(msg.Height-10, 4)
		m.partitions.SetHeight(body)
		m.keys.SetHeight(body)
		m.namespaces.SetSize(msg.Width-4, body)
		m.help.Width = msg.Width
		return m, nil

	case partitionsMsg:
		m.list = msg.list
		m.partitions.SetRows(partitionRows(msg.list))
		if m.partitions.Cursor() >= len(msg.list.Partitions) {
			m.partitions.SetCursor(0)
		}
		m.status, m.err = msg.status, nil
		return m, nil

	case namespacesMsg:
		m.partition = msg.partition
		items := make([]list.Item, len(msg.names))
		for i, name := range msg.names {
			items[i] = namespaceItem(name)
		}
		m.namespaces.Title = "Namespaces in " + msg.partition
		m.namespaces.ResetSelected()
		m.view, m.err = namespacesView, nil
		return m, m.namespaces.SetItems(items)

	case keysMsg:
		m.partition, m.namespace = msg.partition, msg.namespace
		m.keys.SetRows(msg.rows)
		if m.keys.Cursor() >= len(msg.rows) {
			m.keys.SetCursor(max(len(msg.rows)-1, 0))
		}
		m.view, m.err = keysView, nil
		m.status = msg.status
		return m, nil

	case valueMsg:
		m.key, m.value = msg.key, msg.data
		m.view, m.err = valueView, nil
		return m, nil

	case errMsg:
		m.err = msg.err
		m.status = ""
		return m, nil

	case tea.KeyMsg:
		if m.editing {
			return m.updateInput(msg)
		}
		if m.view == namespacesView && m.namespaces.FilterState() == list.Filtering {
			break
		}
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Back):
			m.back()
			return m, nil
		case key.Matches(msg, keys.Enter):
			return m, m.open()
		case key.Matches(msg, keys.Refresh):
			return m, m.refresh()
		case key.Matches(msg, keys.Init) && m.view == partitionsView:
			if name, ok := m.selectedPartition(); ok {
				return m, initPartition(m.ctx, m.client, name)
			}
			return m, nil
		case key.Matches(msg, keys.Compact) && m.view == partitionsView:
			if name, ok := m.selectedPartition(); ok {
				return m, compactPartition(m.ctx, m.client, name)
			}
			return m, nil
		case key.Matches(msg, keys.Write) && (m.view == namespacesView || m.view == keysView):
			m.editing = true
			m.input.SetValue("")
			m.input.Placeholder = "key=value"
			if m.view == namespacesView {
				m.input.Placeholder = "namespace/key=value"
			}
			return m, m.input.Focus()
		case key.Matches(msg, keys.Delete) && m.view == keysView:
			if row := m.keys.SelectedRow(); row != nil {
				return m, deleteKey(m.ctx, m.client, m.partition, m.namespace, row[0])
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	switch m.view {
	case partitionsView:
		m.partitions, cmd = m.partitions.Update(msg)
	case namespacesView:
		m.namespaces, cmd = m.namespaces.Update(msg)
	case keysView:
		m.keys, cmd = m.keys.Update(msg)
	}
	return m, cmd
}

func (m model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.editing = false
		m.input.Blur()
		return m, nil
	case tea.KeyEnter:
		m.editing = false
		m.input.Blur()
		ns := ""
		if m.view == keysView {
			ns = m.namespace
		}
		namespace, k, value, err := parseAssignment(ns, m.input.Value())
		if err != nil {
			m.err = err
			return m, nil
		}
		return m, writeValue(m.ctx, m.client, m.partition, namespace, k, value)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) back() {
	m.err = nil
	switch m.view {
	case valueView:
		m.view = keysView
	case keysView:
		m.view = namespacesView
	case namespacesView:
		m.view = partitionsView
	}
}

func (m model) selectedPartition() (string, bool) {
	row := m.partitions.SelectedRow()
	if row == nil {
		return "", false
	}
	return row[0], true
}

func (m model) open() tea.Cmd {
	switch m.view {
	case partitionsView:
		if name, ok := m.selectedPartition(); ok {
			return loadNamespaces(m.ctx, m.client, name)
		}
	case namespacesView:
		if item, ok := m.namespaces.SelectedItem().(namespaceItem); ok {
			return loadKeys(m.ctx, m.client, m.partition, string(item))
		}
	case keysView:
		if row := m.keys.SelectedRow(); row != nil {
			return loadValue(m.ctx, m.client, m.partition, m.namespace, row[0])
		}
	}
	return nil
}

func (m model) refresh() tea.Cmd {
	switch m.view {
	case namespacesView:
		return loadNamespaces(m.ctx, m.client, m.partition)
	case keysView:
		return loadKeys(m.ctx, m.client, m.partition, m.namespace)
	case valueView:
		return loadValue(m.ctx, m.client, m.partition, m.namespace, m.key)
	default:
		return loadPartitions(m.ctx, m.client, "")
	}
}
