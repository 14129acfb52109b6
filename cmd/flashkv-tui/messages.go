package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/dd0wney/cluso-flashkv/pkg/api"
	"github.com/dd0wney/cluso-flashkv/pkg/client"
	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

type partitionsMsg struct {
	list   api.PartitionList
	status string
}

type namespacesMsg struct {
	partition string
	names     []string
}

type keysMsg struct {
	partition string
	namespace string
	rows      []table.Row
	status    string
}

type valueMsg struct {
	key  string
	data []byte
}

type errMsg struct{ err error }

func loadPartitions(ctx context.Context, c *client.Client, note string) tea.Cmd {
	return func() tea.Msg {
		list, err := c.Partitions(ctx)
		if err != nil {
			return errMsg{err}
		}
		return partitionsMsg{list: list, status: note}
	}
}

func initPartition(ctx context.Context, c *client.Client, part string) tea.Cmd {
	return func() tea.Msg {
		info, err := c.InitPartition(ctx, part)
		if err != nil {
			return errMsg{err}
		}
		return loadPartitions(ctx, c, fmt.Sprintf("mounted %s: %d keys", part, info.Entries.Used))()
	}
}

func compactPartition(ctx context.Context, c *client.Client, part string) tea.Cmd {
	return func() tea.Msg {
		info, err := c.Compact(ctx, part)
		if err != nil {
			return errMsg{err}
		}
		return loadPartitions(ctx, c, fmt.Sprintf("compacted %s: %d bytes free", part, info.Free))()
	}
}

func loadNamespaces(ctx context.Context, c *client.Client, part string) tea.Cmd {
	return func() tea.Msg {
		names, err := c.Namespaces(ctx, part)
		if err != nil {
			return errMsg{err}
		}
		return namespacesMsg{partition: part, names: names}
	}
}

// fetchKeys lists a namespace with the size of every key.
func fetchKeys(ctx context.Context, c *client.Client, part, ns, note string) tea.Msg {
	names, err := c.Keys(ctx, part, ns)
	if err != nil {
		return errMsg{err}
	}
	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		size, found, err := c.KeyExists(ctx, part, ns, name)
		if err != nil {
			return errMsg{err}
		}
		if !found {
			continue
		}
		rows = append(rows, table.Row{name, strconv.Itoa(size)})
	}
	return keysMsg{partition: part, namespace: ns, rows: rows, status: note}
}

func loadKeys(ctx context.Context, c *client.Client, part, ns string) tea.Cmd {
	return func() tea.Msg {
		return fetchKeys(ctx, c, part, ns, "")
	}
}

func loadValue(ctx context.Context, c *client.Client, part, ns, key string) tea.Cmd {
	return func() tea.Msg {
		data, err := c.Get(ctx, part, ns, key)
		if err != nil {
			return errMsg{err}
		}
		return valueMsg{key: key, data: data}
	}
}

func deleteKey(ctx context.Context, c *client.Client, part, ns, key string) tea.Cmd {
	return func() tea.Msg {
		if err := c.DeleteKey(ctx, part, ns, key); err != nil {
			return errMsg{err}
		}
		return fetchKeys(ctx, c, part, ns, "deleted "+key)
	}
}

func writeValue(ctx context.Context, c *client.Client, part, ns, key, value string) tea.Cmd {
	return func() tea.Msg {
		if err := c.WriteBlob(ctx, part, ns, key, []byte(value)); err != nil {
			return errMsg{err}
		}
		return fetchKeys(ctx, c, part, ns, fmt.Sprintf("wrote %d bytes to %s", len(value), key))
	}
}

// parseAssignment splits "key=value", or "namespace/key=value" when ns is
// empty.
func parseAssignment(ns, input string) (string, string, string, error) {
	target, value, ok := strings.Cut(input, "=")
	if !ok || target == "" {
		return "", "", "", fmt.Errorf("%w: expected key=value", status.ErrInvalidArgument)
	}
	if ns != "" {
		return ns, target, value, nil
	}
	namespace, key, ok := strings.Cut(target, "/")
	if !ok || namespace == "" || key == "" {
		return "", "", "", fmt.Errorf("%w: expected namespace/key=value", status.ErrInvalidArgument)
	}
	return namespace, key, value, nil
}
