package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/objrt/runtime"
)

var paneStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("#7D56F4")).
	Padding(0, 1)

type browserModel struct {
	err      error
	rt       *runtime.Runtime
	opts     options
	styles   styles
	all      []*node
	visible  []*node
	filter   textinput.Model
	selected int
	loaded   bool
}

func newBrowserModel(opts options) *browserModel {
	ti := textinput.New()
	ti.Placeholder = "filter types, fields, signals"
	ti.Prompt = "/ "
	ti.Width = 40
	ti.Focus()
	return &browserModel{
		opts:   opts,
		styles: newStyles(true),
		filter: ti,
	}
}

type loadedMsg struct {
	err   error
	rt    *runtime.Runtime
	nodes []*node
}

func (m *browserModel) Init() tea.Cmd {
	return tea.Batch(m.load, textinput.Blink)
}

func (m *browserModel) load() tea.Msg {
	rt, err := load(context.Background(), m.opts)
	if err != nil {
		return loadedMsg{err: err}
	}
	nodes := collect(rt, m.opts.builtins)
	if m.opts.root != "" {
		nodes = subtree(nodes, m.opts.root)
	}
	return loadedMsg{rt: rt, nodes: flatten(nodes)}
}

func (m *browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.close()
			return m, tea.Quit

		case "up", "ctrl+p":
			if m.selected > 0 {
				m.selected--
			}
			return m, nil

		case "down", "ctrl+n":
			if m.selected < len(m.visible)-1 {
				m.selected++
			}
			return m, nil
		}

	case loadedMsg:
		m.loaded = true
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.rt = msg.rt
		m.all = msg.nodes
		m.applyFilter()
		return m, nil
	}

	var cmd tea.Cmd
	before := m.filter.Value()
	m.filter, cmd = m.filter.Update(msg)
	if m.filter.Value() != before {
		m.applyFilter()
	}
	return m, cmd
}

func (m *browserModel) close() {
	if m.rt != nil {
		_ = m.rt.Close(context.Background())
		m.rt = nil
	}
}

// applyFilter keeps the nodes whose name or details contain the filter
// text, case-insensitively.
func (m *browserModel) applyFilter() {
	q := strings.ToLower(strings.TrimSpace(m.filter.Value()))
	m.visible = m.visible[:0]
	for _, n := range m.all {
		if q == "" || n.matches(q) {
			m.visible = append(m.visible, n)
		}
	}
	if m.selected >= len(m.visible) {
		m.selected = len(m.visible) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

func (n *node) matches(q string) bool {
	if strings.Contains(strings.ToLower(n.name), q) {
		return true
	}
	for _, group := range [][]string{n.values, n.fields, n.ifaces, n.signals} {
		for _, s := range group {
			if strings.Contains(strings.ToLower(s), q) {
				return true
			}
		}
	}
	return false
}

func (m *browserModel) current() *node {
	if m.selected < 0 || m.selected >= len(m.visible) {
		return nil
	}
	return m.visible[m.selected]
}

func (m *browserModel) View() string {
	s := m.styles
	if m.err != nil {
		return s.err.Render(fmt.Sprintf("Error: %v\n\nPress esc to quit.", m.err))
	}
	if !m.loaded {
		return "Loading schema..."
	}

	var b strings.Builder
	b.WriteString(s.title.Render("Type Browser"))
	b.WriteString(" ")
	b.WriteString(m.opts.schema)
	b.WriteString("\n\n")
	b.WriteString(m.filter.View())
	b.WriteString("\n\n")

	var list strings.Builder
	if len(m.visible) == 0 {
		list.WriteString(s.help.Render("no matching types"))
	}
	for i, n := range m.visible {
		line := strings.Repeat("  ", n.depth) + n.name
		if i == m.selected {
			list.WriteString(s.selected.Render("> " + line))
		} else if n.builtin {
			list.WriteString("  " + s.builtin.Render(line))
		} else {
			list.WriteString("  " + s.typ.Render(line))
		}
		list.WriteString("\n")
	}

	detail := ""
	if n := m.current(); n != nil {
		lines := append([]string{n.label(s), ""}, n.details(s)...)
		detail = paneStyle.Render(strings.Join(lines, "\n"))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, list.String(), "  ", detail))
	b.WriteString("\n\n")
	b.WriteString(s.help.Render("type to filter • ↑/↓ select • esc quit"))
	return b.String()
}

func runInteractive(opts options) error {
	m := newBrowserModel(opts)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	m.close()
	return err
}
