package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"

	"github.com/wippyai/objrt/meta"
	"github.com/wippyai/objrt/runtime"
)

type styles struct {
	title    lipgloss.Style
	typ      lipgloss.Style
	builtin  lipgloss.Style
	flags    lipgloss.Style
	detail   lipgloss.Style
	signal   lipgloss.Style
	enum     lipgloss.Style
	selected lipgloss.Style
	help     lipgloss.Style
	err      lipgloss.Style
}

func newStyles(styled bool) styles {
	if !styled {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain, plain, plain, plain}
	}
	return styles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1),
		typ:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#98FB98")),
		builtin: lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB")),
		flags:   lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
		detail:  lipgloss.NewStyle().Foreground(lipgloss.Color("#D0D0D0")),
		signal:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C")),
		enum:    lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")),
		selected: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")),
		help: lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
		err:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
	}
}

// node is one type of the registry with the details typeview shows.
type node struct {
	name         string
	flags        meta.Flags
	fields       []string
	values       []string
	ifaces       []string
	signals      []string
	children     []*node
	typ          meta.Type
	depth        int
	classSize    uint32
	instanceSize uint32
	privateSize  uint32
	builtin      bool
}

// collect builds the type forest of rt in registration order. Builtins
// are kept when showBuiltins is set or when a schema type derives from
// them.
func collect(rt *runtime.Runtime, showBuiltins bool) []*node {
	reg := rt.Types()
	byType := make(map[meta.Type]*node)
	var roots []*node

	reg.Each(func(t meta.Type) bool {
		n := describe(rt, t)
		byType[t] = n
		if p, ok := byType[reg.Parent(t)]; ok {
			p.children = append(p.children, n)
		} else {
			roots = append(roots, n)
		}
		return true
	})

	if showBuiltins {
		return roots
	}
	return prune(roots)
}

func prune(nodes []*node) []*node {
	var out []*node
	for _, n := range nodes {
		n.children = prune(n.children)
		if !n.builtin || len(n.children) > 0 {
			out = append(out, n)
		}
	}
	return out
}

func describe(rt *runtime.Runtime, t meta.Type) *node {
	reg := rt.Types()
	n := &node{
		typ:          t,
		name:         reg.Name(t),
		depth:        reg.Depth(t),
		flags:        reg.Flags(t),
		classSize:    reg.ClassSize(t),
		instanceSize: reg.InstanceSize(t),
		privateSize:  reg.PrivateSize(t),
		builtin:      t <= meta.ITableType,
	}
	for _, f := range reg.Fields(t) {
		if f.Owner != t {
			continue
		}
		s := fmt.Sprintf("%s: %s @%d", f.Name, meta.WitName(f.Type), f.Offset)
		if f.Constructible {
			s += " (ctor)"
		}
		n.fields = append(n.fields, s)
	}
	if !n.builtin {
		for _, v := range reg.EnumValues(t) {
			s := fmt.Sprintf("%s = %d", v.Name, v.Value)
			if v.Nick != "" {
				s += " (" + v.Nick + ")"
			}
			n.values = append(n.values, s)
		}
	}
	parent := reg.Parent(t)
	for _, impl := range reg.Interfaces(t) {
		if parent != meta.InvalidType && reg.Implements(parent, impl.Interface) {
			continue
		}
		n.ifaces = append(n.ifaces, fmt.Sprintf("%s @%d", reg.Name(impl.Interface), impl.Offset))
	}
	for _, info := range rt.Signals().Signals(t) {
		args := make([]string, len(info.ArgTypes))
		for i, a := range info.ArgTypes {
			args[i] = reg.Name(a)
		}
		n.signals = append(n.signals, fmt.Sprintf("%s(%s)", info.Name, strings.Join(args, ", ")))
	}
	sort.Strings(n.signals)
	return n
}

// subtree returns the node named name, searched depth first.
func subtree(nodes []*node, name string) []*node {
	for _, n := range nodes {
		if n.name == name {
			return []*node{n}
		}
		if found := subtree(n.children, name); found != nil {
			return found
		}
	}
	return nil
}

// flatten lists nodes depth first.
func flatten(nodes []*node) []*node {
	var out []*node
	for _, n := range nodes {
		out = append(out, n)
		out = append(out, flatten(n.children)...)
	}
	return out
}

func (n *node) label(s styles) string {
	name := s.typ.Render(n.name)
	if n.builtin {
		name = s.builtin.Render(n.name)
	}
	parts := []string{name, s.flags.Render("[" + n.flags.String() + "]")}
	if n.classSize > 0 {
		parts = append(parts, s.detail.Render(fmt.Sprintf("class=%d", n.classSize)))
	}
	if n.instanceSize > 0 {
		parts = append(parts, s.detail.Render(fmt.Sprintf("instance=%d", n.instanceSize)))
	}
	if n.privateSize > 0 {
		parts = append(parts, s.detail.Render(fmt.Sprintf("private=%d", n.privateSize)))
	}
	return strings.Join(parts, " ")
}

// details lists values, fields, interfaces and signals, one per line.
func (n *node) details(s styles) []string {
	var out []string
	for _, v := range n.values {
		out = append(out, s.detail.Render("value "+v))
	}
	for _, f := range n.fields {
		out = append(out, s.detail.Render("field "+f))
	}
	for _, i := range n.ifaces {
		out = append(out, s.detail.Render("implements "+i))
	}
	for _, sig := range n.signals {
		out = append(out, s.signal.Render("signal "+sig))
	}
	return out
}

func (n *node) toTree(s styles) *tree.Tree {
	t := tree.Root(n.label(s)).
		Enumerator(tree.RoundedEnumerator).
		EnumeratorStyle(s.enum)
	for _, d := range n.details(s) {
		t.Child(d)
	}
	for _, c := range n.children {
		t.Child(c.toTree(s))
	}
	return t
}

func render(nodes []*node, s styles) string {
	t := tree.New().
		Enumerator(tree.RoundedEnumerator).
		EnumeratorStyle(s.enum)
	for _, n := range nodes {
		t.Child(n.toTree(s))
	}
	return t.String()
}
