package device

import (
	"fmt"
	"slices"
	"strings"
)

// WidgetType mirrors the node kinds of a camera configuration tree.
type WidgetType int

const (
	WidgetWindow WidgetType = iota
	WidgetSection
	WidgetText
	WidgetRange
	WidgetToggle
	WidgetRadio
	WidgetMenu
	WidgetButton
	WidgetDate
)

func (t WidgetType) String() string {
	switch t {
	case WidgetWindow:
		return "window"
	case WidgetSection:
		return "section"
	case WidgetText:
		return "text"
	case WidgetRange:
		return "range"
	case WidgetToggle:
		return "toggle"
	case WidgetRadio:
		return "radio"
	case WidgetMenu:
		return "menu"
	case WidgetButton:
		return "button"
	case WidgetDate:
		return "date"
	default:
		return "invalid"
	}
}

// Widget is one node of the configuration tree. Leaf values are carried as
// the literal strings the body accepts ("1/50", "Immediate", "0").
type Widget struct {
	Name     string
	Label    string
	Type     WidgetType
	Value    string
	Choices  []string
	ReadOnly bool
	Children []*Widget
}

// Find looks up a widget by name, case-insensitively, depth first.
func (w *Widget) Find(name string) (*Widget, bool) {
	if w == nil {
		return nil, false
	}
	if strings.EqualFold(w.Name, name) {
		return w, true
	}
	for _, c := range w.Children {
		if found, ok := c.Find(name); ok {
			return found, true
		}
	}
	return nil, false
}

// Walk visits every node, parents before children.
func (w *Widget) Walk(fn func(*Widget)) {
	if w == nil {
		return
	}
	fn(w)
	for _, c := range w.Children {
		c.Walk(fn)
	}
}

// IsContainer reports whether the node only groups other widgets.
func (w *Widget) IsContainer() bool {
	return w.Type == WidgetWindow || w.Type == WidgetSection
}

// Names lists the leaf configuration names in tree order.
func (w *Widget) Names() []string {
	var names []string
	w.Walk(func(n *Widget) {
		if !n.IsContainer() {
			names = append(names, n.Name)
		}
	})
	return names
}

// HasChoices reports whether the widget only accepts one of its Choices.
func (w *Widget) HasChoices() bool {
	return w.Type == WidgetRadio || w.Type == WidgetMenu
}

// Set assigns a new value locally. Nothing reaches the body until the tree is
// written through a Gateway.
func (w *Widget) Set(value string) error {
	if w.ReadOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, w.Name)
	}
	switch {
	case w.HasChoices():
		if !slices.Contains(w.Choices, value) {
			return fmt.Errorf("%w: %q is not a choice of %s", ErrBadValue, value, w.Name)
		}
	case w.Type == WidgetToggle:
		if value != "0" && value != "1" {
			return fmt.Errorf("%w: toggle %s accepts 0 or 1, got %q", ErrBadValue, w.Name, value)
		}
	case w.IsContainer():
		return fmt.Errorf("%w: %s has no value", ErrBadValue, w.Name)
	}
	w.Value = value
	return nil
}

// Clone returns a deep copy of the subtree.
func (w *Widget) Clone() *Widget {
	if w == nil {
		return nil
	}
	cp := *w
	cp.Choices = slices.Clone(w.Choices)
	cp.Children = make([]*Widget, len(w.Children))
	for i, c := range w.Children {
		cp.Children[i] = c.Clone()
	}
	return &cp
}
