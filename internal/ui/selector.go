package ui

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// ErrCancelled is returned when the user backs out of a prompt
var ErrCancelled = errors.New("cancelled")

// SelectorItem represents an item in the selector
type SelectorItem struct {
	ID          string
	Label       string
	Description string

	// Badge is a short highlighted tag such as "detected"
	Badge string

	// Disabled items are shown but cannot be chosen
	Disabled bool
}

// Selector is an interactive list selector
type Selector struct {
	title    string
	items    []SelectorItem
	cursor   int
	selected int
	active   bool
	width    int
}

// NewSelector creates a selector with the cursor on the first enabled item
func NewSelector(title string, items []SelectorItem) Selector {
	cursor := 0
	for i, item := range items {
		if !item.Disabled {
			cursor = i
			break
		}
	}

	return Selector{
		title:    title,
		items:    items,
		cursor:   cursor,
		selected: -1,
		active:   true,
		width:    80,
	}
}

// SetWidth sets the selector width
func (s *Selector) SetWidth(w int) {
	s.width = w
}

// Active returns whether the selector is active
func (s *Selector) Active() bool {
	return s.active
}

// Selected returns the selected item ID, or empty if cancelled
func (s *Selector) Selected() string {
	if s.selected >= 0 && s.selected < len(s.items) {
		return s.items[s.selected].ID
	}
	return ""
}

// Cancelled returns whether the selector was cancelled
func (s *Selector) Cancelled() bool {
	return !s.active && s.selected == -1
}

// Update handles selector input
func (s *Selector) Update(msg tea.Msg) (*Selector, tea.Cmd) {
	if !s.active {
		return s, nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "up", "k":
			s.move(-1)
		case "down", "j":
			s.move(1)
		case "enter":
			if len(s.items) > 0 && !s.items[s.cursor].Disabled {
				s.selected = s.cursor
				s.active = false
			}
		case "esc", "q", "ctrl+c":
			s.selected = -1
			s.active = false
		}
	}

	return s, nil
}

// move steps the cursor over disabled items
func (s *Selector) move(delta int) {
	for i := s.cursor + delta; i >= 0 && i < len(s.items); i += delta {
		if !s.items[i].Disabled {
			s.cursor = i
			return
		}
	}
}

// View renders the selector
func (s *Selector) View() string {
	if !s.active {
		return ""
	}

	var b strings.Builder

	b.WriteString(TitleStyle.Render(s.title))
	b.WriteString(" ")
	b.WriteString(HelpStyle.Render("(↑/↓ navigate, enter select, esc cancel)"))
	b.WriteString("\n\n")

	for i, item := range s.items {
		isCursor := i == s.cursor

		if isCursor {
			b.WriteString(SelectorCursor.Render(SymbolArrow) + " ")
		} else {
			b.WriteString("  ")
		}

		display := item.Label
		if display == "" {
			display = item.ID
		}
		label := fmt.Sprintf("%-24s", display)
		switch {
		case item.Disabled:
			b.WriteString(SelectorDim.Render(label))
		case isCursor:
			b.WriteString(SelectorActive.Render(label))
		default:
			b.WriteString(SelectorItemStyle.Render(label))
		}

		if item.Badge != "" {
			b.WriteString(BadgeStyle.Render(item.Badge) + " ")
		}
		if item.Description != "" {
			b.WriteString(SelectorDim.Render(item.Description))
		}

		b.WriteString("\n")
	}

	return b.String()
}

// selectorModel runs a Selector as a standalone program
type selectorModel struct {
	sel Selector
}

func (m selectorModel) Init() tea.Cmd { return nil }

func (m selectorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if size, ok := msg.(tea.WindowSizeMsg); ok {
		m.sel.SetWidth(size.Width)
		return m, nil
	}
	m.sel.Update(msg)
	if !m.sel.Active() {
		return m, tea.Quit
	}
	return m, nil
}

func (m selectorModel) View() string { return m.sel.View() }

// RunSelector shows a selector and returns the chosen item id
func RunSelector(title string, items []SelectorItem) (string, error) {
	final, err := tea.NewProgram(selectorModel{sel: NewSelector(title, items)}).Run()
	if err != nil {
		return "", fmt.Errorf("selector failed: %w", err)
	}
	m := final.(selectorModel)
	if m.sel.Cancelled() {
		return "", ErrCancelled
	}
	return m.sel.Selected(), nil
}
