package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// Prompt is a single-line input with a styled prefix and inline validation
type Prompt struct {
	label    string
	input    textinput.Model
	validate func(string) error
	err      error
	done     bool
	aborted  bool
}

// NewPrompt creates a prompt. validate may be nil.
func NewPrompt(label, placeholder string, validate func(string) error) Prompt {
	ti := textinput.New()
	ti.Prompt = ""
	ti.Placeholder = placeholder
	ti.CharLimit = 2000
	ti.Width = 80
	ti.Focus()

	return Prompt{
		label:    label,
		input:    ti,
		validate: validate,
	}
}

// SetWidth sets the width of the input
func (p *Prompt) SetWidth(w int) {
	p.input.Width = w - 4 // Account for prompt symbol and spacing
}

// Value returns the trimmed input
func (p *Prompt) Value() string {
	return strings.TrimSpace(p.input.Value())
}

// Done reports whether a valid value was submitted
func (p *Prompt) Done() bool { return p.done }

// Aborted reports whether the user backed out
func (p *Prompt) Aborted() bool { return p.aborted }

// Update handles input events
func (p *Prompt) Update(msg tea.Msg) (*Prompt, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEsc, tea.KeyCtrlC:
			p.aborted = true
			return p, nil
		case tea.KeyEnter:
			if p.validate != nil {
				if p.err = p.validate(p.Value()); p.err != nil {
					return p, nil
				}
			}
			p.done = true
			return p, nil
		}
	}

	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	p.err = nil
	return p, cmd
}

// View renders the prompt
func (p *Prompt) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(p.label))
	b.WriteString("\n")
	b.WriteString(PromptStyle.Render(SymbolPrompt) + " " + p.input.View())
	b.WriteString("\n")
	if p.err != nil {
		b.WriteString(ErrorStyle.Render(SymbolCross+" "+p.err.Error()) + "\n")
	}
	return b.String()
}

type promptModel struct {
	p Prompt
}

func (m promptModel) Init() tea.Cmd { return textinput.Blink }

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if size, ok := msg.(tea.WindowSizeMsg); ok {
		m.p.SetWidth(size.Width)
		return m, nil
	}
	_, cmd := m.p.Update(msg)
	if m.p.Done() || m.p.Aborted() {
		return m, tea.Quit
	}
	return m, cmd
}

func (m promptModel) View() string {
	if m.p.Done() || m.p.Aborted() {
		return ""
	}
	return m.p.View()
}

// RunPrompt asks for one line of input
func RunPrompt(label, placeholder string, validate func(string) error) (string, error) {
	final, err := tea.NewProgram(promptModel{p: NewPrompt(label, placeholder, validate)}).Run()
	if err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	m := final.(promptModel)
	if m.p.Aborted() {
		return "", ErrCancelled
	}
	return m.p.Value(), nil
}
