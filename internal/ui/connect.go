package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/yolodolo42/walletgate/internal/chain"
	"github.com/yolodolo42/walletgate/internal/orchestrator"
	"github.com/yolodolo42/walletgate/internal/provider"
)

// Controller is the part of the orchestrator the connect view drives
type Controller interface {
	Connect(ctx context.Context, id provider.ID) (orchestrator.State, error)
	Retry(ctx context.Context) (orchestrator.State, error)
	Cancel(ctx context.Context) orchestrator.State
	Subscribe() (<-chan orchestrator.State, func())
}

type stateMsg orchestrator.State

type finishedMsg struct {
	state orchestrator.State
	err   error
}

// ConnectModel shows a login attempt as it moves through its phases
type ConnectModel struct {
	ctx     context.Context
	ctl     Controller
	id      provider.ID
	states  <-chan orchestrator.State
	stop    func()
	spinner spinner.Model

	state    orchestrator.State
	running  bool
	quitting bool
}

// NewConnectModel creates the view. It subscribes to ctl immediately so no
// transition is missed.
func NewConnectModel(ctx context.Context, ctl Controller, id provider.ID) *ConnectModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = PromptStyle

	states, stop := ctl.Subscribe()
	return &ConnectModel{
		ctx:     ctx,
		ctl:     ctl,
		id:      id,
		states:  states,
		stop:    stop,
		spinner: sp,
	}
}

// State returns the last state seen
func (m *ConnectModel) State() orchestrator.State { return m.state }

func (m *ConnectModel) Init() tea.Cmd {
	m.running = true
	return tea.Batch(m.spinner.Tick, m.wait(), m.connect())
}

func (m *ConnectModel) connect() tea.Cmd {
	return func() tea.Msg {
		st, err := m.ctl.Connect(m.ctx, m.id)
		return finishedMsg{st, err}
	}
}

func (m *ConnectModel) retry() tea.Cmd {
	return func() tea.Msg {
		st, err := m.ctl.Retry(m.ctx)
		return finishedMsg{st, err}
	}
}

func (m *ConnectModel) wait() tea.Cmd {
	return func() tea.Msg {
		st, ok := <-m.states
		if !ok {
			return nil
		}
		return stateMsg(st)
	}
}

func (m *ConnectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.state = m.ctl.Cancel(m.ctx)
			return m.quit()
		case "r":
			if !m.running && m.state.Phase == orchestrator.PhaseError {
				m.running = true
				return m, m.retry()
			}
		case "q", "enter":
			if !m.running {
				return m.quit()
			}
		}

	case stateMsg:
		m.state = orchestrator.State(msg)
		return m, m.wait()

	case finishedMsg:
		m.running = false
		m.state = msg.state
		if m.state.Phase == orchestrator.PhaseConnected {
			return m.quit()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *ConnectModel) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	m.stop()
	return m, tea.Quit
}

func (m *ConnectModel) View() string {
	var b strings.Builder
	st := m.state

	b.WriteString(TitleStyle.Render("Connect wallet"))
	if st.ProviderID != "" {
		b.WriteString(HelpStyle.Render(" · " + string(st.ProviderID)))
	}
	b.WriteString("\n\n")

	switch st.Phase {
	case orchestrator.PhaseConnected:
		b.WriteString(SuccessStyle.Render(SymbolCheck+" Connected") + "\n")
		b.WriteString(m.details())
		if st.AlreadyLinked {
			b.WriteString(HelpStyle.Render("  wallet was already linked to this account") + "\n")
		}

	case orchestrator.PhaseError:
		if st.Err != nil {
			b.WriteString(ErrorStyle.Render(SymbolCross+" "+st.Err.Error()) + "\n")
			if hint := st.Err.Kind.Hint(); hint != "" {
				b.WriteString(HelpStyle.Render("  "+hint) + "\n")
			}
		}
		if !m.quitting {
			b.WriteString("\n" + HelpStyle.Render("r retry · q quit") + "\n")
		}

	case orchestrator.PhaseIdle:
		if st.Reason != orchestrator.ReasonNone {
			b.WriteString(WarningStyle.Render("Stopped: "+string(st.Reason)) + "\n")
		} else {
			b.WriteString(m.spinner.View() + " Starting\n")
		}

	default:
		b.WriteString(m.spinner.View() + " " + phaseLabel(st.Phase) + "\n")
		b.WriteString(m.details())
		if st.PairingURI != "" {
			b.WriteString("\nOpen your mobile wallet and paste this pairing code:\n")
			b.WriteString(PairingBox.Render(st.PairingURI) + "\n")
		}
		if !m.quitting {
			b.WriteString("\n" + HelpStyle.Render("esc cancel") + "\n")
		}
	}

	return b.String()
}

func (m *ConnectModel) details() string {
	st := m.state
	if st.Address == "" {
		return ""
	}
	return fmt.Sprintf("  %s %s\n  %s %s\n",
		SelectorDim.Render("wallet"), st.Address,
		SelectorDim.Render("chain "), chain.Label(st.ChainID))
}

func phaseLabel(p orchestrator.Phase) string {
	switch p {
	case orchestrator.PhaseConnecting:
		return "Waiting for the wallet to connect"
	case orchestrator.PhaseAwaitingSignature:
		return "Confirm the sign-in message in your wallet"
	case orchestrator.PhaseVerifying:
		return "Verifying signature"
	case orchestrator.PhaseTracking:
		return "Recording connection"
	default:
		return p.String()
	}
}

// RunConnect runs the connect view until the attempt connects or the user
// leaves, and returns the final state
func RunConnect(ctx context.Context, ctl Controller, id provider.ID) (orchestrator.State, error) {
	m := NewConnectModel(ctx, ctl, id)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		m.stop()
		return m.State(), fmt.Errorf("connect view failed: %w", err)
	}
	return m.State(), nil
}
