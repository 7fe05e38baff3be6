package setup

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/yolodolo42/walletgate/internal/ui"
)

// WizardStep represents the current step in the wizard
type WizardStep int

const (
	StepWelcome WizardStep = iota
	StepBackend
	StepWalletChoice
	StepWalletPassword
	StepComplete
)

const totalSteps = 3 // Backend, Wallet, Complete

const (
	choiceCreate = "create"
	choiceSkip   = "skip"
)

// SetupResult contains the result of the setup wizard
type SetupResult struct {
	BackendURL    string
	WalletCreated bool
	WalletAddress string
	Cancelled     bool
}

// WizardModel is the main wizard Bubbletea model
type WizardModel struct {
	step     WizardStep
	status   *SetupStatus
	dataDir  string
	quitting bool

	// Backend step
	backendInput   textinput.Model
	checking       bool
	backendError   string
	backendWarned  bool
	backendChecked string
	httpClient     *http.Client

	// Wallet step
	walletSelector ui.Selector
	passwordInput  textinput.Model
	confirmInput   textinput.Model
	passwordStep   int // 0=enter, 1=confirm
	passwordError  string
	walletCreated  bool
	walletAddress  string
	keystorePath   string

	// UI
	spinner  spinner.Model
	progress progress.Model

	// Result
	result *SetupResult
}

// Message types
type backendCheckedMsg struct {
	err error
}

type walletCreatedMsg struct {
	address  string
	keystore string
	err      error
}

func walletSelectorItems(accounts []string) []ui.SelectorItem {
	items := make([]ui.SelectorItem, 0, len(accounts)+2)
	for i, addr := range accounts {
		item := ui.SelectorItem{
			ID:          addr,
			Label:       "Use " + shortAddress(addr),
			Description: "existing keystore account",
		}
		if i == 0 {
			item.Badge = "latest"
		}
		items = append(items, item)
	}
	items = append(items,
		ui.SelectorItem{ID: choiceCreate, Label: "Create a new wallet", Description: "encrypted keystore in the data directory"},
		ui.SelectorItem{ID: choiceSkip, Label: "Continue without wallet", Description: "connect browser or mobile wallets only"},
	)
	return items
}

func shortAddress(addr string) string {
	if len(addr) > 10 {
		return addr[:6] + "..." + addr[len(addr)-4:]
	}
	return addr
}

// NewWizard creates a new wizard model. backendURL prefills the backend step.
func NewWizard(dataDir, backendURL string) *WizardModel {
	status, _ := DetectSetupStatus(dataDir)

	// Spinner
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = SpinnerStyle

	// Progress bar
	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 40

	backendInput := textinput.New()
	backendInput.Prompt = ""
	backendInput.Placeholder = "http://localhost:8000"
	backendInput.CharLimit = 200
	backendInput.Width = 50
	backendInput.SetValue(backendURL)

	// Password inputs
	passInput := textinput.New()
	passInput.Prompt = ""
	passInput.Placeholder = "Enter password (8+ chars)"
	passInput.EchoMode = textinput.EchoPassword
	passInput.EchoCharacter = '•'
	passInput.CharLimit = 100
	passInput.Width = 40

	confirmInput := textinput.New()
	confirmInput.Prompt = ""
	confirmInput.Placeholder = "Confirm password"
	confirmInput.EchoMode = textinput.EchoPassword
	confirmInput.EchoCharacter = '•'
	confirmInput.CharLimit = 100
	confirmInput.Width = 40

	return &WizardModel{
		step:           StepWelcome,
		status:         status,
		dataDir:        dataDir,
		backendInput:   backendInput,
		httpClient:     &http.Client{Timeout: probeTimeout},
		walletSelector: ui.NewSelector("Set up wallet (optional)", walletSelectorItems(status.Accounts)),
		spinner:        sp,
		progress:       prog,
		passwordInput:  passInput,
		confirmInput:   confirmInput,
	}
}

// Result returns the wizard outcome once it has quit
func (m WizardModel) Result() *SetupResult { return m.result }

// Init initializes the wizard
func (m WizardModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textinput.Blink)
}

// Update handles messages
func (m WizardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Global keys (don't swallow Esc; selectors use it).
		switch msg.Type {
		case tea.KeyCtrlC:
			m.result = &SetupResult{Cancelled: true}
			m.quitting = true
			return m, tea.Quit
		}

		// Step-specific handling
		switch m.step {
		case StepWelcome:
			if msg.Type == tea.KeyEnter {
				m.backendInput.Focus()
				m.step = StepBackend
			}
			return m, nil

		case StepBackend:
			if msg.Type == tea.KeyEsc {
				m.backendInput.Blur()
				m.backendError = ""
				m.step = StepWelcome
				return m, nil
			}
			if msg.Type == tea.KeyEnter {
				return m.updateBackend()
			}
			if m.checking {
				return m, nil
			}
		// Fall through to let input update happen

		case StepWalletChoice:
			return m.updateWalletChoice(msg)

		case StepWalletPassword:
			if msg.Type == tea.KeyEsc {
				m.passwordStep = 0
				m.passwordError = ""
				m.passwordInput.Reset()
				m.confirmInput.Reset()
				m.walletSelector = ui.NewSelector("Set up wallet (optional)", walletSelectorItems(m.status.Accounts))
				m.step = StepWalletChoice
				return m, nil
			}
			if msg.Type == tea.KeyEnter {
				return m.updateWalletPassword()
			}
			// Fall through to let input update happen

		case StepComplete:
			if msg.Type == tea.KeyEnter {
				m.result = &SetupResult{
					BackendURL:    strings.TrimSpace(m.backendInput.Value()),
					WalletCreated: m.walletCreated,
					WalletAddress: m.walletAddress,
				}
				m.quitting = true
				return m, tea.Quit
			}
		}

	case tea.WindowSizeMsg:
		m.progress.Width = min(40, msg.Width-20)
		m.walletSelector.SetWidth(msg.Width)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case backendCheckedMsg:
		m.checking = false
		if msg.err != nil {
			m.backendError = formatProbeError(msg.err)
			m.backendWarned = true
			m.backendChecked = m.backendInput.Value()
			return m, nil
		}
		m.backendError = ""
		m.backendInput.Blur()
		m.step = StepWalletChoice
		return m, nil

	case walletCreatedMsg:
		if msg.err != nil {
			m.passwordError = msg.err.Error()
		} else {
			m.walletCreated = true
			m.walletAddress = msg.address
			m.keystorePath = msg.keystore
			m.step = StepComplete
		}
		return m, nil
	}

	// Update text inputs
	if m.step == StepBackend && !m.checking {
		var cmd tea.Cmd
		m.backendInput, cmd = m.backendInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.step == StepWalletPassword {
		var cmd tea.Cmd
		if m.passwordStep == 0 {
			m.passwordInput, cmd = m.passwordInput.Update(msg)
		} else {
			m.confirmInput, cmd = m.confirmInput.Update(msg)
		}
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// formatProbeError returns a user-friendly error message
func formatProbeError(err error) string {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "connection refused"):
		return "Nothing is listening there. Start it with 'walletgate backend serve'."
	case strings.Contains(errStr, "no such host"):
		return "Unknown host. Check the url."
	case strings.Contains(errStr, "deadline exceeded") || strings.Contains(errStr, "timeout"):
		return "The backend did not answer in time."
	}

	// Truncate long errors
	if len(errStr) > 60 {
		return errStr[:57] + "..."
	}
	return errStr
}

func (m WizardModel) updateBackend() (tea.Model, tea.Cmd) {
	if m.checking {
		return m, nil
	}

	value := strings.TrimSpace(m.backendInput.Value())
	if err := validateBackendURL(value); err != nil {
		m.backendError = err.Error()
		m.backendWarned = false
		return m, nil
	}

	// A second Enter on an unreachable url keeps it
	if m.backendWarned && m.backendChecked == m.backendInput.Value() {
		m.backendError = ""
		m.backendWarned = false
		m.backendInput.Blur()
		m.step = StepWalletChoice
		return m, nil
	}

	m.checking = true
	m.backendError = ""
	return m, m.probeBackend()
}

func (m WizardModel) updateWalletChoice(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	_, cmd := m.walletSelector.Update(msg)
	if cmd != nil {
		return m, cmd
	}

	if m.walletSelector.Active() {
		return m, nil
	}

	if m.walletSelector.Cancelled() {
		m.backendInput.Focus()
		m.step = StepBackend
		m.walletSelector = ui.NewSelector("Set up wallet (optional)", walletSelectorItems(m.status.Accounts))
		return m, nil
	}

	switch choice := m.walletSelector.Selected(); choice {
	case choiceCreate:
		m.passwordInput.Focus()
		m.step = StepWalletPassword
		m.passwordStep = 0
		return m, nil
	case choiceSkip:
		m.walletAddress = ""
		m.step = StepComplete
		return m, nil
	default:
		m.walletAddress = choice
		m.step = StepComplete
		return m, nil
	}
}

func (m WizardModel) updateWalletPassword() (tea.Model, tea.Cmd) {
	if m.passwordStep == 0 {
		if len(m.passwordInput.Value()) < 8 {
			m.passwordError = "Password must be at least 8 characters"
			return m, nil
		}
		m.passwordStep = 1
		m.passwordError = ""
		m.confirmInput.Focus()
		return m, nil
	}

	if m.passwordInput.Value() != m.confirmInput.Value() {
		m.passwordError = "Passwords do not match. Try again."
		m.confirmInput.Reset()
		m.confirmInput.Focus()
		return m, nil
	}
	cmd := m.createWallet()
	return m, cmd
}

// View renders the wizard
func (m WizardModel) View() string {
	if m.quitting {
		if m.result != nil && m.result.Cancelled {
			return DimStyle.Render("\n  Setup cancelled.\n\n")
		}
		return ""
	}

	var b strings.Builder

	// Add progress bar for all steps except welcome and complete
	if m.step > StepWelcome && m.step < StepComplete {
		b.WriteString("\n")
		b.WriteString(m.renderProgress())
		b.WriteString("\n")
	}

	switch m.step {
	case StepWelcome:
		b.WriteString(m.viewWelcome())
	case StepBackend:
		b.WriteString(m.viewBackend())
	case StepWalletChoice:
		b.WriteString(m.viewWalletChoice())
	case StepWalletPassword:
		b.WriteString(m.viewWalletPassword())
	case StepComplete:
		b.WriteString(m.viewComplete())
	}

	return b.String()
}

func (m WizardModel) renderProgress() string {
	var currentStep int
	switch m.step {
	case StepBackend:
		currentStep = 1
	case StepWalletChoice, StepWalletPassword:
		currentStep = 2
	case StepComplete:
		currentStep = 3
	}

	percent := float64(currentStep) / float64(totalSteps)
	bar := m.progress.ViewAs(percent)

	labels := "  Backend       Wallet       Ready"
	return fmt.Sprintf("  %s\n%s", bar, DimStyle.Render(labels))
}

func (m WizardModel) viewWelcome() string {
	var b strings.Builder
	b.WriteString("\n\n")

	intro := "Let's point walletgate at your backend and pick a wallet."
	if m.status.HasConfig {
		intro = "A config already exists at " + m.status.ConfigPath + ".\nContinuing updates it."
	}

	box := BoxStyle.Render(
		TitleStyle.Render("Welcome to walletgate") + "\n" +
			SubtitleStyle.Render("Wallet login from the terminal") + "\n\n" +
			intro,
	)
	b.WriteString(box)
	b.WriteString("\n\n")
	b.WriteString(HelpStyle.Render("  Press Enter to continue..."))
	return b.String()
}

func (m WizardModel) viewBackend() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(TitleStyle.Render("  Backend URL"))
	b.WriteString("\n\n")
	b.WriteString(SubtitleStyle.Render("  Signed challenges are verified here.\n\n"))

	b.WriteString("  ")
	b.WriteString(m.backendInput.View())
	b.WriteString("\n")

	if m.checking {
		b.WriteString(fmt.Sprintf("\n  %s Checking backend...\n", m.spinner.View()))
	} else if m.backendError != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", ErrorStyle.Render("✗ "+m.backendError)))
		if m.backendWarned {
			b.WriteString(DimStyle.Render("  Press Enter again to keep this url.\n"))
		}
	}

	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("  Enter to check • Esc back"))
	return b.String()
}

func (m WizardModel) viewWalletChoice() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(DimStyle.Render("  A local wallet lets you:\n"))
	b.WriteString(DimStyle.Render("  • Sign in without a browser extension\n"))
	b.WriteString(DimStyle.Render("  • Answer pairing codes with 'walletgate wallet pair'\n\n"))
	b.WriteString(m.walletSelector.View())
	if m.passwordError != "" {
		b.WriteString(fmt.Sprintf("\n%s\n", ErrorStyle.Render("✗ "+m.passwordError)))
	}
	return b.String()
}

func (m WizardModel) viewWalletPassword() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(TitleStyle.Render("  Create Wallet Password"))
	b.WriteString("\n\n")

	b.WriteString(DimStyle.Render("  This encrypts your wallet on disk.\n"))
	b.WriteString(DimStyle.Render("  Requirements: 8+ characters\n\n"))

	if m.passwordStep == 0 {
		b.WriteString("  ")
		b.WriteString(m.passwordInput.View())
		b.WriteString("\n")
	} else {
		b.WriteString(fmt.Sprintf("  Password: %s\n\n", SuccessStyle.Render("✓ set")))
		b.WriteString("  ")
		b.WriteString(m.confirmInput.View())
		b.WriteString("\n")
	}

	if m.passwordError != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", ErrorStyle.Render("✗ "+m.passwordError)))
	}

	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("  Enter to continue • Esc back"))
	return b.String()
}

func (m WizardModel) viewComplete() string {
	var b strings.Builder
	b.WriteString("\n\n")

	walletInfo := DimStyle.Render("Not configured")
	if m.walletAddress != "" {
		walletInfo = shortAddress(m.walletAddress)
	}
	if m.keystorePath != "" {
		walletInfo += "\n" + DimStyle.Render("         "+m.keystorePath)
	}

	content := fmt.Sprintf(
		"%s\n\n"+
			"Backend: %s\n"+
			"Wallet:  %s\n\n"+
			"%s\n"+
			"  %s\n"+
			"  %s",
		TitleStyle.Render("You're all set!"),
		strings.TrimSpace(m.backendInput.Value()),
		walletInfo,
		DimStyle.Render("Try these:"),
		"walletgate connect",
		"walletgate connect --select",
	)

	b.WriteString(BoxStyle.Render(content))
	b.WriteString("\n\n")
	b.WriteString(HelpStyle.Render("  Press Enter to save..."))
	return b.String()
}

// RunWizard runs the setup wizard and writes the config file unless the
// user cancels
func RunWizard(dataDir, backendURL string) (*SetupResult, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	m := NewWizard(dataDir, backendURL)

	p := tea.NewProgram(*m, tea.WithAltScreen())
	finalModel, err := p.Run()
	if err != nil {
		return nil, err
	}

	result := finalModel.(WizardModel).result
	if result == nil || result.Cancelled {
		return result, nil
	}
	if err := WriteConfig(m.status.ConfigPath, result); err != nil {
		return nil, err
	}
	return result, nil
}

// PrintEnvInstructions prints setup instructions for non-interactive environments
func PrintEnvInstructions(dataDir string) {
	fmt.Println("walletgate reads its settings from " + dataDir + "/" + ConfigFile)
	fmt.Println("or from WALLETGATE_* environment variables, for example:")
	fmt.Println("")
	fmt.Println("  WALLETGATE_BACKEND_URL=https://api.example.com")
	fmt.Println("  WALLETGATE_RELAY_URL=wss://relay.example.com/relay")
	fmt.Println("  WALLETGATE_WALLET_ADDRESS=0x...")
	fmt.Println("")
	fmt.Println("Or run 'walletgate init' in a terminal for guided setup.")
}

// IsInteractive returns true if running in a terminal
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
