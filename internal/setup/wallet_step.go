package setup

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yolodolo42/walletgate/internal/wallet"
)

// createWallet encrypts a fresh key with the entered password. The password
// inputs are cleared once the command is built.
func (m *WizardModel) createWallet() tea.Cmd {
	password := m.passwordInput.Value()
	dataDir := m.dataDir
	m.passwordInput.Reset()
	m.confirmInput.Reset()

	return func() tea.Msg {
		km, err := wallet.NewKeystoreManager(dataDir)
		if err != nil {
			return walletCreatedMsg{err: fmt.Errorf("failed to open keystore: %w", err)}
		}

		account, err := km.CreateAccount(password)
		if err != nil {
			return walletCreatedMsg{err: fmt.Errorf("failed to create wallet: %w", err)}
		}

		return walletCreatedMsg{address: account.Address.Hex(), keystore: account.URL.Path}
	}
}
