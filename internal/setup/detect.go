package setup

import (
	"os"
	"path/filepath"

	"github.com/yolodolo42/walletgate/internal/wallet"
)

// ConfigFile is the name of the config file written by the wizard
const ConfigFile = "config.yaml"

// SetupStatus represents the current setup state
type SetupStatus struct {
	ConfigPath string
	HasConfig  bool
	HasWallet  bool
	IsComplete bool

	// Accounts lists keystore addresses in keystore order
	Accounts []string
}

// DetectSetupStatus checks the current setup state
func DetectSetupStatus(dataDir string) (*SetupStatus, error) {
	status := &SetupStatus{ConfigPath: filepath.Join(dataDir, ConfigFile)}

	if info, err := os.Stat(status.ConfigPath); err == nil && !info.IsDir() {
		status.HasConfig = true
	}

	// Check for wallet
	keystoreDir := filepath.Join(dataDir, "keystore")
	if entries, err := os.ReadDir(keystoreDir); err == nil {
		// Filter out directories and hidden files
		for _, entry := range entries {
			if !entry.IsDir() && entry.Name()[0] != '.' {
				status.HasWallet = true
				break
			}
		}
	}

	if status.HasWallet {
		km, err := wallet.NewKeystoreManager(dataDir)
		if err == nil {
			for _, acc := range km.ListAccounts() {
				status.Accounts = append(status.Accounts, acc.Address.Hex())
			}
		}
	}

	// A wallet is optional; connecting only needs a backend
	status.IsComplete = status.HasConfig

	return status, nil
}

// NeedsSetup returns true if interactive setup should run
func NeedsSetup(dataDir string) bool {
	status, _ := DetectSetupStatus(dataDir)
	return !status.IsComplete
}
