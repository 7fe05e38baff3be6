package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yolodolo42/walletgate/internal/setup"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Guided setup of backend and wallet",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if !setup.IsInteractive() {
		setup.PrintEnvInstructions(cfg.DataDir)
		return nil
	}

	result, err := setup.RunWizard(cfg.DataDir, cfg.BackendURL)
	if err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}
	if result == nil || result.Cancelled {
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Saved %s\n", setup.ConfigFile)
	if result.WalletCreated {
		fmt.Fprintf(out, "Created wallet %s\n", result.WalletAddress)
	}
	return nil
}
