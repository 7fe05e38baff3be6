package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yolodolo42/walletgate/internal/provider"
	"github.com/yolodolo42/walletgate/internal/ui"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List supported wallets",
	Long: `List the wallets walletgate can connect to. With --detect, the local keystore
wallet is unlocked first so detection reflects what 'connect' would see.`,
	RunE: runProviders,
}

func init() {
	rootCmd.AddCommand(providersCmd)
	providersCmd.Flags().Bool("detect", false, "Only show wallets usable right now")
}

func runProviders(cmd *cobra.Command, args []string) error {
	detect, _ := cmd.Flags().GetBool("detect")

	env := provider.NewStaticEnvironment(cfg.Mobile, cfg.AppURL)
	if detect && cfg.WalletAddress != "" {
		a := &app{}
		defer a.close()
		p, err := a.localWallet()
		if err != nil {
			return err
		}
		env.Inject(p)
	}

	reg, err := provider.NewRegistry(provider.DefaultDescriptors())
	if err != nil {
		return err
	}

	listProviders(cmd.Context(), cmd.OutOrStdout(), reg, env, detect)
	return nil
}

func listProviders(_ context.Context, out io.Writer, reg *provider.Registry, env provider.Environment, detectedOnly bool) {
	descriptors := reg.List()
	if detectedOnly {
		descriptors = reg.Available(env)
	}
	if len(descriptors) == 0 {
		fmt.Fprintln(out, "No wallets available. Pair a mobile wallet with 'walletgate connect -p walletconnect'.")
		return
	}

	auto, hasAuto := reg.DetectAvailable(env)
	for _, d := range descriptors {
		var tags []string
		if d.Detect(env) {
			tags = append(tags, ui.SuccessStyle.Render("available"))
		}
		if hasAuto && d.ID == auto.ID {
			tags = append(tags, ui.BadgeStyle.Render("default"))
		}
		if d.Recommended {
			tags = append(tags, ui.BadgeStyle.Render("recommended"))
		}

		line := fmt.Sprintf("%s %-14s %-22s %s", ui.SymbolBullet, d.ID, d.DisplayName, ui.SelectorDim.Render(d.Transport.String()))
		for _, tag := range tags {
			line += " " + tag
		}
		fmt.Fprintln(out, line)
	}
}
