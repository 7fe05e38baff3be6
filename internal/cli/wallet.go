package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yolodolo42/walletgate/internal/chain"
	"github.com/yolodolo42/walletgate/internal/relay"
	"github.com/yolodolo42/walletgate/internal/ui"
	"github.com/yolodolo42/walletgate/internal/wallet"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage local wallets",
	Long: `Create, import, and list keystore accounts, and pair them with a dapp
over the relay as a mobile wallet would.`,
}

var walletCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new wallet",
	RunE:  runWalletCreate,
}

var walletImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a wallet from private key",
	RunE:  runWalletImport,
}

var walletListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all wallets",
	RunE:  runWalletList,
}

var walletPairCmd = &cobra.Command{
	Use:   "pair [uri]",
	Short: "Answer a pairing uri with a local wallet",
	Long: `Join the relay pairing shown by a dapp and serve a keystore account to it.
Every connection and signature request is confirmed on the terminal unless
--yes is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWalletPair,
}

func init() {
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletCreateCmd)
	walletCmd.AddCommand(walletImportCmd)
	walletCmd.AddCommand(walletListCmd)
	walletCmd.AddCommand(walletPairCmd)

	walletImportCmd.Flags().String("key", "", "Private key to import (hex, with or without 0x prefix)")

	walletPairCmd.Flags().String("address", "", "Keystore account to serve (defaults to wallet.address or the only account)")
	walletPairCmd.Flags().String("chain", "", "Chain to report, by name or id (defaults to wallet.chain)")
	walletPairCmd.Flags().Bool("yes", false, "Approve every request without asking")
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // newline after password input
	if err != nil {
		return "", err
	}
	return string(password), nil
}

func readNewPassword(prompt string) (string, error) {
	password, err := readPassword(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}

	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password confirmation: %w", err)
	}

	if password != confirm {
		return "", fmt.Errorf("passwords do not match")
	}
	return password, nil
}

func runWalletCreate(cmd *cobra.Command, args []string) error {
	km, err := wallet.NewKeystoreManager(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize keystore: %w", err)
	}

	password, err := readNewPassword("Enter password for new wallet: ")
	if err != nil {
		return err
	}

	account, err := km.CreateAccount(password)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\nWallet created successfully!")
	fmt.Fprintf(out, "Address: %s\n", account.Address.Hex())
	fmt.Fprintf(out, "Keystore: %s\n", account.URL.Path)
	fmt.Fprintln(out, "\nIMPORTANT: Back up your keystore file and remember your password!")

	return nil
}

func runWalletImport(cmd *cobra.Command, args []string) error {
	privateKey, _ := cmd.Flags().GetString("key")

	if privateKey == "" {
		input, err := ui.RunPrompt("Private key (hex)", "0x...", nil)
		if err != nil {
			return err
		}
		privateKey = input
	}

	if privateKey == "" {
		return fmt.Errorf("private key is required")
	}

	km, err := wallet.NewKeystoreManager(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize keystore: %w", err)
	}

	password, err := readNewPassword("Enter password to encrypt wallet: ")
	if err != nil {
		return err
	}

	account, err := km.ImportKey(privateKey, password)
	if err != nil {
		return fmt.Errorf("failed to import key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\nWallet imported successfully!")
	fmt.Fprintf(out, "Address: %s\n", account.Address.Hex())
	fmt.Fprintf(out, "Keystore: %s\n", account.URL.Path)

	return nil
}

func runWalletList(cmd *cobra.Command, args []string) error {
	km, err := wallet.NewKeystoreManager(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize keystore: %w", err)
	}

	accounts := km.ListAccounts()
	out := cmd.OutOrStdout()

	if len(accounts) == 0 {
		fmt.Fprintln(out, "No wallets found.")
		fmt.Fprintln(out, "Use 'walletgate wallet create' to create a new wallet.")
		return nil
	}

	fmt.Fprintf(out, "Found %d wallet(s):\n\n", len(accounts))
	for i, acc := range accounts {
		fmt.Fprintf(out, "%d. %s\n", i+1, acc.Address.Hex())
	}

	return nil
}

// pairAddress picks the account to serve: the flag, then wallet.address,
// then the only keystore account.
func pairAddress(flag string) (common.Address, error) {
	for _, candidate := range []string{flag, cfg.WalletAddress} {
		if candidate == "" {
			continue
		}
		if !common.IsHexAddress(candidate) {
			return common.Address{}, fmt.Errorf("%q is not an address", candidate)
		}
		return common.HexToAddress(candidate), nil
	}

	km, err := wallet.NewKeystoreManager(cfg.DataDir)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to initialize keystore: %w", err)
	}
	accounts := km.ListAccounts()
	switch len(accounts) {
	case 0:
		return common.Address{}, fmt.Errorf("no wallets found; use 'walletgate wallet create'")
	case 1:
		return accounts[0].Address, nil
	default:
		return common.Address{}, fmt.Errorf("%d wallets found; choose one with --address", len(accounts))
	}
}

func runWalletPair(cmd *cobra.Command, args []string) error {
	raw := ""
	if len(args) == 1 {
		raw = args[0]
	} else {
		input, err := ui.RunPrompt("Pairing uri", "wc:...", func(s string) error {
			_, err := relay.ParseURI(s)
			return err
		})
		if err != nil {
			return err
		}
		raw = input
	}

	uri, err := relay.ParseURI(raw)
	if err != nil {
		return err
	}

	chainFlag, _ := cmd.Flags().GetString("chain")
	if chainFlag == "" {
		chainFlag = cfg.WalletChain
	}
	chainID, err := chain.Resolve(chainFlag)
	if err != nil {
		return err
	}

	addrFlag, _ := cmd.Flags().GetString("address")
	address, err := pairAddress(addrFlag)
	if err != nil {
		return err
	}

	signer, err := unlock(address)
	if err != nil {
		return err
	}
	defer signer.Lock()

	approve := terminalApprover(cmd)
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		approve = wallet.AutoApprove
	}
	p := wallet.NewProvider(signer, chainID, approve, cfg.WalletFlags...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := relay.Dial(ctx, uri.RelayURL, relay.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to reach relay: %w", err)
	}
	defer conn.Close()

	bridge, err := relay.Answer(ctx, conn, uri, p, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Paired as %s on %s. Press Ctrl+C to end the session.\n",
		ui.SuccessStyle.Render(ui.SymbolCheck), signer.Address().Hex(), chain.Label(chainID))

	select {
	case <-bridge.Done():
		fmt.Fprintln(out, "Session ended by the dapp.")
	case <-ctx.Done():
		bridge.Close()
		fmt.Fprintln(out, "Session closed.")
	}
	return nil
}

// terminalApprover asks on the terminal before connecting or signing
func terminalApprover(cmd *cobra.Command) wallet.Approver {
	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	return func(ctx context.Context, req wallet.ApprovalRequest) (bool, error) {
		switch req.Kind {
		case wallet.ApproveConnect:
			fmt.Fprintf(out, "\n%s A dapp wants to connect to %s on %s.\n",
				ui.WarningStyle.Render("?"), req.Address.Hex(), chain.Label(req.ChainID))
		case wallet.ApproveSign:
			fmt.Fprintf(out, "\n%s A dapp asks %s to sign:\n\n%s\n\n",
				ui.WarningStyle.Render("?"), req.Address.Hex(), req.Message)
		}
		fmt.Fprint(out, "Approve? [y/N] ")

		answer := make(chan string, 1)
		go func() {
			line, _ := in.ReadString('\n')
			answer <- strings.ToLower(strings.TrimSpace(line))
		}()

		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return false, ctx.Err()
		case a := <-answer:
			return a == "y" || a == "yes", nil
		}
	}
}
