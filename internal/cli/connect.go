package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yolodolo42/walletgate/internal/chain"
	"github.com/yolodolo42/walletgate/internal/events"
	"github.com/yolodolo42/walletgate/internal/orchestrator"
	"github.com/yolodolo42/walletgate/internal/provider"
	"github.com/yolodolo42/walletgate/internal/ui"
	"github.com/yolodolo42/walletgate/internal/walleterr"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect a wallet and sign in",
	Long: `Connect a wallet, sign a login challenge, and verify it with the backend.

Without --provider the first detected browser wallet is used. --select shows
the wallet list instead. --resume reconnects the wallet saved by the last
successful connect.`,
	RunE: runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)

	connectCmd.Flags().StringP("provider", "p", "", "Wallet to connect (see 'walletgate providers')")
	connectCmd.Flags().Bool("select", false, "Choose the wallet from a list")
	connectCmd.Flags().Bool("resume", false, "Reconnect the saved wallet")
	connectCmd.Flags().Bool("plain", false, "Print transitions instead of the interactive view")
}

func runConnect(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	resume, _ := cmd.Flags().GetBool("resume")
	if resume {
		fmt.Fprintln(cmd.ErrOrStderr(), "Checking saved wallet. If it is still authorized, approve the sign-in request.")
		st, err := a.orch.Reconnect(ctx)
		if err == nil && st.Phase == orchestrator.PhaseIdle {
			fmt.Fprintln(out, "No wallet session to resume. Use 'walletgate connect' first.")
			return nil
		}
		printResult(out, st)
		return err
	}

	id, _ := cmd.Flags().GetString("provider")
	if pick, _ := cmd.Flags().GetBool("select"); pick {
		chosen, err := ui.RunSelector("Choose a wallet", selectorItems(a.registry, a.env))
		if errors.Is(err, ui.ErrCancelled) {
			return nil
		}
		if err != nil {
			return err
		}
		id = chosen
	}

	plain, _ := cmd.Flags().GetBool("plain")
	if plain || !term.IsTerminal(int(os.Stdout.Fd())) {
		return connectPlain(ctx, out, a, provider.ID(id))
	}

	st, err := ui.RunConnect(ctx, a.orch, provider.ID(id))
	if err != nil {
		return err
	}
	if st.Phase == orchestrator.PhaseError && st.Err != nil {
		return st.Err
	}
	return nil
}

// connectPlain prints every published transition as it happens
func connectPlain(ctx context.Context, out io.Writer, a *app, id provider.ID) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	transitions, err := a.bus.Subscribe(subCtx)
	if err != nil {
		return err
	}
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for t := range transitions {
			fmt.Fprintln(out, renderTransition(t))
		}
	}()

	st, connErr := a.orch.Connect(ctx, id)
	cancel()
	<-printed

	printResult(out, st)
	if errors.Is(connErr, orchestrator.ErrCancelled) {
		return nil
	}
	return connErr
}

// selectorItems lists the catalogue, badging detected and recommended
// wallets and disabling those that cannot be used here
func selectorItems(reg *provider.Registry, env provider.Environment) []ui.SelectorItem {
	items := make([]ui.SelectorItem, 0, len(reg.List()))
	for _, d := range reg.List() {
		item := ui.SelectorItem{
			ID:          string(d.ID),
			Label:       d.DisplayName,
			Description: d.Transport.String(),
		}
		detected := d.Detect(env)
		switch {
		case detected && d.Transport == provider.TransportInjected:
			item.Badge = "detected"
		case d.Recommended:
			item.Badge = "recommended"
		}
		item.Disabled = !detected
		items = append(items, item)
	}
	return items
}

func renderTransition(t events.Transition) string {
	line := fmt.Sprintf("%s %s %s %s", ui.SymbolArrow, t.From, ui.SymbolArrow, t.To)
	if t.Address != "" {
		line += "  " + ui.SelectorDim.Render(t.Address)
	}
	switch {
	case t.Error != "":
		return ui.ErrorStyle.Render(line + "  " + t.Error)
	case t.Reason != "":
		return ui.WarningStyle.Render(line + "  (" + t.Reason + ")")
	case t.To == orchestrator.PhaseConnected.String():
		return ui.SuccessStyle.Render(line)
	default:
		return line
	}
}

func printResult(out io.Writer, st orchestrator.State) {
	switch st.Phase {
	case orchestrator.PhaseConnected:
		fmt.Fprintf(out, "%s Connected %s on %s\n", ui.SuccessStyle.Render(ui.SymbolCheck), st.Address, chain.Label(st.ChainID))
		if st.Identity != nil && st.Identity.User.Username != "" {
			fmt.Fprintf(out, "  signed in as %s\n", st.Identity.User.Username)
		}
		if st.AlreadyLinked {
			fmt.Fprintln(out, "  wallet was already linked to this account")
		}
	case orchestrator.PhaseError:
		if st.Err == nil {
			return
		}
		fmt.Fprintf(out, "%s %s\n", ui.ErrorStyle.Render(ui.SymbolCross), st.Err.Error())
		if hint := st.Err.Kind.Hint(); hint != "" {
			fmt.Fprintf(out, "  %s\n", hint)
		}
		if st.Err.Kind == walleterr.KindProviderUnavailable {
			fmt.Fprintln(out, "  Run 'walletgate providers --detect' to see what is available.")
		}
	case orchestrator.PhaseIdle:
		if st.Reason != orchestrator.ReasonNone {
			fmt.Fprintf(out, "Stopped: %s\n", st.Reason)
		}
	}
}
