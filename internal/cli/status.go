package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/yolodolo42/walletgate/internal/chain"
	"github.com/yolodolo42/walletgate/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved wallet session",
	RunE:  runStatus,
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Forget the saved wallet session",
	RunE:  runDisconnect,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(disconnectCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	rec, err := a.store.Load(ctx)
	if errors.Is(err, session.ErrNoRecord) {
		fmt.Fprintln(cmd.OutOrStdout(), "Not connected.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	printRecord(cmd.OutOrStdout(), rec, time.Now())
	return nil
}

func printRecord(out io.Writer, rec session.Record, now time.Time) {
	fmt.Fprintf(out, "Wallet:    %s\n", rec.Address)
	fmt.Fprintf(out, "Provider:  %s\n", rec.ProviderID)
	fmt.Fprintf(out, "Chain:     %s\n", chain.Label(rec.ChainID))
	fmt.Fprintf(out, "Connected: %s (%s ago)\n", rec.ConnectedAt.Local().Format(time.RFC1123), now.Sub(rec.ConnectedAt).Round(time.Second))
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Disconnected.")
	return nil
}
