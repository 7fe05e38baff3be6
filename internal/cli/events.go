package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yolodolo42/walletgate/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow connection transitions published to Redis",
	Long: `Print state transitions published by other walletgate processes running
with events.driver=redis. Stop with Ctrl+C.`,
	RunE: runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().Bool("json", false, "Print raw JSON, one transition per line")
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newRedis(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	bus, err := events.NewRedisBus(client, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	transitions, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	for t := range transitions {
		if asJSON {
			if err := enc.Encode(t); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(out, "%s %s\n", t.At.Local().Format("15:04:05.000"), renderTransition(t))
	}
	return nil
}
