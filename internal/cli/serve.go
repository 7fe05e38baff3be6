package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yolodolo42/walletgate/internal/devbackend"
	"github.com/yolodolo42/walletgate/internal/relay"
)

const shutdownTimeout = 10 * time.Second

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Pairing relay commands",
}

var relayServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pairing relay",
	Long: `Run the websocket relay dapps and mobile wallets meet on. Payloads are
end-to-end encrypted; the relay only routes them by topic.`,
	RunE: runRelayServe,
}

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Development backend commands",
}

var backendServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the development verification backend",
	Long: `Run an in-memory backend implementing wallet login, linking, and connection
tracking. State is lost when the process exits.`,
	RunE: runBackendServe,
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.AddCommand(relayServeCmd)
	rootCmd.AddCommand(backendCmd)
	backendCmd.AddCommand(backendServeCmd)

	relayServeCmd.Flags().String("listen", "", "Address to listen on (defaults to relay.listen)")
	relayServeCmd.Flags().Int("queue-limit", 64, "Messages held per topic with no subscriber")
	relayServeCmd.Flags().Duration("queue-ttl", 5*time.Minute, "How long held messages are kept")

	backendServeCmd.Flags().String("listen", "", "Address to listen on (defaults to backend.listen)")
	backendServeCmd.Flags().String("secret", "", "Token signing secret (random when empty)")
	backendServeCmd.Flags().Bool("already-connected-ok", false, "Answer duplicate tracking with 200 instead of 400")
}

func listenAddr(cmd *cobra.Command, fallback string) string {
	if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
		return addr
	}
	return fallback
}

func runRelayServe(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("queue-limit")
	ttl, _ := cmd.Flags().GetDuration("queue-ttl")

	hub := relay.NewHub(logger, relay.WithQueue(limit, ttl))
	gin.SetMode(gin.ReleaseMode)
	return serve(cmd.Context(), "relay", listenAddr(cmd, cfg.RelayListen), relay.SetupRouter(hub))
}

func runBackendServe(cmd *cobra.Command, args []string) error {
	secret, _ := cmd.Flags().GetString("secret")
	alreadyOK, _ := cmd.Flags().GetBool("already-connected-ok")

	srv, err := devbackend.New(devbackend.Config{
		Secret:                 []byte(secret),
		AlreadyConnectedStatus: alreadyOK,
		Logger:                 logger,
	})
	if err != nil {
		return err
	}
	gin.SetMode(gin.ReleaseMode)
	return serve(cmd.Context(), "backend", listenAddr(cmd, cfg.BackendListen), devbackend.SetupRouter(srv))
}

// serve runs handler on addr until SIGINT or SIGTERM, then drains it
func serve(ctx context.Context, name, addr string, handler http.Handler) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log := logger.With().Str("component", name).Str("addr", addr).Logger()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Msg("listening")
		fmt.Fprintf(os.Stderr, "%s listening on %s\n", name, addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}
