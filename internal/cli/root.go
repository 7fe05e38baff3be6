package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yolodolo42/walletgate/internal/config"
)

var (
	cfgFile string
	cfg     config.Config
	logger  = zerolog.Nop()

	rootCmd = &cobra.Command{
		Use:   "walletgate",
		Short: "Wallet login orchestrator",
		Long: `walletgate connects a wallet, proves control of it with a signed
challenge and exchanges the signature for a backend session.

It supports injected wallets, deep-linked mobile wallets and a
relay bridge for wallets running on another device.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			cfg = loaded

			l, err := config.NewLogger(cfg.LogLevel, os.Stderr)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
			}
			logger = l
			return nil
		},
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.walletgate/config.yaml)")
	flags.String("data-dir", config.DefaultDataDir(), "directory for keystore and session data")
	flags.String("backend-url", "", "backend base url")
	flags.String("relay-url", "", "relay websocket url")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("mobile", false, "prefer deep links over injected wallets")

	_ = viper.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = viper.BindPFlag("backend.url", flags.Lookup("backend-url"))
	_ = viper.BindPFlag("relay.url", flags.Lookup("relay-url"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("mobile", flags.Lookup("mobile"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir := config.DefaultDataDir()
		if err := os.MkdirAll(configDir, 0700); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config directory: %v\n", err)
		}

		viper.AddConfigPath(configDir)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	config.BindEnv(viper.GetViper())

	// Silently ignore missing config file - it's optional
	_ = viper.ReadInConfig()
}
