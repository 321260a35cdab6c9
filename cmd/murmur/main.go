// murmur: the go-murmur voice client. Talks to murmurd over one websocket,
// keeps a conversation per category and speaks the replies.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teslashibe/go-murmur/internal/config"
	"github.com/teslashibe/go-murmur/internal/log"
)

var version = "dev"

var (
	configPath string
	logLevel   string
	serverURL  string
)

var rootCmd = &cobra.Command{
	Use:   "murmur",
	Short: "Hands-free voice client for murmurd",
	Long: `murmur listens on the microphone, sends finished utterances to murmurd and
plays the spoken replies.

Each category is a separate conversation with its own provider, history and
working directory. Type "help" while running for the console commands.`,
	Version:      version,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("murmur " + version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./murmur.yaml or ~/.murmur/murmur.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "murmurd websocket url (default ws://localhost:8000/ws)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file and environment, applies the flags the
// user set and initializes logging.
func loadConfig(cmd *cobra.Command, bind map[string]string) (*config.Config, *viper.Viper, error) {
	_, v, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	bind["log_level"] = "log-level"
	bind["client.server_url"] = "server"
	for key, flag := range bind {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return nil, nil, fmt.Errorf("bind --%s: %w", flag, err)
		}
	}

	cfg, err := config.Decode(v)
	if err != nil {
		return nil, nil, err
	}
	log.Init(cfg.LogLevel)
	if err := cfg.ValidateClient(); err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
