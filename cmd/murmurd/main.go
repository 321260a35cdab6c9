// murmurd: the go-murmur server. Voice clients connect over a websocket; the
// server transcribes their speech, queues requests to the AI providers per
// category and synthesizes replies.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	addr       string
	logLevel   string
	accessLog  bool
)

var rootCmd = &cobra.Command{
	Use:   "murmurd",
	Short: "Voice assistant server",
	Long: `murmurd serves voice clients over a websocket.

It transcribes utterances, routes requests to the conversational, local and
coding providers through a per-category task queue, synthesizes replies and
stores categories and task history in SQLite.`,
	Version:      version,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("murmurd " + version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./murmur.yaml or ~/.murmur/murmur.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address (default :8000)")
	serveCmd.Flags().BoolVar(&accessLog, "access-log", false, "log every HTTP request")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
