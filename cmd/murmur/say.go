package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-murmur/internal/log"
	"github.com/teslashibe/go-murmur/pkg/playback"
)

var sayCmd = &cobra.Command{
	Use:   "say <text>",
	Short: "Synthesize text on the server and play it",
	Long: `say sends text to murmurd's synthesis endpoint and plays the result,
falling back to the local speech command when synthesis fails. Useful to
check the audio path without a microphone.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSay,
}

func init() {
	sayCmd.Flags().BoolVar(&streaming, "streaming", true, "request a sentence-by-sentence stream")
}

func runSay(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd, map[string]string{
		"client.streaming": "streaming",
	})
	if err != nil {
		return err
	}
	cfg.Client.ThinkingCue = false

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	player, sink, err := newPlayer(cfg, log.L())
	if err != nil {
		return err
	}
	defer sink.Close()

	gen := player.Play(ctx, playback.Request{Text: strings.Join(args, " ")})
	for {
		select {
		case c := <-player.Done():
			if c.Generation != gen {
				continue
			}
			if !c.Fallback {
				return nil
			}
			if c.Err != nil {
				return fmt.Errorf("speak: %w", c.Err)
			}
			log.Warn("synthesis failed, used local voice")
			return nil
		case <-ctx.Done():
			player.Cancel()
			return nil
		}
	}
}
