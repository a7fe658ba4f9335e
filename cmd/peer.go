package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"meshbridge/pkg/channel/websocket"
	"meshbridge/pkg/config"
	"meshbridge/pkg/logger"
	"meshbridge/pkg/peer"

	"github.com/spf13/cobra"
)

var (
	peerURL      string
	peerOrigin   string
	peerVersion  string
	peerFilename string
)

// peerCmd runs the CAD peer emulator, mainly for local development
// against a running host.
var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Run the CAD peer emulator",
	Long:  "Connects to a running MeshBridge host, announces ready, and answers export requests with a generated cube.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.peer")

		url := resolvePeerURL(cfg)
		origin := strings.TrimSpace(peerOrigin)
		if origin == "" {
			origin = cfg.Bridge.TrustedOrigin
		}

		emulator, err := peer.New(url, origin, log)
		if err != nil {
			log.Error("Failed to initialize peer emulator", "error", err)
			return
		}
		if peerVersion != "" {
			emulator.SetVersion(peerVersion)
		}
		if peerFilename != "" {
			emulator.SetFilename(peerFilename)
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("Peer emulator started", "url", url, "origin", origin)
		if err := emulator.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Peer emulator failed", "error", err)
		}
	},
}

func init() {
	peerCmd.Flags().StringVar(&peerURL, "connect", "", "websocket URL of the host channel (defaults to the configured channel)")
	peerCmd.Flags().StringVar(&peerOrigin, "origin", "", "origin to announce (defaults to the configured trusted origin)")
	peerCmd.Flags().StringVar(&peerVersion, "peer-version", "", "version to report in the ready message")
	peerCmd.Flags().StringVar(&peerFilename, "filename", "", "filename to attach to exported artifacts")
	rootCmd.AddCommand(peerCmd)
}

// resolvePeerURL prefers the --connect flag and otherwise derives the
// URL from the channel config the host itself would bind.
func resolvePeerURL(cfg *config.Config) string {
	if trimmed := strings.TrimSpace(peerURL); trimmed != "" {
		return trimmed
	}

	return websocket.URL(cfg.Channel)
}
