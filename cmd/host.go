package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"meshbridge/pkg/channel/websocket"
	"meshbridge/pkg/config"
	"meshbridge/pkg/gate"
	"meshbridge/pkg/host"
	"meshbridge/pkg/logger"
	"meshbridge/pkg/render"
	"meshbridge/pkg/ui/console"
	"meshbridge/pkg/workspace"

	"github.com/spf13/cobra"
)

var withConsole bool

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run the bridge host",
	Long:  "Runs the MeshBridge host: the channel endpoint, the session dispatcher, the disk renderer, and the status server.",
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
		log := slog.Default().With("component", "cmd.host")

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := buildHostService(cfg, log)
		if err != nil {
			log.Error("Failed to initialize bridge", "error", err)
			return
		}

		if withConsole {
			runWithConsole(runCtx, stop, svc, log)
			return
		}

		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Bridge runtime failed", "error", err)
		}
	},
}

func init() {
	hostCmd.Flags().BoolVar(&withConsole, "console", false, "run the interactive operator console")
	rootCmd.AddCommand(hostCmd)
}

func buildHostService(cfg *config.Config, log *slog.Logger) (*host.Service, error) {
	originGate := gate.New(cfg.Bridge.TrustedOrigin)

	adapter, err := websocket.NewAdapter(cfg.Channel, originGate, log)
	if err != nil {
		return nil, fmt.Errorf("configure websocket channel: %w", err)
	}

	guard, err := workspace.NewGuard(cfg.Artifacts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifacts dir: %w", err)
	}

	renderer, err := render.NewDiskRenderer(guard, log)
	if err != nil {
		return nil, fmt.Errorf("configure disk renderer: %w", err)
	}

	return host.NewService(cfg, adapter, originGate, []render.Renderer{renderer}, log)
}

// runWithConsole runs the bridge in the background and the console in the
// foreground; quitting the console stops the bridge.
func runWithConsole(ctx context.Context, stop context.CancelFunc, svc *host.Service, log *slog.Logger) {
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	notices, unsubscribe := svc.Events().SubscribeNotices(ctx, 64)
	defer unsubscribe()

	statusFn := func() console.Snapshot {
		return hostSnapshot(svc)
	}

	if err := console.Run(ctx, notices, statusFn, svc.RequestExport, svc.ResendInit); err != nil {
		log.Error("Console failed", "error", err)
	}
	stop()

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Bridge runtime failed", "error", err)
	}
}

func hostSnapshot(svc *host.Service) console.Snapshot {
	sess := svc.Session()
	snapshot := console.Snapshot{
		SessionID:    sess.ID(),
		SessionState: sess.State().String(),
		PeerVersion:  sess.Version(),
		Connected:    svc.ChannelConnected(),
		PeerOrigin:   svc.ChannelPeerOrigin(),
	}
	if artifact := sess.Artifact(); artifact != nil {
		snapshot.ArtifactName = artifact.Filename
		snapshot.ArtifactBytes = len(artifact.Bytes)
	}

	return snapshot
}
