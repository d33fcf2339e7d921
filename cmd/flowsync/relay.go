package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/flowsync/internal/realtime"
	"github.com/mschirtzinger/flowsync/internal/remote"
	"github.com/mschirtzinger/flowsync/internal/ui"
)

var relayCmd = &cobra.Command{
	Use:     "relay",
	GroupID: "advanced",
	Short:   "Serve change notifications to devices over websocket",
	Long: `Start a websocket relay speaking the same channel protocol as the
websocket realtime transport.

Devices join "realtime:<table>:<user>" topics. For every topic with at least
one member the relay LISTENs on the remote database and forwards each change
to the members. With relay.jwt_secret set, joins must carry an HS256 access
token whose subject is the topic's user.

Example usage:
  flowsync relay                      # listen on relay.addr (default :4000)
  flowsync relay --addr :9000

Point devices at it with:
  realtime.transport: websocket
  realtime.url: ws://localhost:4000/realtime/v1/websocket`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if cfg.Remote.DSN == "" {
			return errors.New("remote.dsn is not set: the relay listens for changes on the remote database")
		}
		pg, err := remote.NewPostgres(ctx, remote.PostgresConfig{
			DSN:      cfg.Remote.DSN,
			MaxConns: cfg.Remote.MaxConns,
		}, logger)
		if err != nil {
			return err
		}
		defer pg.Close()

		var secret []byte
		if cfg.Relay.JWTSecret != "" {
			secret = []byte(cfg.Relay.JWTSecret)
		}

		hub := realtime.NewHub(realtime.HubConfig{
			Addr:      cfg.Relay.Addr,
			Upstream:  realtime.NewPostgresSubscriber(pg.Pool(), logger),
			JWTSecret: secret,
			Logger:    logger,
		})
		if err := hub.Start(); err != nil {
			return fmt.Errorf("failed to start relay: %w", err)
		}

		fmt.Printf("%s Relay started on %s\n", ui.RenderPass("✓"), hub.Addr())
		fmt.Printf("WebSocket endpoint: ws://%s/realtime/v1/websocket\n", hub.Addr())
		fmt.Printf("Health check: http://%s/health\n", hub.Addr())
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down relay...")
		if err := hub.Stop(); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}
		fmt.Println("Relay stopped")
		return nil
	},
}

func init() {
	relayCmd.Flags().String("addr", "", "address to listen on (overrides relay.addr)")
	rootCmd.AddCommand(relayCmd)
}
