package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mschirtzinger/flowsync/internal/config"
	"github.com/mschirtzinger/flowsync/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Synchronize, then follow remote changes (foreground)",
	Long: `Run an initial synchronization of every collection, then subscribe to
change notifications and synchronize the affected collection whenever the
remote side changes.

The session file is watched as well: logging in as another user restarts the
subscriptions for that user, logging out stops them.

The transport is chosen by realtime.transport:
  websocket  Phoenix-channel endpoint at realtime.url
  postgres   LISTEN on the remote database
  redis      pub/sub at realtime.redis_addr
  none       no notifications (periodic --interval sync only)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		offline, _ := cmd.Flags().GetBool("offline")
		interval, _ := cmd.Flags().GetDuration("interval")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		rt, err := newRuntime(ctx, runtimeOptions{offline: offline, realtime: true})
		if err != nil {
			return err
		}
		defer rt.Close()

		if cfg.Metrics.Addr != "" {
			stop := serveMetrics(cfg.Metrics.Addr)
			defer stop()
		}

		fmt.Printf("%s Initial sync...\n", ui.RenderAccent("🔄"))
		fmt.Println(ui.RenderOutcome(rt.engine.SynchronizeAll(ctx), "all collections"))

		if cfg.Realtime.Transport != config.TransportNone {
			if err := rt.engine.StartRealtime(ctx); err != nil {
				// No user yet: the session watcher starts realtime after login.
				fmt.Printf("%s Realtime not started: %v\n", ui.RenderWarn("⚠"), err)
			} else {
				printTopics(rt)
			}
		}

		err = rt.sessions.Watch(func(userID string) {
			if userID == "" {
				logger.Info("Session ended, stopping realtime")
				rt.engine.StopRealtime()
				return
			}
			logger.Info("Session changed", zap.String("user", userID))
			rt.engine.SynchronizeAll(ctx)
			if cfg.Realtime.Transport == config.TransportNone {
				return
			}
			if err := rt.engine.StartRealtime(ctx); err != nil {
				logger.Error("Failed to restart realtime", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("Session file is not watched", zap.Error(err))
		}

		fmt.Println("\nPress Ctrl+C to stop...")

		var tick <-chan time.Time
		if interval > 0 {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			tick = ticker.C
		}
		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nShutting down...")
				return nil
			case <-tick:
				if !rt.engine.SynchronizeAll(ctx) {
					logger.Warn("Periodic sync finished with failures")
				}
			}
		}
	},
}

func printTopics(rt *runtime) {
	fmt.Printf("%s Listening on:\n", ui.RenderPass("✓"))
	for _, topic := range rt.engine.RealtimeTopics() {
		fmt.Printf("   %s\n", ui.RenderMuted(topic.Channel()))
	}
}

// serveMetrics exposes Prometheus metrics on addr until the returned func is called.
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("Serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func init() {
	watchCmd.Flags().Bool("offline", false, "use an in-memory remote backend")
	watchCmd.Flags().Duration("interval", 0, "also synchronize everything at this interval (0 disables)")
	watchCmd.Flags().String("transport", "", "realtime transport: none, websocket, postgres, redis")
	watchCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.AddCommand(watchCmd)
}
