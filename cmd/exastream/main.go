// exastream connects to one exaroton server and prints its streams to the console.
// Usage: go run ./cmd/exastream --server <id> --channels status,console,stats
//
// Required environment variables:
//
//	EXAROTON_TOKEN - API token from the exaroton account page
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/exaroton/internal/auth"
	"github.com/rickgao/exaroton/internal/connection"
	"github.com/rickgao/exaroton/internal/protocol"
	"github.com/rickgao/exaroton/pkg/exaroton"
)

func main() {
	serverID := flag.String("server", "", "server id")
	channels := flag.String("channels", "status,console", "comma separated channels")
	tail := flag.Int("tail", 10, "console lines replayed on start")
	command := flag.String("command", "", "console command to run once connected")
	streamURL := flag.String("ws-url", exaroton.DefaultStreamURL, "WebSocket endpoint")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if *serverID == "" {
		logger.Error("--server is required")
		os.Exit(2)
	}
	chans, err := parseChannels(*channels)
	if err != nil {
		logger.Error("invalid --channels", "error", err)
		os.Exit(2)
	}

	creds, err := auth.FromEnv(auth.DefaultTokenEnv)
	if err != nil {
		logger.Error("failed to load token", "error", err)
		logger.Info("Set environment variable: " + auth.DefaultTokenEnv)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	mcfg := connection.DefaultManagerConfig()
	mcfg.Session.ConsoleTail = *tail

	client, err := exaroton.New(creds.Token,
		exaroton.WithStreamURL(*streamURL),
		exaroton.WithLogger(logger),
		exaroton.WithManagerConfig(mcfg),
	)
	if err != nil {
		logger.Error("failed to create client", "error", err)
		os.Exit(1)
	}

	go func() {
		for n := range client.Notifications() {
			logger.Info("notification", "kind", n.Kind.String(), "state", n.State.String(), "error", n.Err)
			if n.Kind == connection.NotifyFailed {
				cancel()
			}
		}
	}()

	logger.Info("connecting", "server_id", *serverID)
	if err := client.Open(ctx, *serverID); err != nil {
		logger.Error("failed to open session", "error", err)
		os.Exit(1)
	}

	printer := eventPrinter(*verbose)
	for _, ch := range chans {
		if err := client.Subscribe(ctx, *serverID, ch, "printer", printer); err != nil {
			logger.Error("subscribe failed", "channel", ch, "error", err)
		}
	}

	if *command != "" {
		if err := client.ConsoleCommand(ctx, *serverID, *command); err != nil {
			logger.Error("command failed", "command", *command, "error", err)
		}
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s, ok := client.Session(*serverID)
				if !ok {
					continue
				}
				stats := s.Stats()
				logger.Info("stats",
					"state", stats.State,
					"subscriptions", stats.Subscriptions,
					"dispatched", stats.Dispatched,
					"dropped", stats.Dropped,
					"pending", stats.PendingRequests,
					"queue", stats.QueueDepth,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	client.Close(shutdownCtx)

	logger.Info("shutdown complete")
}

func parseChannels(s string) ([]protocol.Channel, error) {
	var out []protocol.Channel
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		ch, ok := protocol.ParseChannel(name)
		if !ok {
			return nil, fmt.Errorf("unknown channel %q", name)
		}
		out = append(out, ch)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no channels")
	}
	return out, nil
}

func eventPrinter(verbose bool) exaroton.ListenerFunc {
	return func(ctx context.Context, ev exaroton.Event) error {
		if verbose {
			data, _ := json.MarshalIndent(ev, "", "  ")
			fmt.Printf("[%s] %s\n", strings.ToUpper(string(ev.Channel())), data)
			return nil
		}

		switch e := ev.(type) {
		case exaroton.StatusChanged:
			fmt.Printf("[STATUS] %s players=%d/%d\n",
				e.State.Status, e.State.Players.Count, e.State.Players.Max)
		case exaroton.ConsoleLine:
			fmt.Printf("[CONSOLE] %s\n", e.Line)
		case exaroton.StatsUpdate:
			fmt.Printf("[STATS] mem=%.1f%% used=%d bytes\n", e.MemoryPercent, e.MemoryUsage)
		case exaroton.TickUpdate:
			fmt.Printf("[TICK] %.2fms tps=%.1f\n", e.AverageTickTime, e.TPS())
		case exaroton.HeapUpdate:
			fmt.Printf("[HEAP] %d bytes\n", e.Usage)
		case exaroton.CreditsUpdate:
			fmt.Printf("[CREDITS] %.2f\n", e.Credits)
		case exaroton.DroppedEvents:
			fmt.Printf("[DROPPED] %s %d events\n", e.Chan, e.Count)
		default:
			fmt.Printf("[%s] %T\n", strings.ToUpper(string(ev.Channel())), ev)
		}
		return nil
	}
}
