// eventtap is an operator tool for a running event router.
//
// Usage:
//
//	eventtap sub    [-url ws://localhost:8080/ws] [-verbose] PATTERN...
//	eventtap pub    [-url ws://localhost:8080/ws] [-priority normal] [-ttl 0] TOPIC [JSON]
//	eventtap status [-url http://localhost:8081] [-stats | -metrics | -version]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/eventrouter/internal/api"
	"github.com/rickgao/eventrouter/internal/client"
	"github.com/rickgao/eventrouter/internal/health"
	"github.com/rickgao/eventrouter/internal/model"
)

const (
	defaultWSURL     = "ws://localhost:8080/ws"
	defaultStatusURL = "http://localhost:8081"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "sub":
		err = runSub(ctx, os.Args[2:], logger)
	case "pub":
		err = runPub(ctx, os.Args[2:], logger)
	case "status":
		err = runStatus(ctx, os.Args[2:], logger)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: eventtap sub|pub|status [flags] [args]")
}

func dial(ctx context.Context, url, name string, logger *slog.Logger) (*client.Client, error) {
	cfg := client.DefaultConfig()
	cfg.URL = url
	cfg.Name = name
	return client.Dial(ctx, cfg, logger)
}

// runSub subscribes to every pattern and prints events until interrupted.
func runSub(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("sub", flag.ExitOnError)
	url := fs.String("url", defaultWSURL, "router websocket URL")
	verbose := fs.Bool("verbose", false, "print full event JSON")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("at least one pattern is required")
	}

	c, err := dial(ctx, *url, "eventtap-sub", logger)
	if err != nil {
		return err
	}
	defer c.Close()

	for _, pattern := range fs.Args() {
		if err := c.Subscribe(ctx, pattern); err != nil {
			return fmt.Errorf("subscribe %q: %w", pattern, err)
		}
	}
	logger.Info("subscribed - press Ctrl+C to stop", "conn_id", c.ConnID(), "patterns", fs.Args())

	var received int64
	for {
		select {
		case <-ctx.Done():
			logger.Info("stopping", "received", received, "dropped", c.Dropped())
			return nil
		case err := <-c.Errors():
			return fmt.Errorf("connection lost after %d events: %w", received, err)
		case ev, ok := <-c.Events():
			if !ok {
				return fmt.Errorf("connection closed after %d events", received)
			}
			received++
			printEvent(ev, *verbose)
		}
	}
}

func printEvent(ev client.Event, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(map[string]any{
			"id":           ev.ID,
			"topic":        ev.Topic,
			"priority":     ev.Priority,
			"published_at": ev.PublishedAt,
			"ttl":          ev.TTL.String(),
			"latency":      ev.Latency().String(),
			"payload":      ev.Payload,
		}, "", "  ")
		fmt.Printf("[EVENT] %s\n", data)
		return
	}
	fmt.Printf("[EVENT] topic=%s priority=%s id=%s latency=%s payload=%s\n",
		ev.Topic, ev.Priority, ev.ID, ev.Latency().Round(time.Microsecond), ev.Payload)
}

// runPub publishes one event and prints the assigned id.
func runPub(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("pub", flag.ExitOnError)
	url := fs.String("url", defaultWSURL, "router websocket URL")
	priority := fs.String("priority", "normal", "low, normal, high or critical")
	ttl := fs.Duration("ttl", 0, "event time-to-live (0 = router default)")
	fs.Parse(args)

	if fs.NArg() < 1 || fs.NArg() > 2 {
		return fmt.Errorf("usage: eventtap pub [flags] TOPIC [JSON]")
	}
	p, err := model.ParsePriority(*priority)
	if err != nil {
		return err
	}

	payload := json.RawMessage("null")
	if fs.NArg() == 2 {
		payload = json.RawMessage(fs.Arg(1))
		if !json.Valid(payload) {
			return fmt.Errorf("payload is not valid JSON: %s", payload)
		}
	}

	c, err := dial(ctx, *url, "eventtap-pub", logger)
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := c.Publish(ctx, fs.Arg(0), payload, client.WithPriority(p), client.WithTTL(*ttl))
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

// runStatus prints the health snapshot, or the full stats with -stats.
// -metrics and -version print those endpoints instead.
func runStatus(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	url := fs.String("url", defaultStatusURL, "router status API URL")
	stats := fs.Bool("stats", false, "include registry and per-connection stats")
	showMetrics := fs.Bool("metrics", false, "print the router's metric points")
	showVersion := fs.Bool("version", false, "print the router's build information")
	fs.Parse(args)

	c := api.NewClient(*url, api.WithLogger(logger), api.WithRetries(2, 250*time.Millisecond))

	switch {
	case *showVersion:
		v, err := c.GetVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Println(v.String())
		return nil
	case *showMetrics:
		points, err := c.GetMetrics(ctx)
		if err != nil {
			return err
		}
		for _, p := range points {
			fmt.Printf("%-36s %-9s %v %v\n", p.Name, p.Kind, p.Value, p.Attributes)
		}
		return nil
	}

	var (
		out    any
		status health.Status
	)
	if *stats {
		s, err := c.GetStats(ctx)
		if err != nil {
			return err
		}
		out, status = s, s.Status
	} else {
		s, err := c.GetHealth(ctx)
		if err != nil {
			return err
		}
		out, status = s, s.Status
	}

	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(data))

	// Exit non-zero when OVERLOADED so scripts can react.
	if status == health.StatusOverloaded {
		return fmt.Errorf("router is %s", status)
	}
	return nil
}
