// Command relaydrop is the CLI front-end over the transfer core: send,
// receive, discover peers, and inspect history, all driven by an
// Orchestrator (internal/transfer).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"relaydrop/internal/discovery"
	"relaydrop/internal/history"
	"relaydrop/internal/progressui"
	"relaydrop/internal/transfer"
)

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func main() {
	app := &cli.App{
		Name:  "relaydrop",
		Usage: "point-to-point file transfer over TCP or UDP",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"V"}, Usage: "enable debug logging"},
			&cli.IntFlag{Name: "timeout", Value: 30, Usage: "per-operation timeout in seconds"},
			&cli.StringFlag{Name: "history-file", Value: "relaydrop_history.yaml", Usage: "path to the history store"},
		},
		Commands: []*cli.Command{
			sendCommand(transfer.ProtocolStream),
			sendCommand(transfer.ProtocolDatagram),
			recvCommand(transfer.ProtocolStream),
			recvCommand(transfer.ProtocolDatagram),
			discoverCommand(),
			historyCommand(),
			cancelCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func loadHistory(path string) *history.Store {
	store := history.NewStore(history.DefaultMaxRecords)
	if data, err := os.ReadFile(path); err == nil {
		_, _ = store.Import(data)
	}
	return store
}

func saveHistory(store *history.Store, path string, log zerolog.Logger) {
	data, err := store.Export()
	if err != nil {
		log.Error().Err(err).Msg("export history")
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Error().Err(err).Msg("write history file")
	}
}

func sendCommandName(p transfer.Protocol) string {
	if p == transfer.ProtocolDatagram {
		return "send-udp"
	}
	return "send"
}

func recvCommandName(p transfer.Protocol) string {
	if p == transfer.ProtocolDatagram {
		return "recv-udp"
	}
	return "recv"
}

func sendCommand(protocol transfer.Protocol) *cli.Command {
	return &cli.Command{
		Name:      sendCommandName(protocol),
		Usage:     fmt.Sprintf("send a file over %s", protocol),
		ArgsUsage: "<file> <host:port>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return cli.Exit("expected <file> <host:port>", 1)
			}
			filePath := c.Args().Get(0)
			peerAddr := c.Args().Get(1)

			log := newLogger(c.Bool("verbose"))
			hist := loadHistory(c.String("history-file"))
			defer saveHistory(hist, c.String("history-file"), log)

			store := transfer.NewStore()
			metrics := transfer.NewMetricsCollector()
			console := progressui.NewConsole()
			orch := transfer.NewOrchestrator(store, metrics, console, hist, transfer.DefaultRetryConfig(), log)

			cfg := transfer.Config{
				Mode:        transfer.ModeSender,
				Protocol:    protocol,
				PeerAddress: peerAddr,
				Timeout:     time.Duration(c.Int("timeout")) * time.Second,
			}.WithDefaultChunkSize()

			id, cerr := orch.CreateSession(cfg)
			if cerr != nil {
				return cli.Exit(cerr.Error(), 1)
			}

			ctx, cancel := rootContext()
			defer cancel()

			if serr := orch.StartTransfer(ctx, id, filePath); serr != nil {
				return cli.Exit(serr.Error(), 1)
			}
			orch.Wait()

			snap, _ := orch.GetProgress(id)
			if snap.Status == transfer.StatusErrored {
				return cli.Exit(fmt.Sprintf("transfer failed: %v", snap.Err), 1)
			}
			return nil
		},
	}
}

func recvCommand(protocol transfer.Protocol) *cli.Command {
	return &cli.Command{
		Name:      recvCommandName(protocol),
		Usage:     fmt.Sprintf("receive a file over %s", protocol),
		ArgsUsage: "<port> [output-dir]",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.Exit("expected <port> [output-dir]", 1)
			}
			port := c.Args().Get(0)
			outDir := c.Args().Get(1)
			if outDir == "" {
				outDir = "."
			}

			log := newLogger(c.Bool("verbose"))
			hist := loadHistory(c.String("history-file"))
			defer saveHistory(hist, c.String("history-file"), log)

			store := transfer.NewStore()
			metrics := transfer.NewMetricsCollector()
			console := progressui.NewConsole()
			orch := transfer.NewOrchestrator(store, metrics, console, hist, transfer.DefaultRetryConfig(), log)

			bindPort, perr := parsePort(port)
			if perr != nil {
				return cli.Exit(perr.Error(), 1)
			}

			cfg := transfer.Config{
				Mode:      transfer.ModeReceiver,
				Protocol:  protocol,
				BindPort:  bindPort,
				OutputDir: outDir,
				Timeout:   time.Duration(c.Int("timeout")) * time.Second,
			}.WithDefaultChunkSize()

			id, cerr := orch.CreateSession(cfg)
			if cerr != nil {
				return cli.Exit(cerr.Error(), 1)
			}

			ctx, cancel := rootContext()
			defer cancel()

			receiverAddr := net.JoinHostPort(discovery.LocalIP(), port)
			go discovery.ListenForDiscovery(ctx, receiverAddr, log)

			if serr := orch.StartReceiver(ctx, id); serr != nil {
				return cli.Exit(serr.Error(), 1)
			}
			orch.Wait()

			snap, _ := orch.GetProgress(id)
			if snap.Status == transfer.StatusErrored {
				return cli.Exit(fmt.Sprintf("receive failed: %v", snap.Err), 1)
			}
			return nil
		},
	}
}

func discoverCommand() *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "broadcast for peers advertising a receiver on the LAN",
		Action: func(c *cli.Context) error {
			log := newLogger(c.Bool("verbose"))
			peers := discovery.DiscoverPeers(log)
			if len(peers) == 0 {
				fmt.Println("no peers found")
				return nil
			}
			for _, p := range peers {
				fmt.Printf("%s\t%s\n", p.Hostname, p.Address)
			}
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "list past transfer records",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Usage: "filter by status (completed, cancelled, errored)"},
			&cli.StringFlag{Name: "contains", Usage: "filter by substring match on peer/checksum/error"},
		},
		Action: func(c *cli.Context) error {
			log := newLogger(c.Bool("verbose"))
			hist := loadHistory(c.String("history-file"))

			f := history.Filter{Substring: c.String("contains")}
			if s := c.String("status"); s != "" {
				st := transfer.Status(s)
				f.Status = &st
			}

			for _, r := range hist.Query(f) {
				fmt.Printf("%s\t%s\t%s\t%s\t%d/%d bytes\t%s\n",
					r.ID, r.Mode, r.Protocol, r.Status, r.BytesTransferred, r.TotalBytes, r.Peer)
			}
			log.Debug().Int("count", hist.Len()).Msg("history listed")
			return nil
		},
	}
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "cancel is a placeholder for cancelling a session run by a long-lived orchestrator process",
		ArgsUsage: "<session-id>",
		Action: func(c *cli.Context) error {
			return cli.Exit("cancel requires a long-running relaydrop daemon process; the one-shot CLI exits when its single transfer completes", 1)
		},
	}
}

func parsePort(s string) (int, error) {
	var port int
	if _, err := fmt.Sscanf(s, "%d", &port); err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	return port, nil
}
