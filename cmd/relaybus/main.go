package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/relaybus/relaybus/internal/bus"
	"github.com/relaybus/relaybus/internal/config"
	"github.com/relaybus/relaybus/internal/logging"
	"github.com/relaybus/relaybus/internal/progress"
	"github.com/relaybus/relaybus/internal/sender"
	"github.com/relaybus/relaybus/internal/supervisor"
	"github.com/relaybus/relaybus/internal/termio"
	"github.com/relaybus/relaybus/pkg/wire"
)

const version = "v0.1.0"

const sendTimeout = 2 * time.Hour

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}
	if args[0] == "--version" || args[0] == "-v" {
		fmt.Fprintln(termio.Stdout(), "relaybus "+version)
		return
	}

	switch args[0] {
	case "send":
		runSend(args[1:])
	case "resume":
		runResume(args[1:])
	default:
		fmt.Fprintf(termio.Stderr(), "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintln(termio.Stderr(), "usage: relaybus <command> [args]")
	fmt.Fprintln(termio.Stderr(), "commands:")
	fmt.Fprintln(termio.Stderr(), "  send <path>                 send a file or directory")
	fmt.Fprintln(termio.Stderr(), "  resume <transferId> <path>   resend a transfer's missing chunks")
}

func runSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	modeFlag := fs.String("mode", "", "octal file mode applied to every file under path, overriding each file's own mode")
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(termio.Stderr(), "usage: relaybus send [-mode <octal>] <path>")
		os.Exit(2)
	}
	path := fs.Arg(0)

	var overrideMode os.FileMode
	if *modeFlag != "" {
		m, err := strconv.ParseUint(*modeFlag, 8, 32)
		if err != nil {
			fmt.Fprintf(termio.Stderr(), "invalid -mode %q: %v\n", *modeFlag, err)
			os.Exit(2)
		}
		overrideMode = os.FileMode(m)
	}

	cfg, logger, sup, snd := mustConnect()
	defer sup.Shutdown()
	defer snd.Close()

	meter := progress.NewMeter()
	meter.Start(0)
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	stopReport := meter.Report(ctx, termio.Stdout())
	defer stopReport()

	if err := snd.SendEntry(ctx, path, cfg.UserID, overrideMode, meter); err != nil {
		stopReport()
		logger.Error("relaybus: send failed", "path", path, "error", err)
		os.Exit(1)
	}
	stopReport()
	stats := meter.Snapshot()
	fmt.Fprintf(termio.Stdout(), "sent %s: %d bytes\n", path, stats.BytesDone)
}

func runResume(args []string) {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 2 {
		fmt.Fprintln(termio.Stderr(), "usage: relaybus resume <transferId> <path>")
		os.Exit(2)
	}
	transferID, path := fs.Arg(0), fs.Arg(1)

	cfg, logger, sup, snd := mustConnect()
	defer sup.Shutdown()
	defer snd.Close()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := snd.Resume(ctx, transferID, cfg.UserID, path); err != nil {
		logger.Error("relaybus: resume failed", "transferId", transferID, "path", path, "error", err)
		os.Exit(1)
	}
	fmt.Fprintf(termio.Stdout(), "resumed %s\n", transferID)
}

// mustConnect parses client configuration, starts a Connection
// Supervisor against it, and builds a Sender bound to that supervisor.
func mustConnect() (config.ClientConfig, *slog.Logger, *supervisor.Supervisor, *sender.Sender) {
	cfg := config.ParseClientConfig()
	logger := logging.New("relaybus", cfg.LogLevel,
		slog.String("userId", cfg.UserID),
		slog.Int("chunkSize", wire.ChunkSize),
	)

	dial := func(ctx context.Context) (bus.Socket, error) {
		return bus.DialWS(ctx, cfg.ServerAddr)
	}
	sup := supervisor.New(dial, supervisor.Config{
		HeartbeatInterval:    cfg.HeartbeatInterval,
		ReconnectInterval:    cfg.ReconnectInterval,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, logger)
	sup.Start(context.Background())

	snd := sender.New(sup, sender.Config{
		MaxConcurrentFiles: cfg.MaxConcurrentFiles,
		ChunkRetryBudget:   cfg.ChunkRetryBudget,
		ChunkRetryBackoff:  cfg.ChunkRetryBackoff,
	}, logger)

	return cfg, logger, sup, snd
}
