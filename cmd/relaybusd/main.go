package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaybus/relaybus/internal/bus"
	"github.com/relaybus/relaybus/internal/config"
	"github.com/relaybus/relaybus/internal/echo"
	"github.com/relaybus/relaybus/internal/logging"
	"github.com/relaybus/relaybus/internal/receiver"
	"github.com/relaybus/relaybus/internal/termio"
)

const version = "v0.1.0"

const shutdownGrace = 10 * time.Second

func main() {
	if hasVersionFlag(os.Args[1:]) {
		fmt.Fprintln(termio.Stdout(), "relaybusd "+version)
		return
	}

	cfg := config.ParseServerConfig()
	logger := logging.New("relaybusd", cfg.LogLevel,
		slog.Int64("maxMemory", cfg.MaxServerMemoryBytes),
		slog.Int("workers", cfg.ServerWorkers),
	)

	recv := receiver.New(cfg.OutDir, cfg.MaxServerMemoryBytes, cfg.ServerWorkers, logger)
	store := echo.NewStore()
	echoSvc := echo.NewService(store, nil)

	srv := bus.NewServer(logger)
	echoSvc.SetEmitter(srv)
	srv.RegisterObject(echoSvc.Vtable())
	srv.RegisterObject(recv.Vtable())

	ln, err := bus.ListenWS(cfg.Addr)
	if err != nil {
		logger.Error("relaybusd: listen failed", "addr", cfg.Addr, "error", err)
		os.Exit(1)
	}

	logger.Info("relaybusd: listening", "addr", cfg.Addr, "outDir", cfg.OutDir)
	go srv.Serve(ln)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("relaybusd: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := recv.Shutdown(ctx); err != nil {
		logger.Warn("relaybusd: receiver shutdown did not drain cleanly", "error", err)
	}
	if err := srv.Close(); err != nil {
		logger.Warn("relaybusd: server close error", "error", err)
	}
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}
