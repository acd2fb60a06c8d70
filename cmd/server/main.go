package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/parlorchat/parlor/internal/api"
	"github.com/parlorchat/parlor/internal/config"
	"github.com/parlorchat/parlor/internal/eventlog"
	"github.com/parlorchat/parlor/internal/server"
	"github.com/parlorchat/parlor/internal/stats"
	"github.com/parlorchat/parlor/internal/store"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dataDir        string
	adminSecret    string
	allowedOrigins stringSliceFlag
)

func main() {
	defaultSecret := os.Getenv("ADMIN_PASS")
	if defaultSecret == "" {
		defaultSecret = "changeme"
	}

	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dataDir, "data-dir", "data", "directory for snapshots and event logs")
	flag.StringVar(&adminSecret, "admin-pass", defaultSecret, "admin secret (plaintext or bcrypt hash, defaults to $ADMIN_PASS)")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[parlor] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dataDir, adminSecret, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal("data dir:", err)
	}

	roomStore, err := store.NewFileRoomStore(filepath.Join(cfg.DataDir, "rooms.json"), logger)
	if err != nil {
		logger.Fatal("room store:", err)
	}
	defer func() {
		if err := roomStore.Close(); err != nil {
			logger.Println("room store close:", err)
		}
	}()

	reportStore, err := store.NewFileReportStore(filepath.Join(cfg.DataDir, "reports.json"), logger)
	if err != nil {
		logger.Fatal("report store:", err)
	}
	defer func() {
		if err := reportStore.Close(); err != nil {
			logger.Println("report store close:", err)
		}
	}()

	events, err := eventlog.New(filepath.Join(cfg.DataDir, "logs"), logger)
	if err != nil {
		logger.Fatal("event log:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, roomStore, reportStore, statsUpdater, events, cfg.AdminSecret)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewParlorApp(mux, logger, chatServer, roomStore, reportStore, events, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
