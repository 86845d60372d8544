package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tekorita/talatrivia/internal/config"
	"github.com/Tekorita/talatrivia/internal/server"
)

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		log.Fatal("CONFIG_PATH not set")
	}

	var c server.Config
	if err := config.Load(path, &c); err != nil {
		log.Fatalf("Load config %s failed: %v", path, err)
	}

	s, err := server.Init(c)
	if err != nil {
		log.Fatalf("Init server failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	go s.Start()

	<-ctx.Done()
	slog.Info("shutdown signal received")
	s.Shutdown()
}
