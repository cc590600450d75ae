package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resumerag/app/container"
	"resumerag/app/server"
	"resumerag/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("error loading config: ", err)
	}
	cfg.Log.SetupLogger()

	ctx := context.Background()
	c, err := container.New(ctx, cfg)
	if err != nil {
		log.Fatal("error to initialize services: ", err)
	}

	s := server.NewServer(cfg.Server.Addr, server.Deps{
		Assistant:      c.Assistant,
		Indexer:        c.Indexer,
		Metrics:        c.Metrics,
		UploadDir:      cfg.Upload.Dir,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	go func() {
		if err := s.Run(); err != nil {
			log.Fatal(err)
		}
	}()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	<-sigch
	log.Println("Received shutdown signal, shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Stop(shutdownCtx); err != nil {
		log.Printf("error stopping server: %v", err)
	}
	if err := c.Close(shutdownCtx); err != nil {
		log.Printf("error closing services: %v", err)
	}
}
