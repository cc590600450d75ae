package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"resumerag/app/container"
	"resumerag/config"
	"resumerag/loader/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("error loading config: ", err)
	}
	cfg.Log.SetupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := container.New(ctx, cfg)
	if err != nil {
		log.Fatal("error to initialize services: ", err)
	}

	svc, err := service.New(c.Indexer, cfg.Loader)
	if err != nil {
		log.Fatal("error to create loader directories: ", err)
	}

	svc.Run(ctx)

	log.Println("Closing storage...")
	if err := c.Close(context.Background()); err != nil {
		log.Printf("error closing storage: %v\n", err)
	} else {
		log.Println("Storage closed successfully")
	}
}
