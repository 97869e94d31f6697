package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/semmidev/custodian/internal/app"
	"github.com/semmidev/custodian/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}

	// Signal handling lives in the shutdown coordinator; the root context is
	// only an escape hatch for embedding.
	return application.Run(context.Background())
}
