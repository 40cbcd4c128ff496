package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/portfolio-cms/portfolio/server"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to the configuration file, or the Parameter Store name with --config-source=ssm")
	configSource := flag.String("config-source", "file", "Where to load configuration from: file or ssm")
	flag.Parse()

	config, err := server.LoadConfig(*configSource, *configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	level, err := log.ParseLevel(config.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level %q: %v", config.Log.Level, err)
	}
	log.SetLevel(level)
	if config.Log.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, config)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	log.Info("Starting portfolio content server")
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}
