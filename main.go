package main

import (
	"context"
	"flag"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Johnmclane5/TgSearchBot/internal"
	"github.com/Johnmclane5/TgSearchBot/pkg/logger"
	"github.com/mitchellh/go-homedir"
)

var log = logger.Get("Main")

func main() {
	defaultConfigPath := ".config/tgsearchbot/config.yaml"
	if home, err := homedir.Dir(); err == nil {
		defaultConfigPath = filepath.Join(home, defaultConfigPath)
	}

	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	flag.Parse()

	config := internal.TgSearchBotConfig{}
	if err := config.LoadFromFile(*configPath); err != nil {
		log.Emit(logger.FATAL, "%s\n", err.Error())
		return
	}

	service, err := internal.New(config)
	if err != nil {
		log.Emit(logger.FATAL, "Failed to bootstrap: %s\n", err.Error())
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := service.Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Service failure: %s\n", err.Error())
	}
}
