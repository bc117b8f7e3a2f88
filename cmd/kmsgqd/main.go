package main

import (
	"errors"
	"flag"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/serjinio/kmsg-queue/internal/config"
	"github.com/serjinio/kmsg-queue/internal/observability"
	"github.com/serjinio/kmsg-queue/internal/service"
)

const defaultConfigPath = "cmd/kmsgqd/config.toml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to kmsgqd config.toml")
	flag.Parse()

	observability.InitLogger("kmsgqd")
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load kmsgqd config")
	}

	svc, err := service.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start kmsgqd")
	}
	log.Info().
		Str("id", cfg.ID).
		Str("http_addr", cfg.HTTPAddr).
		Str("wire_addr", cfg.WireAddr).
		Str("endpoint", cfg.EndpointPath).
		Msg("kmsgqd started")
	if err := svc.Run(); err != nil {
		log.Error().Err(err).Msg("kmsgqd stopped")
		os.Exit(1)
	}
	log.Info().Msg("kmsgqd stopped")
}

// loadConfig falls back to defaults only when the default path is absent.
func loadConfig(path string) (config.ServiceConfig, error) {
	cfg, err := config.LoadServiceConfig(path)
	if err == nil {
		log.Info().Str("path", path).Msg("loaded kmsgqd config")
		return cfg, nil
	}
	if path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", path).Msg("config not found, using defaults")
		return config.DefaultServiceConfig(), nil
	}
	return config.ServiceConfig{}, err
}
