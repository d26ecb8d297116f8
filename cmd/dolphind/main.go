package main

import (
	"context"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"

	"github.com/shanda/dolphind/internal/config"
	"github.com/shanda/dolphind/internal/monitor"
)

var version = "dev"

func main() {
	server, err := config.LoadServer()
	if err != nil {
		slog.Error("failed to load server config", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(server.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	pipelines, err := config.LoadPipelines(server.PipelinesFile)
	if err != nil {
		slog.Error("failed to load pipeline config", "error", err)
		os.Exit(1)
	}

	slog.Info("dolphind starting",
		"version", version,
		"workspace", server.Workspace,
		"event_target", server.EventHost,
		"channels", len(pipelines),
	)

	m := monitor.New(server, pipelines)
	if err := m.Run(context.Background()); err != nil {
		slog.Error("monitor exited with error", "error", err)
		os.Exit(1)
	}
}
