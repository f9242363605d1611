// Package main provides the entry point for the Giftwell API server
//
// @title Giftwell API
// @version 0.4.0
// @description Giftwell corporate gifting platform - CRM integration and sales pipeline API
// @host localhost:3004
// @BasePath /
// @schemes http https
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/giftwell/giftwell/domain/crm"
	"github.com/giftwell/giftwell/domain/health"
	"github.com/giftwell/giftwell/domain/pipeline"
	"github.com/giftwell/giftwell/domain/scheduler"
	"github.com/giftwell/giftwell/internal/config"
	"github.com/giftwell/giftwell/internal/database"
	"github.com/giftwell/giftwell/internal/server"
	"github.com/giftwell/giftwell/pkg/auth"
	"github.com/giftwell/giftwell/pkg/logger"
)

func main() {
	// Load .env files if present (for local development)
	// Order matters: .env.local overrides .env
	// Note: Load() won't overwrite existing vars, Overload() will
	_ = godotenv.Load("../../.env")
	_ = godotenv.Overload("../../.env.local")

	fx.New(
		// Logging
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		server.Module,

		// Auth module (organization scoping)
		auth.Module,

		// Domain modules
		health.Module,
		pipeline.Module,
		crm.Module,

		// Scheduler module (incremental sync sweep, maintenance tasks)
		scheduler.Module,
	).Run()
}
