// Package server wires the HTTP process: engine, loader, optional
// queue and lock clients, echo middleware and graceful shutdown.
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/phanngoc/notebooklm/internal/app"
	"github.com/phanngoc/notebooklm/internal/queue"
	mid "github.com/phanngoc/notebooklm/internal/server/middleware"
	"github.com/phanngoc/notebooklm/internal/storage"
	"github.com/phanngoc/notebooklm/internal/util"
	"github.com/phanngoc/notebooklm/pkg/graphrag"
	"github.com/phanngoc/notebooklm/pkg/leaselock"
	"github.com/phanngoc/notebooklm/pkg/loader"
	"github.com/phanngoc/notebooklm/pkg/logger"
)

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, pool, blobs, err := storage.BuildManager(ctx)
	if err != nil {
		logger.Fatal("Failed to build storage manager", "err", err)
	}
	if pool != nil {
		defer pool.Close()
	}

	aiClient, err := app.NewAIClient()
	if err != nil {
		logger.Fatal("Failed to create AI client", "err", err)
	}
	defer aiClient.Close()

	engine, err := graphrag.New(aiClient, stores, app.EngineOptions())
	if err != nil {
		logger.Fatal("Failed to build engine", "err", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := engine.Close(shutdownCtx); err != nil {
			logger.Error("Failed to flush storage sessions", "err", err)
		}
	}()

	appCtx := &mid.App{
		Engine: engine,
		Files:  loader.New(nil, blobs),
	}
	if pool != nil {
		appCtx.Locks = leaselock.New(pool)
	}

	if util.GetEnv("RABBITMQ_HOST") != "" {
		que := queue.Init()
		defer que.Close()
		ch, err := que.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, queue.Queues); err != nil {
			logger.Fatal("Failed to declare queues", "err", err)
		}
		appCtx.Queue = ch
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(mid.AppContextMiddleware(appCtx))
	e.Use(echomw.CORS())
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())
	e.Use(echomw.BodyLimit("64M"))

	RegisterRoutes(e)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
