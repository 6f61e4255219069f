// Package middleware carries the per-request application context: the
// shared engine, loader and queue channel handlers reach through echo.
package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/phanngoc/notebooklm/pkg/graphrag"
	"github.com/phanngoc/notebooklm/pkg/leaselock"
	"github.com/phanngoc/notebooklm/pkg/loader"
)

// App holds the long-lived dependencies built at startup. Queue and
// Locks are nil when RabbitMQ or Postgres are not configured; handlers
// fall back to inline processing.
type App struct {
	Engine *graphrag.Engine
	Files  *loader.Loader
	Queue  *amqp091.Channel
	Locks  *leaselock.Client
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{Context: c, App: app})
		}
	}
}
