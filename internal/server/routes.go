package server

import (
	"github.com/labstack/echo/v4"

	"github.com/phanngoc/notebooklm/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	// Graph routes
	apiRoutes.POST("/graph/insert", routes.InsertContentHandler)
	apiRoutes.POST("/graph/query", routes.QueryGraphHandler)
	apiRoutes.DELETE("/graph/source", routes.DeleteSourceHandler)
	apiRoutes.DELETE("/graph/namespace", routes.DeleteNamespaceHandler)

	// File routes
	apiRoutes.POST("/files/process", routes.ProcessFileHandler)
}
