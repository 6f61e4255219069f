// Package routes implements the HTTP surface of the engine. Every
// endpoint answers 200 with a {success, error, ...} body; internal
// errors are reported as result payloads, not HTTP failures.
package routes

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/phanngoc/notebooklm/internal/server/middleware"
	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/graphrag"
	"github.com/phanngoc/notebooklm/pkg/leaselock"
	"github.com/phanngoc/notebooklm/pkg/logger"
)

type namespaceBody struct {
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
}

func (b namespaceBody) namespace() (common.Namespace, bool) {
	return common.Namespace{UserID: b.UserID, ProjectID: b.ProjectID},
		b.UserID != "" && b.ProjectID != ""
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusOK, errorResponse{Error: msg})
}

// InsertContentHandler ingests raw text into a namespace graph.
func InsertContentHandler(c echo.Context) error {
	type insertBody struct {
		namespaceBody
		Content     string   `json:"content"`
		SourceID    string   `json:"source_id"`
		EntityTypes []string `json:"entity_types"`
	}

	data := new(insertBody)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "invalid request body")
	}
	ns, ok := data.namespace()
	if !ok {
		return badRequest(c, "user_id and project_id are required")
	}
	if data.Content == "" {
		return badRequest(c, "content is required")
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	res := graphrag.InsertResult{}
	run := func(ctx context.Context) error {
		res = app.Engine.Insert(ctx, graphrag.InsertRequest{
			Namespace:   ns,
			Content:     data.Content,
			SourceID:    data.SourceID,
			EntityTypes: data.EntityTypes,
		})
		return nil
	}
	if app.Locks != nil {
		if err := app.Locks.WithLease(ctx, leaselock.NamespaceKey(ns), leaselock.Options{Wait: true}, run); err != nil {
			logger.Error("Insert lease failed", "project_id", data.ProjectID, "err", err)
			return badRequest(c, "could not acquire namespace lock")
		}
	} else {
		_ = run(ctx)
	}

	if !res.Success {
		logger.Error("Insert failed", "project_id", data.ProjectID, "err", res.Error)
	}
	return c.JSON(http.StatusOK, res)
}

// QueryGraphHandler answers a question from a namespace graph.
func QueryGraphHandler(c echo.Context) error {
	type queryBody struct {
		namespaceBody
		Query               string   `json:"query"`
		MaxResults          int      `json:"max_results"`
		SimilarityThreshold float64  `json:"similarity_threshold"`
		EntityTypes         []string `json:"entity_types"`
	}

	data := new(queryBody)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "invalid request body")
	}
	ns, ok := data.namespace()
	if !ok {
		return badRequest(c, "user_id and project_id are required")
	}
	if data.Query == "" {
		return badRequest(c, "query is required")
	}

	app := c.(*middleware.AppContext).App
	res := app.Engine.Query(c.Request().Context(), graphrag.QueryRequest{
		Namespace:           ns,
		Query:               data.Query,
		MaxResults:          data.MaxResults,
		SimilarityThreshold: data.SimilarityThreshold,
		EntityTypes:         data.EntityTypes,
	})
	if !res.Success {
		logger.Error("Query failed", "project_id", data.ProjectID, "err", res.Error)
	}
	return c.JSON(http.StatusOK, res)
}

type statusResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// DeleteSourceHandler removes one source document and its derived
// graph data from a namespace.
func DeleteSourceHandler(c echo.Context) error {
	type deleteBody struct {
		namespaceBody
		SourceID string `json:"source_id"`
	}

	data := new(deleteBody)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "invalid request body")
	}
	ns, ok := data.namespace()
	if !ok {
		return badRequest(c, "user_id and project_id are required")
	}
	if data.SourceID == "" {
		return badRequest(c, "source_id is required")
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	run := func(ctx context.Context) error {
		return app.Engine.DeleteSource(ctx, ns, data.SourceID)
	}
	var err error
	if app.Locks != nil {
		err = app.Locks.WithLease(ctx, leaselock.NamespaceKey(ns), leaselock.Options{Wait: true}, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		logger.Error("Delete source failed", "project_id", data.ProjectID, "source_id", data.SourceID, "err", err)
		return c.JSON(http.StatusOK, statusResponse{Error: "failed to delete source"})
	}
	return c.JSON(http.StatusOK, statusResponse{Success: true, Message: "source deleted"})
}

// DeleteNamespaceHandler wipes every store of a namespace.
func DeleteNamespaceHandler(c echo.Context) error {
	data := new(namespaceBody)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "invalid request body")
	}
	ns, ok := data.namespace()
	if !ok {
		return badRequest(c, "user_id and project_id are required")
	}

	app := c.(*middleware.AppContext).App
	if err := app.Engine.DeleteNamespace(c.Request().Context(), ns); err != nil {
		logger.Error("Delete namespace failed", "project_id", data.ProjectID, "err", err)
		return c.JSON(http.StatusOK, statusResponse{Error: "failed to delete namespace"})
	}
	return c.JSON(http.StatusOK, statusResponse{Success: true, Message: "namespace deleted"})
}
