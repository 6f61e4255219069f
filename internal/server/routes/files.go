package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/phanngoc/notebooklm/internal/queue"
	"github.com/phanngoc/notebooklm/internal/server/middleware"
	"github.com/phanngoc/notebooklm/pkg/graphrag"
	"github.com/phanngoc/notebooklm/pkg/loader"
	"github.com/phanngoc/notebooklm/pkg/logger"
)

// ProcessFileHandler fetches a file and ingests it into a namespace
// graph. With a queue configured the work is published to the worker;
// otherwise it runs inline in the request.
func ProcessFileHandler(c echo.Context) error {
	type processBody struct {
		namespaceBody
		FileURL     string   `json:"file_url"`
		FileName    string   `json:"file_name"`
		MimeType    string   `json:"mime_type"`
		SourceID    string   `json:"source_id"`
		EntityTypes []string `json:"entity_types"`
	}

	type processResponse struct {
		Success         bool   `json:"success"`
		Error           string `json:"error,omitempty"`
		Queued          bool   `json:"queued,omitempty"`
		Chunks          int    `json:"chunks,omitempty"`
		MarkdownContent string `json:"markdown_content,omitempty"`
		ContentLength   int    `json:"content_length,omitempty"`
	}

	data := new(processBody)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "invalid request body")
	}
	ns, ok := data.namespace()
	if !ok {
		return badRequest(c, "user_id and project_id are required")
	}
	if data.FileURL == "" {
		return badRequest(c, "file_url is required")
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	if app.Queue != nil {
		msg, err := json.Marshal(queue.ProcessFileMsg{
			UserID:      data.UserID,
			ProjectID:   data.ProjectID,
			FileURL:     data.FileURL,
			FileName:    data.FileName,
			MimeType:    data.MimeType,
			SourceID:    data.SourceID,
			EntityTypes: data.EntityTypes,
		})
		if err != nil {
			return c.JSON(http.StatusOK, processResponse{Error: "failed to encode job"})
		}
		if err := queue.PublishFIFO(app.Queue, queue.ProcessQueue, msg); err != nil {
			logger.Error("Failed to publish process job", "file_url", data.FileURL, "err", err)
			return c.JSON(http.StatusOK, processResponse{Error: "failed to queue file"})
		}
		return c.JSON(http.StatusOK, processResponse{Success: true, Queued: true})
	}

	text, err := app.Files.LoadNamed(ctx, data.FileURL, data.FileName, data.MimeType)
	if err != nil {
		if errors.Is(err, loader.ErrUnsupportedFormat) {
			return c.JSON(http.StatusOK, processResponse{Error: "unsupported file format"})
		}
		logger.Error("Failed to load file", "file_url", data.FileURL, "err", err)
		return c.JSON(http.StatusOK, processResponse{Error: "failed to fetch file"})
	}

	sourceID := data.SourceID
	if sourceID == "" {
		sourceID = data.FileURL
	}
	res := app.Engine.Insert(ctx, graphrag.InsertRequest{
		Namespace:   ns,
		Content:     text,
		SourceID:    sourceID,
		EntityTypes: data.EntityTypes,
	})
	if !res.Success {
		logger.Error("Inline file processing failed", "file_url", data.FileURL, "err", res.Error)
		return c.JSON(http.StatusOK, processResponse{Error: res.Error, Chunks: res.Chunks})
	}
	return c.JSON(http.StatusOK, processResponse{
		Success:         true,
		Chunks:          res.Chunks,
		MarkdownContent: text,
		ContentLength:   len(text),
	})
}
