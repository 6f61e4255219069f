package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/graphrag"
	"github.com/phanngoc/notebooklm/pkg/leaselock"
	"github.com/phanngoc/notebooklm/pkg/loader"
	"github.com/phanngoc/notebooklm/pkg/logger"
)

// ProcessFileMsg asks the worker to fetch a file and ingest it into a
// namespace graph.
type ProcessFileMsg struct {
	UserID      string   `json:"user_id"`
	ProjectID   string   `json:"project_id"`
	FileURL     string   `json:"file_url"`
	FileName    string   `json:"file_name,omitempty"`
	MimeType    string   `json:"mime_type,omitempty"`
	SourceID    string   `json:"source_id,omitempty"`
	EntityTypes []string `json:"entity_types,omitempty"`
}

// DeleteSourceMsg asks the worker to remove one source document and its
// derived graph data.
type DeleteSourceMsg struct {
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
	SourceID  string `json:"source_id"`
}

func namespaceOf(userID, projectID string) (common.Namespace, error) {
	ns := common.Namespace{UserID: userID, ProjectID: projectID}
	if userID == "" || projectID == "" {
		return ns, fmt.Errorf("message missing namespace: user_id=%q project_id=%q", userID, projectID)
	}
	return ns, nil
}

// withNamespaceLease serializes namespace writes across workers when a
// lock client is configured; without one, fn runs directly.
func withNamespaceLease(ctx context.Context, locks *leaselock.Client, ns common.Namespace, fn func(ctx context.Context) error) error {
	if locks == nil {
		return fn(ctx)
	}
	return locks.WithLease(ctx, leaselock.NamespaceKey(ns), leaselock.Options{Wait: true}, fn)
}

// ProcessFileMessage handles one process_queue delivery. Unsupported
// file formats are terminal: they are logged and acked rather than
// retried.
func ProcessFileMessage(
	ctx context.Context,
	eng *graphrag.Engine,
	files *loader.Loader,
	locks *leaselock.Client,
	msg string,
) error {
	data := new(ProcessFileMsg)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		logger.Error("[Queue] Malformed process message, dropping", "err", err)
		return nil
	}
	ns, err := namespaceOf(data.UserID, data.ProjectID)
	if err != nil {
		logger.Error("[Queue] Dropping message", "err", err)
		return nil
	}
	if data.FileURL == "" {
		logger.Error("[Queue] Process message without file_url, dropping", "user_id", data.UserID, "project_id", data.ProjectID)
		return nil
	}

	text, err := files.LoadNamed(ctx, data.FileURL, data.FileName, data.MimeType)
	if err != nil {
		if errors.Is(err, loader.ErrUnsupportedFormat) {
			logger.Error("[Queue] Unsupported file format, dropping", "file_url", data.FileURL, "err", err)
			return nil
		}
		return fmt.Errorf("loading %q: %w", data.FileURL, err)
	}

	sourceID := data.SourceID
	if sourceID == "" {
		sourceID = data.FileURL
	}

	return withNamespaceLease(ctx, locks, ns, func(ctx context.Context) error {
		res := eng.Insert(ctx, graphrag.InsertRequest{
			Namespace:   ns,
			Content:     text,
			SourceID:    sourceID,
			EntityTypes: data.EntityTypes,
		})
		if !res.Success {
			return fmt.Errorf("inserting %q: %s", data.FileURL, res.Error)
		}
		if res.ChunksFailed > 0 {
			logger.Warn("[Queue] Some chunks failed extraction", "file_url", data.FileURL, "failed", res.ChunksFailed, "total", res.Chunks)
		}
		logger.Info("[Queue] File processed", "file_url", data.FileURL, "chunks", res.Chunks)
		return nil
	})
}

// ProcessDeleteMessage handles one delete_queue delivery.
func ProcessDeleteMessage(
	ctx context.Context,
	eng *graphrag.Engine,
	locks *leaselock.Client,
	msg string,
) error {
	data := new(DeleteSourceMsg)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		logger.Error("[Queue] Malformed delete message, dropping", "err", err)
		return nil
	}
	ns, err := namespaceOf(data.UserID, data.ProjectID)
	if err != nil {
		logger.Error("[Queue] Dropping message", "err", err)
		return nil
	}
	if data.SourceID == "" {
		logger.Error("[Queue] Delete message without source_id, dropping", "user_id", data.UserID, "project_id", data.ProjectID)
		return nil
	}

	return withNamespaceLease(ctx, locks, ns, func(ctx context.Context) error {
		if err := eng.DeleteSource(ctx, ns, data.SourceID); err != nil {
			return fmt.Errorf("deleting source %q: %w", data.SourceID, err)
		}
		logger.Info("[Queue] Source deleted", "source_id", data.SourceID, "project_id", data.ProjectID)
		return nil
	})
}
