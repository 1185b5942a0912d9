package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/memindex/internal/storage"
	"github.com/scrypster/memindex/pkg/types"
)

// RetryReport summarises one RetryPending pass.
type RetryReport struct {
	Embedded int `json:"embedded"`
	Retried  int `json:"retried"`
	Failed   int `json:"failed"`
}

// RetryPending re-embeds up to batch records left pending by deferred
// indexing. A record that keeps failing moves to retry and, after
// storage.MaxEmbeddingRetries attempts, to failed. The pass stops early when
// the embedder's circuit opens.
func (e *Engine) RetryPending(ctx context.Context, batch int) (RetryReport, error) {
	var report RetryReport
	if e.embedder == nil || !e.store.VectorSearchAvailable() {
		return report, storage.ErrVectorUnavailable
	}
	recs, err := e.store.PendingEmbeddings(ctx, batch)
	if err != nil {
		return report, err
	}

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		text := strings.TrimSpace(rec.ContentText)
		if text == "" {
			text = strings.TrimSpace(rec.Title)
		}
		if text == "" {
			if _, err := e.store.UpdateEmbeddingStatus(ctx, rec.ID, types.EmbeddingFailed); err != nil {
				return report, err
			}
			report.Failed++
			continue
		}

		vec, err := e.embedder.Embed(ctx, text)
		if errors.Is(err, ErrCircuitOpen) {
			e.log.Warn("engine: embedder unavailable, pausing pending retries", zap.Int("remaining", len(recs)-report.Embedded-report.Retried-report.Failed))
			return report, nil
		}
		if err != nil {
			status := types.EmbeddingRetry
			if rec.RetryCount >= storage.MaxEmbeddingRetries {
				status = types.EmbeddingFailed
			}
			e.log.Warn("engine: embedding retry failed",
				zap.Int64("id", rec.ID), zap.Int("retry_count", rec.RetryCount), zap.Error(err))
			if _, err := e.store.UpdateEmbeddingStatus(ctx, rec.ID, status); err != nil {
				return report, err
			}
			if status == types.EmbeddingFailed {
				report.Failed++
			} else {
				report.Retried++
			}
			continue
		}

		if err := e.store.Update(ctx, rec.ID, types.RecordUpdate{Embedding: vec}); err != nil {
			return report, err
		}
		report.Embedded++
		if _, err := e.linkRelated(ctx, rec.ID, vec); err != nil {
			e.log.Warn("engine: failed to link related memories", zap.Int64("id", rec.ID), zap.Error(err))
		}
	}

	if len(recs) > 0 {
		e.log.Info("engine: pending embeddings processed",
			zap.Int("embedded", report.Embedded), zap.Int("retried", report.Retried), zap.Int("failed", report.Failed))
	}
	return report, nil
}

// RunRetryLoop calls RetryPending every interval until ctx is cancelled.
func (e *Engine) RunRetryLoop(ctx context.Context, interval time.Duration, batch int) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.RetryPending(ctx, batch); err != nil && !errors.Is(err, storage.ErrVectorUnavailable) && ctx.Err() == nil {
				e.log.Error("engine: pending retry pass failed", zap.Error(err))
			}
		}
	}
}
