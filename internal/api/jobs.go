package api

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/vortexdb/vortex/internal/ingest"
	"github.com/vortexdb/vortex/internal/jobs"
	"github.com/vortexdb/vortex/internal/payload"
	"github.com/vortexdb/vortex/internal/sanitize"
)

// upsertBatchJobPayload is the JSON form of a batch-ingest request stored
// on the job row and replayed by the registered job handler.
type upsertBatchJobPayload struct {
	Collection      string           `json:"collection"`
	Documents       []map[string]any `json:"documents"`
	TenantID        string           `json:"tenant_id"`
	AccessLevel     int              `json:"access_level"`
	EncryptRequest  bool             `json:"encrypt"`
	PayloadStrategy string           `json:"payload_strategy"`
}

func encodeBatchPayload(req batchIngestRequest) (json.RawMessage, error) {
	payload := upsertBatchJobPayload{
		Collection:      sanitize.Identifier(req.Collection),
		Documents:       req.Documents,
		TenantID:        req.TenantID,
		AccessLevel:     req.AccessLevel,
		EncryptRequest:  req.EncryptRequest,
		PayloadStrategy: req.PayloadStrategy,
	}
	return json.Marshal(payload)
}

func newJobID() string { return uuid.NewString() }

// RegisterJobHandlers binds the upsert_batch_docs job type to its executor.
// No handler is registered for the create_snapshot and bm25_retrain jobs
// that the admin routes enqueue. Call once at startup, before the job
// engine's workers start.
func (s *Server) RegisterJobHandlers(engine *jobs.Engine) {
	engine.RegisterHandler(jobs.TypeUpsertBatchDocs, s.runUpsertBatchJob)
}

func (s *Server) runUpsertBatchJob(ctx context.Context, raw json.RawMessage, report func(progress int, message string)) error {
	var p upsertBatchJobPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}

	docs := make([]ingest.Document, len(p.Documents))
	for i, fields := range p.Documents {
		docs[i] = ingest.Document{
			Fields:          fields,
			TenantID:        p.TenantID,
			AccessLevel:     p.AccessLevel,
			EncryptRequest:  p.EncryptRequest,
			PayloadStrategy: payload.Strategy(p.PayloadStrategy),
		}
	}
	_, err := s.ingest.UpsertDocuments(ctx, p.Collection, docs, report)
	return err
}
