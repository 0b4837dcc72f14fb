// Package ingest orchestrates the chunk → encode → upsert pipeline that
// turns raw documents into searchable points.
package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vortexdb/vortex/internal/encoders"
	"github.com/vortexdb/vortex/internal/encryption"
	"github.com/vortexdb/vortex/internal/idservice"
	"github.com/vortexdb/vortex/internal/payload"
	"github.com/vortexdb/vortex/internal/vectorstore"
)

// Config tunes chunking and batching.
type Config struct {
	ChunkSize      int
	ChunkOverlap   int
	DenseBatchSize int
	UpsertBatch    int
	DenseSize      int
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = 100
	}
	if c.DenseBatchSize <= 0 {
		c.DenseBatchSize = 32
	}
	if c.UpsertBatch <= 0 {
		c.UpsertBatch = 100
	}
	if c.DenseSize <= 0 {
		c.DenseSize = 768
	}
	return c
}

// Document is a single unit of raw input to upsert_documents.
type Document struct {
	Fields          map[string]any
	TenantID        string
	AccessLevel     int
	EncryptRequest  bool
	PayloadStrategy payload.Strategy
}

// ProgressFunc reports incremental progress during an upsert, capped below
// 100 until the caller marks completion.
type ProgressFunc func(percent int, message string)

// Service implements upsert_documents.
type Service struct {
	store    vectorstore.Client
	encoders encoders.Set
	ids      *idservice.Service
	enc      *encryption.Service
	log      *zap.Logger
	cfg      Config
	split    chunkSplitFn
}

type chunkSplitFn func(text string, size, overlap int) []string

// New constructs an IngestService over the given vector store, encoder
// set, and optional encryption service (nil disables content encryption).
func New(store vectorstore.Client, enc encoders.Set, ids *idservice.Service, encryptionSvc *encryption.Service, log *zap.Logger, cfg Config, split chunkSplitFn) *Service {
	return &Service{
		store:    store,
		encoders: enc,
		ids:      ids,
		enc:      encryptionSvc,
		log:      log,
		cfg:      cfg.withDefaults(),
		split:    split,
	}
}

type chunkUnit struct {
	dbID        string
	chunkIndex  int
	totalChunks int
	text        string
	payload     map[string]any
	tenantID    string
	accessLevel int
}

// UpsertDocuments runs the full ingestion pipeline for docs into
// collection, auto-creating it on first use, and reports monotonic
// progress capped at 99% until the caller marks completion.
func (s *Service) UpsertDocuments(ctx context.Context, collectionName string, docs []Document, progress ProgressFunc) (int, error) {
	exists, err := s.store.CollectionExists(ctx, collectionName)
	if err != nil {
		return 0, fmt.Errorf("ingest: check collection %q: %w", collectionName, err)
	}
	if !exists {
		spec := vectorstore.CollectionSpec{
			Name:          collectionName,
			DenseSize:     s.cfg.DenseSize,
			Distance:      vectorstore.DistanceCosine,
			SparseVectors: []vectorstore.SparseConfig{{Name: string(vectorstore.VectorSparse)}, {Name: string(vectorstore.VectorSplade)}},
		}
		if err := s.store.CreateCollection(ctx, spec); err != nil {
			return 0, fmt.Errorf("ingest: create collection %q: %w", collectionName, err)
		}
	}

	units, err := s.buildChunkUnits(docs)
	if err != nil {
		return 0, err
	}
	if len(units) == 0 {
		return 0, nil
	}

	if err := s.encodeAndUpsert(ctx, collectionName, units, progress); err != nil {
		return 0, err
	}
	return len(docs), nil
}

func (s *Service) buildChunkUnits(docs []Document) ([]chunkUnit, error) {
	var units []chunkUnit
	for _, doc := range docs {
		normalized := payload.Process(doc.Fields, payload.Options{Strategy: doc.PayloadStrategy})
		text, _ := normalized["_text"].(string)

		dbID, err := s.ids.DocHash(doc.Fields)
		if err != nil {
			return nil, fmt.Errorf("ingest: hash document: %w", err)
		}

		chunks := s.split(text, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
		if len(chunks) == 0 {
			chunks = []string{""}
		}

		for i, chunkText := range chunks {
			content := chunkText
			encrypted := false
			if s.enc != nil && encryption.ShouldEncrypt(doc.TenantID, doc.EncryptRequest) {
				blob, err := s.enc.Encrypt(doc.TenantID, chunkText)
				if err != nil {
					return nil, fmt.Errorf("ingest: encrypt chunk %d of %s: %w", i, dbID, err)
				}
				content = blob
				encrypted = true
			}

			pointPayload := map[string]any{}
			for k, v := range normalized {
				pointPayload[k] = v
			}
			pointPayload["content"] = content
			pointPayload["is_chunk"] = len(chunks) > 1
			pointPayload["chunk_index"] = i
			pointPayload["total_chunks"] = len(chunks)
			pointPayload["parent_id"] = dbID
			pointPayload["db_id"] = dbID
			pointPayload["tenant_id"] = doc.TenantID
			pointPayload["access_level"] = doc.AccessLevel
			pointPayload["content_encrypted"] = encrypted

			units = append(units, chunkUnit{
				dbID:        dbID,
				chunkIndex:  i,
				totalChunks: len(chunks),
				text:        chunkText,
				payload:     pointPayload,
				tenantID:    doc.TenantID,
				accessLevel: doc.AccessLevel,
			})
		}
	}
	return units, nil
}

func (s *Service) encodeAndUpsert(ctx context.Context, collectionName string, units []chunkUnit, progress ProgressFunc) error {
	total := len(units)
	upserted := 0

	for start := 0; start < total; start += s.cfg.DenseBatchSize {
		end := start + s.cfg.DenseBatchSize
		if end > total {
			end = total
		}
		batch := units[start:end]

		texts := make([]string, len(batch))
		for i, u := range batch {
			texts[i] = u.text
		}

		var denseVecs [][]float32
		if s.encoders.Dense != nil {
			var err error
			denseVecs, err = s.encoders.Dense.Embed(ctx, texts)
			if err != nil {
				return fmt.Errorf("ingest: dense embed batch: %w", err)
			}
		}

		points := make([]vectorstore.Point, len(batch))
		for i, u := range batch {
			pointID := s.ids.PointID(u.dbID, u.chunkIndex)

			vecs := vectorstore.Vectors{}
			if denseVecs != nil {
				vecs.Dense = denseVecs[i]
			}
			if s.encoders.BM25 != nil {
				sp := s.encoders.BM25.Encode(u.text)
				if !sp.Empty() {
					vecs.Sparse = &vectorstore.SparseVector{Indices: sp.Indices, Values: sp.Values}
				}
			}
			if s.encoders.SPLADE != nil && s.encoders.SPLADE.Enabled() {
				sp, err := s.encoders.SPLADE.Encode(ctx, u.text)
				if err != nil {
					s.log.Warn("ingest: splade encode failed, leaving sparse vector empty",
						zap.String("db_id", u.dbID), zap.Error(err))
				} else if !sp.Empty() {
					vecs.Splade = &vectorstore.SparseVector{Indices: sp.Indices, Values: sp.Values}
				}
			}

			points[i] = vectorstore.Point{ID: pointID, Vectors: vecs, Payload: u.payload}
		}

		for subStart := 0; subStart < len(points); subStart += s.cfg.UpsertBatch {
			subEnd := subStart + s.cfg.UpsertBatch
			if subEnd > len(points) {
				subEnd = len(points)
			}
			if err := s.store.Upsert(ctx, collectionName, points[subStart:subEnd]); err != nil {
				return fmt.Errorf("ingest: upsert batch into %q: %w", collectionName, err)
			}
			upserted += subEnd - subStart

			if progress != nil {
				percent := upserted * 100 / total
				if percent > 99 {
					percent = 99
				}
				progress(percent, fmt.Sprintf("upserted %d/%d points", upserted, total))
			}
		}
	}
	return nil
}
