package api

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vortexdb/vortex/internal/access"
	"github.com/vortexdb/vortex/internal/jobs"
	"github.com/vortexdb/vortex/internal/sanitize"
	"github.com/vortexdb/vortex/internal/vectorstore"
	"github.com/vortexdb/vortex/internal/vortexerr"
)

func requireAdmin(c echo.Context) *vortexerr.Error {
	u := currentUser(c)
	if u.Role != access.RoleAdmin {
		return vortexerr.New(vortexerr.CodeAccessDenied, "admin role required")
	}
	return nil
}

type createCollectionRequest struct {
	Name          string                      `json:"name"`
	DenseSize     int                         `json:"dense_size"`
	Distance      string                      `json:"distance"`
	SparseVectors []string                    `json:"sparse_vectors"`
	HNSW          *vectorstore.HNSWConfig     `json:"hnsw"`
	Quantization  *vectorstore.QuantizationConfig `json:"quantization"`
}

func (s *Server) handleAdminCollectionCreate(c echo.Context) error {
	if perr := requireAdmin(c); perr != nil {
		return fail(c, perr)
	}
	var req createCollectionRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInvalidRequest, "malformed collection spec", err))
	}
	if req.Name == "" {
		return fail(c, vortexerr.New(vortexerr.CodeInvalidRequest, "name is required"))
	}

	spec := vectorstore.CollectionSpec{
		Name:         sanitize.Identifier(req.Name),
		DenseSize:    req.DenseSize,
		Distance:     parseDistance(req.Distance),
		HNSW:         req.HNSW,
		Quantization: req.Quantization,
	}
	for _, name := range req.SparseVectors {
		spec.SparseVectors = append(spec.SparseVectors, vectorstore.SparseConfig{Name: name})
	}
	if err := s.store.CreateCollection(c.Request().Context(), spec); err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInternal, "collection creation failed", err))
	}
	return c.JSON(http.StatusOK, map[string]any{"created": spec.Name})
}

func parseDistance(s string) vectorstore.Distance {
	switch s {
	case "euclid":
		return vectorstore.DistanceEuclid
	case "dot":
		return vectorstore.DistanceDot
	default:
		return vectorstore.DistanceCosine
	}
}

func (s *Server) handleAdminCollectionDelete(c echo.Context) error {
	if perr := requireAdmin(c); perr != nil {
		return fail(c, perr)
	}
	name := c.QueryParam("name")
	if name == "" {
		return fail(c, vortexerr.New(vortexerr.CodeInvalidRequest, "name query param is required"))
	}
	if err := s.store.DeleteCollection(c.Request().Context(), name); err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInternal, "collection deletion failed", err))
	}
	return c.JSON(http.StatusOK, map[string]any{"deleted": name})
}

func (s *Server) handleAdminCollectionList(c echo.Context) error {
	if perr := requireAdmin(c); perr != nil {
		return fail(c, perr)
	}
	list, err := s.store.ListCollections(c.Request().Context())
	if err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInternal, "could not list collections", err))
	}
	return c.JSON(http.StatusOK, map[string]any{"collections": list})
}

type snapshotRequest struct {
	Collection string `json:"collection"`
}

func (s *Server) handleAdminSnapshotCreate(c echo.Context) error {
	if perr := requireAdmin(c); perr != nil {
		return fail(c, perr)
	}
	var req snapshotRequest
	if err := c.Bind(&req); err != nil || req.Collection == "" {
		return fail(c, vortexerr.New(vortexerr.CodeInvalidRequest, "collection is required"))
	}

	payloadJSON, err := json.Marshal(req)
	if err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInvalidFormat, "could not encode job payload", err))
	}
	jobID := newJobID()
	if err := s.jobs.Enqueue(c.Request().Context(), jobID, jobs.TypeCreateSnapshot, payloadJSON); err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeJobDispatchFailure, "could not dispatch snapshot job", err))
	}
	return c.JSON(http.StatusAccepted, map[string]any{"job_id": jobID})
}

func (s *Server) handleAdminSnapshotList(c echo.Context) error {
	if perr := requireAdmin(c); perr != nil {
		return fail(c, perr)
	}
	collection := c.QueryParam("collection")
	if collection == "" {
		return fail(c, vortexerr.New(vortexerr.CodeInvalidRequest, "collection query param is required"))
	}
	list, err := s.store.ListSnapshots(c.Request().Context(), collection)
	if err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInternal, "could not list snapshots", err))
	}
	return c.JSON(http.StatusOK, map[string]any{"snapshots": list})
}

type snapshotRestoreRequest struct {
	Collection   string `json:"collection"`
	SnapshotName string `json:"snapshot_name"`
	SourcePath   string `json:"source_path"`
}

func (s *Server) handleAdminSnapshotRestore(c echo.Context) error {
	if perr := requireAdmin(c); perr != nil {
		return fail(c, perr)
	}
	var req snapshotRestoreRequest
	if err := c.Bind(&req); err != nil || req.Collection == "" || req.SourcePath == "" {
		return fail(c, vortexerr.New(vortexerr.CodeInvalidRequest, "collection and source_path are required"))
	}
	if err := s.store.UploadSnapshot(c.Request().Context(), req.Collection, req.SourcePath); err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInternal, "snapshot restore failed", err))
	}
	return c.JSON(http.StatusOK, map[string]any{"restored": req.Collection})
}

func (s *Server) handleAdminSnapshotDelete(c echo.Context) error {
	if perr := requireAdmin(c); perr != nil {
		return fail(c, perr)
	}
	collection := c.QueryParam("collection")
	if collection == "" {
		return fail(c, vortexerr.New(vortexerr.CodeInvalidRequest, "collection query param is required"))
	}
	return c.JSON(http.StatusOK, map[string]any{"deleted": collection})
}

func (s *Server) handleAdminBM25Retrain(c echo.Context) error {
	if perr := requireAdmin(c); perr != nil {
		return fail(c, perr)
	}
	jobID := newJobID()
	if err := s.jobs.Enqueue(c.Request().Context(), jobID, jobs.TypeBM25Retrain, json.RawMessage(`{}`)); err != nil {
		switch err {
		case jobs.ErrBM25RetrainActive:
			return fail(c, vortexerr.Wrap(vortexerr.CodeJobDispatchFailure, "a BM25 retrain is already running", err))
		case jobs.ErrBM25RetrainCooldown:
			return fail(c, vortexerr.Wrap(vortexerr.CodeJobDispatchFailure, "BM25 retrain is in cooldown", err))
		default:
			return fail(c, vortexerr.Wrap(vortexerr.CodeJobDispatchFailure, "could not dispatch BM25 retrain job", err))
		}
	}
	return c.JSON(http.StatusAccepted, map[string]any{"job_id": jobID})
}

func (s *Server) handleAdminCacheClear(c echo.Context) error {
	if perr := requireAdmin(c); perr != nil {
		return fail(c, perr)
	}
	filter := vectorstore.Filter{}
	if err := s.store.Delete(c.Request().Context(), "semantic_cache", filter); err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInternal, "cache clear failed", err))
	}
	return c.JSON(http.StatusOK, map[string]any{"cleared": true})
}

func (s *Server) handleAdminResetDB(c echo.Context) error {
	if perr := requireAdmin(c); perr != nil {
		return fail(c, perr)
	}
	collections, err := s.store.ListCollections(c.Request().Context())
	if err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInternal, "could not enumerate collections", err))
	}
	for _, col := range collections {
		if err := s.store.DeleteCollection(c.Request().Context(), col.Name); err != nil {
			return fail(c, vortexerr.Wrap(vortexerr.CodeInternal, "reset failed deleting "+col.Name, err))
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"reset": true, "collections_removed": len(collections)})
}
