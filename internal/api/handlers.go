package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/vortexdb/vortex/internal/access"
	"github.com/vortexdb/vortex/internal/hybrid"
	"github.com/vortexdb/vortex/internal/ingest"
	"github.com/vortexdb/vortex/internal/jobs"
	"github.com/vortexdb/vortex/internal/payload"
	"github.com/vortexdb/vortex/internal/sanitize"
	"github.com/vortexdb/vortex/internal/security"
	"github.com/vortexdb/vortex/internal/vectorstore"
	"github.com/vortexdb/vortex/internal/vortexerr"
)

// currentUser retrieves the request's principal, as attached by the
// security middleware. It is always present by the time a handler runs.
func currentUser(c echo.Context) *access.User {
	u, _ := c.Get("user").(*access.User)
	if u == nil {
		u = &access.User{UserID: "anonymous", Role: access.RoleGuest}
	}
	return u
}

func fail(c echo.Context, err error) error {
	status, envelope := vortexerr.ToEnvelope(err)
	return c.JSON(status, envelope)
}

func (s *Server) requirePermission(c echo.Context, res access.Resource, action access.Action) *vortexerr.Error {
	u := currentUser(c)
	if ok, reason := s.access.CheckPermission(u, res, action); !ok {
		return vortexerr.New(vortexerr.CodeAccessDenied, reason)
	}
	return nil
}

// --- auth ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInvalidRequest, "malformed login request", err))
	}
	u, err := s.users.Authenticate(req.Username, req.Password)
	if err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeUnauthorized, "invalid credentials", err))
	}

	claims := security.Claims{
		UserID: strconv.FormatInt(u.ID, 10),
		Role:   string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwt)
	if err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInternal, "token signing failed", err))
	}
	return c.JSON(http.StatusOK, loginResponse{Token: signed})
}

// --- health ---

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealthStatus(c echo.Context) error {
	ctx := c.Request().Context()
	collections, err := s.store.ListCollections(ctx)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"collections": len(collections),
	})
}

// --- query ---

type hybridQueryRequest struct {
	QueryText       string                `json:"query_text"`
	TopK            int                   `json:"top_k"`
	Collections     []string              `json:"collections"`
	Fusion          hybrid.FusionStrategy `json:"fusion"`
	Weights         hybrid.Weights        `json:"weights"`
	Rerank          *bool                 `json:"rerank"`
}

func (s *Server) handleQueryHybrid(c echo.Context) error {
	var req hybridQueryRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInvalidRequest, "malformed query", err))
	}
	if req.QueryText == "" || len(req.Collections) == 0 {
		return fail(c, vortexerr.New(vortexerr.CodeInvalidRequest, "query_text and collections are required"))
	}

	hreq := hybrid.Request{
		QueryText:   req.QueryText,
		TopK:        req.TopK,
		Collections: req.Collections,
		User:        currentUser(c),
		Fusion:      req.Fusion,
		Weights:     req.Weights,
	}
	if req.Rerank != nil {
		hreq.RerankRequested = true
		hreq.Rerank = *req.Rerank
	}

	results, err := s.hybrid.Search(c.Request().Context(), hreq)
	if err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeUpstreamUnavail, "hybrid search failed", err))
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleQueryKeyword(c echo.Context) error {
	var req hybridQueryRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInvalidRequest, "malformed query", err))
	}
	if req.QueryText == "" || len(req.Collections) == 0 {
		return fail(c, vortexerr.New(vortexerr.CodeInvalidRequest, "query_text and collections are required"))
	}

	hreq := hybrid.Request{
		QueryText:   req.QueryText,
		TopK:        req.TopK,
		Collections: req.Collections,
		User:        currentUser(c),
		Fusion:      req.Fusion,
		Weights: hybrid.Weights{
			Dense: 0, Sparse: 1.0, Splade: 0,
		},
		RerankRequested: true,
		Rerank:          false,
	}
	results, err := s.hybrid.Search(c.Request().Context(), hreq)
	if err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeUpstreamUnavail, "keyword search failed", err))
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}

// --- crud ---

type upsertRequest struct {
	Collection      string         `json:"collection"`
	Document        map[string]any `json:"document"`
	TenantID        string         `json:"tenant_id"`
	AccessLevel     int            `json:"access_level"`
	EncryptRequest  bool           `json:"encrypt"`
	PayloadStrategy string         `json:"payload_strategy"`
}

func (s *Server) handleCrudUpsert(c echo.Context) error {
	var req upsertRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInvalidRequest, "malformed upsert request", err))
	}
	if req.Collection == "" || req.Document == nil {
		return fail(c, vortexerr.New(vortexerr.CodeInvalidRequest, "collection and document are required"))
	}
	u := currentUser(c)
	if perr := s.requirePermission(c, access.Resource{Team: req.TenantID}, access.ActionWrite); perr != nil {
		return fail(c, perr)
	}

	doc := ingest.Document{
		Fields:          req.Document,
		TenantID:        req.TenantID,
		AccessLevel:     req.AccessLevel,
		EncryptRequest:  req.EncryptRequest,
		PayloadStrategy: payload.Strategy(req.PayloadStrategy),
	}
	n, err := s.ingest.UpsertDocuments(c.Request().Context(), sanitize.Identifier(req.Collection), []ingest.Document{doc}, nil)
	if err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInternal, "upsert failed", err))
	}
	return c.JSON(http.StatusOK, map[string]any{"upserted": n, "user_id": u.UserID})
}

type upsertBatchRequest struct {
	Collection      string           `json:"collection"`
	Documents       []map[string]any `json:"documents"`
	TenantID        string           `json:"tenant_id"`
	AccessLevel     int              `json:"access_level"`
	EncryptRequest  bool             `json:"encrypt"`
	PayloadStrategy string           `json:"payload_strategy"`
}

func (s *Server) handleCrudUpsertBatch(c echo.Context) error {
	var req upsertBatchRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInvalidRequest, "malformed batch upsert request", err))
	}
	if req.Collection == "" || len(req.Documents) == 0 {
		return fail(c, vortexerr.New(vortexerr.CodeInvalidRequest, "collection and documents are required"))
	}
	if perr := s.requirePermission(c, access.Resource{Team: req.TenantID}, access.ActionWrite); perr != nil {
		return fail(c, perr)
	}

	docs := make([]ingest.Document, len(req.Documents))
	for i, fields := range req.Documents {
		docs[i] = ingest.Document{
			Fields:          fields,
			TenantID:        req.TenantID,
			AccessLevel:     req.AccessLevel,
			EncryptRequest:  req.EncryptRequest,
			PayloadStrategy: payload.Strategy(req.PayloadStrategy),
		}
	}
	n, err := s.ingest.UpsertDocuments(c.Request().Context(), sanitize.Identifier(req.Collection), docs, nil)
	if err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInternal, "batch upsert failed", err))
	}
	return c.JSON(http.StatusOK, map[string]any{"upserted": n})
}

type crudUpdateRequest struct {
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Fields     map[string]any `json:"fields"`
}

func (s *Server) handleCrudUpdate(c echo.Context) error {
	var req crudUpdateRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInvalidRequest, "malformed update request", err))
	}
	if req.Collection == "" || req.ID == "" {
		return fail(c, vortexerr.New(vortexerr.CodeInvalidRequest, "collection and id are required"))
	}
	if perr := s.requirePermission(c, access.Resource{}, access.ActionWrite); perr != nil {
		return fail(c, perr)
	}

	ctx := c.Request().Context()
	points, err := s.store.Retrieve(ctx, req.Collection, []string{req.ID}, true)
	if err != nil || len(points) == 0 {
		return fail(c, vortexerr.New(vortexerr.CodeDocumentNotFound, "document not found"))
	}
	point := points[0]
	for k, v := range req.Fields {
		point.Payload[k] = v
	}
	if err := s.store.Upsert(ctx, req.Collection, []vectorstore.Point{point}); err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInternal, "update failed", err))
	}
	return c.JSON(http.StatusOK, map[string]any{"updated": req.ID})
}

func (s *Server) handleCrudDelete(c echo.Context) error {
	collection := c.QueryParam("collection")
	id := c.QueryParam("id")
	if collection == "" || id == "" {
		return fail(c, vortexerr.New(vortexerr.CodeInvalidRequest, "collection and id query params are required"))
	}
	if perr := s.requirePermission(c, access.Resource{}, access.ActionDelete); perr != nil {
		return fail(c, perr)
	}

	filter := vectorstore.Filter{Must: []vectorstore.Condition{
		{Key: "db_id", Match: &vectorstore.Match{Value: id}},
	}}
	if err := s.store.Delete(c.Request().Context(), collection, filter); err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInternal, "delete failed", err))
	}
	return c.JSON(http.StatusOK, map[string]any{"deleted": id})
}

// --- batch / jobs ---

type batchIngestRequest struct {
	Collection      string           `json:"collection"`
	Documents       []map[string]any `json:"documents"`
	TenantID        string           `json:"tenant_id"`
	AccessLevel     int              `json:"access_level"`
	EncryptRequest  bool             `json:"encrypt"`
	PayloadStrategy string           `json:"payload_strategy"`
}

func (s *Server) handleBatchIngest(c echo.Context) error {
	var req batchIngestRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInvalidRequest, "malformed batch ingest request", err))
	}
	if req.Collection == "" || len(req.Documents) == 0 {
		return fail(c, vortexerr.New(vortexerr.CodeInvalidRequest, "collection and documents are required"))
	}
	if perr := s.requirePermission(c, access.Resource{Team: req.TenantID}, access.ActionWrite); perr != nil {
		return fail(c, perr)
	}

	payloadJSON, err := encodeBatchPayload(req)
	if err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInvalidFormat, "could not encode job payload", err))
	}
	jobID := newJobID()
	if err := s.jobs.Enqueue(c.Request().Context(), jobID, jobs.TypeUpsertBatchDocs, payloadJSON); err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeJobDispatchFailure, "could not dispatch batch ingest job", err))
	}
	return c.JSON(http.StatusAccepted, map[string]any{"job_id": jobID})
}

func (s *Server) handleJobStatus(c echo.Context) error {
	id := c.Param("id")
	job, err := s.jobs.GetStatus(c.Request().Context(), id)
	if err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeDocumentNotFound, "job not found", err))
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) handleJobList(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	status := jobs.Status(c.QueryParam("status"))
	list, err := s.jobs.List(c.Request().Context(), status, limit)
	if err != nil {
		return fail(c, vortexerr.Wrap(vortexerr.CodeInternal, "could not list jobs", err))
	}
	return c.JSON(http.StatusOK, map[string]any{"jobs": list})
}
