package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
	"github.com/kirillkom/hybrid-retrieval/internal/observability/metrics"
)

const defaultMaxBodyBytes = 32 << 20

type Options struct {
	Service string

	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	BackpressureWait time.Duration
	MaxBodyBytes     int64

	// APIKey enables bearer authentication on /v1 routes when set.
	APIKey string

	Metrics *metrics.HTTPServerMetrics
	Logger  *slog.Logger
}

type Router struct {
	ingest   ports.DocumentIngestor
	docs     ports.DocumentReader
	deleter  ports.DocumentDeleter
	searcher ports.SegmentSearcher

	opts     Options
	validate *validator.Validate
	logger   *slog.Logger
}

func NewRouter(
	ingest ports.DocumentIngestor,
	docs ports.DocumentReader,
	deleter ports.DocumentDeleter,
	searcher ports.SegmentSearcher,
	opts Options,
) *Router {
	if opts.Service == "" {
		opts.Service = "api"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		ingest:   ingest,
		docs:     docs,
		deleter:  deleter,
		searcher: searcher,
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("component", "http"),
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/documents", rt.registerDocument)
	api.HandleFunc("GET /v1/documents/{id}", rt.getDocumentByID)
	api.HandleFunc("DELETE /v1/documents/{id}", rt.deleteDocument)
	api.HandleFunc("POST /v1/search", rt.search)

	var guarded http.Handler = api
	guarded = bearerAuthMiddleware(guarded, rt.opts.APIKey)
	guarded = backpressureMiddleware(guarded, rt.opts.MaxInFlight, rt.opts.BackpressureWait)
	guarded = rateLimitMiddleware(guarded, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", rt.healthz)
	root.Handle("/v1/", guarded)
	if rt.opts.Metrics != nil {
		root.Handle("GET /metrics", rt.opts.Metrics.Handler())
	}

	var handler http.Handler = root
	if rt.opts.Metrics != nil {
		handler = rt.opts.Metrics.Middleware(rt.opts.Service, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerDocumentRequest struct {
	Name         string          `json:"name" validate:"required"`
	SourcePath   string          `json:"source_path"`
	PrincipalIDs []string        `json:"principal_ids" validate:"required,min=1,dive,required"`
	Elements     json.RawMessage `json:"elements" validate:"required"`
}

func (rt *Router) registerDocument(w http.ResponseWriter, r *http.Request) {
	var req registerDocumentRequest
	if !rt.decodeBody(w, r, &req) {
		return
	}

	doc, err := rt.ingest.Register(r.Context(), domain.RegisterDocument{
		Name:         req.Name,
		SourcePath:   req.SourcePath,
		PrincipalIDs: req.PrincipalIDs,
		Elements:     []byte(req.Elements),
	})
	if err != nil {
		rt.writeDomainError(w, r, "register_document_failed", err)
		return
	}

	status := http.StatusAccepted
	if doc.Status == domain.StatusCompleted {
		status = http.StatusOK
	}
	writeJSON(w, status, doc)
}

func (rt *Router) getDocumentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "document id is required")
		return
	}

	doc, err := rt.docs.GetByID(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, "get_document_failed", err)
		return
	}
	if doc.Deleted {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) deleteDocument(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "document id is required")
		return
	}

	report, err := rt.deleter.Delete(r.Context(), id)
	if err != nil {
		rt.writeDomainError(w, r, "delete_document_failed", err)
		return
	}

	// The document is hidden either way; 207 tells the caller a store still
	// holds segments and the delete should be retried.
	status := http.StatusOK
	if report.Failed() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, report)
}

type searchRequest struct {
	Query        string   `json:"query" validate:"required"`
	PrincipalIDs []string `json:"principal_ids" validate:"required,min=1,dive,required"`
	TopK         int      `json:"top_k" validate:"gte=0,lte=100"`
	KDense       int      `json:"k_dense" validate:"gte=0,lte=200"`
	KLexical     int      `json:"k_lexical" validate:"gte=0,lte=200"`
}

func (rt *Router) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !rt.decodeBody(w, r, &req) {
		return
	}

	start := time.Now()
	result, err := rt.searcher.Search(r.Context(), domain.SearchQuery{
		Query:        req.Query,
		PrincipalIDs: req.PrincipalIDs,
		TopK:         req.TopK,
		KDense:       req.KDense,
		KLexical:     req.KLexical,
	})
	if rt.opts.Metrics != nil {
		rt.opts.Metrics.RecordSearch(rt.opts.Service, result, time.Since(start), err)
	}
	if err != nil {
		rt.writeDomainError(w, r, "search_failed", err)
		return
	}
	if result.Hits == nil {
		result.Hits = []domain.SearchHit{}
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, rt.opts.MaxBodyBytes)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "request body is required")
		default:
			writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		}
		return false
	}
	if err := rt.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return "validation: " + strings.Join(parts, "; ")
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, event string, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error(event, "request_id", requestIDFromContext(r.Context()), "status", status, "error", err)
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
