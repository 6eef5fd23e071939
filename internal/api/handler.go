// Package api exposes the case store and classifier over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/casestore"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxBodyBytes = 1 << 20

// Classifier classifies free text for POST /classify.
// cache.ClassifierCache satisfies it.
type Classifier interface {
	Classify(ctx context.Context, text string) domain.DetectionResult
}

// Deps are the components the handlers serve. Repo, Cache, Bus and
// Classifier are optional.
type Deps struct {
	Store      *casestore.Store
	Table      *rules.Table
	Classifier Classifier
	Repo       domain.CaseRepository
	Cache      domain.Cache
	Bus        domain.EventBus
	Version    string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	store      *casestore.Store
	table      *rules.Table
	classifier Classifier
	repo       domain.CaseRepository
	cache      domain.Cache
	bus        domain.EventBus
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		store:      deps.Store,
		table:      deps.Table,
		classifier: deps.Classifier,
		repo:       deps.Repo,
		cache:      deps.Cache,
		bus:        deps.Bus,
		version:    deps.Version,
	}
}

// ChildRequest identifies the child a case is about.
type ChildRequest struct {
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
}

func (c ChildRequest) identity() domain.ChildIdentity {
	return domain.ChildIdentity{Name: c.Name, Age: c.Age, Gender: c.Gender}
}

// CaseRequest is the request body for POST /cases and PUT /cases/{id}.
type CaseRequest struct {
	DocumentType string       `json:"documentType"`
	Child        ChildRequest `json:"child"`
	Content      string       `json:"content"`
}

func (req CaseRequest) input() domain.CaseInput {
	return domain.CaseInput{
		DocumentType: domain.DocumentType(req.DocumentType),
		Child:        req.Child.identity(),
		Content:      req.Content,
	}
}

// ClassifyRequest is the request body for POST /classify.
type ClassifyRequest struct {
	Text string `json:"text"`
}

// ClassifyResponse is the response for POST /classify.
type ClassifyResponse struct {
	domain.DetectionResult
	Label string `json:"label"`
}

// DuplicatesRequest is the request body for POST /cases/duplicates.
type DuplicatesRequest struct {
	Child     ChildRequest `json:"child"`
	ExcludeID string       `json:"excludeId,omitempty"`
}

// CaseView is a case as returned to clients.
type CaseView struct {
	domain.Case
	PredictionLabel string `json:"predictionLabel"`
}

// CaseResponse is returned by create and update. Duplicates are advisory.
type CaseResponse struct {
	Case       CaseView   `json:"case"`
	Duplicates []CaseView `json:"duplicates"`
}

// CaseListResponse is the response for GET /cases.
type CaseListResponse struct {
	Cases []CaseView `json:"cases"`
	Count int        `json:"count"`
}

// StatsResponse is the response for GET /cases/stats.
type StatsResponse struct {
	domain.Stats
	Role domain.Role `json:"role"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Classify handles POST /classify.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, span := tracer.Start(r.Context(), "classify")
	defer span.End()

	result := h.classify(ctx, req.Text)
	span.SetAttributes(
		attribute.String("kestrel.level", string(result.Level)),
		attribute.Int("kestrel.matched", len(result.MatchedKeywords)),
	)

	writeJSON(w, http.StatusOK, ClassifyResponse{
		DetectionResult: result,
		Label:           result.Level.Label(),
	})
}

func (h *Handler) classify(ctx context.Context, text string) domain.DetectionResult {
	if h.classifier != nil {
		return h.classifier.Classify(ctx, text)
	}
	return h.store.Classify(text)
}

// ListCases handles GET /cases.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	cases := h.store.ListVisible(GetRole(r.Context()))
	writeJSON(w, http.StatusOK, CaseListResponse{
		Cases: views(cases),
		Count: len(cases),
	})
}

// GetCase handles GET /cases/{id}. Cases the role cannot list are
// reported as not found.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	role := GetRole(r.Context())

	c, err := h.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if len(casestore.VisibleCases([]domain.Case{c}, role)) == 0 {
		writeError(w, domain.ErrNotFound)
		return
	}

	writeJSON(w, http.StatusOK, view(c))
}

// CreateCase handles POST /cases.
func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	var req CaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.store.Create(r.Context(), req.input(), GetRole(r.Context()))
	if err != nil {
		traceError(r.Context(), err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.caseResponse(c))
}

// UpdateCase handles PUT /cases/{id}.
func (h *Handler) UpdateCase(w http.ResponseWriter, r *http.Request) {
	var req CaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.store.Update(r.Context(), chi.URLParam(r, "id"), req.input(), GetRole(r.Context()))
	if err != nil {
		traceError(r.Context(), err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.caseResponse(c))
}

// DeleteCase handles DELETE /cases/{id}.
func (h *Handler) DeleteCase(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "id"), GetRole(r.Context())); err != nil {
		traceError(r.Context(), err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /cases/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	role := GetRole(r.Context())
	writeJSON(w, http.StatusOK, StatsResponse{
		Stats: h.store.Stats(role),
		Role:  role,
	})
}

// Duplicates handles POST /cases/duplicates.
func (h *Handler) Duplicates(w http.ResponseWriter, r *http.Request) {
	var req DuplicatesRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	dups := h.store.FindDuplicates(req.Child.identity(), req.ExcludeID)
	writeJSON(w, http.StatusOK, map[string]any{
		"duplicates": views(dups),
		"count":      len(dups),
	})
}

// ListRules handles GET /rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	type levelView struct {
		rules.LevelRule
		Label string `json:"label"`
	}

	levels := make([]levelView, 0, len(h.table.Levels))
	for _, l := range h.table.Levels {
		levels = append(levels, levelView{LevelRule: l, Label: l.Level.Label()})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"contextTerm": rules.ContextTerm,
		"fingerprint": h.table.Fingerprint(),
		"levels":      levels,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}

	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("bus", h.bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"cases":   h.store.Len(),
		"checks":  checks,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) caseResponse(c domain.Case) CaseResponse {
	return CaseResponse{
		Case:       view(c),
		Duplicates: views(h.store.FindDuplicates(c.Child, c.ID)),
	}
}

func view(c domain.Case) CaseView {
	return CaseView{Case: c, PredictionLabel: c.Prediction.Label()}
}

func views(cases []domain.Case) []CaseView {
	out := make([]CaseView, 0, len(cases))
	for _, c := range cases {
		out = append(out, view(c))
	}
	return out
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON request body"})
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func traceError(ctx context.Context, err error) {
	if statusFor(err) == http.StatusInternalServerError {
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
