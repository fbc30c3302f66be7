package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/packlens-labs/packlens-go/internal/domain"
	"github.com/packlens-labs/packlens-go/internal/platform/auth"
	"github.com/packlens-labs/packlens-go/internal/repo"
)

type reportAPI struct {
	logger     *slog.Logger
	runLog     repo.RunLogRepository
	reports    repo.ReportLogAppender
	renderer   *renderer
	converter  *pdfConverter
	presignTTL time.Duration
	now        func() time.Time
}

func newReportAPI(logger *slog.Logger, runLog repo.RunLogRepository, reports repo.ReportLogAppender, r *renderer, converter *pdfConverter, presignTTL time.Duration) *reportAPI {
	return &reportAPI{
		logger:     logger,
		runLog:     runLog,
		reports:    reports,
		renderer:   r,
		converter:  converter,
		presignTTL: presignTTL,
		now:        time.Now,
	}
}

func (api *reportAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /reports", api.handleGenerate)
}

type generateRequest struct {
	InstanceID string `json:"instanceId"`
	Accepted   bool   `json:"accepted"`
	Comment    string `json:"comment,omitempty"`
}

func (api *reportAPI) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	instanceID := strings.TrimSpace(req.InstanceID)
	if instanceID == "" {
		api.writeError(w, r, http.StatusBadRequest, "instance_id_required")
		return
	}

	record, err := api.runLog.Get(r.Context(), instanceID)
	if errors.Is(err, repo.ErrNotFound) {
		api.writeError(w, r, http.StatusNotFound, "run_not_found")
		return
	}
	if err != nil {
		api.logger.Error("run lookup failed", "instance", instanceID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	generatedAt := api.now().UTC()
	ref, html, err := api.renderer.Render(r.Context(), record, strings.TrimSpace(req.Comment), generatedAt)
	if err != nil {
		api.logger.Error("report render failed", "instance", instanceID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	generatedBy := record.Request.User.ID
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.Subject != "" {
		generatedBy = identity.Subject
	}
	entry := repo.ReportLogEntry{
		InstanceID:  instanceID,
		GeneratedAt: generatedAt,
		GeneratedBy: generatedBy,
		Accepted:    req.Accepted,
		Comment:     strings.TrimSpace(req.Comment),
		Report:      ref,
	}
	if err := api.reports.Append(r.Context(), entry); err != nil {
		api.logger.Error("report log append failed", "instance", instanceID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	url, err := api.renderer.store.PresignGet(r.Context(), ref.Container, ref.Name, api.presignTTL)
	if err != nil {
		api.logger.Error("report presign failed", "instance", instanceID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	body := map[string]any{
		"instanceId": instanceID,
		"report":     ref,
		"url":        url,
		"expiresAt":  generatedAt.Add(api.presignTTL),
	}
	if pdfRef, ok := api.convertToPDF(r.Context(), instanceID, html); ok {
		body["pdf"] = pdfRef
		if pdfURL, err := api.renderer.store.PresignGet(r.Context(), pdfRef.Container, pdfRef.Name, api.presignTTL); err == nil {
			body["pdfUrl"] = pdfURL
		}
	}
	api.writeJSON(w, http.StatusCreated, body)
}

// convertToPDF is best effort: a converter outage degrades the report to
// HTML only instead of failing the request.
func (api *reportAPI) convertToPDF(ctx context.Context, instanceID string, html []byte) (domain.BlobRef, bool) {
	if api.converter == nil {
		return domain.BlobRef{}, false
	}
	pdf, err := api.converter.Convert(ctx, html)
	if err != nil {
		api.logger.Warn("pdf conversion failed", "instance", instanceID, "error", err)
		return domain.BlobRef{}, false
	}
	pdfRef, err := api.renderer.StorePDF(ctx, pdf)
	if err != nil {
		api.logger.Warn("pdf store failed", "instance", instanceID, "error", err)
		return domain.BlobRef{}, false
	}
	return pdfRef, true
}

func (api *reportAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *reportAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}
