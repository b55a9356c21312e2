package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/kirillkom/docextract/internal/config"
	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
	"github.com/kirillkom/docextract/internal/observability/metrics"
)

const (
	serviceName      = "api"
	xlsxContentType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	defaultMaxUpload = 256 << 20
)

// Services are the inbound ports the router dispatches to.
type Services struct {
	Submitter ports.BatchSubmitter
	Sessions  ports.SessionReader
	Aborter   ports.SessionAborter
	Previewer ports.PlanPreviewer
	Templates ports.TemplateLister
	Exporter  ports.ResultExporter
}

type Router struct {
	cfg      config.Config
	services Services
	metrics  *metrics.HTTPServerMetrics
	logger   *slog.Logger
}

func NewRouter(cfg config.Config, services Services, httpMetrics *metrics.HTTPServerMetrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:      cfg,
		services: services,
		metrics:  httpMetrics,
		logger:   logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/sessions", rt.submitSession)
	mux.HandleFunc("GET /v1/sessions/{session_id}", rt.getSession)
	mux.HandleFunc("POST /v1/sessions/{session_id}/abort", rt.abortSession)
	mux.HandleFunc("GET /v1/sessions/{session_id}/export.xlsx", rt.exportSession)
	mux.HandleFunc("POST /v1/plan", rt.previewPlan)
	mux.HandleFunc("GET /v1/templates", rt.listTemplates)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = bearerAuthMiddleware(handler, rt.cfg.APIKey)
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.BackpressureWait())
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) submitSession(w http.ResponseWriter, r *http.Request) {
	if err := rt.parseMultipart(w, r); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	templateName := strings.TrimSpace(r.FormValue("template"))
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'files' is required"})
		return
	}

	files := make([]ports.UploadedFile, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("open upload %q: %v", header.Filename, err)})
			return
		}
		defer f.Close()
		files = append(files, ports.UploadedFile{Filename: header.Filename, Body: f})
	}

	session, err := rt.services.Submitter.Submit(r.Context(), templateName, files)
	if err != nil {
		rt.writeError(w, r, "submit_session", err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordSessionSubmitted(serviceName, session.TemplateName, len(files))
	}
	writeJSON(w, http.StatusAccepted, session)
}

func (rt *Router) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := rt.services.Sessions.GetSession(r.Context(), r.PathValue("session_id"))
	if err != nil {
		rt.writeError(w, r, "get_session", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (rt *Router) abortSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
	}

	sessionID := r.PathValue("session_id")
	if err := rt.services.Aborter.Abort(r.Context(), sessionID, strings.TrimSpace(req.Reason)); err != nil {
		rt.writeError(w, r, "abort_session", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": sessionID, "status": string(domain.SessionFailed)})
}

func (rt *Router) exportSession(w http.ResponseWriter, r *http.Request) {
	session, err := rt.services.Sessions.GetSession(r.Context(), r.PathValue("session_id"))
	if err != nil {
		rt.writeError(w, r, "export_session", err)
		return
	}
	if !session.Status.Terminal() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": fmt.Sprintf("session is %s", session.Status)})
		return
	}

	var buf bytes.Buffer
	if err := rt.services.Exporter.Export(&buf, session); err != nil {
		rt.writeError(w, r, "export_session", err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="session-%s.xlsx"`, session.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (rt *Router) previewPlan(w http.ResponseWriter, r *http.Request) {
	if err := rt.parseMultipart(w, r); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read upload: " + err.Error()})
		return
	}

	preview, err := rt.services.Previewer.PreviewPlan(r.Context(), strings.TrimSpace(r.FormValue("template")), header.Filename, data)
	if err != nil {
		rt.writeError(w, r, "preview_plan", err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordPlanPreview(serviceName, string(preview.Plan.Strategy))
	}
	writeJSON(w, http.StatusOK, preview)
}

func (rt *Router) listTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": rt.services.Templates.List()})
}

func (rt *Router) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	limit := rt.cfg.MaxUploadBytes()
	if limit <= 0 {
		limit = defaultMaxUpload
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if errors.Is(err, multipart.ErrMessageTooLarge) || strings.Contains(err.Error(), "request body too large") {
			return fmt.Errorf("upload exceeds %d bytes", limit)
		}
		return errors.New("multipart/form-data body is required")
	}
	return nil
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error(op+"_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
	}
	writeJSON(w, status, map[string]string{
		"error":      err.Error(),
		"request_id": requestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
